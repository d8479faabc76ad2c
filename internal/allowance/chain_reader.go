package allowance

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/leafsii/combined-position/internal/store"
	"github.com/leafsii/combined-position/internal/transact"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const erc20AllowanceABI = `[{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"}]`

var erc20ABI = mustParseABI(erc20AllowanceABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Caller is the read-only contract call surface of an EVM RPC client.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ChainReader reads ERC-20 allowances over JSON-RPC and caches them.
type ChainReader struct {
	callers map[transact.ChainID]Caller
	cache   *store.Cache
	ttl     time.Duration
	logger  *zap.SugaredLogger
}

func NewChainReader(callers map[transact.ChainID]Caller, cache *store.Cache, ttl time.Duration, logger *zap.SugaredLogger) *ChainReader {
	return &ChainReader{callers: callers, cache: cache, ttl: ttl, logger: logger}
}

// DialChains opens one ethclient per configured chain RPC URL.
func DialChains(ctx context.Context, urls map[string]string) (map[transact.ChainID]Caller, func(), error) {
	callers := make(map[transact.ChainID]Caller, len(urls))
	var clients []*ethclient.Client
	closeAll := func() {
		for _, c := range clients {
			c.Close()
		}
	}

	for chain, url := range urls {
		client, err := ethclient.DialContext(ctx, url)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("dial chain %s: %w", chain, err)
		}
		clients = append(clients, client)
		callers[transact.ChainID(chain)] = client
	}
	return callers, closeAll, nil
}

// CheckAllowances refreshes the cached allowance of every token in req.
func (r *ChainReader) CheckAllowances(ctx context.Context, req transact.AllowanceRequest) error {
	var errs []error
	for _, token := range req.Tokens {
		if token.IsNative() {
			continue
		}
		amount, err := r.read(ctx, req.ChainID, token, req.WalletAddress, req.SpenderAddress)
		if err != nil {
			errs = append(errs, fmt.Errorf("allowance %s: %w", token.Symbol, err))
			continue
		}

		key := store.AllowanceKey(string(req.ChainID), req.WalletAddress, req.SpenderAddress, token.Address)
		if err := r.cache.Set(ctx, key, amount, r.ttl); err != nil {
			r.logger.Warnw("Failed to cache allowance", "key", key, "error", err)
		}
	}
	return errors.Join(errs...)
}

// Allowance returns the cached allowance, reading it from chain on a miss.
func (r *ChainReader) Allowance(ctx context.Context, chainID transact.ChainID, token transact.Token, wallet, spender string) (decimal.Decimal, error) {
	key := store.AllowanceKey(string(chainID), wallet, spender, token.Address)

	var cached decimal.Decimal
	if err := r.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	amount, err := r.read(ctx, chainID, token, wallet, spender)
	if err != nil {
		return decimal.Zero, err
	}
	if err := r.cache.Set(ctx, key, amount, r.ttl); err != nil {
		r.logger.Warnw("Failed to cache allowance", "key", key, "error", err)
	}
	return amount, nil
}

func (r *ChainReader) read(ctx context.Context, chainID transact.ChainID, token transact.Token, wallet, spender string) (decimal.Decimal, error) {
	caller, ok := r.callers[chainID]
	if !ok {
		return decimal.Zero, fmt.Errorf("no RPC configured for chain %s", chainID)
	}
	if !common.IsHexAddress(token.Address) || !common.IsHexAddress(wallet) || !common.IsHexAddress(spender) {
		return decimal.Zero, fmt.Errorf("invalid address in allowance lookup")
	}

	data, err := erc20ABI.Pack("allowance", common.HexToAddress(wallet), common.HexToAddress(spender))
	if err != nil {
		return decimal.Zero, err
	}
	to := common.HexToAddress(token.Address)
	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("eth_call: %w", err)
	}

	values, err := erc20ABI.Unpack("allowance", out)
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode allowance: %w", err)
	}
	raw, ok := values[0].(*big.Int)
	if !ok {
		return decimal.Zero, fmt.Errorf("unexpected allowance type %T", values[0])
	}
	return decimal.NewFromBigInt(raw, -int32(token.Decimals)), nil
}
