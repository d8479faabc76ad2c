package allowance

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/leafsii/combined-position/internal/store"
	"github.com/leafsii/combined-position/internal/transact"
	"github.com/leafsii/combined-position/pkg/kv/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCaller struct {
	mu    sync.Mutex
	calls []ethereum.CallMsg
	value *big.Int
	err   error
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, msg)
	if f.err != nil {
		return nil, f.err
	}
	return common.LeftPadBytes(f.value.Bytes(), 32), nil
}

func newReader(t *testing.T, caller Caller) (*ChainReader, *store.Cache) {
	t.Helper()
	cache := store.NewCache(memory.New(0), zap.NewNop().Sugar(), nil)
	t.Cleanup(func() { cache.Close() })
	reader := NewChainReader(map[transact.ChainID]Caller{"1": caller}, cache, time.Minute, zap.NewNop().Sugar())
	return reader, cache
}

func TestCheckAllowancesCachesScaledAmount(t *testing.T) {
	caller := &fakeCaller{value: big.NewInt(2_500_000)}
	reader, cache := newReader(t, caller)
	ctx := context.Background()

	err := reader.CheckAllowances(ctx, transact.AllowanceRequest{
		ChainID:        "1",
		SpenderAddress: routerA,
		Tokens:         []transact.Token{usdc, {ChainID: "1", Symbol: "ETH", Type: transact.TokenTypeNative}},
		WalletAddress:  wallet,
	})
	require.NoError(t, err)

	require.Len(t, caller.calls, 1)
	assert.Equal(t, common.HexToAddress(usdc.Address), *caller.calls[0].To)
	// allowance(address,address) selector
	assert.Equal(t, []byte{0xdd, 0x62, 0xed, 0x3e}, caller.calls[0].Data[:4])

	var cached decimal.Decimal
	require.NoError(t, cache.Get(ctx, store.AllowanceKey("1", wallet, routerA, usdc.Address), &cached))
	assert.True(t, cached.Equal(decimal.RequireFromString("2.5")))
}

func TestAllowanceReadsThroughCache(t *testing.T) {
	caller := &fakeCaller{value: big.NewInt(1_000_000)}
	reader, _ := newReader(t, caller)
	ctx := context.Background()

	first, err := reader.Allowance(ctx, "1", usdc, wallet, routerA)
	require.NoError(t, err)
	second, err := reader.Allowance(ctx, "1", usdc, wallet, routerA)
	require.NoError(t, err)

	assert.True(t, first.Equal(decimal.NewFromInt(1)))
	assert.True(t, second.Equal(first))
	assert.Len(t, caller.calls, 1)
}

func TestCheckAllowancesReportsFailures(t *testing.T) {
	reader, _ := newReader(t, &fakeCaller{err: errors.New("execution reverted")})

	err := reader.CheckAllowances(context.Background(), transact.AllowanceRequest{
		ChainID:        "1",
		SpenderAddress: routerA,
		Tokens:         []transact.Token{usdc},
		WalletAddress:  wallet,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution reverted")
}

func TestUnknownChain(t *testing.T) {
	reader, _ := newReader(t, &fakeCaller{value: big.NewInt(1)})

	_, err := reader.Allowance(context.Background(), "10", usdc, wallet, routerA)
	assert.ErrorContains(t, err, "no RPC configured for chain 10")
}
