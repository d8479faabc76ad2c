package allowance

import (
	"context"

	"github.com/leafsii/combined-position/internal/transact"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Aggregator collects the approvals every quote of a batch needs and runs one
// allowance check per (chain, spender).
type Aggregator struct {
	service transact.AllowanceService
	logger  *zap.SugaredLogger
}

func NewAggregator(service transact.AllowanceService, logger *zap.SugaredLogger) *Aggregator {
	return &Aggregator{service: service, logger: logger}
}

// Group flattens the allowances of quotes into one request per (chain, spender),
// in first-seen order. Entries without token address, token chain or spender are
// dropped; duplicates of (chain, spender, token) are kept once.
func Group(wallet string, quotes []transact.Quote) []transact.AllowanceRequest {
	type groupKey struct {
		chain   transact.ChainID
		spender string
	}

	seen := make(map[string]struct{})
	index := make(map[groupKey]int)
	var groups []transact.AllowanceRequest

	for _, q := range quotes {
		for _, a := range q.Allowances {
			if a.Token.Address == "" || a.Token.ChainID == "" || a.SpenderAddress == "" {
				continue
			}
			spender := transact.NormalizeAddress(a.SpenderAddress)
			dedupe := string(a.Token.ChainID) + "-" + spender + "-" + transact.NormalizeAddress(a.Token.Address)
			if _, dup := seen[dedupe]; dup {
				continue
			}
			seen[dedupe] = struct{}{}

			key := groupKey{chain: a.Token.ChainID, spender: spender}
			i, ok := index[key]
			if !ok {
				i = len(groups)
				index[key] = i
				groups = append(groups, transact.AllowanceRequest{
					ChainID:        a.Token.ChainID,
					SpenderAddress: a.SpenderAddress,
					WalletAddress:  wallet,
				})
			}
			groups[i].Tokens = append(groups[i].Tokens, a.Token)
		}
	}
	return groups
}

// Refresh checks every group concurrently and returns the number of checks
// issued. Failures are logged and never returned.
func (a *Aggregator) Refresh(ctx context.Context, wallet string, quotes []transact.Quote) int {
	groups := Group(wallet, quotes)
	if len(groups) == 0 {
		return 0
	}

	var g errgroup.Group
	for _, req := range groups {
		g.Go(func() error {
			a.check(ctx, req)
			return nil
		})
	}
	_ = g.Wait()

	a.logger.Debugw("Checked allowances", "wallet", wallet, "groups", len(groups))
	return len(groups)
}

func (a *Aggregator) check(ctx context.Context, req transact.AllowanceRequest) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Errorw("Allowance check panicked",
				"chain", req.ChainID,
				"spender", req.SpenderAddress,
				"panic", r,
			)
		}
	}()

	if err := a.service.CheckAllowances(ctx, req); err != nil {
		a.logger.Warnw("Allowance check failed",
			"chain", req.ChainID,
			"spender", req.SpenderAddress,
			"tokens", len(req.Tokens),
			"error", err,
		)
	}
}
