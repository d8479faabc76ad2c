package allowance

import (
	"context"
	"errors"
	"testing"

	"github.com/leafsii/combined-position/internal/transact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockAllowanceService struct {
	mock.Mock
}

func (m *MockAllowanceService) CheckAllowances(ctx context.Context, req transact.AllowanceRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

var (
	usdc = transact.Token{ChainID: "1", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Symbol: "USDC", Decimals: 6, Type: transact.TokenTypeERC20}
	dai  = transact.Token{ChainID: "1", Address: "0x6B175474E89094C44Da98b954EedeAC495271d0F", Symbol: "DAI", Decimals: 18, Type: transact.TokenTypeERC20}
	arb  = transact.Token{ChainID: "42161", Address: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", Symbol: "USDC", Decimals: 6, Type: transact.TokenTypeERC20}
)

const (
	routerA = "0x1111111254EEB25477B68fb85Ed929f73A960582"
	routerB = "0xDef1C0ded9bec7F1a1670819833240f027b25EfF"
	wallet  = "0x00000000000000000000000000000000000000aa"
)

func TestGroupDedupesAndGroups(t *testing.T) {
	quotes := []transact.Quote{
		{ID: "q1", Allowances: []transact.Allowance{
			{Token: usdc, SpenderAddress: routerA},
			{Token: dai, SpenderAddress: routerA},
		}},
		{ID: "q2", Allowances: []transact.Allowance{
			// same pair, different address casing
			{Token: transact.Token{ChainID: "1", Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Symbol: "USDC"}, SpenderAddress: "0x1111111254eeb25477b68fb85ed929f73a960582"},
			{Token: usdc, SpenderAddress: routerB},
			{Token: arb, SpenderAddress: routerA},
		}},
	}

	groups := Group(wallet, quotes)
	require.Len(t, groups, 3)

	assert.Equal(t, transact.ChainID("1"), groups[0].ChainID)
	assert.Equal(t, routerA, groups[0].SpenderAddress)
	assert.Equal(t, wallet, groups[0].WalletAddress)
	assert.Equal(t, []transact.Token{usdc, dai}, groups[0].Tokens)

	assert.Equal(t, routerB, groups[1].SpenderAddress)
	assert.Equal(t, []transact.Token{usdc}, groups[1].Tokens)

	assert.Equal(t, transact.ChainID("42161"), groups[2].ChainID)
	assert.Equal(t, []transact.Token{arb}, groups[2].Tokens)
}

func TestGroupDropsIncompleteEntries(t *testing.T) {
	quotes := []transact.Quote{{Allowances: []transact.Allowance{
		{Token: transact.Token{ChainID: "1", Symbol: "X"}, SpenderAddress: routerA},
		{Token: transact.Token{Address: usdc.Address, Symbol: "USDC"}, SpenderAddress: routerA},
		{Token: usdc},
	}}}

	assert.Empty(t, Group(wallet, quotes))
}

func TestRefreshIssuesOneCheckPerGroup(t *testing.T) {
	svc := new(MockAllowanceService)
	svc.On("CheckAllowances", mock.Anything, mock.MatchedBy(func(req transact.AllowanceRequest) bool {
		return req.SpenderAddress == routerA
	})).Return(nil).Once()
	svc.On("CheckAllowances", mock.Anything, mock.MatchedBy(func(req transact.AllowanceRequest) bool {
		return req.SpenderAddress == routerB
	})).Return(errors.New("rpc down")).Once()

	agg := NewAggregator(svc, zap.NewNop().Sugar())
	n := agg.Refresh(context.Background(), wallet, []transact.Quote{
		{Allowances: []transact.Allowance{{Token: usdc, SpenderAddress: routerA}}},
		{Allowances: []transact.Allowance{{Token: usdc, SpenderAddress: routerB}}},
	})

	assert.Equal(t, 2, n)
	svc.AssertExpectations(t)
}

func TestRefreshWithoutAllowancesIsNoop(t *testing.T) {
	svc := new(MockAllowanceService)
	agg := NewAggregator(svc, zap.NewNop().Sugar())

	assert.Zero(t, agg.Refresh(context.Background(), wallet, []transact.Quote{{ID: "q"}}))
	svc.AssertNotCalled(t, "CheckAllowances", mock.Anything, mock.Anything)
}

func TestRefreshSurvivesPanickingService(t *testing.T) {
	svc := new(MockAllowanceService)
	svc.On("CheckAllowances", mock.Anything, mock.MatchedBy(func(req transact.AllowanceRequest) bool {
		return req.SpenderAddress == routerA
	})).Panic("rpc client crashed").Once()
	svc.On("CheckAllowances", mock.Anything, mock.MatchedBy(func(req transact.AllowanceRequest) bool {
		return req.SpenderAddress == routerB
	})).Return(nil).Once()

	agg := NewAggregator(svc, zap.NewNop().Sugar())

	var n int
	require.NotPanics(t, func() {
		n = agg.Refresh(context.Background(), wallet, []transact.Quote{
			{Allowances: []transact.Allowance{{Token: usdc, SpenderAddress: routerA}}},
			{Allowances: []transact.Allowance{{Token: usdc, SpenderAddress: routerB}}},
		})
	})
	assert.Equal(t, 2, n)
	svc.AssertExpectations(t)
}
