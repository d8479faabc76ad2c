package quotes

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leafsii/combined-position/internal/position"
	"github.com/leafsii/combined-position/internal/transact"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	usdc = transact.Token{ChainID: "1", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Symbol: "USDC", Decimals: 6, Type: transact.TokenTypeERC20}
	weth = transact.Token{ChainID: "1", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Symbol: "WETH", Decimals: 18, Type: transact.TokenTypeERC20}

	shareA = transact.Token{ChainID: "1", Address: "0x00000000000000000000000000000000000000a1", Symbol: "aUSDC", Decimals: 6}
	shareB = transact.Token{ChainID: "1", Address: "0x00000000000000000000000000000000000000b1", Symbol: "bUSDC", Decimals: 6}
	shareC = transact.Token{ChainID: "1", Address: "0x00000000000000000000000000000000000000c1", Symbol: "cUSDC", Decimals: 6}
)

type staticCatalog map[string]transact.Vault

func (c staticCatalog) GetVaultByID(id string) (transact.Vault, bool) {
	v, ok := c[id]
	return v, ok
}

func (c staticCatalog) TokenByAddress(transact.ChainID, string) (transact.Token, bool) {
	return transact.Token{}, false
}

var catalog = staticCatalog{
	"A": {ID: "A", Name: "Vault A", ChainID: "1"},
	"B": {ID: "B", Name: "Vault B", ChainID: "1"},
	"C": {ID: "C", Name: "Vault C", ChainID: "1"},
}

// fakeRoutes marks a vault ready as soon as its context is initialised.
type fakeRoutes struct {
	readiness *transact.Readiness
	noReady   bool

	mu       sync.Mutex
	options  map[string][]transact.Option
	discover func(vaultID string) ([]transact.Option, error)
	modes    map[string]transact.Mode
}

func newFakeRoutes(options map[string][]transact.Option) *fakeRoutes {
	return &fakeRoutes{
		readiness: transact.NewReadiness(),
		options:   options,
		modes:     make(map[string]transact.Mode),
	}
}

func (f *fakeRoutes) InitRouteContext(_ context.Context, vaultID string) error {
	if !f.noReady {
		f.readiness.SetRoutesLoaded(vaultID, true)
		f.readiness.SetFeesLoaded(vaultID, true)
	}
	return nil
}

func (f *fakeRoutes) SetMode(_ context.Context, vaultID string, mode transact.Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modes[vaultID] = mode
	return nil
}

func (f *fakeRoutes) IsRouteDataLoaded(vaultID string) bool { return f.readiness.RoutesLoaded(vaultID) }
func (f *fakeRoutes) IsFeeDataLoaded(vaultID string) bool   { return f.readiness.FeesLoaded(vaultID) }

func (f *fakeRoutes) ReadinessChanged(vaultID string) <-chan struct{} {
	return f.readiness.Changed(vaultID)
}

func (f *fakeRoutes) DiscoverOptions(_ context.Context, vaultID string, _ transact.Mode) ([]transact.Option, error) {
	if f.discover != nil {
		return f.discover(vaultID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.options[vaultID], nil
}

type MockQuoteService struct {
	mock.Mock
}

func (m *MockQuoteService) FetchQuotes(ctx context.Context, options []transact.Option, inputs []transact.InputAmount) ([]transact.Quote, error) {
	args := m.Called(ctx, options, inputs)
	quotes, _ := args.Get(0).([]transact.Quote)
	return quotes, args.Error(1)
}

type MockAllowances struct {
	mock.Mock
}

func (m *MockAllowances) Refresh(ctx context.Context, wallet string, quotes []transact.Quote) int {
	args := m.Called(ctx, wallet, quotes)
	return args.Int(0)
}

type priceTable map[string]decimal.Decimal

func (p priceTable) PriceOf(_ context.Context, _ transact.ChainID, address string) decimal.Decimal {
	return p[transact.NormalizeAddress(address)]
}

type fakeWallet struct {
	address   string
	connected bool
}

func (w fakeWallet) CurrentAddress() string { return w.address }
func (w fakeWallet) IsConnected() bool      { return w.connected }

var prices = priceTable{
	transact.NormalizeAddress(shareA.Address): decimal.NewFromInt(1),
	transact.NormalizeAddress(shareB.Address): decimal.RequireFromString("1.2"),
	transact.NormalizeAddress(shareC.Address): decimal.RequireFromString("0.95"),
}

func depositOption(id, vaultID string, inputs ...transact.Token) transact.Option {
	return transact.Option{ID: id, VaultID: vaultID, Mode: transact.ModeDeposit, Inputs: inputs, DepositCapable: true}
}

func forVault(vaultID string) any {
	return mock.MatchedBy(func(options []transact.Option) bool {
		return len(options) > 0 && options[0].VaultID == vaultID
	})
}

func quoteOf(id string, out transact.Token, amount int64) transact.Quote {
	return transact.Quote{ID: id, Outputs: []transact.TokenAmount{{Token: out, Amount: decimal.NewFromInt(amount)}}}
}

type harness struct {
	store      *position.Store
	routes     *fakeRoutes
	quotes     *MockQuoteService
	allowances *MockAllowances
	orch       *Orchestrator
}

func newHarness(t *testing.T, cfg Config, wallet transact.Wallet, vaults ...string) *harness {
	t.Helper()
	h := &harness{
		store: position.NewStore(),
		routes: newFakeRoutes(map[string][]transact.Option{
			"A": {depositOption("opt-a", "A", usdc)},
			"B": {depositOption("opt-b", "B", usdc)},
			"C": {depositOption("opt-c", "C", usdc)},
		}),
		quotes:     new(MockQuoteService),
		allowances: new(MockAllowances),
	}
	h.store.Open(true)
	for _, v := range vaults {
		_, err := h.store.AddVault(v, "1")
		require.NoError(t, err)
	}
	h.store.SetTotalAmount(decimal.NewFromInt(300), usdc)

	if cfg.ReadinessTimeout == 0 {
		cfg.ReadinessTimeout = 50 * time.Millisecond
	}
	h.orch = New(h.store, wallet, Deps{
		Catalog:    catalog,
		Routes:     h.routes,
		Quotes:     h.quotes,
		Prices:     prices,
		Allowances: h.allowances,
	}, cfg, zap.NewNop().Sugar())
	return h
}

func entryQuote(t *testing.T, s position.State, vaultID string) *position.QuoteOutcome {
	t.Helper()
	e, ok := s.Entry(vaultID)
	require.True(t, ok)
	require.NotNil(t, e.Quote)
	return e.Quote
}

func TestFetchQuotesRequiresInputs(t *testing.T) {
	store := position.NewStore()
	orch := New(store, nil, Deps{Catalog: catalog, Routes: newFakeRoutes(nil)}, Config{}, zap.NewNop().Sugar())

	report, err := orch.FetchQuotes(context.Background())
	assert.ErrorIs(t, err, ErrMissingQuoteInputs)
	assert.Nil(t, report)
	assert.Equal(t, position.StatusIdle, store.Snapshot().QuotesStatus)

	_, err = store.AddVault("A", "1")
	require.NoError(t, err)
	_, err = orch.FetchQuotes(context.Background())
	assert.ErrorIs(t, err, ErrMissingQuoteInputs)
}

func TestFetchQuotesRanksAndFulfils(t *testing.T) {
	h := newHarness(t, Config{}, fakeWallet{address: "0xabc", connected: true}, "A", "B")

	// A: two quotes, 100*1.2=120 beats 100*0.95=95
	low := quoteOf("a-low", shareC, 100)
	high := quoteOf("a-high", shareB, 100)
	h.quotes.On("FetchQuotes", mock.Anything, forVault("A"), mock.Anything).Return([]transact.Quote{low, high}, nil)
	h.quotes.On("FetchQuotes", mock.Anything, forVault("B"), mock.Anything).Return([]transact.Quote{quoteOf("b", shareA, 150)}, nil)
	h.allowances.On("Refresh", mock.Anything, "0xabc", mock.Anything).Return(0)

	report, err := h.orch.FetchQuotes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, position.StatusFulfilled, report.Status)
	assert.Len(t, report.Vaults, 2)

	s := h.store.Snapshot()
	assert.Equal(t, position.StatusFulfilled, s.QuotesStatus)

	a := entryQuote(t, s, "A")
	assert.Equal(t, position.StatusFulfilled, a.Status)
	require.Len(t, a.AllQuotes, 2)
	assert.Equal(t, "a-high", a.AllQuotes[0].ID)
	assert.Equal(t, "a-high", a.BestQuote.ID)
	assert.True(t, a.InputAmount.Equal(decimal.NewFromInt(150)))
	require.NotNil(t, a.ExpectedOutput)
	assert.True(t, a.ExpectedOutput.USDValue.Equal(decimal.NewFromInt(120)))
	assert.Equal(t, "opt-a", a.Options[0].ID)
	assert.Empty(t, a.Error)

	h.quotes.AssertCalled(t, "FetchQuotes", mock.Anything, forVault("A"), mock.MatchedBy(func(inputs []transact.InputAmount) bool {
		return len(inputs) == 1 && inputs[0].Token == usdc && !inputs[0].Max &&
			inputs[0].Amount.Equal(decimal.NewFromInt(150))
	}))

	h.allowances.AssertCalled(t, "Refresh", mock.Anything, "0xabc", mock.MatchedBy(func(qs []transact.Quote) bool {
		return len(qs) == 3
	}))
	assert.Equal(t, transact.ModeDeposit, h.routes.modes["A"])
}

func TestFetchQuotesSkipsAllowancesWithoutWallet(t *testing.T) {
	h := newHarness(t, Config{}, fakeWallet{}, "A")
	h.quotes.On("FetchQuotes", mock.Anything, mock.Anything, mock.Anything).Return([]transact.Quote{quoteOf("a", shareA, 1)}, nil)

	_, err := h.orch.FetchQuotes(context.Background())
	require.NoError(t, err)
	h.allowances.AssertNotCalled(t, "Refresh", mock.Anything, mock.Anything, mock.Anything)
}

func TestFetchQuotesNoOptions(t *testing.T) {
	h := newHarness(t, Config{}, nil, "A")
	h.routes.options["A"] = []transact.Option{
		// options for other vaults or modes are ignored
		depositOption("other", "B", usdc),
		{ID: "withdraw", VaultID: "A", Mode: transact.ModeWithdraw, DepositCapable: true, Inputs: []transact.Token{usdc}},
	}

	report, err := h.orch.FetchQuotes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, position.StatusFulfilled, report.Status)

	q := entryQuote(t, h.store.Snapshot(), "A")
	assert.Equal(t, position.StatusRejected, q.Status)
	assert.Empty(t, q.AllQuotes)
	assert.Contains(t, q.Error, "A")
	assert.Contains(t, q.Error, "USDC")
	h.quotes.AssertNotCalled(t, "FetchQuotes", mock.Anything, mock.Anything, mock.Anything)
}

func TestFetchQuotesIsolatesVaultFailures(t *testing.T) {
	h := newHarness(t, Config{}, nil, "A", "B", "C")
	h.routes.discover = func(vaultID string) ([]transact.Option, error) {
		if vaultID == "B" {
			panic("route provider crashed")
		}
		return []transact.Option{depositOption("opt-"+vaultID, vaultID, usdc)}, nil
	}
	h.quotes.On("FetchQuotes", mock.Anything, forVault("A"), mock.Anything).Return([]transact.Quote{quoteOf("a", shareA, 1)}, nil)
	h.quotes.On("FetchQuotes", mock.Anything, forVault("C"), mock.Anything).Return(nil, errors.New("upstream timeout"))

	report, err := h.orch.FetchQuotes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, position.StatusFulfilled, report.Status)

	s := h.store.Snapshot()
	assert.Equal(t, position.StatusFulfilled, s.QuotesStatus)
	assert.Equal(t, position.StatusFulfilled, entryQuote(t, s, "A").Status)

	b := entryQuote(t, s, "B")
	assert.Equal(t, position.StatusRejected, b.Status)
	assert.Equal(t, "route provider crashed", b.Error)

	c := entryQuote(t, s, "C")
	assert.Equal(t, position.StatusRejected, c.Status)
	assert.Equal(t, "upstream timeout", c.Error)
}

func TestFetchQuotesEmptyQuoteSet(t *testing.T) {
	h := newHarness(t, Config{}, nil, "A")
	h.quotes.On("FetchQuotes", mock.Anything, mock.Anything, mock.Anything).Return([]transact.Quote{}, nil)

	_, err := h.orch.FetchQuotes(context.Background())
	require.NoError(t, err)

	q := entryQuote(t, h.store.Snapshot(), "A")
	assert.Equal(t, position.StatusRejected, q.Status)
	assert.Equal(t, "No quotes available", q.Error)
}

func TestFetchQuotesUnknownVault(t *testing.T) {
	h := newHarness(t, Config{}, nil, "A", "ghost")
	h.quotes.On("FetchQuotes", mock.Anything, mock.Anything, mock.Anything).Return([]transact.Quote{quoteOf("a", shareA, 1)}, nil)

	_, err := h.orch.FetchQuotes(context.Background())
	require.NoError(t, err)

	s := h.store.Snapshot()
	assert.Equal(t, "vault ghost not found", entryQuote(t, s, "ghost").Error)
	assert.Equal(t, position.StatusFulfilled, entryQuote(t, s, "A").Status)
}

func TestFetchQuotesIncompatibleToken(t *testing.T) {
	wethOnly := []transact.Option{
		{ID: "not-capable", VaultID: "A", Mode: transact.ModeDeposit, Inputs: []transact.Token{usdc}},
		depositOption("weth-in", "A", weth),
	}

	t.Run("rejected by default", func(t *testing.T) {
		h := newHarness(t, Config{}, nil, "A")
		h.routes.options["A"] = wethOnly

		_, err := h.orch.FetchQuotes(context.Background())
		require.NoError(t, err)

		q := entryQuote(t, h.store.Snapshot(), "A")
		assert.Equal(t, position.StatusRejected, q.Status)
		assert.Equal(t, "Token USDC not supported for vault A. Available inputs: USDC, WETH", q.Error)
		h.quotes.AssertNotCalled(t, "FetchQuotes", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("fallback quotes first deposit option", func(t *testing.T) {
		h := newHarness(t, Config{AllowIncompatibleFallback: true}, nil, "A")
		h.routes.options["A"] = wethOnly
		h.quotes.On("FetchQuotes", mock.Anything, mock.MatchedBy(func(options []transact.Option) bool {
			return len(options) == 1 && options[0].ID == "weth-in"
		}), mock.Anything).Return([]transact.Quote{quoteOf("a", shareA, 1)}, nil)

		_, err := h.orch.FetchQuotes(context.Background())
		require.NoError(t, err)

		q := entryQuote(t, h.store.Snapshot(), "A")
		assert.Equal(t, position.StatusFulfilled, q.Status)
		h.quotes.AssertExpectations(t)
	})
}

func TestFetchQuotesRejectsUnresolvableSourceToken(t *testing.T) {
	h := newHarness(t, Config{AllowIncompatibleFallback: true}, nil, "A")
	h.routes.options["A"] = []transact.Option{depositOption("weth-in", "A", weth)}
	noAddress := transact.Token{ChainID: "1", Symbol: "USDC", Decimals: 6}
	h.store.SetTotalAmount(decimal.NewFromInt(300), noAddress)

	report, err := h.orch.FetchQuotes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, position.StatusFulfilled, report.Status)

	q := entryQuote(t, h.store.Snapshot(), "A")
	assert.Equal(t, position.StatusRejected, q.Status)
	assert.Equal(t, "Invalid token or amount", q.Error)
	assert.Empty(t, q.AllQuotes)
	h.quotes.AssertNotCalled(t, "FetchQuotes", mock.Anything, mock.Anything, mock.Anything)
}

func TestFetchQuotesWithoutResolvableOutputSkipsExpectedOutput(t *testing.T) {
	h := newHarness(t, Config{}, nil, "A")
	lp := transact.Token{Symbol: "LP", Decimals: 18}
	h.quotes.On("FetchQuotes", mock.Anything, mock.Anything, mock.Anything).Return([]transact.Quote{quoteOf("a", lp, 10)}, nil)

	_, err := h.orch.FetchQuotes(context.Background())
	require.NoError(t, err)

	q := entryQuote(t, h.store.Snapshot(), "A")
	assert.Equal(t, position.StatusFulfilled, q.Status)
	require.NotNil(t, q.BestQuote)
	assert.Equal(t, "a", q.BestQuote.ID)
	assert.Nil(t, q.ExpectedOutput)
	assert.Empty(t, q.Error)
}

func TestFetchQuotesMatchesTokenAddressCaseInsensitively(t *testing.T) {
	h := newHarness(t, Config{}, nil, "A")
	lower := usdc
	lower.Address = transact.NormalizeAddress(usdc.Address)
	h.routes.options["A"] = []transact.Option{depositOption("opt-a", "A", lower)}
	h.quotes.On("FetchQuotes", mock.Anything, mock.Anything, mock.Anything).Return([]transact.Quote{quoteOf("a", shareA, 1)}, nil)

	_, err := h.orch.FetchQuotes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, position.StatusFulfilled, entryQuote(t, h.store.Snapshot(), "A").Status)
}

func TestFetchQuotesReadinessTimeoutIsNotAnError(t *testing.T) {
	h := newHarness(t, Config{ReadinessTimeout: 20 * time.Millisecond}, nil, "A")
	h.routes.noReady = true
	h.quotes.On("FetchQuotes", mock.Anything, mock.Anything, mock.Anything).Return([]transact.Quote{quoteOf("a", shareA, 1)}, nil)

	_, err := h.orch.FetchQuotes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, position.StatusFulfilled, entryQuote(t, h.store.Snapshot(), "A").Status)
}

func TestFetchQuotesDiscardsStaleBatch(t *testing.T) {
	h := newHarness(t, Config{}, nil, "A")
	h.quotes.On("FetchQuotes", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			// the user edits the amount while the quote is in flight
			h.store.SetTotalAmount(decimal.NewFromInt(10), usdc)
		}).
		Return([]transact.Quote{quoteOf("a", shareA, 1)}, nil)

	report, err := h.orch.FetchQuotes(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Vaults, 1)
	assert.True(t, report.Vaults[0].Discarded)

	s := h.store.Snapshot()
	assert.Equal(t, position.StatusIdle, s.QuotesStatus)
	q := entryQuote(t, s, "A")
	assert.Equal(t, position.StatusIdle, q.Status)
	assert.True(t, q.InputAmount.Equal(decimal.NewFromInt(10)))
}

func TestPanicMessage(t *testing.T) {
	assert.Equal(t, "boom", panicMessage("boom"))
	assert.Equal(t, "bad", panicMessage(errors.New("bad")))
	assert.Equal(t, "42", panicMessage(42))
	assert.Equal(t, "Failed to fetch quote", panicMessage(""))
}
