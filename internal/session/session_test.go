package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leafsii/combined-position/internal/catalog"
	"github.com/leafsii/combined-position/internal/position"
	"github.com/leafsii/combined-position/internal/quotes"
	"github.com/leafsii/combined-position/internal/repository"
	"github.com/leafsii/combined-position/internal/store"
	"github.com/leafsii/combined-position/internal/transact"
	"github.com/leafsii/combined-position/pkg/kv/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	usdc  = transact.Token{ChainID: "1", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Symbol: "USDC", Decimals: 6}
	share = transact.Token{ChainID: "1", Address: "0x00000000000000000000000000000000000000a1", Symbol: "vUSDC", Decimals: 6}
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New(
		[]catalog.Chain{{ID: "1", Name: "Ethereum"}, {ID: "42161", Name: "Arbitrum"}},
		[]transact.Token{usdc, share},
		[]transact.Vault{
			{ID: "A", Name: "Vault A", ChainID: "1"},
			{ID: "B", Name: "Vault B", ChainID: "1"},
			{ID: "C", Name: "Vault C", ChainID: "1"},
			{ID: "D", Name: "Vault D", ChainID: "1"},
			{ID: "arb", Name: "Arb Vault", ChainID: "42161"},
			{ID: "lp", Name: "LP Vault", ChainID: "1", StrategyType: transact.StrategyMultiLP},
		},
	)
	require.NoError(t, err)
	return c
}

// readyRoutes offers one USDC deposit option per vault and is always ready.
type readyRoutes struct{}

func (readyRoutes) InitRouteContext(context.Context, string) error       { return nil }
func (readyRoutes) SetMode(context.Context, string, transact.Mode) error { return nil }
func (readyRoutes) IsRouteDataLoaded(string) bool                        { return true }
func (readyRoutes) IsFeeDataLoaded(string) bool                          { return true }
func (readyRoutes) ReadinessChanged(string) <-chan struct{}              { return make(chan struct{}) }
func (readyRoutes) DiscoverOptions(_ context.Context, vaultID string, _ transact.Mode) ([]transact.Option, error) {
	return []transact.Option{{
		ID: "opt-" + vaultID, VaultID: vaultID, Mode: transact.ModeDeposit,
		Inputs: []transact.Token{usdc}, DepositCapable: true,
	}}, nil
}

// echoQuotes returns one quote per call whose output equals the input amount.
type echoQuotes struct {
	mu    sync.Mutex
	calls int
}

func (q *echoQuotes) FetchQuotes(_ context.Context, options []transact.Option, inputs []transact.InputAmount) ([]transact.Quote, error) {
	q.mu.Lock()
	q.calls++
	q.mu.Unlock()
	return []transact.Quote{{
		ID:       "q-" + options[0].VaultID,
		OptionID: options[0].ID,
		Outputs:  []transact.TokenAmount{{Token: share, Amount: inputs[0].Amount}},
	}}, nil
}

func (q *echoQuotes) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}

type onePrice struct{}

func (onePrice) PriceOf(context.Context, transact.ChainID, string) decimal.Decimal {
	return decimal.NewFromInt(1)
}

type memoryRecorder struct {
	repository.NoopRecorder
	mu   sync.Mutex
	runs map[string][]*quotes.BatchReport
}

func (r *memoryRecorder) RecordRun(_ context.Context, sessionID string, report *quotes.BatchReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[sessionID] = append(r.runs[sessionID], report)
	return nil
}

func (r *memoryRecorder) count(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs[sessionID])
}

type fixture struct {
	mgr      *Manager
	cache    *store.Cache
	quotes   *echoQuotes
	recorder *memoryRecorder
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		cache:    store.NewCache(memory.New(0), zap.NewNop().Sugar(), nil),
		quotes:   &echoQuotes{},
		recorder: &memoryRecorder{runs: map[string][]*quotes.BatchReport{}},
	}
	if cfg.RequoteSettle == 0 {
		cfg.RequoteSettle = 10 * time.Millisecond
		cfg.RequoteMaxWait = 50 * time.Millisecond
	}
	deps := quotes.Deps{
		Catalog: testCatalog(t),
		Routes:  readyRoutes{},
		Quotes:  f.quotes,
		Prices:  onePrice{},
	}
	f.mgr = NewManager(deps, f.cache, f.recorder, cfg, zap.NewNop().Sugar())
	t.Cleanup(func() {
		f.mgr.Shutdown()
		f.cache.Close()
	})
	return f
}

func TestToggleVault(t *testing.T) {
	f := newFixture(t, Config{})
	s := f.mgr.Create(context.Background())
	s.Open(true)

	st, err := s.ToggleVault("A")
	require.NoError(t, err)
	assert.True(t, st.HasVault("A"))
	assert.Equal(t, transact.ChainID("1"), st.ChainID)

	st, err = s.ToggleVault("A")
	require.NoError(t, err)
	assert.False(t, st.HasVault("A"))
}

func TestToggleVaultValidation(t *testing.T) {
	f := newFixture(t, Config{})
	s := f.mgr.Create(context.Background())
	s.Open(true)

	for _, id := range []string{"A", "B", "C"} {
		_, err := s.ToggleVault(id)
		require.NoError(t, err)
	}

	_, err := s.ToggleVault("D")
	assert.ErrorIs(t, err, position.ErrVaultLimit)

	s.RemoveVault("C")
	_, err = s.ToggleVault("arb")
	assert.ErrorIs(t, err, position.ErrWrongChain)

	_, err = s.ToggleVault("lp")
	assert.ErrorIs(t, err, position.ErrMultiLPNotAllowed)

	_, err = s.ToggleVault("missing")
	assert.ErrorIs(t, err, ErrVaultNotFound)
}

func TestSetAmountSchedulesRequote(t *testing.T) {
	f := newFixture(t, Config{})
	s := f.mgr.Create(context.Background())
	s.Open(true)
	_, err := s.ToggleVault("A")
	require.NoError(t, err)
	_, err = s.ToggleVault("B")
	require.NoError(t, err)

	st, err := s.SetAmount(decimal.NewFromInt(200), "1", "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
	require.NoError(t, err)
	assert.Equal(t, "USDC", st.SelectedToken.Symbol)

	assert.Eventually(t, func() bool {
		return s.Snapshot().QuotesStatus == position.StatusFulfilled
	}, time.Second, 5*time.Millisecond)

	snap := s.Snapshot()
	for _, e := range snap.Entries {
		assert.Equal(t, position.StatusFulfilled, e.Quote.Status)
		assert.Equal(t, "100", e.Quote.ExpectedOutput.Amount.String())
	}
	assert.Eventually(t, func() bool { return f.recorder.count(s.ID) == 1 }, time.Second, 5*time.Millisecond)
}

func TestEditBurstCoalescesIntoOneBatch(t *testing.T) {
	f := newFixture(t, Config{RequoteSettle: 30 * time.Millisecond, RequoteMaxWait: time.Second})
	s := f.mgr.Create(context.Background())
	s.Open(true)
	_, err := s.ToggleVault("A")
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		_, err := s.SetAmount(decimal.NewFromInt(int64(i*10)), "1", usdc.Address)
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool { return f.quotes.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, f.quotes.count())

	e, ok := s.Snapshot().Entry("A")
	require.True(t, ok)
	assert.Equal(t, "50", e.Quote.InputAmount.String())
}

func TestSetAmountErrors(t *testing.T) {
	f := newFixture(t, Config{})
	s := f.mgr.Create(context.Background())

	_, err := s.SetAmount(decimal.NewFromInt(-1), "1", usdc.Address)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = s.SetAmount(decimal.NewFromInt(1), "1", "0x0000000000000000000000000000000000000bad")
	assert.ErrorIs(t, err, ErrUnknownToken)
}

func TestFetchQuotesWithoutInputs(t *testing.T) {
	f := newFixture(t, Config{})
	s := f.mgr.Create(context.Background())

	_, err := s.FetchQuotes(context.Background())
	assert.ErrorIs(t, err, quotes.ErrMissingQuoteInputs)
	assert.Zero(t, f.recorder.count(s.ID))
}

func TestSetAllocationWithoutRecomputeKeepsQuotes(t *testing.T) {
	f := newFixture(t, Config{})
	s := f.mgr.Create(context.Background())
	s.Open(true)
	_, _ = s.ToggleVault("A")
	_, _ = s.ToggleVault("B")
	_, err := s.SetAmount(decimal.NewFromInt(100), "1", usdc.Address)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return f.quotes.count() == 2 }, time.Second, 5*time.Millisecond)

	st, err := s.SetAllocation("A", 70, false)
	require.NoError(t, err)
	e, _ := st.Entry("A")
	assert.Equal(t, 70, e.Percent)
	assert.Equal(t, "50", e.Amount.String())

	st, err = s.SetAllocation("A", 70, true)
	require.NoError(t, err)
	e, _ = st.Entry("A")
	assert.Equal(t, "70", e.Amount.String())
	assert.Equal(t, position.StatusIdle, e.Quote.Status)
}

func TestValidateDepositUsesWallet(t *testing.T) {
	f := newFixture(t, Config{})
	s := f.mgr.Create(context.Background())
	s.Open(true)
	_, _ = s.ToggleVault("A")

	check := s.ValidateDeposit("", decimal.NewFromInt(1000))
	assert.Equal(t, position.ActionConnect, check.Action)

	s.SetWallet("0x1111111111111111111111111111111111111111", "42161")
	check = s.ValidateDeposit("", decimal.NewFromInt(1000))
	assert.Equal(t, position.ActionSwitchNetwork, check.Action)

	check = s.ValidateDeposit("1", decimal.NewFromInt(1000))
	assert.Equal(t, "enter an amount", check.Reason)
}

func TestDepositPlan(t *testing.T) {
	f := newFixture(t, Config{})
	s := f.mgr.Create(context.Background())
	s.Open(true)
	_, _ = s.ToggleVault("A")
	_, err := s.SetAmount(decimal.NewFromInt(10), "1", usdc.Address)
	require.NoError(t, err)

	steps, err := s.DepositPlan()
	require.NoError(t, err)
	require.NotEmpty(t, steps)
	assert.Equal(t, position.StepDeposit, steps[len(steps)-1].Kind)
}

func TestGetUnknownSession(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.mgr.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, f.mgr.Close(context.Background(), "nope"), ErrSessionNotFound)
}

func TestSessionRestoredFromSnapshot(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	s := f.mgr.Create(ctx)
	s.Open(true)
	_, _ = s.ToggleVault("A")
	_, _ = s.ToggleVault("B")
	_, err := s.SetAllocation("A", 70, false)
	require.NoError(t, err)
	s.SetWallet("0x1111111111111111111111111111111111111111", "1")

	assert.Eventually(t, func() bool {
		var snap persisted
		if err := f.cache.GetSession(ctx, s.ID, &snap); err != nil {
			return false
		}
		e, ok := snap.State.Entry("A")
		return ok && e.Percent == 70
	}, time.Second, 5*time.Millisecond)

	// unload from memory, as the janitor or a restart would
	evicted := f.mgr.evictIdle(time.Now().Add(time.Hour))
	assert.Equal(t, 1, evicted)
	assert.Zero(t, f.mgr.Len())

	restored, err := f.mgr.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.NotSame(t, s, restored)

	st := restored.Snapshot()
	assert.True(t, st.IsOpen)
	assert.Equal(t, []string{"A", "B"}, []string{st.Entries[0].VaultID, st.Entries[1].VaultID})
	assert.Equal(t, 70, st.Entries[0].Percent)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", restored.Wallet().Address)
	assert.Equal(t, position.StatusIdle, st.QuotesStatus)
}

func TestCloseForgetsSnapshot(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	s := f.mgr.Create(ctx)

	require.NoError(t, f.mgr.Close(ctx, s.ID))
	_, err := f.mgr.Get(ctx, s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestJanitorKeepsActiveSessions(t *testing.T) {
	f := newFixture(t, Config{TTL: time.Hour})
	f.mgr.Create(context.Background())
	assert.Zero(t, f.mgr.evictIdle(time.Now()))
	assert.Equal(t, 1, f.mgr.Len())
}

type failingRecorder struct {
	repository.NoopRecorder
}

func (failingRecorder) RecordRun(context.Context, string, *quotes.BatchReport) error {
	return errors.New("db down")
}

func TestRecorderFailureDoesNotFailBatch(t *testing.T) {
	f := newFixture(t, Config{})
	f.mgr.recorder = failingRecorder{}
	s := f.mgr.Create(context.Background())
	s.Open(true)
	_, _ = s.ToggleVault("A")
	s.store.SetTotalAmount(decimal.NewFromInt(10), usdc)

	report, err := s.FetchQuotes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, position.StatusFulfilled, report.Status)
}
