package quotes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/leafsii/combined-position/internal/position"
	"github.com/leafsii/combined-position/internal/transact"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrMissingQuoteInputs = errors.New("cannot fetch quotes: missing token, chain or allocated amounts")

const (
	msgInvalidInput     = "Invalid token or amount"
	msgQuoteFetchFailed = "Quote fetch failed"
	msgNoQuotes         = "No quotes available"
	msgUnexpected       = "Failed to fetch quote"
)

// Metrics is the subset of the service metrics the orchestrator records.
type Metrics interface {
	RecordVaultQuote(ctx context.Context, status string)
	RecordQuoteBatch(ctx context.Context, status string, duration time.Duration)
	RecordReadinessTimeout(ctx context.Context)
}

type nopMetrics struct{}

func (nopMetrics) RecordVaultQuote(context.Context, string) {}
func (nopMetrics) RecordQuoteBatch(context.Context, string, time.Duration) {}
func (nopMetrics) RecordReadinessTimeout(context.Context) {}

// AllowanceRefresher checks approvals for the quotes of a finished batch.
type AllowanceRefresher interface {
	Refresh(ctx context.Context, wallet string, quotes []transact.Quote) int
}

type Config struct {
	ReadinessTimeout time.Duration
	// AllowIncompatibleFallback quotes the first deposit-capable option when
	// none accepts the selected token.
	AllowIncompatibleFallback bool
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Catalog    transact.VaultCatalog
	Routes     transact.RouteContextService
	Quotes     transact.QuoteService
	Prices     transact.PriceOracle
	Allowances AllowanceRefresher
	Metrics    Metrics
}

type VaultReport struct {
	VaultID     string               `json:"vaultId"`
	Amount      decimal.Decimal      `json:"amount"`
	Status      position.QuoteStatus `json:"status"`
	Error       string               `json:"error,omitempty"`
	QuoteCount  int                  `json:"quoteCount"`
	BestQuoteID string               `json:"bestQuoteId,omitempty"`
	Discarded   bool                 `json:"discarded,omitempty"`
}

// BatchReport summarises one FetchQuotes run.
type BatchReport struct {
	Generation  uint64               `json:"generation"`
	ChainID     transact.ChainID     `json:"chainId"`
	Token       transact.Token       `json:"token"`
	TotalAmount decimal.Decimal      `json:"totalAmount"`
	Status      position.QuoteStatus `json:"status"`
	Error       string               `json:"error,omitempty"`
	StartedAt   time.Time            `json:"startedAt"`
	Duration    time.Duration        `json:"duration"`
	Vaults      []VaultReport        `json:"vaults"`
}

// Orchestrator resolves every allocated vault of one store into a quote.
type Orchestrator struct {
	store   *position.Store
	wallet  transact.Wallet
	deps    Deps
	cfg     Config
	gate    *Gate
	metrics Metrics
	logger  *zap.SugaredLogger
}

func New(store *position.Store, wallet transact.Wallet, deps Deps, cfg Config, logger *zap.SugaredLogger) *Orchestrator {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Orchestrator{
		store:   store,
		wallet:  wallet,
		deps:    deps,
		cfg:     cfg,
		gate:    NewGate(deps.Routes, cfg.ReadinessTimeout, metrics, logger),
		metrics: metrics,
		logger:  logger,
	}
}

type vaultResult struct {
	report VaultReport
	quotes []transact.Quote
}

// FetchQuotes runs one batch over the current selection. Per-vault failures
// end up in that vault's outcome; the returned error is only set when the
// batch could not start.
func (o *Orchestrator) FetchQuotes(ctx context.Context) (*BatchReport, error) {
	current := o.store.Snapshot()
	if current.SelectedToken == nil || current.ChainID == "" || len(current.Eligible()) == 0 {
		return nil, ErrMissingQuoteInputs
	}

	gen, snap := o.store.BeginBatch()
	token := *snap.SelectedToken
	eligible := snap.Eligible()

	report := &BatchReport{
		Generation:  gen,
		ChainID:     snap.ChainID,
		Token:       token,
		TotalAmount: snap.TotalAmount,
		StartedAt:   time.Now(),
	}
	o.logger.Debugw("Fetching quotes", "generation", gen, "vaults", len(eligible), "token", token.Symbol)

	results := make([]vaultResult, len(eligible))
	var g errgroup.Group
	for i, entry := range eligible {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = errors.New(panicMessage(r))
				}
			}()
			results[i] = o.fetchVault(ctx, gen, token, entry)
			return nil
		})
	}
	batchErr := g.Wait()

	report.Status = position.StatusFulfilled
	if batchErr != nil {
		report.Status = position.StatusRejected
		report.Error = batchErr.Error()
		o.logger.Errorw("Quote batch failed", "generation", gen, "error", batchErr)
	}
	report.Duration = time.Since(report.StartedAt)

	var fetched []transact.Quote
	for _, r := range results {
		if r.report.VaultID == "" {
			continue
		}
		report.Vaults = append(report.Vaults, r.report)
		fetched = append(fetched, r.quotes...)
	}

	if !o.store.FinishBatch(gen, report.Status, report.Error) {
		o.logger.Debugw("Discarding stale quote batch", "generation", gen)
	}
	o.metrics.RecordQuoteBatch(ctx, string(report.Status), report.Duration)

	if report.Status == position.StatusFulfilled && o.deps.Allowances != nil &&
		o.wallet != nil && o.wallet.IsConnected() && o.wallet.CurrentAddress() != "" {
		o.deps.Allowances.Refresh(ctx, o.wallet.CurrentAddress(), fetched)
	}
	return report, nil
}

// fetchVault runs the flow for one entry and writes its outcome under gen.
func (o *Orchestrator) fetchVault(ctx context.Context, gen uint64, token transact.Token, entry position.AllocationEntry) vaultResult {
	amount := *entry.Amount
	res := vaultResult{report: VaultReport{VaultID: entry.VaultID, Amount: amount}}

	pending := position.QuoteOutcome{
		Status:      position.StatusPending,
		InputAmount: amount,
		AllQuotes:   []transact.Quote{},
	}
	if !o.store.SetVaultQuote(gen, entry.VaultID, pending) {
		res.report.Discarded = true
		return res
	}

	outcome := o.resolveIsolated(ctx, token, entry.VaultID, amount)

	res.report.Status = outcome.Status
	res.report.Error = outcome.Error
	res.report.QuoteCount = len(outcome.AllQuotes)
	if outcome.BestQuote != nil {
		res.report.BestQuoteID = outcome.BestQuote.ID
	}
	res.quotes = outcome.AllQuotes

	if !o.store.SetVaultQuote(gen, entry.VaultID, outcome) {
		res.report.Discarded = true
	}
	o.metrics.RecordVaultQuote(ctx, string(outcome.Status))
	return res
}

func (o *Orchestrator) resolveIsolated(ctx context.Context, token transact.Token, vaultID string, amount decimal.Decimal) (outcome position.QuoteOutcome) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Errorw("Quote flow panicked", "vault", vaultID, "panic", r)
			outcome = rejected(amount, nil, panicMessage(r))
		}
	}()
	return o.resolve(ctx, token, vaultID, amount)
}

func (o *Orchestrator) resolve(ctx context.Context, token transact.Token, vaultID string, amount decimal.Decimal) position.QuoteOutcome {
	vault, ok := o.deps.Catalog.GetVaultByID(vaultID)
	if !ok {
		return rejected(amount, nil, fmt.Sprintf("vault %s not found", vaultID))
	}

	if err := o.deps.Routes.InitRouteContext(ctx, vault.ID); err != nil {
		return rejected(amount, nil, err.Error())
	}
	if err := o.deps.Routes.SetMode(ctx, vault.ID, transact.ModeDeposit); err != nil {
		return rejected(amount, nil, err.Error())
	}
	o.gate.Wait(ctx, vault.ID)

	discovered, err := o.deps.Routes.DiscoverOptions(ctx, vault.ID, transact.ModeDeposit)
	if err != nil {
		return rejected(amount, nil, err.Error())
	}
	options := filterOptions(discovered, func(opt transact.Option) bool {
		return opt.VaultID == vault.ID && opt.Mode == transact.ModeDeposit
	})
	if len(options) == 0 {
		return rejected(amount, nil, fmt.Sprintf("No deposit options available for vault %s with token %s on chain %s",
			vault.ID, token.Symbol, token.ChainID))
	}

	capable := filterOptions(options, func(opt transact.Option) bool { return opt.DepositCapable })
	candidates := filterOptions(capable, func(opt transact.Option) bool { return opt.Accepts(token) })
	if len(candidates) == 0 {
		if !o.cfg.AllowIncompatibleFallback || len(capable) == 0 {
			return rejected(amount, options, fmt.Sprintf("Token %s not supported for vault %s. Available inputs: %s",
				token.Symbol, vault.ID, transact.InputSymbols(options)))
		}
		o.logger.Warnw("No option accepts token, quoting first deposit option",
			"vault", vault.ID, "token", token.Symbol, "option", capable[0].ID)
		candidates = capable[:1]
	}

	if !token.Resolvable() || !amount.IsPositive() {
		return rejected(amount, candidates, msgInvalidInput)
	}

	inputs := []transact.InputAmount{{Token: token, Amount: amount, Max: false}}
	fetched, err := o.deps.Quotes.FetchQuotes(ctx, candidates, inputs)
	if err != nil {
		msg := err.Error()
		if msg == "" {
			msg = msgQuoteFetchFailed
		}
		return rejected(amount, candidates, msg)
	}
	if len(fetched) == 0 {
		return rejected(amount, candidates, msgNoQuotes)
	}

	ranked := Rank(ctx, o.deps.Prices, fetched)
	best := ranked[0]

	return position.QuoteOutcome{
		Status:         position.StatusFulfilled,
		InputAmount:    amount,
		AllQuotes:      ranked,
		BestQuote:      &best,
		ExpectedOutput: o.expectedOutput(ctx, best),
		Options:        candidates,
	}
}

func (o *Orchestrator) expectedOutput(ctx context.Context, best transact.Quote) *position.ExpectedOutput {
	if len(best.Outputs) == 0 {
		return nil
	}
	out := best.Outputs[0]
	if !out.Token.Resolvable() {
		return nil
	}
	price := o.deps.Prices.PriceOf(ctx, out.Token.ChainID, out.Token.Address)
	return &position.ExpectedOutput{
		Amount:   out.Amount,
		Token:    out.Token,
		USDValue: out.Amount.Mul(price),
	}
}

func rejected(amount decimal.Decimal, options []transact.Option, msg string) position.QuoteOutcome {
	return position.QuoteOutcome{
		Status:      position.StatusRejected,
		InputAmount: amount,
		AllQuotes:   []transact.Quote{},
		Error:       msg,
		Options:     options,
	}
}

func filterOptions(options []transact.Option, keep func(transact.Option) bool) []transact.Option {
	var out []transact.Option
	for _, opt := range options {
		if keep(opt) {
			out = append(out, opt)
		}
	}
	return out
}

func panicMessage(r any) string {
	var msg string
	switch v := r.(type) {
	case error:
		msg = v.Error()
	case string:
		msg = v
	default:
		msg = fmt.Sprint(v)
	}
	if msg == "" {
		return msgUnexpected
	}
	return msg
}
