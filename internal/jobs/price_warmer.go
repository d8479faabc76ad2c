package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/leafsii/combined-position/internal/prices"
	"golang.org/x/sync/errgroup"
	"go.uber.org/zap"
)

// PriceSource is the part of prices.Oracle the warmer drives.
type PriceSource interface {
	Symbols() []string
	Refresh(ctx context.Context, symbol string) (prices.CachedPrice, error)
	Health() prices.ProviderHealth
}

type PriceWarmerConfig struct {
	Interval      time.Duration // Refresh period while the provider is healthy
	RetryInterval time.Duration // Refresh period after a failed round
	Concurrency   int
}

// DefaultPriceWarmerConfig returns a reasonable default configuration
func DefaultPriceWarmerConfig() PriceWarmerConfig {
	return PriceWarmerConfig{
		Interval:      15 * time.Second,
		RetryInterval: 5 * time.Second,
		Concurrency:   4,
	}
}

// PriceWarmer keeps every known price symbol fresh in the cache so quote
// ranking rarely waits on the provider.
type PriceWarmer struct {
	source PriceSource
	logger *zap.SugaredLogger
	config PriceWarmerConfig

	mu        sync.Mutex
	cancelCtx context.CancelFunc
	lastRound RoundResult
}

// RoundResult summarizes one refresh pass.
type RoundResult struct {
	At        time.Time `json:"at"`
	Refreshed int       `json:"refreshed"`
	Failed    int       `json:"failed"`
}

func NewPriceWarmer(source PriceSource, logger *zap.SugaredLogger, config PriceWarmerConfig) *PriceWarmer {
	def := DefaultPriceWarmerConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = def.RetryInterval
	}
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}
	return &PriceWarmer{source: source, logger: logger, config: config}
}

// Start refreshes until ctx is cancelled or Stop is called.
func (w *PriceWarmer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancelCtx = cancel
	w.mu.Unlock()
	defer cancel()

	symbols := w.source.Symbols()
	w.logger.Infow("Starting price warmer", "symbols", symbols, "interval", w.config.Interval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Infow("Price warmer stopping due to context cancellation")
			return ctx.Err()
		case <-timer.C:
			res := w.RefreshAll(ctx)
			next := w.config.Interval
			if res.Failed > 0 {
				next = w.config.RetryInterval
				health := w.source.Health()
				w.logger.Warnw("Price refresh round had failures",
					"failed", res.Failed,
					"refreshed", res.Refreshed,
					"lastError", health.LastError,
				)
			}
			timer.Reset(next)
		}
	}
}

func (w *PriceWarmer) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancelCtx != nil {
		w.cancelCtx()
	}
}

// RefreshAll refreshes every symbol once.
func (w *PriceWarmer) RefreshAll(ctx context.Context) RoundResult {
	symbols := w.source.Symbols()

	var mu sync.Mutex
	res := RoundResult{At: time.Now()}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.config.Concurrency)
	for _, symbol := range symbols {
		g.Go(func() error {
			_, err := w.source.Refresh(gctx, symbol)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				w.logger.Debugw("Price refresh failed", "symbol", symbol, "error", err)
				return nil
			}
			res.Refreshed++
			return nil
		})
	}
	_ = g.Wait()

	w.mu.Lock()
	w.lastRound = res
	w.mu.Unlock()
	return res
}

// LastRound returns the result of the latest refresh pass.
func (w *PriceWarmer) LastRound() RoundResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastRound
}
