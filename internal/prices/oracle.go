package prices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/leafsii/combined-position/internal/store"
	"github.com/leafsii/combined-position/internal/transact"
	"github.com/leafsii/combined-position/internal/util"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const DefaultPriceTTL = 30 * time.Second

var ErrUnknownToken = errors.New("token has no price mapping")

// CachedPrice is the value stored under cp:price:<symbol>.
type CachedPrice struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Source    string          `json:"source"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type OracleConfig struct {
	TTL time.Duration
	// Fallback answers when the primary provider fails. Optional.
	Fallback Provider
}

// Oracle resolves token prices through the cache, fetching misses from the
// provider at most once per symbol at a time.
type Oracle struct {
	registry *Registry
	provider Provider
	fallback Provider
	cache    *store.Cache
	ttl      time.Duration
	logger   *zap.SugaredLogger
	sf       util.Group[CachedPrice]
}

func NewOracle(registry *Registry, provider Provider, cache *store.Cache, cfg OracleConfig, logger *zap.SugaredLogger) *Oracle {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultPriceTTL
	}
	return &Oracle{
		registry: registry,
		provider: provider,
		fallback: cfg.Fallback,
		cache:    cache,
		ttl:      cfg.TTL,
		logger:   logger,
	}
}

// PriceOf returns the USD price of a token, zero when unknown or unavailable.
func (o *Oracle) PriceOf(ctx context.Context, chainID transact.ChainID, address string) decimal.Decimal {
	p, err := o.Lookup(ctx, chainID, address)
	if err != nil {
		if !errors.Is(err, ErrUnknownToken) {
			o.logger.Warnw("Price lookup failed", "chainId", chainID, "address", address, "error", err)
		}
		return decimal.Zero
	}
	return p.Price
}

// Lookup resolves a token to its cached price entry.
func (o *Oracle) Lookup(ctx context.Context, chainID transact.ChainID, address string) (CachedPrice, error) {
	symbol, pegged, ok := o.registry.Lookup(chainID, address)
	if !ok {
		return CachedPrice{}, fmt.Errorf("%w: %s on chain %s", ErrUnknownToken, address, chainID)
	}
	if pegged {
		return CachedPrice{Price: decimal.NewFromInt(1), Source: "peg", UpdatedAt: time.Now()}, nil
	}
	return o.Price(ctx, symbol)
}

// Price returns the price of a provider symbol, reading through the cache.
func (o *Oracle) Price(ctx context.Context, symbol string) (CachedPrice, error) {
	var cached CachedPrice
	err := o.cache.GetPrice(ctx, symbol, &cached)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, store.ErrCacheMiss) {
		o.logger.Warnw("Price cache read failed", "symbol", symbol, "error", err)
	}
	return o.sf.DoContext(ctx, symbol, func() (CachedPrice, error) {
		return o.Refresh(context.WithoutCancel(ctx), symbol)
	})
}

// Refresh fetches symbol from the provider and stores it with the oracle TTL.
func (o *Oracle) Refresh(ctx context.Context, symbol string) (CachedPrice, error) {
	source := o.provider
	price, err := source.FetchPrice(ctx, symbol)
	if err != nil && o.fallback != nil {
		o.logger.Warnw("Primary price provider failed, using fallback",
			"provider", source.Name(), "fallback", o.fallback.Name(), "symbol", symbol, "error", err)
		source = o.fallback
		price, err = source.FetchPrice(ctx, symbol)
	}
	if err != nil {
		return CachedPrice{}, fmt.Errorf("fetch %s from %s: %w", symbol, source.Name(), err)
	}

	entry := CachedPrice{Symbol: symbol, Price: price, Source: source.Name(), UpdatedAt: time.Now()}
	if err := o.cache.SetPrice(ctx, symbol, entry, o.ttl); err != nil {
		o.logger.Warnw("Failed to cache price", "symbol", symbol, "error", err)
	}
	return entry, nil
}

// Symbols lists every provider symbol the oracle can price.
func (o *Oracle) Symbols() []string {
	return o.registry.ProviderSymbols()
}

// Health reports the primary provider status.
func (o *Oracle) Health() ProviderHealth {
	return o.provider.Health()
}
