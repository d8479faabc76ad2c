package mock

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/leafsii/combined-position/internal/prices"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Generator provides mock prices for local runs and tests. Each symbol walks
// randomly within ±50% of its base price.
type Generator struct {
	logger     *zap.SugaredLogger
	mu         sync.Mutex
	basePrice  float64
	volatility float64
	bases      map[string]float64
	last       map[string]float64
	health     prices.ProviderHealth
	rng        *rand.Rand
}

// NewGenerator creates a new mock price generator
func NewGenerator(logger *zap.SugaredLogger, basePrice, volatility float64) *Generator {
	if basePrice <= 0 {
		basePrice = 1.00
	}
	if volatility <= 0 {
		volatility = 0.002 // 0.2% volatility
	}

	return &Generator{
		logger:     logger,
		basePrice:  basePrice,
		volatility: volatility,
		bases:      make(map[string]float64),
		last:       make(map[string]float64),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		health: prices.ProviderHealth{
			Healthy:     true,
			LastSuccess: time.Now(),
		},
	}
}

// Name returns the provider identifier
func (g *Generator) Name() string {
	return "mock"
}

// Health returns current provider health status
func (g *Generator) Health() prices.ProviderHealth {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.health
}

// SetBasePrice overrides the base price of one symbol
func (g *Generator) SetBasePrice(symbol string, price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if price > 0 {
		symbol = strings.ToUpper(symbol)
		g.bases[symbol] = price
		delete(g.last, symbol)
	}
}

func stable(symbol string) bool {
	for _, s := range []string{"USDC", "USDT", "DAI"} {
		if strings.HasPrefix(symbol, s) {
			return true
		}
	}
	return false
}

// FetchPrice returns the next step of the symbol's random walk
func (g *Generator) FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	symbol = strings.ToUpper(symbol)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.health.LastSuccess = time.Now()

	if stable(symbol) {
		return decimal.NewFromInt(1), nil
	}

	base, ok := g.bases[symbol]
	if !ok {
		base = g.basePrice
	}
	current, ok := g.last[symbol]
	if !ok {
		current = base
	} else {
		current *= 1 + g.priceChange()
	}

	if minPrice := base * 0.5; current < minPrice {
		current = minPrice
	} else if maxPrice := base * 1.5; current > maxPrice {
		current = maxPrice
	}
	g.last[symbol] = current

	g.logger.Debugw("Generated mock price", "symbol", symbol, "price", current)
	return decimal.NewFromFloat(current).Round(8), nil
}

// priceChange draws one normally distributed step, clamped to five times the
// volatility.
func (g *Generator) priceChange() float64 {
	change := g.rng.NormFloat64() * g.volatility
	maxChange := g.volatility * 5
	if change > maxChange {
		change = maxChange
	} else if change < -maxChange {
		change = -maxChange
	}
	return change
}
