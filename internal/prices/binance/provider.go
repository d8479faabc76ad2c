package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/leafsii/combined-position/internal/prices"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const BinanceRestAPI = "https://api.binance.com"

// Provider implements the prices.Provider interface for Binance
type Provider struct {
	logger  *zap.SugaredLogger
	client  *http.Client
	baseURL string

	mu     sync.RWMutex
	health prices.ProviderHealth
}

// NewProvider creates a new Binance provider. An empty baseURL uses the
// public REST endpoint.
func NewProvider(baseURL string, logger *zap.SugaredLogger) *Provider {
	if baseURL == "" {
		baseURL = BinanceRestAPI
	}
	return &Provider{
		logger:  logger,
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		health: prices.ProviderHealth{
			Healthy:     true,
			LastSuccess: time.Now(),
		},
	}
}

// Name returns the provider identifier
func (p *Provider) Name() string {
	return "binance"
}

// Health returns current provider health status
func (p *Provider) Health() prices.ProviderHealth {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.health
}

// updateHealth updates the provider health status
func (p *Provider) updateHealth(healthy bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.health.Healthy = healthy
	if healthy {
		p.health.LastSuccess = time.Now()
		p.health.LastError = ""
	} else if err != nil {
		p.health.LastError = err.Error()
	}
}

// tickerPrice is the /api/v3/ticker/price response body
type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// FetchPrice returns the last traded price for symbol
func (p *Provider) FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	requestURL := fmt.Sprintf("%s/api/v3/ticker/price?%s", p.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		p.updateHealth(false, err)
		return decimal.Zero, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.updateHealth(false, err)
		return decimal.Zero, fmt.Errorf("failed to fetch from Binance: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("Binance API error: %d", resp.StatusCode)
		p.updateHealth(false, err)
		return decimal.Zero, err
	}

	var ticker tickerPrice
	if err := json.NewDecoder(resp.Body).Decode(&ticker); err != nil {
		p.updateHealth(false, err)
		return decimal.Zero, fmt.Errorf("failed to decode response: %w", err)
	}

	price, err := decimal.NewFromString(ticker.Price)
	if err != nil {
		p.updateHealth(false, err)
		return decimal.Zero, fmt.Errorf("invalid price %q: %w", ticker.Price, err)
	}

	p.updateHealth(true, nil)
	p.logger.Debugw("Fetched latest price from Binance", "symbol", ticker.Symbol, "price", price)
	return price, nil
}
