package prices

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Provider fetches the latest USD price for a provider symbol such as ETHUSDT.
type Provider interface {
	FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	// Name returns the provider identifier
	Name() string

	Health() ProviderHealth
}

// ProviderHealth tracks provider connectivity status
type ProviderHealth struct {
	Healthy     bool      `json:"healthy"`
	LastError   string    `json:"lastError,omitempty"`
	LastSuccess time.Time `json:"lastSuccess"`
}
