package transact

import (
	"context"

	"github.com/shopspring/decimal"
)

// VaultCatalog is the read-only vault/token lookup.
type VaultCatalog interface {
	GetVaultByID(id string) (Vault, bool)
	TokenByAddress(chainID ChainID, address string) (Token, bool)
}

// RouteContextService discovers deposit routes for a vault. The readiness flags
// report whether route-provider and fee data finished loading for the vault's
// context; ReadinessChanged returns a channel closed on the next flag change.
type RouteContextService interface {
	InitRouteContext(ctx context.Context, vaultID string) error
	SetMode(ctx context.Context, vaultID string, mode Mode) error
	IsRouteDataLoaded(vaultID string) bool
	IsFeeDataLoaded(vaultID string) bool
	ReadinessChanged(vaultID string) <-chan struct{}
	DiscoverOptions(ctx context.Context, vaultID string, mode Mode) ([]Option, error)
}

type QuoteService interface {
	FetchQuotes(ctx context.Context, options []Option, inputs []InputAmount) ([]Quote, error)
}

// PriceOracle returns the USD price of a token, zero when unknown.
type PriceOracle interface {
	PriceOf(ctx context.Context, chainID ChainID, address string) decimal.Decimal
}

type AllowanceService interface {
	CheckAllowances(ctx context.Context, req AllowanceRequest) error
}

type Wallet interface {
	CurrentAddress() string
	IsConnected() bool
}
