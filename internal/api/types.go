package api

import (
	"time"

	"github.com/leafsii/combined-position/internal/catalog"
	"github.com/leafsii/combined-position/internal/position"
	"github.com/leafsii/combined-position/internal/repository"
	"github.com/leafsii/combined-position/internal/session"
	"github.com/leafsii/combined-position/internal/transact"
	"github.com/shopspring/decimal"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type HealthDTO struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// SessionDTO is the body returned by every session mutation.
type SessionDTO struct {
	ID     string             `json:"id"`
	Wallet session.WalletInfo `json:"wallet"`
	State  position.State     `json:"state"`
}

type OpenRequest struct {
	Open bool `json:"open"`
}

type VaultRequest struct {
	VaultID string `json:"vaultId"`
}

type AllocationRequest struct {
	Percent   *int `json:"percent"`
	Recompute bool `json:"recompute"`
}

type AmountRequest struct {
	Amount       string           `json:"amount"`
	ChainID      transact.ChainID `json:"chainId"`
	TokenAddress string           `json:"tokenAddress"`
}

type WalletRequest struct {
	Address string           `json:"address"`
	ChainID transact.ChainID `json:"chainId"`
}

type DepositValidateRequest struct {
	WalletChainID transact.ChainID `json:"walletChainId"`
	Balance       string           `json:"balance"`
}

type DepositPlanDTO struct {
	SessionID string              `json:"sessionId"`
	Steps     []position.PlanStep `json:"steps"`
}

type RunsDTO struct {
	SessionID string           `json:"sessionId"`
	Items     []repository.Run `json:"items"`
}

type VaultsDTO struct {
	Vaults []transact.Vault `json:"vaults"`
}

type TokensDTO struct {
	Tokens []transact.Token `json:"tokens"`
}

type ChainsDTO struct {
	Chains []catalog.Chain `json:"chains"`
}

type PriceDTO struct {
	ChainID   transact.ChainID `json:"chainId"`
	Address   string           `json:"address"`
	Symbol    string           `json:"symbol"`
	Price     decimal.Decimal  `json:"price"`
	Source    string           `json:"source"`
	UpdatedAt time.Time        `json:"updatedAt"`
}
