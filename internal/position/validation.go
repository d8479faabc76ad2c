package position

import (
	"github.com/leafsii/combined-position/internal/transact"
	"github.com/shopspring/decimal"
)

// ValidateAddVault runs the checks the add button applies before AddVault.
// A vault that is already selected is always valid; callers toggle it off.
func ValidateAddVault(s State, vault transact.Vault) error {
	if s.HasVault(vault.ID) {
		return nil
	}
	if !s.CanAddVault() {
		return ErrVaultLimit
	}
	if s.ChainID != "" && s.ChainID != vault.ChainID {
		return ErrWrongChain
	}
	if vault.StrategyType == transact.StrategyMultiLP {
		return ErrMultiLPNotAllowed
	}
	return nil
}

type DepositAction string

const (
	ActionNone          DepositAction = "none"
	ActionConnect       DepositAction = "connect"
	ActionSwitchNetwork DepositAction = "switch-network"
	ActionDeposit       DepositAction = "deposit"
)

type DepositContext struct {
	Connected     bool
	WalletChainID transact.ChainID
	Balance       decimal.Decimal
}

type DepositCheck struct {
	Valid  bool          `json:"valid"`
	Action DepositAction `json:"action"`
	Reason string        `json:"reason,omitempty"`
}

// ValidateDeposit decides what the deposit button does for the current state.
func ValidateDeposit(s State, dc DepositContext) DepositCheck {
	switch {
	case !dc.Connected:
		return DepositCheck{Action: ActionConnect, Reason: "wallet not connected"}
	case s.ChainID != "" && dc.WalletChainID != s.ChainID:
		return DepositCheck{Action: ActionSwitchNetwork, Reason: "wallet is on another network"}
	case len(s.Entries) == 0:
		return DepositCheck{Action: ActionNone, Reason: "no vaults selected"}
	case s.SelectedToken == nil || !s.TotalAmount.IsPositive():
		return DepositCheck{Action: ActionNone, Reason: "enter an amount"}
	case s.TotalAmount.GreaterThan(dc.Balance):
		return DepositCheck{Action: ActionNone, Reason: "insufficient balance"}
	case s.TotalAllocation() != 100:
		return DepositCheck{Action: ActionNone, Reason: "total allocation must be 100%"}
	}
	return DepositCheck{Valid: true, Action: ActionDeposit}
}
