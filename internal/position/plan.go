package position

import (
	"fmt"

	"github.com/leafsii/combined-position/internal/transact"
	"github.com/shopspring/decimal"
)

type StepKind string

const (
	StepApprove StepKind = "approve"
	StepDeposit StepKind = "deposit"
)

// PlanStep is one transaction the deposit stepper has to run.
type PlanStep struct {
	Kind    StepKind        `json:"step"`
	VaultID string          `json:"vaultId"`
	Message string          `json:"message"`
	Token   transact.Token  `json:"token"`
	Amount  decimal.Decimal `json:"amount"`
	Spender string          `json:"spender,omitempty"`
	QuoteID string          `json:"quoteId,omitempty"`
}

// BuildDepositPlan lays out approve and deposit steps for every vault with a
// positive allocation, in entry order.
func BuildDepositPlan(s State, catalog transact.VaultCatalog) ([]PlanStep, error) {
	if s.SelectedToken == nil || !s.TotalAmount.IsPositive() {
		return nil, fmt.Errorf("no deposit amount selected")
	}
	token := *s.SelectedToken

	var steps []PlanStep
	for _, e := range s.Entries {
		amount := AllocatedAmount(s.TotalAmount, e.Percent)
		if !amount.IsPositive() {
			continue
		}
		vault, ok := catalog.GetVaultByID(e.VaultID)
		if !ok {
			return nil, fmt.Errorf("vault %s not found", e.VaultID)
		}

		var best *transact.Quote
		if e.Quote != nil && e.Quote.Status == StatusFulfilled {
			best = e.Quote.BestQuote
		}

		if !token.IsNative() {
			steps = append(steps, approveSteps(vault, token, amount, best)...)
		}

		deposit := PlanStep{
			Kind:    StepDeposit,
			VaultID: vault.ID,
			Message: fmt.Sprintf("Confirm deposit (%s)", vault.Name),
			Token:   token,
			Amount:  amount,
		}
		if best != nil {
			deposit.QuoteID = best.ID
		}
		steps = append(steps, deposit)
	}
	return steps, nil
}

func approveSteps(vault transact.Vault, token transact.Token, amount decimal.Decimal, best *transact.Quote) []PlanStep {
	step := PlanStep{
		Kind:    StepApprove,
		VaultID: vault.ID,
		Message: fmt.Sprintf("Approve %s for %s", token.Symbol, vault.Name),
		Token:   token,
		Amount:  amount,
	}
	if best == nil {
		return []PlanStep{step}
	}

	var steps []PlanStep
	for _, a := range best.Allowances {
		if a.SpenderAddress == "" || !transact.SameAddress(a.Token.Address, token.Address) {
			continue
		}
		s := step
		s.Spender = a.SpenderAddress
		s.QuoteID = best.ID
		steps = append(steps, s)
	}
	if len(steps) == 0 {
		return []PlanStep{step}
	}
	return steps
}
