package position

import (
	"errors"

	"github.com/leafsii/combined-position/internal/transact"
	"github.com/shopspring/decimal"
)

var (
	ErrVaultLimit        = errors.New("combined position already holds the maximum number of vaults")
	ErrWrongChain        = errors.New("vault is on a different chain than the combined position")
	ErrMultiLPNotAllowed = errors.New("multi-lp vaults cannot join a combined position")
	ErrUnknownVault      = errors.New("vault is not part of the combined position")
)

// The functions below are the allocation engine. Each takes a snapshot and
// returns the next one; the input is never modified.

func Open(s State, open bool) State {
	if !open {
		return closed(s)
	}
	next := s.Clone()
	next.IsOpen = true
	return next
}

func closed(s State) State {
	next := Initial()
	next.Generation = s.Generation + 1
	return next
}

// Reset returns the empty initial state, keeping the generation moving forward.
func Reset(s State) State {
	return closed(s)
}

// AddVault appends a vault and splits 100% equally; the remainder of the
// integer split goes to the newly added entry.
func AddVault(s State, vaultID string, chainID transact.ChainID) (State, error) {
	if s.indexOf(vaultID) >= 0 {
		return s, nil
	}
	if len(s.Entries) >= MaxVaults {
		return s, ErrVaultLimit
	}

	next := s.Clone()
	if len(next.Entries) == 0 {
		next.ChainID = chainID
	}

	n := len(next.Entries) + 1
	equal := 100 / n
	remainder := 100 - equal*n

	for i := range next.Entries {
		next.Entries[i].Percent = equal
	}
	next.Entries = append(next.Entries, AllocationEntry{
		VaultID: vaultID,
		Percent: equal + remainder,
		Quote:   idleQuote(decimal.Zero),
	})
	return next, nil
}

// RemoveVault drops a vault and re-splits 100% over the survivors; here the
// remainder goes to the first entry, unlike AddVault.
func RemoveVault(s State, vaultID string) State {
	next := s.Clone()
	kept := next.Entries[:0]
	for _, e := range next.Entries {
		if e.VaultID != vaultID {
			kept = append(kept, e)
		}
	}
	next.Entries = kept

	if len(next.Entries) == 0 {
		next.ChainID = ""
		next.SelectedToken = nil
		next.TotalAmount = decimal.Zero
		next.QuotesStatus = StatusIdle
		next.QuotesError = ""
		return next
	}

	n := len(next.Entries)
	equal := 100 / n
	remainder := 100 - equal*n
	for i := range next.Entries {
		next.Entries[i].Percent = equal
		if i == 0 {
			next.Entries[i].Percent += remainder
		}
	}
	return next
}

// SetAllocation changes one percentage without touching amounts or quotes.
func SetAllocation(s State, vaultID string, percent int) (State, error) {
	idx := s.indexOf(vaultID)
	if idx < 0 {
		return s, ErrUnknownVault
	}
	next := s.Clone()
	next.Entries[idx].Percent = ClampPercent(percent)
	return next, nil
}

// UpdateAllocation changes one percentage, recomputes every amount and
// invalidates every quote.
func UpdateAllocation(s State, vaultID string, percent int) (State, error) {
	idx := s.indexOf(vaultID)
	if idx < 0 {
		return s, ErrUnknownVault
	}
	next := s.Clone()
	next.Entries[idx].Percent = ClampPercent(percent)
	recompute(&next)
	return next, nil
}

func SetTotalAmount(s State, amount decimal.Decimal, token transact.Token) State {
	next := s.Clone()
	next.TotalAmount = amount
	next.SelectedToken = &token
	recompute(&next)
	return next
}

// recompute derives every entry amount from the total and resets all quote
// state, batch status included.
func recompute(s *State) {
	for i := range s.Entries {
		amount := AllocatedAmount(s.TotalAmount, s.Entries[i].Percent)
		s.Entries[i].Amount = &amount
		s.Entries[i].Quote = idleQuote(amount)
	}
	s.QuotesStatus = StatusIdle
	s.QuotesError = ""
	s.Generation++
}

// AllocatedAmount is total * percent / 100 without rounding.
func AllocatedAmount(total decimal.Decimal, percent int) decimal.Decimal {
	return total.Mul(decimal.NewFromInt(int64(percent))).Shift(-2)
}

func ClampPercent(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
