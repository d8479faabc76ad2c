package position

func (s State) CanAddVault() bool {
	return len(s.Entries) < MaxVaults
}

func (s State) VaultCount() int {
	return len(s.Entries)
}

func (s State) HasVault(vaultID string) bool {
	return s.indexOf(vaultID) >= 0
}

func (s State) TotalAllocation() int {
	total := 0
	for _, e := range s.Entries {
		total += e.Percent
	}
	return total
}

func (s State) Entry(vaultID string) (AllocationEntry, bool) {
	idx := s.indexOf(vaultID)
	if idx < 0 {
		return AllocationEntry{}, false
	}
	return s.Entries[idx], true
}

// Eligible returns the entries that carry a positive amount to quote.
func (s State) Eligible() []AllocationEntry {
	var out []AllocationEntry
	for _, e := range s.Entries {
		if e.Amount != nil && e.Amount.IsPositive() {
			out = append(out, e)
		}
	}
	return out
}
