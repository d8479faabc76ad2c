package position

import (
	"slices"

	"github.com/leafsii/combined-position/internal/transact"
	"github.com/shopspring/decimal"
)

// MaxVaults is the number of vaults a combined position can hold.
const MaxVaults = 3

type QuoteStatus string

const (
	StatusIdle      QuoteStatus = "idle"
	StatusPending   QuoteStatus = "pending"
	StatusFulfilled QuoteStatus = "fulfilled"
	StatusRejected  QuoteStatus = "rejected"
)

type ExpectedOutput struct {
	Amount   decimal.Decimal `json:"amount"`
	Token    transact.Token  `json:"token"`
	USDValue decimal.Decimal `json:"usdValue"`
}

// QuoteOutcome is the latest quote result for one vault.
type QuoteOutcome struct {
	Status         QuoteStatus       `json:"status"`
	InputAmount    decimal.Decimal   `json:"inputAmount"`
	AllQuotes      []transact.Quote  `json:"allQuotes"`
	BestQuote      *transact.Quote   `json:"bestQuote,omitempty"`
	ExpectedOutput *ExpectedOutput   `json:"expectedOutput,omitempty"`
	Error          string            `json:"error,omitempty"`
	Options        []transact.Option `json:"options,omitempty"`
}

func idleQuote(input decimal.Decimal) *QuoteOutcome {
	return &QuoteOutcome{
		Status:      StatusIdle,
		InputAmount: input,
		AllQuotes:   []transact.Quote{},
	}
}

type AllocationEntry struct {
	VaultID string           `json:"vaultId"`
	Percent int              `json:"allocation"`
	Amount  *decimal.Decimal `json:"amount,omitempty"`
	Quote   *QuoteOutcome    `json:"quote,omitempty"`
}

// State is the whole selection for one open panel.
type State struct {
	IsOpen        bool              `json:"isOpen"`
	ChainID       transact.ChainID  `json:"chainId,omitempty"`
	SelectedToken *transact.Token   `json:"selectedToken,omitempty"`
	TotalAmount   decimal.Decimal   `json:"totalAmount"`
	Entries       []AllocationEntry `json:"selectedVaults"`
	QuotesStatus  QuoteStatus       `json:"quotesStatus"`
	QuotesError   string            `json:"quotesError,omitempty"`

	// Generation advances on every edit that makes in-flight quotes stale.
	Generation uint64 `json:"generation"`
}

func Initial() State {
	return State{
		TotalAmount:  decimal.Zero,
		Entries:      []AllocationEntry{},
		QuotesStatus: StatusIdle,
	}
}

// Clone returns a deep copy; transitions never mutate their input.
func (s State) Clone() State {
	out := s
	if s.SelectedToken != nil {
		tok := *s.SelectedToken
		out.SelectedToken = &tok
	}
	out.Entries = make([]AllocationEntry, len(s.Entries))
	for i, e := range s.Entries {
		out.Entries[i] = e.clone()
	}
	return out
}

func (e AllocationEntry) clone() AllocationEntry {
	out := e
	if e.Amount != nil {
		amt := *e.Amount
		out.Amount = &amt
	}
	if e.Quote != nil {
		q := *e.Quote
		q.AllQuotes = slices.Clone(e.Quote.AllQuotes)
		q.Options = slices.Clone(e.Quote.Options)
		if e.Quote.BestQuote != nil {
			best := *e.Quote.BestQuote
			q.BestQuote = &best
		}
		if e.Quote.ExpectedOutput != nil {
			exp := *e.Quote.ExpectedOutput
			q.ExpectedOutput = &exp
		}
		out.Quote = &q
	}
	return out
}

func (s State) indexOf(vaultID string) int {
	for i, e := range s.Entries {
		if e.VaultID == vaultID {
			return i
		}
	}
	return -1
}

// WithoutQuotes resets every quote to idle, keeping only the selection.
func (s State) WithoutQuotes() State {
	out := s.Clone()
	out.QuotesStatus = StatusIdle
	out.QuotesError = ""
	for i := range out.Entries {
		input := decimal.Zero
		if out.Entries[i].Amount != nil {
			input = *out.Entries[i].Amount
		}
		out.Entries[i].Quote = idleQuote(input)
	}
	return out
}
