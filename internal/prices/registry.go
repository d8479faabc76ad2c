package prices

import (
	"sort"
	"strings"

	"github.com/leafsii/combined-position/internal/transact"
)

// Quote currency every provider symbol is priced against.
const QuoteAsset = "USDT"

// Tokens pinned at one dollar without asking a provider.
var pegged = map[string]struct{}{
	"USDC": {},
	"USDT": {},
	"DAI":  {},
}

// Wrapped tokens priced as their underlying asset.
var unwrapped = map[string]string{
	"WETH": "ETH",
	"WBTC": "BTC",
}

// Registry maps on-chain tokens to provider symbols.
type Registry struct {
	symbols map[string]string // chain:address -> provider symbol
	pegged  map[string]struct{}
}

func registryKey(chainID transact.ChainID, address string) string {
	return string(chainID) + ":" + transact.NormalizeAddress(address)
}

// NewRegistry builds the mapping from catalog tokens.
func NewRegistry(tokens []transact.Token) *Registry {
	r := &Registry{
		symbols: make(map[string]string, len(tokens)),
		pegged:  make(map[string]struct{}),
	}
	for _, t := range tokens {
		r.AddToken(t)
	}
	return r
}

// AddToken registers a token under its derived provider symbol
func (r *Registry) AddToken(t transact.Token) {
	key := registryKey(t.ChainID, t.Address)
	sym := strings.ToUpper(t.Symbol)
	if _, ok := pegged[sym]; ok {
		r.pegged[key] = struct{}{}
		delete(r.symbols, key)
		return
	}
	if base, ok := unwrapped[sym]; ok {
		sym = base
	}
	r.symbols[key] = sym + QuoteAsset
}

// Lookup returns the provider symbol for a token. pegged is true for
// stable-coins, which have no symbol.
func (r *Registry) Lookup(chainID transact.ChainID, address string) (symbol string, pegged bool, ok bool) {
	key := registryKey(chainID, address)
	if _, isPegged := r.pegged[key]; isPegged {
		return "", true, true
	}
	symbol, ok = r.symbols[key]
	return symbol, false, ok
}

// ProviderSymbols returns the unique provider symbols, sorted.
func (r *Registry) ProviderSymbols() []string {
	seen := make(map[string]struct{})
	symbols := make([]string, 0, len(r.symbols))
	for _, sym := range r.symbols {
		if _, exists := seen[sym]; exists {
			continue
		}
		seen[sym] = struct{}{}
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols
}
