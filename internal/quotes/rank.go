package quotes

import (
	"context"
	"sort"

	"github.com/leafsii/combined-position/internal/transact"
	"github.com/shopspring/decimal"
)

// QuoteValue sums the USD value of every output of q.
func QuoteValue(ctx context.Context, oracle transact.PriceOracle, q transact.Quote) decimal.Decimal {
	total := decimal.Zero
	for _, out := range q.Outputs {
		price := oracle.PriceOf(ctx, out.Token.ChainID, out.Token.Address)
		total = total.Add(out.Amount.Mul(price))
	}
	return total
}

// Rank orders quotes by descending USD value. Equal values keep their input order.
func Rank(ctx context.Context, oracle transact.PriceOracle, quotes []transact.Quote) []transact.Quote {
	type valued struct {
		quote transact.Quote
		value decimal.Decimal
	}

	vs := make([]valued, len(quotes))
	for i, q := range quotes {
		vs[i] = valued{quote: q, value: QuoteValue(ctx, oracle, q)}
	}
	sort.SliceStable(vs, func(i, j int) bool {
		return vs[i].value.GreaterThan(vs[j].value)
	})

	ranked := make([]transact.Quote, len(vs))
	for i, v := range vs {
		ranked[i] = v.quote
	}
	return ranked
}
