package schema

import "github.com/shopspring/decimal"

type revenueBand struct {
	low, high decimal.Decimal
	label     string
}

var revenueBands = []revenueBand{
	{decimal.Zero, decimal.Zero, "$0"},
	{decimal.NewFromInt(1), decimal.NewFromInt(49_999), "Under $50K"},
	{decimal.NewFromInt(50_000), decimal.NewFromInt(99_999), "$50K-$100K"},
	{decimal.NewFromInt(100_000), decimal.NewFromInt(499_999), "$100K-$500K"},
	{decimal.NewFromInt(500_000), decimal.NewFromInt(999_999), "$500K-$1M"},
	{decimal.NewFromInt(1_000_000), decimal.NewFromInt(4_999_999), "$1M-$5M"},
	{decimal.NewFromInt(5_000_000), decimal.NewFromInt(9_999_999), "$5M-$10M"},
	{decimal.NewFromInt(10_000_000), decimal.NewFromInt(49_999_999), "$10M-$50M"},
	{decimal.NewFromInt(50_000_000), decimal.NewFromInt(99_999_999), "$50M-$100M"},
}

// RevenueRange buckets a revenue amount. Amounts that fall between bands
// (fractional dollars just under a boundary) round down; negative amounts
// have no band and yield nil.
func RevenueRange(v any) any {
	f, ok := castFloat(v)
	if !ok {
		return nil
	}
	d := decimal.NewFromFloat(f).Floor()
	if d.IsNegative() {
		return nil
	}
	for _, b := range revenueBands {
		if d.GreaterThanOrEqual(b.low) && d.LessThanOrEqual(b.high) {
			return b.label
		}
	}
	return "$100M+"
}
