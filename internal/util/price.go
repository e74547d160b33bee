// Package util provides price rounding and statistic formatting helpers.
package util

import (
	"github.com/shopspring/decimal"
)

var (
	indexOptionSmallTick = decimal.RequireFromString("0.05")
	indexOptionLargeTick = decimal.RequireFromString("0.10")
	indexOptionTickBreak = decimal.NewFromInt(3)
)

// RoundToTick rounds x to the nearest tick increment, ties away from zero.
// For example, with tick=0.05, 1.2345 becomes 1.25.
func RoundToTick(x, tick decimal.Decimal) decimal.Decimal {
	if tick.Sign() <= 0 {
		return x
	}
	return x.Div(tick).Round(0).Mul(tick)
}

// IndexOptionTick returns the minimum price increment for a cash index option
// quoted at price: 0.05 below $3.00 and 0.10 at or above.
func IndexOptionTick(price decimal.Decimal) decimal.Decimal {
	if price.Abs().LessThan(indexOptionTickBreak) {
		return indexOptionSmallTick
	}
	return indexOptionLargeTick
}

// FormatMoney renders a dollar amount with two decimals, e.g. "$9.00" or "-$1.50".
func FormatMoney(d decimal.Decimal) string {
	if d.Sign() < 0 {
		return "-$" + d.Abs().StringFixed(2)
	}
	return "$" + d.StringFixed(2)
}

// FormatPercent renders a percentage with the given number of decimals, e.g. "0.009%".
func FormatPercent(d decimal.Decimal, places int32) string {
	return d.StringFixed(places) + "%"
}

// Ratio returns num/den*100, or zero when den is zero.
func Ratio(num, den decimal.Decimal) decimal.Decimal {
	if den.IsZero() {
		return decimal.Zero
	}
	return num.Div(den).Mul(decimal.NewFromInt(100))
}
