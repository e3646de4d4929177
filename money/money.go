/*
Package money provides the fixed-point arithmetic used by every ledger calculation.

PURPOSE:
  All monetary values are shopspring decimals. Never float64. Intermediate results
  keep full decimal precision; a value is rounded only when it becomes a stored
  monetary field (item total, discount amount, tax amount).

ROUNDING:
  Round uses half-up on the absolute value (2.345 -> 2.35, -2.345 -> -2.35) to
  the currency minor unit, which is DefaultPrecision (2) unless configured.

USAGE:
  tax := money.Round(money.Percent(afterDiscount, taxRate))

SEE ALSO:
  - ledger/totals.go: the calculator built on these helpers
*/
package money

import (
	"github.com/shopspring/decimal"
)

// DefaultPrecision is the number of fractional digits of the currency minor unit.
const DefaultPrecision int32 = 2

var hundred = decimal.NewFromInt(100)

// Zero is the additive identity, exported so callers don't import decimal just for it.
var Zero = decimal.Zero

// Mul multiplies without rounding.
func Mul(a, b decimal.Decimal) decimal.Decimal { return a.Mul(b) }

// Percent returns amount * rate / 100 without rounding.
// Division by 100 is exact in decimal arithmetic, so no precision is lost.
func Percent(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Div(hundred)
}

// Neg returns -a.
func Neg(a decimal.Decimal) decimal.Decimal { return a.Neg() }

// Round rounds half-up to DefaultPrecision places.
func Round(d decimal.Decimal) decimal.Decimal { return d.Round(DefaultPrecision) }

// RoundTo rounds half-up to the given number of fractional digits.
func RoundTo(d decimal.Decimal, places int32) decimal.Decimal { return d.Round(places) }

// Sum adds all values.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// IsValidRate reports whether rate is a percentage in [0, 100].
func IsValidRate(rate decimal.Decimal) bool {
	return !rate.IsNegative() && rate.LessThanOrEqual(hundred)
}

// Parse parses a decimal string such as "148.50".
func Parse(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// MustParse parses s and panics on malformed input. Fixtures and tests only.
func MustParse(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// FromInt converts an integer amount of major units.
func FromInt(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// Equal compares two values numerically (100 == 100.00).
func Equal(a, b decimal.Decimal) bool { return a.Equal(b) }
