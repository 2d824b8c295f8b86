package pbb

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of fractional digits carried by every monetary value.
const MoneyScale = 2

// MaxMoney is the largest amount a NUMERIC(15,2) column holds. Anything
// larger would not survive the round-trip through integer cents.
var MaxMoney = decimal.RequireFromString("9999999999999.99")

var hundred = decimal.NewFromInt(100)

// ParseMoney parses a decimal string such as "25000.50". More than two
// fractional digits is rejected rather than rounded.
func ParseMoney(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse money %q: %w", s, err)
	}
	if !HasMoneyScale(d) {
		return decimal.Zero, fmt.Errorf("money %q has more than %d fractional digits", s, MoneyScale)
	}
	if !InMoneyRange(d) {
		return decimal.Zero, fmt.Errorf("money %q exceeds %s", s, FormatMoney(MaxMoney))
	}
	return d, nil
}

// HasMoneyScale reports whether d is representable with two fractional digits.
func HasMoneyScale(d decimal.Decimal) bool {
	return d.Equal(d.Round(MoneyScale))
}

// InMoneyRange reports whether |d| <= MaxMoney.
func InMoneyRange(d decimal.Decimal) bool {
	return d.Abs().LessThanOrEqual(MaxMoney)
}

// ValidateMoney checks that d fits the storage format, returning an
// ErrInvalid failure naming field otherwise. Sign rules are the caller's.
func ValidateMoney(field string, d decimal.Decimal) error {
	if !HasMoneyScale(d) {
		return invalid(field, "must have at most %d fractional digits", MoneyScale)
	}
	if !InMoneyRange(d) {
		return invalid(field, "must not exceed %s", FormatMoney(MaxMoney))
	}
	return nil
}

// Cents converts a 2-dp amount to integer cents for storage and summing.
// d must pass ValidateMoney; larger values do not fit in an int64.
func Cents(d decimal.Decimal) int64 {
	return d.Shift(MoneyScale).Round(0).IntPart()
}

// FromCents is the inverse of Cents.
func FromCents(c int64) decimal.Decimal {
	return decimal.New(c, -MoneyScale)
}

// FormatMoney renders d with exactly two fractional digits.
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(MoneyScale)
}

// AchievementPercentage returns round(paid / target * 100, 2), rounding half
// up. A target of zero (or less) yields exactly zero regardless of paid:
// an unset target has no achievement, it is not a division error.
func AchievementPercentage(paid, target decimal.Decimal) decimal.Decimal {
	if !target.IsPositive() {
		return decimal.Zero
	}
	// Exact integer division on the scaled quotient; one half-up step.
	scaled := paid.Mul(hundred).Shift(MoneyScale)
	q, r := scaled.QuoRem(target, 0)
	if r.Mul(two).GreaterThanOrEqual(target) {
		q = q.Add(decimal.NewFromInt(1))
	}
	return q.Shift(-MoneyScale)
}

var two = decimal.NewFromInt(2)
