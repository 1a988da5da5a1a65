// Package core holds the transaction domain: money rounding, category
// merging, split rebalancing and time bucketing.
//
// This file contains the money helpers every other component relies on to
// avoid floating-point drift.
package core

import (
	"errors"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("invalid amount")

// Round2 rounds x to two decimal places, half away from zero on the third
// decimal. NaN and infinities are returned unchanged.
//
// Examples:
//
//	Round2(1.005)  -> 1.01
//	Round2(-2.345) -> -2.35
//	Round2(3.3333) -> 3.33
func Round2(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	return decimal.NewFromFloat(x).Round(2).InexactFloat64()
}

// ToCents converts an amount to integer cents after rounding.
func ToCents(x float64) int64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return decimal.NewFromFloat(x).Round(2).Shift(2).IntPart()
}

// FromCents converts integer cents back to an amount.
func FromCents(c int64) float64 {
	return decimal.New(c, -2).InexactFloat64()
}

// FormatAmount renders an amount as dollars, e.g. "$12.30" or "-$5.67".
func FormatAmount(x float64) string {
	d := decimal.NewFromFloat(Round2(x))
	if d.IsNegative() {
		return "-$" + d.Neg().StringFixed(2)
	}
	return "$" + d.StringFixed(2)
}

// ParseAmount parses a signed decimal string such as "-5.67", "1,234.50" or
// "$12". The result is rounded to cents.
func ParseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = strings.TrimSpace(s[1:])
	}
	s = strings.TrimPrefix(s, "$")
	if s == "" {
		return 0, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if neg {
		d = d.Neg()
	}
	return d.Round(2).InexactFloat64(), nil
}
