package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a decimal string in major units ("99.00") to a Decimal.
// WooCommerce REST v3 returns prices in this format.
// Empty or malformed input yields zero.
func ParseAmount(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ParseMinorUnits converts a string already in minor units ("8900") to a
// major-unit Decimal using the currency's minor unit exponent.
// WooCommerce Store API uses this format for all price fields.
// Examples: ("8900", 2) → 89.00, ("" , 2) → 0
func ParseMinorUnits(s string, minorUnit int) decimal.Decimal {
	d := ParseAmount(s)
	if d.IsZero() {
		return d
	}
	return d.Shift(-int32(minorUnit))
}

// FormatAmount renders an amount with two decimals, as the order API expects.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}
