// Package types provides the numeric value types shared by the domain.
package types

import (
	"github.com/shopspring/decimal"
)

// Money is a monetary amount with full precision.
// Rounding happens only when an amount is rendered.
type Money = decimal.Decimal

// NewMoneyFromString parses a monetary amount. Preferred over float constructors.
func NewMoneyFromString(s string) (Money, error) {
	return decimal.NewFromString(s)
}

// MustMoney parses a monetary amount and panics on error.
// Use only for constants and tests.
func MustMoney(s string) Money {
	return decimal.RequireFromString(s)
}

// Zero returns zero Money value.
func Zero() Money {
	return decimal.Zero
}

// RoundForDisplay rounds an amount to the currency's decimal places and
// formats it with exactly that many fractional digits.
func RoundForDisplay(m Money, places int32) string {
	if places < 0 {
		places = 2
	}
	return m.StringFixed(places)
}
