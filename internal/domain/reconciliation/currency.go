package reconciliation

import (
	"github.com/shopspring/decimal"

	"stockrecon/internal/core/id"
)

// RateUnavailable is the explicit "no rate" value. It is neither zero nor one.
var RateUnavailable = decimal.NullDecimal{}

// ResolveRate returns the multiplier converting amounts in from into to.
//
// Identical currencies resolve to 1 without consulting the table. Otherwise the
// first positive (from, to) entry wins. A missing pair yields RateUnavailable;
// callers must not substitute a fallback value.
func ResolveRate(from, to id.ID, table []ExchangeRate) decimal.NullDecimal {
	if from == to {
		return decimal.NewNullDecimal(decimal.NewFromInt(1))
	}
	for _, r := range table {
		if r.FromCurrencyID == from && r.ToCurrencyID == to && r.Rate.IsPositive() {
			return decimal.NewNullDecimal(r.Rate)
		}
	}
	return RateUnavailable
}
