package reconciliation

import (
	"github.com/shopspring/decimal"

	"stockrecon/internal/core/types"
)

// Valuation is the value of one line in the document currency and in the
// default currency.
type Valuation struct {
	LineTotal           types.Money
	EquivalentLineTotal decimal.NullDecimal
}

// ValueLine multiplies quantity by unit cost and converts with rate.
// An unavailable rate yields an unavailable equivalent. No rounding happens here.
func ValueLine(quantity types.Quantity, unitCost types.Money, rate decimal.NullDecimal) Valuation {
	total := quantity.Decimal().Mul(unitCost)
	return Valuation{
		LineTotal:           total,
		EquivalentLineTotal: Convert(total, rate),
	}
}

// Convert applies rate to amount, propagating unavailability.
func Convert(amount types.Money, rate decimal.NullDecimal) decimal.NullDecimal {
	if !rate.Valid {
		return RateUnavailable
	}
	return decimal.NewNullDecimal(amount.Mul(rate.Decimal))
}

// Totals is the document-level sum of line valuations.
type Totals struct {
	Total           types.Money
	EquivalentTotal decimal.NullDecimal
}

// Aggregate sums valuations at full precision. A single unavailable
// equivalent makes the equivalent total unavailable.
func Aggregate(vals ...Valuation) Totals {
	t := Totals{
		Total:           decimal.Zero,
		EquivalentTotal: decimal.NewNullDecimal(decimal.Zero),
	}
	for _, v := range vals {
		t.Total = t.Total.Add(v.LineTotal)
		if !t.EquivalentTotal.Valid {
			continue
		}
		if !v.EquivalentLineTotal.Valid {
			t.EquivalentTotal = RateUnavailable
			continue
		}
		t.EquivalentTotal.Decimal = t.EquivalentTotal.Decimal.Add(v.EquivalentLineTotal.Decimal)
	}
	return t
}
