package reconciliation

import (
	"fmt"

	"stockrecon/internal/core/types"
)

// Adjustment is the signed movement implied by a line.
// At most one of In and Out is nonzero.
type Adjustment struct {
	In       types.Quantity
	Out      types.Quantity
	NewStock types.Quantity
}

// ComputeCounted derives the movement from a counted quantity.
// The counted quantity becomes the new stock.
func ComputeCounted(baseline, target types.Quantity) Adjustment {
	adj := Adjustment{NewStock: target}
	switch delta := target - baseline; {
	case delta > 0:
		adj.In = delta
	case delta < 0:
		adj.Out = -delta
	}
	return adj
}

// ComputeDirected derives the movement from an explicit add or deduct amount.
//
// Deductions never drive stock below zero. When adjusted exceeds baseline the
// result is clamped and a DEDUCT_EXCEEDS_STOCK warning is returned; Out is then
// the quantity actually removed. A line without a valid type moves nothing;
// if it already carries an amount an ADJUSTMENT_TYPE_MISSING warning says so.
func ComputeDirected(baseline types.Quantity, typ AdjustmentType, adjusted types.Quantity) (Adjustment, *Warning) {
	switch typ {
	case AdjustmentAdd:
		return Adjustment{In: adjusted, NewStock: baseline + adjusted}, nil
	case AdjustmentDeduct:
		if adjusted <= baseline {
			return Adjustment{Out: adjusted, NewStock: baseline - adjusted}, nil
		}
		adj := Adjustment{NewStock: 0}
		if baseline > 0 {
			adj.Out = baseline
		}
		return adj, &Warning{
			Code:    WarningDeductExceedsStock,
			Message: fmt.Sprintf("deducting %s exceeds stock of %s; new stock clamped to zero", adjusted, baseline),
		}
	default:
		if !adjusted.IsPositive() {
			return Adjustment{NewStock: baseline}, nil
		}
		return Adjustment{NewStock: baseline}, &Warning{
			Code:    WarningAdjustmentTypeMissing,
			Message: fmt.Sprintf("adjusted quantity %s has no add or deduct type and moves nothing", adjusted),
		}
	}
}

// Magnitude is the absolute quantity moved.
func (a Adjustment) Magnitude() types.Quantity {
	return a.In + a.Out
}
