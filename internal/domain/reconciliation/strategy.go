package reconciliation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"stockrecon/internal/core/apperror"
	"stockrecon/internal/core/id"
	"stockrecon/internal/core/types"
)

// Strategy holds the behavior that differs between document kinds.
type Strategy interface {
	Kind() Kind
	// NumberPrefix is used by the reference number generator.
	NumberPrefix() string
	Workflow() Workflow
	// RecomputeLine derives movement and value fields of line.
	RecomputeLine(line *Line, rate decimal.NullDecimal) []Warning
	// ValidateLine checks values that can be rejected at edit time.
	ValidateLine(line *Line) error
	// ValidateForSubmit checks kind-specific completeness.
	ValidateForSubmit(doc *Document, reasons map[id.ID]AdjustmentReason) error
	// ValidateReasons checks that every line that moves stock is covered by
	// a reason of the matching type. It runs again after approval overrides.
	ValidateReasons(doc *Document, reasons map[id.ID]AdjustmentReason) error
}

// StrategyFor returns the strategy for kind.
func StrategyFor(kind Kind) (Strategy, error) {
	switch kind {
	case KindPhysicalInventory:
		return physicalInventory{}, nil
	case KindStockAdjustment:
		return stockAdjustment{}, nil
	default:
		return nil, apperror.NewValidation(fmt.Sprintf("unknown document kind %q", kind)).
			WithDetail("field", "kind")
	}
}

func validateCommonLine(line *Line) error {
	if id.IsNil(line.ProductID) {
		return apperror.NewLineValidation("product is required", line.LineNo, "productId")
	}
	if line.BaselineQuantity.IsNegative() {
		return apperror.NewLineValidation("baseline quantity must not be negative", line.LineNo, "baselineQuantity")
	}
	if line.UnitCost.IsNegative() {
		return apperror.NewLineValidation("unit cost must not be negative", line.LineNo, "unitCost")
	}
	return nil
}

func reasonOfType(reasons map[id.ID]AdjustmentReason, ref *id.ID, want AdjustmentType, field string) error {
	if id.IsNilPtr(ref) {
		return apperror.NewValidation(field+" is required").WithDetail("field", field)
	}
	r, ok := reasons[*ref]
	if !ok {
		return apperror.NewNotFound("adjustment_reason", *ref)
	}
	if r.AdjustmentType != want {
		return apperror.NewValidation(fmt.Sprintf("reason %q is of type %s, expected %s", r.Name, r.AdjustmentType, want)).
			WithDetail("field", field)
	}
	return nil
}

type physicalInventory struct{}

func (physicalInventory) Kind() Kind           { return KindPhysicalInventory }
func (physicalInventory) NumberPrefix() string { return "PI" }
func (physicalInventory) Workflow() Workflow   { return physicalInventoryWorkflow() }

// RecomputeLine values the counted (or approved) stock, not the delta.
func (physicalInventory) RecomputeLine(line *Line, rate decimal.NullDecimal) []Warning {
	target := line.EffectiveQuantity(KindPhysicalInventory)
	line.applyAdjustment(ComputeCounted(line.BaselineQuantity, target))
	line.applyValuation(ValueLine(target, line.UnitCost, rate))
	return nil
}

func (physicalInventory) ValidateLine(line *Line) error {
	if err := validateCommonLine(line); err != nil {
		return err
	}
	if line.TargetQuantity.IsNegative() {
		return apperror.NewLineValidation("counted quantity must not be negative", line.LineNo, "targetQuantity")
	}
	return nil
}

func (p physicalInventory) ValidateForSubmit(doc *Document, reasons map[id.ID]AdjustmentReason) error {
	return p.ValidateReasons(doc, reasons)
}

func (physicalInventory) ValidateReasons(doc *Document, reasons map[id.ID]AdjustmentReason) error {
	var hasIn, hasOut bool
	for i := range doc.Lines {
		hasIn = hasIn || doc.Lines[i].AdjustmentIn.IsPositive()
		hasOut = hasOut || doc.Lines[i].AdjustmentOut.IsPositive()
	}
	if hasIn {
		if err := reasonOfType(reasons, doc.InReasonID, AdjustmentAdd, "inReasonId"); err != nil {
			return err
		}
	}
	if hasOut {
		if err := reasonOfType(reasons, doc.OutReasonID, AdjustmentDeduct, "outReasonId"); err != nil {
			return err
		}
	}
	return nil
}

type stockAdjustment struct{}

func (stockAdjustment) Kind() Kind           { return KindStockAdjustment }
func (stockAdjustment) NumberPrefix() string { return "SA" }
func (stockAdjustment) Workflow() Workflow   { return stockAdjustmentWorkflow() }

// RecomputeLine values the quantity actually moved.
func (stockAdjustment) RecomputeLine(line *Line, rate decimal.NullDecimal) []Warning {
	adj, warn := ComputeDirected(line.BaselineQuantity, line.AdjustmentType, line.EffectiveQuantity(KindStockAdjustment))
	line.applyAdjustment(adj)
	line.TargetQuantity = adj.NewStock
	line.applyValuation(ValueLine(adj.Magnitude(), line.UnitCost, rate))
	if warn == nil {
		return nil
	}
	warn.Line = line.LineNo
	return []Warning{*warn}
}

func (stockAdjustment) ValidateLine(line *Line) error {
	if err := validateCommonLine(line); err != nil {
		return err
	}
	if line.AdjustmentType != "" && !line.AdjustmentType.IsValid() {
		return apperror.NewLineValidation(fmt.Sprintf("unknown adjustment type %q", line.AdjustmentType), line.LineNo, "adjustmentType")
	}
	if line.AdjustedQuantity.IsNegative() {
		return apperror.NewLineValidation("adjusted quantity must not be negative", line.LineNo, "adjustedQuantity")
	}
	return nil
}

func (a stockAdjustment) ValidateForSubmit(doc *Document, reasons map[id.ID]AdjustmentReason) error {
	for i := range doc.Lines {
		line := &doc.Lines[i]
		if !line.AdjustmentType.IsValid() {
			return apperror.NewLineValidation("adjustment type is required", line.LineNo, "adjustmentType")
		}
		if !line.AdjustedQuantity.IsPositive() {
			return apperror.NewLineValidation("adjusted quantity must be positive", line.LineNo, "adjustedQuantity")
		}
	}
	return a.ValidateReasons(doc, reasons)
}

// ValidateReasons requires the header reason to share each line's direction:
// receipts are booked under an add reason, expenses under a deduct reason.
func (stockAdjustment) ValidateReasons(doc *Document, reasons map[id.ID]AdjustmentReason) error {
	if id.IsNilPtr(doc.ReasonID) {
		return apperror.NewValidation("reasonId is required").WithDetail("field", "reasonId")
	}
	reason, ok := reasons[*doc.ReasonID]
	if !ok {
		return apperror.NewNotFound("adjustment_reason", *doc.ReasonID)
	}
	for i := range doc.Lines {
		line := &doc.Lines[i]
		if line.AdjustmentType != reason.AdjustmentType {
			return apperror.NewLineValidation(
				fmt.Sprintf("reason %q is of type %s, line is %s", reason.Name, reason.AdjustmentType, line.AdjustmentType),
				line.LineNo, "adjustmentType")
		}
	}
	return nil
}

// approvedWithinRequest is shared by both kinds: an approver may reduce but
// never exceed what was requested.
func approvedWithinRequest(line *Line, kind Kind, approved types.Quantity) error {
	if approved.IsNegative() {
		return apperror.NewLineValidation("approved quantity must not be negative", line.LineNo, "approvedQuantity")
	}
	if requested := line.RequestedQuantity(kind); approved > requested {
		return apperror.NewLineValidation(
			fmt.Sprintf("approved quantity %s exceeds requested %s", approved, requested),
			line.LineNo, "approvedQuantity")
	}
	return nil
}
