// Package reconciliation implements physical inventory counts and stock
// adjustments: quantity deltas, multi-currency valuation, serial number
// uniqueness and the document approval workflow.
package reconciliation

import (
	"time"

	"github.com/shopspring/decimal"

	"stockrecon/internal/core/entity"
	"stockrecon/internal/core/id"
	"stockrecon/internal/core/types"
)

// EntityName is used in errors, audit entries and outbox aggregate types.
const EntityName = "reconciliation"

// Kind distinguishes the two document types.
type Kind string

const (
	KindPhysicalInventory Kind = "physical_inventory"
	KindStockAdjustment   Kind = "stock_adjustment"
)

// Status is a document lifecycle state.
type Status string

const (
	StatusDraft                 Status = "draft"
	StatusSubmitted             Status = "submitted"
	StatusApproved              Status = "approved"
	StatusRejected              Status = "rejected"
	StatusReturnedForCorrection Status = "returned_for_correction"
	StatusVarianceAccepted      Status = "variance_accepted"
)

// AdjustmentType is the direction of a reason or a stock adjustment line.
type AdjustmentType string

const (
	AdjustmentAdd    AdjustmentType = "add"
	AdjustmentDeduct AdjustmentType = "deduct"
)

func (t AdjustmentType) IsValid() bool {
	return t == AdjustmentAdd || t == AdjustmentDeduct
}

// Currency is read-only reference data.
type Currency struct {
	ID            id.ID  `db:"id" json:"id"`
	Code          string `db:"code" json:"code"`
	Symbol        string `db:"symbol" json:"symbol"`
	IsDefault     bool   `db:"is_default" json:"isDefault"`
	DecimalPlaces int32  `db:"decimal_places" json:"decimalPlaces"`
}

// ExchangeRate converts one unit of From into Rate units of To.
// The absence of a pair means the rate is unknown, never zero.
type ExchangeRate struct {
	FromCurrencyID id.ID           `db:"from_currency_id" json:"fromCurrencyId"`
	ToCurrencyID   id.ID           `db:"to_currency_id" json:"toCurrencyId"`
	Rate           decimal.Decimal `db:"rate" json:"rate"`
}

// AdjustmentReason is immutable reference data describing why stock moved.
type AdjustmentReason struct {
	ID                     id.ID          `db:"id" json:"id"`
	Name                   string         `db:"name" json:"name"`
	AdjustmentType         AdjustmentType `db:"adjustment_type" json:"adjustmentType"`
	TrackingAccountID      *id.ID         `db:"tracking_account_id" json:"trackingAccountId,omitempty"`
	CorrespondingAccountID *id.ID         `db:"corresponding_account_id" json:"correspondingAccountId,omitempty"`
}

// Line is one product row of a document. Fields tagged db:"-" are derived by
// Recalculate and never persisted as independent truth.
type Line struct {
	LineID    id.ID `db:"line_id" json:"lineId"`
	LineNo    int   `db:"line_no" json:"lineNo"`
	ProductID id.ID `db:"product_id" json:"productId"`

	// BaselineQuantity is the stock known before this document posts.
	BaselineQuantity types.Quantity `db:"baseline_quantity" json:"baselineQuantity"`

	// TargetQuantity is the counted quantity for a physical inventory. For a
	// stock adjustment it is derived from the adjustment and equals NewStock.
	TargetQuantity types.Quantity `db:"target_quantity" json:"targetQuantity"`

	// AdjustmentType and AdjustedQuantity are the stock adjustment input.
	AdjustmentType   AdjustmentType `db:"adjustment_type" json:"adjustmentType,omitempty"`
	AdjustedQuantity types.Quantity `db:"adjusted_quantity" json:"adjustedQuantity"`

	// ApprovedQuantity overrides the requested quantity once approved.
	ApprovedQuantity *types.Quantity `db:"approved_quantity" json:"approvedQuantity,omitempty"`

	UnitCost      types.Money `db:"unit_cost" json:"unitCost"`
	SerialNumbers []string    `db:"serial_numbers" json:"serialNumbers"`
	BatchNumber   *string     `db:"batch_number" json:"batchNumber,omitempty"`
	ExpiryDate    *time.Time  `db:"expiry_date" json:"expiryDate,omitempty"`

	AdjustmentIn        types.Quantity      `db:"-" json:"adjustmentIn"`
	AdjustmentOut       types.Quantity      `db:"-" json:"adjustmentOut"`
	NewStock            types.Quantity      `db:"-" json:"newStock"`
	LineTotal           types.Money         `db:"-" json:"lineTotal"`
	EquivalentLineTotal decimal.NullDecimal `db:"-" json:"equivalentLineTotal"`
}

// RequestedQuantity is the quantity an approver may reduce: the counted
// quantity or the adjusted amount depending on the document kind.
func (l *Line) RequestedQuantity(kind Kind) types.Quantity {
	if kind == KindStockAdjustment {
		return l.AdjustedQuantity
	}
	return l.TargetQuantity
}

// EffectiveQuantity is the approved quantity if set, otherwise the requested one.
func (l *Line) EffectiveQuantity(kind Kind) types.Quantity {
	if l.ApprovedQuantity != nil {
		return *l.ApprovedQuantity
	}
	return l.RequestedQuantity(kind)
}

func (l *Line) applyAdjustment(adj Adjustment) {
	l.AdjustmentIn = adj.In
	l.AdjustmentOut = adj.Out
	l.NewStock = adj.NewStock
}

func (l *Line) applyValuation(v Valuation) {
	l.LineTotal = v.LineTotal
	l.EquivalentLineTotal = v.EquivalentLineTotal
}

// Document is a physical inventory or stock adjustment.
type Document struct {
	entity.Document
	entity.CurrencyAware

	Kind    Kind   `db:"kind" json:"kind"`
	Status  Status `db:"status" json:"status"`
	StoreID id.ID  `db:"store_id" json:"storeId"`

	// ExchangeRate converts the document currency into the default currency.
	// Invalid means unavailable. Resolved on every edit, frozen by Submit.
	ExchangeRate      decimal.NullDecimal `db:"exchange_rate" json:"exchangeRate"`
	DefaultCurrencyID id.ID               `db:"default_currency_id" json:"defaultCurrencyId"`

	// Physical inventory reasons, one per direction.
	InReasonID  *id.ID `db:"in_reason_id" json:"inReasonId,omitempty"`
	OutReasonID *id.ID `db:"out_reason_id" json:"outReasonId,omitempty"`
	// Stock adjustment reason.
	ReasonID *id.ID `db:"reason_id" json:"reasonId,omitempty"`

	SubmittedAt        *time.Time `db:"submitted_at" json:"submittedAt,omitempty"`
	SubmittedBy        string     `db:"submitted_by" json:"submittedBy,omitempty"`
	ApprovedAt         *time.Time `db:"approved_at" json:"approvedAt,omitempty"`
	ApprovedBy         string     `db:"approved_by" json:"approvedBy,omitempty"`
	RejectedAt         *time.Time `db:"rejected_at" json:"rejectedAt,omitempty"`
	RejectedBy         string     `db:"rejected_by" json:"rejectedBy,omitempty"`
	RejectionReason    string     `db:"rejection_reason" json:"rejectionReason,omitempty"`
	ReturnedAt         *time.Time `db:"returned_at" json:"returnedAt,omitempty"`
	ReturnedBy         string     `db:"returned_by" json:"returnedBy,omitempty"`
	ReturnReason       string     `db:"return_reason" json:"returnReason,omitempty"`
	VarianceAcceptedAt *time.Time `db:"variance_accepted_at" json:"varianceAcceptedAt,omitempty"`
	VarianceAcceptedBy string     `db:"variance_accepted_by" json:"varianceAcceptedBy,omitempty"`

	// VarianceValue is the net value of the reconciliation, recorded on acceptance.
	VarianceValue           decimal.NullDecimal `db:"variance_value" json:"varianceValue"`
	VarianceEquivalentValue decimal.NullDecimal `db:"variance_equivalent_value" json:"varianceEquivalentValue"`

	RevisionOf *id.ID `db:"revision_of" json:"revisionOf,omitempty"`
	Revision   int    `db:"revision" json:"revision"`

	// Totals snapshot for listing; recomputed by Recalculate.
	TotalAmount     types.Money         `db:"total_amount" json:"totalAmount"`
	EquivalentTotal decimal.NullDecimal `db:"equivalent_total" json:"equivalentTotal"`

	Lines    []Line    `db:"-" json:"lines"`
	Warnings []Warning `db:"-" json:"warnings,omitempty"`
}

// NewDocument creates an empty draft of the given kind.
func NewDocument(kind Kind) *Document {
	return &Document{
		Document: entity.NewDocument(),
		Kind:     kind,
		Status:   StatusDraft,
		Revision: 1,
		Lines:    make([]Line, 0),
	}
}

// IsEditable reports whether header and lines may change.
func (d *Document) IsEditable() bool {
	return d.Status == StatusDraft || d.Status == StatusReturnedForCorrection
}

// Serials returns the serial numbers of every line, in line order.
func (d *Document) Serials() [][]string {
	out := make([][]string, len(d.Lines))
	for i := range d.Lines {
		out[i] = d.Lines[i].SerialNumbers
	}
	return out
}

// ReasonIDs lists the reasons referenced by the header.
func (d *Document) ReasonIDs() []id.ID {
	var ids []id.ID
	for _, p := range []*id.ID{d.InReasonID, d.OutReasonID, d.ReasonID} {
		if !id.IsNilPtr(p) {
			ids = append(ids, *p)
		}
	}
	return ids
}

// LineByID returns the index of the line with lineID, or -1.
func (d *Document) LineByID(lineID id.ID) int {
	for i := range d.Lines {
		if d.Lines[i].LineID == lineID {
			return i
		}
	}
	return -1
}

func (d *Document) renumber() {
	for i := range d.Lines {
		d.Lines[i].LineNo = i + 1
		if id.IsNil(d.Lines[i].LineID) {
			d.Lines[i].LineID = id.New()
		}
	}
}

// Warning is advisory feedback produced while editing. It never blocks an edit.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Line is 1-based; 0 refers to the document header.
	Line   int    `json:"line,omitempty"`
	Serial string `json:"serial,omitempty"`
}

const (
	WarningDuplicateSerial    = "DUPLICATE_SERIAL"
	WarningDeductExceedsStock = "DEDUCT_EXCEEDS_STOCK"
	WarningRateUnavailable    = "RATE_UNAVAILABLE"

	WarningAdjustmentTypeMissing = "ADJUSTMENT_TYPE_MISSING"
)
