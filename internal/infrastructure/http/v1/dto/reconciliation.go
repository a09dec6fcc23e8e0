package dto

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"stockrecon/internal/core/apperror"
	"stockrecon/internal/core/id"
	"stockrecon/internal/core/types"
	"stockrecon/internal/domain/reconciliation"
)

// --- Request DTOs ---

// PreconditionRequest carries the state the client last saw.
// Mutations are refused when the document has moved on.
type PreconditionRequest struct {
	ExpectedStatus  string `json:"expectedStatus" form:"expectedStatus" binding:"required,oneof=draft submitted approved rejected returned_for_correction variance_accepted"`
	ExpectedVersion int    `json:"expectedVersion" form:"expectedVersion" binding:"omitempty,min=1"`
}

func (r PreconditionRequest) ToPrecondition() reconciliation.Precondition {
	return reconciliation.Precondition{
		ExpectedStatus:  reconciliation.Status(r.ExpectedStatus),
		ExpectedVersion: r.ExpectedVersion,
	}
}

// LineRequest is one product row. Which quantity fields matter depends on
// the document kind: targetQuantity for a physical inventory, adjustmentType
// and adjustedQuantity for a stock adjustment.
type LineRequest struct {
	ProductID        id.ID           `json:"productId" binding:"required"`
	BaselineQuantity *types.Quantity `json:"baselineQuantity" binding:"omitempty,nonneg"`
	TargetQuantity   types.Quantity  `json:"targetQuantity" binding:"nonneg"`
	AdjustmentType   string          `json:"adjustmentType" binding:"omitempty,adjtype"`
	AdjustedQuantity types.Quantity  `json:"adjustedQuantity" binding:"nonneg"`
	UnitCost         types.Money     `json:"unitCost" binding:"nonneg"`
	SerialNumbers    []string        `json:"serialNumbers"`
	BatchNumber      *string         `json:"batchNumber"`
	ExpiryDate       *time.Time      `json:"expiryDate"`
}

func (r LineRequest) ToInput() reconciliation.LineInput {
	return reconciliation.LineInput{
		ProductID:        r.ProductID,
		BaselineQuantity: r.BaselineQuantity,
		TargetQuantity:   r.TargetQuantity,
		AdjustmentType:   reconciliation.AdjustmentType(r.AdjustmentType),
		AdjustedQuantity: r.AdjustedQuantity,
		UnitCost:         r.UnitCost,
		SerialNumbers:    r.SerialNumbers,
		BatchNumber:      r.BatchNumber,
		ExpiryDate:       r.ExpiryDate,
	}
}

func linesToInput(lines []LineRequest) []reconciliation.LineInput {
	out := make([]reconciliation.LineInput, len(lines))
	for i, l := range lines {
		out[i] = l.ToInput()
	}
	return out
}

// DocumentRequest is the editable part of a document.
// A missing currencyId means the default currency.
type DocumentRequest struct {
	Date        time.Time     `json:"date" binding:"required"`
	StoreID     id.ID         `json:"storeId" binding:"required"`
	CurrencyID  *id.ID        `json:"currencyId"`
	InReasonID  *id.ID        `json:"inReasonId"`
	OutReasonID *id.ID        `json:"outReasonId"`
	ReasonID    *id.ID        `json:"reasonId"`
	Comment     string        `json:"comment" binding:"max=1000"`
	Lines       []LineRequest `json:"lines" binding:"dive"`
}

func (r DocumentRequest) toInput(kind reconciliation.Kind) reconciliation.DocumentInput {
	in := reconciliation.DocumentInput{
		Kind:        kind,
		Date:        r.Date,
		StoreID:     r.StoreID,
		InReasonID:  r.InReasonID,
		OutReasonID: r.OutReasonID,
		ReasonID:    r.ReasonID,
		Comment:     r.Comment,
		Lines:       linesToInput(r.Lines),
	}
	if r.CurrencyID != nil {
		in.CurrencyID = *r.CurrencyID
	}
	return in
}

type CreateDocumentRequest struct {
	Kind string `json:"kind" binding:"required,oneof=physical_inventory stock_adjustment"`
	DocumentRequest
}

func (r CreateDocumentRequest) ToInput() reconciliation.DocumentInput {
	return r.DocumentRequest.toInput(reconciliation.Kind(r.Kind))
}

type UpdateDocumentRequest struct {
	PreconditionRequest
	DocumentRequest
}

func (r UpdateDocumentRequest) ToInput() reconciliation.DocumentInput {
	return r.DocumentRequest.toInput("")
}

// TransitionRequest drives a lifecycle action. Reason is mandatory for
// reject and return; the service enforces it.
type TransitionRequest struct {
	PreconditionRequest
	Reason string `json:"reason" binding:"max=1000"`
}

type ApprovedQuantityRequest struct {
	LineID   id.ID          `json:"lineId" binding:"required"`
	Quantity types.Quantity `json:"quantity" binding:"nonneg"`
}

type ApproveRequest struct {
	PreconditionRequest
	Overrides []ApprovedQuantityRequest `json:"overrides" binding:"dive"`
}

// OverrideMap returns the per-line approved quantities, nil when none are given.
// A line may appear only once.
func (r ApproveRequest) OverrideMap() (map[id.ID]types.Quantity, error) {
	if len(r.Overrides) == 0 {
		return nil, nil
	}
	m := make(map[id.ID]types.Quantity, len(r.Overrides))
	for i, o := range r.Overrides {
		if _, dup := m[o.LineID]; dup {
			return nil, apperror.NewValidation("approved quantity is given more than once for the same line").
				WithDetail("field", fmt.Sprintf("overrides[%d].lineId", i)).
				WithDetail("lineId", o.LineID.String())
		}
		m[o.LineID] = o.Quantity
	}
	return m, nil
}

type ImportLinesRequest struct {
	PreconditionRequest
	Lines []LineRequest `json:"lines" binding:"required,min=1,dive"`
}

func (r ImportLinesRequest) ToInput() []reconciliation.LineInput {
	return linesToInput(r.Lines)
}

// ListReconciliationsQuery narrows the document list.
type ListReconciliationsQuery struct {
	ListQuery
	Kind    string `form:"kind" binding:"omitempty,oneof=physical_inventory stock_adjustment"`
	Status  string `form:"status" binding:"omitempty,oneof=draft submitted approved rejected returned_for_correction variance_accepted"`
	StoreID string `form:"storeId" binding:"omitempty,uuid"`
}

func (q ListReconciliationsQuery) ToFilter() reconciliation.ListFilter {
	f := reconciliation.ListFilter{
		ListFilter: q.ListQuery.ToFilter(),
		Kind:       reconciliation.Kind(q.Kind),
		Status:     reconciliation.Status(q.Status),
	}
	if q.StoreID != "" {
		if storeID, err := id.Parse(q.StoreID); err == nil {
			f.StoreID = &storeID
		}
	}
	return f
}

// --- Response DTOs ---

// Places are the display precisions of the document currency and of the
// default currency that equivalent amounts are expressed in.
type Places struct {
	Document int32
	Default  int32
}

type LineResponse struct {
	LineID              id.ID           `json:"lineId"`
	LineNo              int             `json:"lineNo"`
	ProductID           id.ID           `json:"productId"`
	BaselineQuantity    types.Quantity  `json:"baselineQuantity"`
	TargetQuantity      types.Quantity  `json:"targetQuantity"`
	AdjustmentType      string          `json:"adjustmentType,omitempty"`
	AdjustedQuantity    types.Quantity  `json:"adjustedQuantity"`
	ApprovedQuantity    *types.Quantity `json:"approvedQuantity,omitempty"`
	AdjustmentIn        types.Quantity  `json:"adjustmentIn"`
	AdjustmentOut       types.Quantity  `json:"adjustmentOut"`
	NewStock            types.Quantity  `json:"newStock"`
	UnitCost            string          `json:"unitCost"`
	LineTotal           string          `json:"lineTotal"`
	EquivalentLineTotal *string         `json:"equivalentLineTotal"`
	SerialNumbers       []string        `json:"serialNumbers"`
	BatchNumber         *string         `json:"batchNumber,omitempty"`
	ExpiryDate          *time.Time      `json:"expiryDate,omitempty"`
}

// DocumentSummary is the list representation of a document.
type DocumentSummary struct {
	ID              id.ID     `json:"id"`
	Number          string    `json:"number"`
	Date            time.Time `json:"date"`
	Kind            string    `json:"kind"`
	Status          string    `json:"status"`
	StoreID         id.ID     `json:"storeId"`
	CurrencyID      id.ID     `json:"currencyId"`
	Revision        int       `json:"revision"`
	Version         int       `json:"version"`
	TotalAmount     string    `json:"totalAmount"`
	EquivalentTotal *string   `json:"equivalentTotal"`
	RateAvailable   bool      `json:"rateAvailable"`
	Comment         string    `json:"comment,omitempty"`
}

type DocumentResponse struct {
	DocumentSummary

	DefaultCurrencyID id.ID   `json:"defaultCurrencyId"`
	ExchangeRate      *string `json:"exchangeRate"`
	Posted            bool    `json:"posted"`
	InReasonID        *id.ID  `json:"inReasonId,omitempty"`
	OutReasonID       *id.ID  `json:"outReasonId,omitempty"`
	ReasonID          *id.ID  `json:"reasonId,omitempty"`
	RevisionOf        *id.ID  `json:"revisionOf,omitempty"`

	SubmittedAt        *time.Time `json:"submittedAt,omitempty"`
	SubmittedBy        string     `json:"submittedBy,omitempty"`
	ApprovedAt         *time.Time `json:"approvedAt,omitempty"`
	ApprovedBy         string     `json:"approvedBy,omitempty"`
	RejectedAt         *time.Time `json:"rejectedAt,omitempty"`
	RejectedBy         string     `json:"rejectedBy,omitempty"`
	RejectionReason    string     `json:"rejectionReason,omitempty"`
	ReturnedAt         *time.Time `json:"returnedAt,omitempty"`
	ReturnedBy         string     `json:"returnedBy,omitempty"`
	ReturnReason       string     `json:"returnReason,omitempty"`
	VarianceAcceptedAt *time.Time `json:"varianceAcceptedAt,omitempty"`
	VarianceAcceptedBy string     `json:"varianceAcceptedBy,omitempty"`

	VarianceValue           *string `json:"varianceValue,omitempty"`
	VarianceEquivalentValue *string `json:"varianceEquivalentValue,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Lines    []LineResponse           `json:"lines"`
	Warnings []reconciliation.Warning `json:"warnings"`
}

type ImportLinesResponse struct {
	Document DocumentResponse             `json:"document"`
	Added    int                          `json:"added"`
	Issues   []reconciliation.ImportIssue `json:"issues"`
}

// FromDocumentSummary renders the list view of doc with amounts rounded for display.
func FromDocumentSummary(doc *reconciliation.Document, places Places) DocumentSummary {
	return DocumentSummary{
		ID:              doc.ID,
		Number:          doc.DisplayNumber(),
		Date:            doc.Date,
		Kind:            string(doc.Kind),
		Status:          string(doc.Status),
		StoreID:         doc.StoreID,
		CurrencyID:      doc.CurrencyID,
		Revision:        doc.Revision,
		Version:         doc.Version,
		TotalAmount:     types.RoundForDisplay(doc.TotalAmount, places.Document),
		EquivalentTotal: nullMoney(doc.EquivalentTotal, places.Default),
		RateAvailable:   doc.ExchangeRate.Valid,
		Comment:         doc.Comment,
	}
}

// FromDocument renders doc with amounts rounded for display.
// Stored values keep full precision.
func FromDocument(doc *reconciliation.Document, places Places) DocumentResponse {
	resp := DocumentResponse{
		DocumentSummary:         FromDocumentSummary(doc, places),
		DefaultCurrencyID:       doc.DefaultCurrencyID,
		Posted:                  doc.Posted,
		InReasonID:              doc.InReasonID,
		OutReasonID:             doc.OutReasonID,
		ReasonID:                doc.ReasonID,
		RevisionOf:              doc.RevisionOf,
		SubmittedAt:             doc.SubmittedAt,
		SubmittedBy:             doc.SubmittedBy,
		ApprovedAt:              doc.ApprovedAt,
		ApprovedBy:              doc.ApprovedBy,
		RejectedAt:              doc.RejectedAt,
		RejectedBy:              doc.RejectedBy,
		RejectionReason:         doc.RejectionReason,
		ReturnedAt:              doc.ReturnedAt,
		ReturnedBy:              doc.ReturnedBy,
		ReturnReason:            doc.ReturnReason,
		VarianceAcceptedAt:      doc.VarianceAcceptedAt,
		VarianceAcceptedBy:      doc.VarianceAcceptedBy,
		VarianceValue:           nullMoney(doc.VarianceValue, places.Document),
		VarianceEquivalentValue: nullMoney(doc.VarianceEquivalentValue, places.Default),
		CreatedAt:               doc.CreatedAt,
		UpdatedAt:               doc.UpdatedAt,
		Lines:                   make([]LineResponse, len(doc.Lines)),
		Warnings:                doc.Warnings,
	}
	if doc.ExchangeRate.Valid {
		rate := doc.ExchangeRate.Decimal.String()
		resp.ExchangeRate = &rate
	}
	if resp.Warnings == nil {
		resp.Warnings = []reconciliation.Warning{}
	}

	for i := range doc.Lines {
		l := &doc.Lines[i]
		serials := l.SerialNumbers
		if serials == nil {
			serials = []string{}
		}
		resp.Lines[i] = LineResponse{
			LineID:              l.LineID,
			LineNo:              l.LineNo,
			ProductID:           l.ProductID,
			BaselineQuantity:    l.BaselineQuantity,
			TargetQuantity:      l.TargetQuantity,
			AdjustmentType:      string(l.AdjustmentType),
			AdjustedQuantity:    l.AdjustedQuantity,
			ApprovedQuantity:    l.ApprovedQuantity,
			AdjustmentIn:        l.AdjustmentIn,
			AdjustmentOut:       l.AdjustmentOut,
			NewStock:            l.NewStock,
			UnitCost:            l.UnitCost.String(),
			LineTotal:           types.RoundForDisplay(l.LineTotal, places.Document),
			EquivalentLineTotal: nullMoney(l.EquivalentLineTotal, places.Default),
			SerialNumbers:       serials,
			BatchNumber:         l.BatchNumber,
			ExpiryDate:          l.ExpiryDate,
		}
	}
	return resp
}

// nullMoney renders an optional amount; nil means "not available".
func nullMoney(v decimal.NullDecimal, places int32) *string {
	if !v.Valid {
		return nil
	}
	s := types.RoundForDisplay(v.Decimal, places)
	return &s
}
