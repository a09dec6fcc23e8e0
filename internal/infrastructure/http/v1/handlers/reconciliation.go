package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"stockrecon/internal/core/id"
	"stockrecon/internal/core/types"
	"stockrecon/internal/domain"
	"stockrecon/internal/domain/reconciliation"
	"stockrecon/internal/infrastructure/http/v1/dto"
)

// ReconciliationService is the part of reconciliation.Service the API drives.
type ReconciliationService interface {
	Get(ctx context.Context, docID id.ID) (*reconciliation.Document, error)
	List(ctx context.Context, filter reconciliation.ListFilter) (domain.ListResult[*reconciliation.Document], error)
	DisplayPlaces(ctx context.Context, currencyID id.ID) int32
	Preview(ctx context.Context, in reconciliation.DocumentInput) (*reconciliation.Document, error)
	PreviewDocument(ctx context.Context, docID id.ID) (*reconciliation.Document, error)
	Create(ctx context.Context, in reconciliation.DocumentInput) (*reconciliation.Document, error)
	Update(ctx context.Context, docID id.ID, pre reconciliation.Precondition, in reconciliation.DocumentInput) (*reconciliation.Document, error)
	ImportLines(ctx context.Context, docID id.ID, pre reconciliation.Precondition, lines []reconciliation.LineInput) (*reconciliation.Document, reconciliation.ImportResult, error)
	Submit(ctx context.Context, docID id.ID, pre reconciliation.Precondition) (*reconciliation.Document, error)
	Approve(ctx context.Context, docID id.ID, pre reconciliation.Precondition, overrides map[id.ID]types.Quantity) (*reconciliation.Document, error)
	Reject(ctx context.Context, docID id.ID, pre reconciliation.Precondition, reason string) (*reconciliation.Document, error)
	ReturnForCorrection(ctx context.Context, docID id.ID, pre reconciliation.Precondition, reason string) (*reconciliation.Document, error)
	Reopen(ctx context.Context, docID id.ID, pre reconciliation.Precondition) (*reconciliation.Document, error)
	AcceptVariance(ctx context.Context, docID id.ID, pre reconciliation.Precondition) (*reconciliation.Document, error)
	Revise(ctx context.Context, docID id.ID) (*reconciliation.Document, error)
	Delete(ctx context.Context, docID id.ID, pre reconciliation.Precondition) error
}

var _ ReconciliationService = (*reconciliation.Service)(nil)

// ReconciliationHandler handles physical inventory and stock adjustment documents.
type ReconciliationHandler struct {
	BaseHandler
	service ReconciliationService
}

func NewReconciliationHandler(service ReconciliationService) *ReconciliationHandler {
	return &ReconciliationHandler{service: service}
}

func (h *ReconciliationHandler) places(ctx context.Context, doc *reconciliation.Document) dto.Places {
	return dto.Places{
		Document: h.service.DisplayPlaces(ctx, doc.CurrencyID),
		Default:  h.service.DisplayPlaces(ctx, doc.DefaultCurrencyID),
	}
}

func (h *ReconciliationHandler) render(c *gin.Context, doc *reconciliation.Document) dto.DocumentResponse {
	return dto.FromDocument(doc, h.places(c.Request.Context(), doc))
}

// List returns a page of documents.
// GET /reconciliations
func (h *ReconciliationHandler) List(c *gin.Context) {
	var q dto.ListReconciliationsQuery
	if !h.BindQuery(c, &q) {
		return
	}

	ctx := c.Request.Context()
	result, err := h.service.List(ctx, q.ToFilter())
	if err != nil {
		h.Error(c, err)
		return
	}

	placesByCurrency := make(map[id.ID]int32)
	lookup := func(currencyID id.ID) int32 {
		p, ok := placesByCurrency[currencyID]
		if !ok {
			p = h.service.DisplayPlaces(ctx, currencyID)
			placesByCurrency[currencyID] = p
		}
		return p
	}

	items := make([]dto.DocumentSummary, len(result.Items))
	for i, doc := range result.Items {
		items[i] = dto.FromDocumentSummary(doc, dto.Places{
			Document: lookup(doc.CurrencyID),
			Default:  lookup(doc.DefaultCurrencyID),
		})
	}

	h.OK(c, dto.ListResponse[dto.DocumentSummary]{
		Items:      items,
		TotalCount: result.TotalCount,
		Limit:      result.Limit,
		Offset:     result.Offset,
	})
}

// Get returns one document.
// GET /reconciliations/:id
func (h *ReconciliationHandler) Get(c *gin.Context) {
	docID, ok := h.ParamID(c)
	if !ok {
		return
	}
	doc, err := h.service.Get(c.Request.Context(), docID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, h.render(c, doc))
}

// Create stores a new draft.
// POST /reconciliations
func (h *ReconciliationHandler) Create(c *gin.Context) {
	var req dto.CreateDocumentRequest
	if !h.BindJSON(c, &req) {
		return
	}
	doc, err := h.service.Create(c.Request.Context(), req.ToInput())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, h.render(c, doc))
}

// Preview values an unsaved document.
// POST /reconciliations/preview
func (h *ReconciliationHandler) Preview(c *gin.Context) {
	var req dto.CreateDocumentRequest
	if !h.BindJSON(c, &req) {
		return
	}
	doc, err := h.service.Preview(c.Request.Context(), req.ToInput())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, h.render(c, doc))
}

// PreviewDocument revalues a stored document against current rates.
// GET /reconciliations/:id/preview
func (h *ReconciliationHandler) PreviewDocument(c *gin.Context) {
	docID, ok := h.ParamID(c)
	if !ok {
		return
	}
	doc, err := h.service.PreviewDocument(c.Request.Context(), docID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, h.render(c, doc))
}

// Update replaces the header and lines of an editable document.
// PUT /reconciliations/:id
func (h *ReconciliationHandler) Update(c *gin.Context) {
	docID, ok := h.ParamID(c)
	if !ok {
		return
	}
	var req dto.UpdateDocumentRequest
	if !h.BindJSON(c, &req) {
		return
	}
	doc, err := h.service.Update(c.Request.Context(), docID, req.ToPrecondition(), req.ToInput())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, h.render(c, doc))
}

// Delete marks a draft as deleted. The precondition travels in the query string.
// DELETE /reconciliations/:id?expectedStatus=draft&expectedVersion=3
func (h *ReconciliationHandler) Delete(c *gin.Context) {
	docID, ok := h.ParamID(c)
	if !ok {
		return
	}
	var pre dto.PreconditionRequest
	if !h.BindQuery(c, &pre) {
		return
	}
	if err := h.service.Delete(c.Request.Context(), docID, pre.ToPrecondition()); err != nil {
		h.Error(c, err)
		return
	}
	h.NoContent(c)
}

// ImportLines merges externally supplied lines into a document.
// POST /reconciliations/:id/import
func (h *ReconciliationHandler) ImportLines(c *gin.Context) {
	docID, ok := h.ParamID(c)
	if !ok {
		return
	}
	var req dto.ImportLinesRequest
	if !h.BindJSON(c, &req) {
		return
	}
	doc, result, err := h.service.ImportLines(c.Request.Context(), docID, req.ToPrecondition(), req.ToInput())
	if err != nil {
		h.Error(c, err)
		return
	}
	issues := result.Issues
	if issues == nil {
		issues = []reconciliation.ImportIssue{}
	}
	h.OK(c, dto.ImportLinesResponse{
		Document: h.render(c, doc),
		Added:    result.Added,
		Issues:   issues,
	})
}

// Submit sends a document for approval.
// POST /reconciliations/:id/submit
func (h *ReconciliationHandler) Submit(c *gin.Context) {
	h.transition(c, func(ctx context.Context, docID id.ID, req dto.TransitionRequest) (*reconciliation.Document, error) {
		return h.service.Submit(ctx, docID, req.ToPrecondition())
	})
}

// Approve accepts a submitted document, optionally with reduced quantities.
// POST /reconciliations/:id/approve
func (h *ReconciliationHandler) Approve(c *gin.Context) {
	docID, ok := h.ParamID(c)
	if !ok {
		return
	}
	var req dto.ApproveRequest
	if !h.BindJSON(c, &req) {
		return
	}
	overrides, err := req.OverrideMap()
	if err != nil {
		h.Error(c, err)
		return
	}
	doc, err := h.service.Approve(c.Request.Context(), docID, req.ToPrecondition(), overrides)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, h.render(c, doc))
}

// Reject closes a submitted document.
// POST /reconciliations/:id/reject
func (h *ReconciliationHandler) Reject(c *gin.Context) {
	h.transition(c, func(ctx context.Context, docID id.ID, req dto.TransitionRequest) (*reconciliation.Document, error) {
		return h.service.Reject(ctx, docID, req.ToPrecondition(), req.Reason)
	})
}

// ReturnForCorrection hands a document back to its author.
// POST /reconciliations/:id/return
func (h *ReconciliationHandler) ReturnForCorrection(c *gin.Context) {
	h.transition(c, func(ctx context.Context, docID id.ID, req dto.TransitionRequest) (*reconciliation.Document, error) {
		return h.service.ReturnForCorrection(ctx, docID, req.ToPrecondition(), req.Reason)
	})
}

// Reopen moves a returned document back to draft.
// POST /reconciliations/:id/reopen
func (h *ReconciliationHandler) Reopen(c *gin.Context) {
	h.transition(c, func(ctx context.Context, docID id.ID, req dto.TransitionRequest) (*reconciliation.Document, error) {
		return h.service.Reopen(ctx, docID, req.ToPrecondition())
	})
}

// AcceptVariance records the value of an approved physical inventory.
// POST /reconciliations/:id/accept-variance
func (h *ReconciliationHandler) AcceptVariance(c *gin.Context) {
	h.transition(c, func(ctx context.Context, docID id.ID, req dto.TransitionRequest) (*reconciliation.Document, error) {
		return h.service.AcceptVariance(ctx, docID, req.ToPrecondition())
	})
}

// Revise copies a rejected document into a new draft.
// POST /reconciliations/:id/revise
func (h *ReconciliationHandler) Revise(c *gin.Context) {
	docID, ok := h.ParamID(c)
	if !ok {
		return
	}
	doc, err := h.service.Revise(c.Request.Context(), docID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, h.render(c, doc))
}

func (h *ReconciliationHandler) transition(
	c *gin.Context,
	action func(ctx context.Context, docID id.ID, req dto.TransitionRequest) (*reconciliation.Document, error),
) {
	docID, ok := h.ParamID(c)
	if !ok {
		return
	}
	var req dto.TransitionRequest
	if !h.BindJSON(c, &req) {
		return
	}
	doc, err := action(c.Request.Context(), docID, req)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, h.render(c, doc))
}
