package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"stockrecon/internal/core/id"
	"stockrecon/internal/domain/reconciliation"
	"stockrecon/internal/infrastructure/storage/postgres"
)

// AuditHistory reads the change log of an entity, newest first.
type AuditHistory interface {
	History(ctx context.Context, entityType string, entityID id.ID, limit int) ([]postgres.AuditRecord, error)
}

// HistoryHandler exposes the audit trail of documents.
type HistoryHandler struct {
	BaseHandler
	audit AuditHistory
}

func NewHistoryHandler(audit AuditHistory) *HistoryHandler {
	return &HistoryHandler{audit: audit}
}

type historyQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=500"`
}

// Reconciliation returns the audit records of one document.
// GET /reconciliations/:id/history
func (h *HistoryHandler) Reconciliation(c *gin.Context) {
	docID, ok := h.ParamID(c)
	if !ok {
		return
	}
	var q historyQuery
	if !h.BindQuery(c, &q) {
		return
	}
	records, err := h.audit.History(c.Request.Context(), reconciliation.EntityName, docID, q.Limit)
	if err != nil {
		h.Error(c, err)
		return
	}
	if records == nil {
		records = []postgres.AuditRecord{}
	}
	h.OK(c, gin.H{"items": records})
}
