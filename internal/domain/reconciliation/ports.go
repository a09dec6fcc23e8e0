package reconciliation

import (
	"context"

	"github.com/shopspring/decimal"

	"stockrecon/internal/core/id"
	"stockrecon/internal/core/types"
	"stockrecon/internal/domain"
)

// Repository persists documents. GetForUpdate must lock the row for the
// current transaction. Update must fail with ConcurrentModification when the
// stored version differs from doc.Version.
type Repository interface {
	Create(ctx context.Context, doc *Document) error
	GetByID(ctx context.Context, docID id.ID) (*Document, error)
	GetForUpdate(ctx context.Context, docID id.ID) (*Document, error)
	Update(ctx context.Context, doc *Document) error
	Delete(ctx context.Context, docID id.ID) error
	GetLines(ctx context.Context, docID id.ID) ([]Line, error)
	SaveLines(ctx context.Context, docID id.ID, lines []Line) error
	List(ctx context.Context, filter ListFilter) (domain.ListResult[*Document], error)
}

// ListFilter narrows List results.
type ListFilter struct {
	domain.ListFilter
	Kind    Kind
	Status  Status
	StoreID *id.ID
}

// Directory is the read-only currency and reason reference data.
type Directory interface {
	DefaultCurrency(ctx context.Context) (Currency, error)
	GetCurrency(ctx context.Context, currencyID id.ID) (Currency, error)
	// ExchangeRates returns the current table. Implementations must not cache it.
	ExchangeRates(ctx context.Context) ([]ExchangeRate, error)
	GetReasons(ctx context.Context, ids []id.ID) (map[id.ID]AdjustmentReason, error)
}

// StockLookup reports on-hand quantity per product in a store. Products
// without stock are omitted and count as zero.
type StockLookup interface {
	OnHand(ctx context.Context, storeID id.ID, productIDs []id.ID) (map[id.ID]types.Quantity, error)
}

// Locker serializes mutations of one document.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// EventPublisher records integration events. Implementations write within
// the transaction carried by ctx.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// AuditLog records document changes within the transaction carried by ctx.
type AuditLog interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// AuditEntry is one audited change. Before is nil on creation.
type AuditEntry struct {
	EntityType string
	EntityID   id.ID
	Action     string
	Before     map[string]any
	After      map[string]any
}

// Integration event types.
const (
	EventSubmitted        = "ReconciliationSubmitted"
	EventApproved         = "ReconciliationApproved"
	EventRejected         = "ReconciliationRejected"
	EventReturned         = "ReconciliationReturned"
	EventApprovalReverted = "ReconciliationApprovalReverted"
	EventVarianceAccepted = "ReconciliationVarianceAccepted"
)

// Event is published through the outbox after a lifecycle transition.
type Event struct {
	Type        string
	AggregateID id.ID
	Payload     LifecycleEvent
}

// LifecycleEvent is the payload of every reconciliation event.
type LifecycleEvent struct {
	DocumentID      id.ID               `json:"documentId"`
	Number          string              `json:"number"`
	Kind            Kind                `json:"kind"`
	From            Status              `json:"from"`
	To              Status              `json:"to"`
	Actor           string              `json:"actor,omitempty"`
	Reason          string              `json:"reason,omitempty"`
	TotalAmount     types.Money         `json:"totalAmount"`
	EquivalentTotal decimal.NullDecimal `json:"equivalentTotal"`

	VarianceValue           decimal.NullDecimal `json:"varianceValue"`
	VarianceEquivalentValue decimal.NullDecimal `json:"varianceEquivalentValue"`

	Movements *MovementSet `json:"movements,omitempty"`
}

func newLifecycleEvent(doc *Document, from Status, actor string) LifecycleEvent {
	return LifecycleEvent{
		DocumentID:              doc.ID,
		Number:                  doc.Number,
		Kind:                    doc.Kind,
		From:                    from,
		To:                      doc.Status,
		Actor:                   actor,
		TotalAmount:             doc.TotalAmount,
		EquivalentTotal:         doc.EquivalentTotal,
		VarianceValue:           doc.VarianceValue,
		VarianceEquivalentValue: doc.VarianceEquivalentValue,
	}
}

// snapshot is the audited view of a document header.
func (d *Document) snapshot() map[string]any {
	nullable := func(v decimal.NullDecimal) any {
		if !v.Valid {
			return nil
		}
		return v.Decimal.String()
	}
	return map[string]any{
		"status":          string(d.Status),
		"number":          d.Number,
		"version":         d.Version,
		"posted":          d.Posted,
		"storeId":         d.StoreID.String(),
		"currencyId":      d.CurrencyID.String(),
		"exchangeRate":    nullable(d.ExchangeRate),
		"totalAmount":     d.TotalAmount.String(),
		"equivalentTotal": nullable(d.EquivalentTotal),
		"lineCount":       len(d.Lines),
		"rejectionReason": d.RejectionReason,
		"returnReason":    d.ReturnReason,
		"varianceValue":   nullable(d.VarianceValue),
		"deletionMark":    d.DeletionMark,
	}
}
