package reconciliation

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"stockrecon/internal/core/apperror"
	"stockrecon/internal/core/id"
	"stockrecon/internal/core/types"
	"stockrecon/internal/domain"
)

type memRepo struct {
	mu    sync.Mutex
	docs  map[id.ID]Document
	lines map[id.ID][]Line
}

func newMemRepo() *memRepo {
	return &memRepo{docs: make(map[id.ID]Document), lines: make(map[id.ID][]Line)}
}

func copyLines(in []Line) []Line {
	out := make([]Line, len(in))
	for i, l := range in {
		l.SerialNumbers = append([]string(nil), l.SerialNumbers...)
		out[i] = l
	}
	return out
}

func (r *memRepo) Create(_ context.Context, doc *Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *doc
	stored.Lines, stored.Warnings = nil, nil
	r.docs[doc.ID] = stored
	return nil
}

func (r *memRepo) get(docID id.ID) (*Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.docs[docID]
	if !ok || stored.DeletionMark {
		return nil, apperror.NewNotFound(EntityName, docID)
	}
	return &stored, nil
}

func (r *memRepo) GetByID(_ context.Context, docID id.ID) (*Document, error) {
	return r.get(docID)
}

func (r *memRepo) GetForUpdate(_ context.Context, docID id.ID) (*Document, error) {
	return r.get(docID)
}

func (r *memRepo) Update(_ context.Context, doc *Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.docs[doc.ID]
	if !ok || stored.Version != doc.Version {
		return apperror.NewConcurrentModification(EntityName, doc.ID)
	}
	next := *doc
	next.Lines, next.Warnings = nil, nil
	next.Version++
	r.docs[doc.ID] = next
	return nil
}

func (r *memRepo) Delete(_ context.Context, docID id.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := r.docs[docID]
	stored.DeletionMark = true
	stored.Version++
	r.docs[docID] = stored
	return nil
}

func (r *memRepo) GetLines(_ context.Context, docID id.ID) ([]Line, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyLines(r.lines[docID]), nil
}

func (r *memRepo) SaveLines(_ context.Context, docID id.ID, lines []Line) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[docID] = copyLines(lines)
	return nil
}

func (r *memRepo) List(_ context.Context, filter ListFilter) (domain.ListResult[*Document], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]*Document, 0)
	for _, d := range r.docs {
		d := d
		if d.DeletionMark && !filter.IncludeDeleted {
			continue
		}
		if (filter.Kind != "" && d.Kind != filter.Kind) || (filter.Status != "" && d.Status != filter.Status) {
			continue
		}
		items = append(items, &d)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Revision < items[j].Revision })
	return domain.ListResult[*Document]{Items: items, TotalCount: int64(len(items)), Limit: filter.Limit}, nil
}

type memDirectory struct {
	mu         sync.Mutex
	def        Currency
	currencies map[id.ID]Currency
	rates      []ExchangeRate
	reasons    map[id.ID]AdjustmentReason
	rateReads  atomic.Int32
}

func (d *memDirectory) DefaultCurrency(context.Context) (Currency, error) {
	return d.def, nil
}

func (d *memDirectory) GetCurrency(_ context.Context, currencyID id.ID) (Currency, error) {
	c, ok := d.currencies[currencyID]
	if !ok {
		return Currency{}, apperror.NewNotFound("currency", currencyID)
	}
	return c, nil
}

func (d *memDirectory) ExchangeRates(context.Context) ([]ExchangeRate, error) {
	d.rateReads.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ExchangeRate(nil), d.rates...), nil
}

func (d *memDirectory) setRates(rates ...ExchangeRate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rates = rates
}

func (d *memDirectory) GetReasons(_ context.Context, ids []id.ID) (map[id.ID]AdjustmentReason, error) {
	out := make(map[id.ID]AdjustmentReason, len(ids))
	for _, rid := range ids {
		if r, ok := d.reasons[rid]; ok {
			out[rid] = r
		}
	}
	return out, nil
}

type memStock map[id.ID]types.Quantity

func (m memStock) OnHand(_ context.Context, _ id.ID, productIDs []id.ID) (map[id.ID]types.Quantity, error) {
	out := make(map[id.ID]types.Quantity, len(productIDs))
	for _, p := range productIDs {
		if q, ok := m[p]; ok {
			out[p] = q
		}
	}
	return out, nil
}

type memEvents struct {
	mu     sync.Mutex
	events []Event
}

func (m *memEvents) Publish(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memEvents) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

type memAudit struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (m *memAudit) Record(_ context.Context, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memAudit) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Action
	}
	return out
}

type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
	keys []string
}

func (l *memLocker) Lock(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	if l.held[key] {
		return nil, apperror.NewConcurrentModification(EntityName, key)
	}
	l.held[key] = true
	l.keys = append(l.keys, key)
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}
