package reconciliation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"stockrecon/internal/core/apperror"
	appctx "stockrecon/internal/core/context"
	"stockrecon/internal/core/id"
	"stockrecon/internal/core/numerator"
	"stockrecon/internal/core/tx"
	"stockrecon/internal/core/types"
	"stockrecon/internal/domain"
	"stockrecon/pkg/logger"
)

var tracer = otel.Tracer("stockrecon/reconciliation")

// Hook events beyond the CRUD ones.
const (
	BeforeSubmit domain.HookEvent = "before_submit"
	AfterApprove domain.HookEvent = "after_approve"
)

// Precondition guards a mutation against concurrent changes.
type Precondition struct {
	ExpectedStatus Status
	// ExpectedVersion is optional; zero skips the check.
	ExpectedVersion int
}

func (p Precondition) check(doc *Document) error {
	if p.ExpectedStatus == "" {
		return apperror.NewValidation("expected status is required").
			WithDetail("field", "expectedStatus")
	}
	if doc.Status != p.ExpectedStatus {
		return apperror.NewConcurrentModification(EntityName, doc.ID).
			WithDetail("expectedStatus", p.ExpectedStatus).
			WithDetail("actualStatus", doc.Status)
	}
	if p.ExpectedVersion != 0 && doc.Version != p.ExpectedVersion {
		return apperror.NewConcurrentModification(EntityName, doc.ID).
			WithDetail("expectedVersion", p.ExpectedVersion).
			WithDetail("actualVersion", doc.Version)
	}
	return nil
}

// DocumentInput is the editable header and lines of a document.
// Kind is only read on creation.
type DocumentInput struct {
	Kind        Kind
	Date        time.Time
	StoreID     id.ID
	CurrencyID  id.ID
	InReasonID  *id.ID
	OutReasonID *id.ID
	ReasonID    *id.ID
	Comment     string
	Lines       []LineInput
}

// Dependencies are the collaborators of Service.
type Dependencies struct {
	Repo      Repository
	Directory Directory
	Stock     StockLookup
	Numerator numerator.Generator
	TxManager tx.Manager
	Locker    Locker
	Events    EventPublisher
	Audit     AuditLog
}

// Option configures Service.
type Option func(*Service)

// WithNumeratorOptions sets the numbering strategy used on submit.
func WithNumeratorOptions(opts *numerator.Options) Option {
	return func(s *Service) { s.numOpts = opts }
}

// WithClock overrides the time source for transition timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service runs reconciliation documents through their lifecycle.
type Service struct {
	repo      Repository
	directory Directory
	stock     StockLookup
	numerator numerator.Generator
	numOpts   *numerator.Options
	txManager tx.Manager
	locker    Locker
	events    EventPublisher
	audit     AuditLog
	hooks     *domain.HookRegistry[*Document]
	now       func() time.Time
}

// NewService creates the reconciliation service.
func NewService(deps Dependencies, opts ...Option) *Service {
	s := &Service{
		repo:      deps.Repo,
		directory: deps.Directory,
		stock:     deps.Stock,
		numerator: deps.Numerator,
		numOpts:   numerator.DefaultOptions(),
		txManager: deps.TxManager,
		locker:    deps.Locker,
		events:    deps.Events,
		audit:     deps.Audit,
		hooks:     domain.NewHookRegistry[*Document](),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hooks returns the hook registry for registering callbacks.
func (s *Service) Hooks() *domain.HookRegistry[*Document] {
	return s.hooks
}

func (s *Service) actor(ctx context.Context) Actor {
	return Actor{UserID: appctx.GetUserID(ctx), At: s.now().UTC()}
}

// --- reference data ---

type reference struct {
	defaultCurrency Currency
	rates           []ExchangeRate
	reasons         map[id.ID]AdjustmentReason
	onHand          map[id.ID]types.Quantity
}

func (r *reference) applyRate(doc *Document) {
	doc.ApplyRate(r.defaultCurrency.ID, ResolveRate(doc.CurrencyID, r.defaultCurrency.ID, r.rates))
}

type refRequest struct {
	rates    bool
	storeID  id.ID
	products []id.ID
	reasons  []id.ID
}

func inputRequest(storeID id.ID, lines []LineInput) refRequest {
	req := refRequest{rates: true, storeID: storeID}
	seen := make(map[id.ID]struct{}, len(lines))
	for _, l := range lines {
		if l.BaselineQuantity != nil {
			continue
		}
		if _, ok := seen[l.ProductID]; ok || id.IsNil(l.ProductID) {
			continue
		}
		seen[l.ProductID] = struct{}{}
		req.products = append(req.products, l.ProductID)
	}
	return req
}

// loadReference fetches everything req asks for concurrently. The rate table
// is read fresh on every call.
func (s *Service) loadReference(ctx context.Context, req refRequest) (*reference, error) {
	ref := &reference{
		reasons: make(map[id.ID]AdjustmentReason),
		onHand:  make(map[id.ID]types.Quantity),
	}
	g, gctx := errgroup.WithContext(ctx)

	if req.rates {
		g.Go(func() error {
			cur, err := s.directory.DefaultCurrency(gctx)
			if err != nil {
				return fmt.Errorf("default currency: %w", err)
			}
			ref.defaultCurrency = cur
			return nil
		})
		g.Go(func() error {
			rates, err := s.directory.ExchangeRates(gctx)
			if err != nil {
				return fmt.Errorf("exchange rates: %w", err)
			}
			ref.rates = rates
			return nil
		})
	}
	if len(req.reasons) > 0 {
		g.Go(func() error {
			reasons, err := s.directory.GetReasons(gctx, req.reasons)
			if err != nil {
				return fmt.Errorf("adjustment reasons: %w", err)
			}
			ref.reasons = reasons
			return nil
		})
	}
	if len(req.products) > 0 && !id.IsNil(req.storeID) {
		g.Go(func() error {
			onHand, err := s.stock.OnHand(gctx, req.storeID, req.products)
			if err != nil {
				return fmt.Errorf("stock on hand: %w", err)
			}
			ref.onHand = onHand
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ref, nil
}

func (s *Service) applyInput(doc *Document, in DocumentInput, ref *reference) error {
	if !in.Date.IsZero() {
		doc.Date = in.Date
	}
	doc.StoreID = in.StoreID
	doc.CurrencyID = in.CurrencyID
	doc.InReasonID = in.InReasonID
	doc.OutReasonID = in.OutReasonID
	doc.ReasonID = in.ReasonID
	doc.Comment = in.Comment

	lines := make([]Line, len(in.Lines))
	for i, l := range in.Lines {
		lines[i] = l.ToLine(ref.onHand[l.ProductID])
	}
	if err := doc.SetLines(lines); err != nil {
		return err
	}
	ref.applyRate(doc)
	doc.Recalculate()
	return nil
}

// --- loading ---

func (s *Service) withLines(ctx context.Context, doc *Document) (*Document, error) {
	lines, err := s.repo.GetLines(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("get lines: %w", err)
	}
	doc.Lines = lines
	doc.Recalculate()
	return doc, nil
}

func (s *Service) load(ctx context.Context, docID id.ID) (*Document, error) {
	doc, err := s.repo.GetByID(ctx, docID)
	if err != nil {
		return nil, err
	}
	return s.withLines(ctx, doc)
}

func (s *Service) loadForUpdate(ctx context.Context, docID id.ID) (*Document, error) {
	doc, err := s.repo.GetForUpdate(ctx, docID)
	if err != nil {
		return nil, err
	}
	return s.withLines(ctx, doc)
}

func (s *Service) lock(ctx context.Context, docID id.ID) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	return s.locker.Lock(ctx, EntityName+":"+docID.String())
}

// --- reads ---

// Get returns a document with its lines and freshly derived values.
func (s *Service) Get(ctx context.Context, docID id.ID) (*Document, error) {
	ctx, span := tracer.Start(ctx, "reconciliation.get")
	defer span.End()
	return s.load(ctx, docID)
}

// List returns document headers matching filter.
func (s *Service) List(ctx context.Context, filter ListFilter) (domain.ListResult[*Document], error) {
	ctx, span := tracer.Start(ctx, "reconciliation.list")
	defer span.End()
	filter.Normalize()
	return s.repo.List(ctx, filter)
}

// DisplayPlaces returns the decimal places used to present amounts in
// currencyID, falling back to 2.
func (s *Service) DisplayPlaces(ctx context.Context, currencyID id.ID) int32 {
	if id.IsNil(currencyID) {
		return 2
	}
	cur, err := s.directory.GetCurrency(ctx, currencyID)
	if err != nil {
		logger.Debug(ctx, "currency lookup failed, using default places", "currency_id", currencyID, "error", err)
		return 2
	}
	return cur.DecimalPlaces
}

// Preview values an unsaved document. Nothing is persisted or locked.
func (s *Service) Preview(ctx context.Context, in DocumentInput) (*Document, error) {
	ctx, span := tracer.Start(ctx, "reconciliation.preview")
	defer span.End()

	if _, err := StrategyFor(in.Kind); err != nil {
		return nil, err
	}
	ref, err := s.loadReference(ctx, inputRequest(in.StoreID, in.Lines))
	if err != nil {
		return nil, err
	}
	doc := NewDocument(in.Kind)
	if err := s.applyInput(doc, in, ref); err != nil {
		return nil, err
	}
	return doc, nil
}

// PreviewDocument revalues a stored document against the current rate table
// if it is still editable. Nothing is persisted.
func (s *Service) PreviewDocument(ctx context.Context, docID id.ID) (*Document, error) {
	ctx, span := tracer.Start(ctx, "reconciliation.preview_document")
	defer span.End()

	doc, err := s.load(ctx, docID)
	if err != nil {
		return nil, err
	}
	if !doc.IsEditable() {
		return doc, nil
	}
	ref, err := s.loadReference(ctx, refRequest{rates: true})
	if err != nil {
		return nil, err
	}
	ref.applyRate(doc)
	doc.Recalculate()
	return doc, nil
}

// --- mutations ---

// Create stores a new draft. Baselines default to current stock.
func (s *Service) Create(ctx context.Context, in DocumentInput) (*Document, error) {
	ctx, span := tracer.Start(ctx, "reconciliation.create")
	defer span.End()

	if _, err := StrategyFor(in.Kind); err != nil {
		return nil, err
	}
	ref, err := s.loadReference(ctx, inputRequest(in.StoreID, in.Lines))
	if err != nil {
		return nil, err
	}

	doc := NewDocument(in.Kind)
	doc.Stamp(appctx.GetUserID(ctx))
	if err := s.applyInput(doc, in, ref); err != nil {
		return nil, err
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, err
	}
	if err := s.hooks.Run(ctx, domain.BeforeCreate, doc); err != nil {
		return nil, err
	}

	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, doc); err != nil {
			return fmt.Errorf("create document: %w", err)
		}
		if err := s.repo.SaveLines(ctx, doc.ID, doc.Lines); err != nil {
			return fmt.Errorf("save lines: %w", err)
		}
		return s.record(ctx, doc, "create", nil)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := s.hooks.Run(ctx, domain.AfterCreate, doc); err != nil {
		logger.Warn(ctx, "after-create hook failed", "error", err)
	}
	logger.Info(ctx, "reconciliation created",
		"document_id", doc.ID,
		"kind", doc.Kind,
		"lines", len(doc.Lines))
	return doc, nil
}

// Update replaces the header and lines of an editable document.
func (s *Service) Update(ctx context.Context, docID id.ID, pre Precondition, in DocumentInput) (*Document, error) {
	return s.mutate(ctx, ActionEdit, docID, pre,
		func(doc *Document) refRequest { return inputRequest(in.StoreID, in.Lines) },
		func(ctx context.Context, doc *Document, ref *reference, _ Actor) ([]Event, error) {
			return nil, s.applyInput(doc, in, ref)
		})
}

// ImportLines merges candidate lines into an editable document.
// Rejected candidates are reported in the result, not returned as an error.
func (s *Service) ImportLines(ctx context.Context, docID id.ID, pre Precondition, candidates []LineInput) (*Document, ImportResult, error) {
	var result ImportResult
	doc, err := s.mutate(ctx, ActionEdit, docID, pre,
		func(doc *Document) refRequest { return inputRequest(doc.StoreID, candidates) },
		func(ctx context.Context, doc *Document, ref *reference, _ Actor) ([]Event, error) {
			lines := make([]Line, len(candidates))
			for i, c := range candidates {
				lines[i] = c.ToLine(ref.onHand[c.ProductID])
			}
			res, err := doc.MergeCandidates(lines)
			if err != nil {
				return nil, err
			}
			ref.applyRate(doc)
			doc.Recalculate()
			for _, issue := range res.Issues {
				logger.Warn(ctx, "import candidate skipped",
					"document_id", doc.ID,
					"row", issue.Row,
					"code", issue.Code,
					"message", issue.Message)
			}
			result = res
			return nil, nil
		})
	if err != nil {
		return nil, ImportResult{}, err
	}
	return doc, result, nil
}

// Submit validates the document, freezes its exchange rate and assigns a
// reference number if it has none.
func (s *Service) Submit(ctx context.Context, docID id.ID, pre Precondition) (*Document, error) {
	return s.mutate(ctx, ActionSubmit, docID, pre,
		func(doc *Document) refRequest { return refRequest{rates: true, reasons: doc.ReasonIDs()} },
		func(ctx context.Context, doc *Document, ref *reference, by Actor) ([]Event, error) {
			if err := s.hooks.Run(ctx, BeforeSubmit, doc); err != nil {
				return nil, err
			}
			from := doc.Status
			ref.applyRate(doc)
			if err := doc.Submit(by, ref.reasons); err != nil {
				return nil, err
			}
			if !doc.HasNumber() {
				cfg := numerator.DefaultConfig(doc.strategy().NumberPrefix())
				number, err := s.numerator.GetNextNumber(ctx, cfg, s.numOpts, doc.Date)
				if err != nil {
					return nil, fmt.Errorf("generate number: %w", err)
				}
				doc.Number = number
			}
			return []Event{transitionEvent(EventSubmitted, doc, from, by, "")}, nil
		})
}

// Approve posts a submitted document. overrides optionally lowers the
// quantity approved per line id.
func (s *Service) Approve(ctx context.Context, docID id.ID, pre Precondition, overrides map[id.ID]types.Quantity) (*Document, error) {
	doc, err := s.mutate(ctx, ActionApprove, docID, pre,
		func(doc *Document) refRequest { return refRequest{reasons: doc.ReasonIDs()} },
		func(ctx context.Context, doc *Document, ref *reference, by Actor) ([]Event, error) {
			from := doc.Status
			if err := doc.Approve(by, overrides, ref.reasons); err != nil {
				return nil, err
			}
			e := transitionEvent(EventApproved, doc, from, by, "")
			set := doc.Movements()
			e.Payload.Movements = &set
			return []Event{e}, nil
		})
	if err != nil {
		return nil, err
	}
	if err := s.hooks.Run(ctx, AfterApprove, doc); err != nil {
		logger.Warn(ctx, "after-approve hook failed", "document_id", doc.ID, "error", err)
	}
	return doc, nil
}

// Reject closes a submitted document. reason is mandatory.
func (s *Service) Reject(ctx context.Context, docID id.ID, pre Precondition, reason string) (*Document, error) {
	return s.mutate(ctx, ActionReject, docID, pre, nil,
		func(ctx context.Context, doc *Document, _ *reference, by Actor) ([]Event, error) {
			from := doc.Status
			if err := doc.Reject(by, reason); err != nil {
				return nil, err
			}
			return []Event{transitionEvent(EventRejected, doc, from, by, doc.RejectionReason)}, nil
		})
}

// ReturnForCorrection sends a document back for editing. Returning an
// approved count also publishes the reversal of its movements.
func (s *Service) ReturnForCorrection(ctx context.Context, docID id.ID, pre Precondition, reason string) (*Document, error) {
	return s.mutate(ctx, ActionReturnForCorrection, docID, pre, nil,
		func(ctx context.Context, doc *Document, _ *reference, by Actor) ([]Event, error) {
			from := doc.Status
			reverted, err := doc.ReturnForCorrection(by, reason)
			if err != nil {
				return nil, err
			}
			events := []Event{transitionEvent(EventReturned, doc, from, by, doc.ReturnReason)}
			if reverted {
				e := transitionEvent(EventApprovalReverted, doc, from, by, doc.ReturnReason)
				set := doc.Movements()
				e.Payload.Movements = &set
				events = append(events, e)
			}
			return events, nil
		})
}

// Reopen moves a returned document back to draft.
func (s *Service) Reopen(ctx context.Context, docID id.ID, pre Precondition) (*Document, error) {
	return s.mutate(ctx, ActionReopen, docID, pre, nil,
		func(ctx context.Context, doc *Document, _ *reference, by Actor) ([]Event, error) {
			return nil, doc.Reopen(by)
		})
}

// AcceptVariance records the net value of an approved physical inventory.
func (s *Service) AcceptVariance(ctx context.Context, docID id.ID, pre Precondition) (*Document, error) {
	return s.mutate(ctx, ActionAcceptVariance, docID, pre, nil,
		func(ctx context.Context, doc *Document, _ *reference, by Actor) ([]Event, error) {
			from := doc.Status
			if err := doc.AcceptVariance(by); err != nil {
				return nil, err
			}
			return []Event{transitionEvent(EventVarianceAccepted, doc, from, by, "")}, nil
		})
}

// Revise creates a new draft from a rejected document.
func (s *Service) Revise(ctx context.Context, docID id.ID) (*Document, error) {
	ctx, span := tracer.Start(ctx, "reconciliation.revise",
		trace.WithAttributes(attribute.String("document.id", docID.String())))
	defer span.End()

	unlock, err := s.lock(ctx, docID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ref, err := s.loadReference(ctx, refRequest{rates: true})
	if err != nil {
		return nil, err
	}

	var rev *Document
	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		src, err := s.loadForUpdate(ctx, docID)
		if err != nil {
			return err
		}
		draft, err := src.Revise(s.actor(ctx))
		if err != nil {
			return err
		}
		ref.applyRate(draft)
		draft.Recalculate()
		if err := s.repo.Create(ctx, draft); err != nil {
			return fmt.Errorf("create revision: %w", err)
		}
		if err := s.repo.SaveLines(ctx, draft.ID, draft.Lines); err != nil {
			return fmt.Errorf("save lines: %w", err)
		}
		rev = draft
		return s.record(ctx, draft, "revise", nil)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	logger.Info(ctx, "reconciliation revised",
		"document_id", docID,
		"revision_id", rev.ID,
		"revision", rev.Revision)
	return rev, nil
}

// Delete soft-deletes a draft.
func (s *Service) Delete(ctx context.Context, docID id.ID, pre Precondition) error {
	ctx, span := tracer.Start(ctx, "reconciliation.delete",
		trace.WithAttributes(attribute.String("document.id", docID.String())))
	defer span.End()

	unlock, err := s.lock(ctx, docID)
	if err != nil {
		return err
	}
	defer unlock()

	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		doc, err := s.loadForUpdate(ctx, docID)
		if err != nil {
			return err
		}
		if err := pre.check(doc); err != nil {
			return err
		}
		if err := doc.CheckDeletable(); err != nil {
			return err
		}
		before := doc.snapshot()
		if err := s.repo.Delete(ctx, docID); err != nil {
			return fmt.Errorf("delete document: %w", err)
		}
		doc.MarkDeleted()
		return s.record(ctx, doc, "delete", before)
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	logger.Info(ctx, "reconciliation deleted", "document_id", docID)
	return nil
}

type mutation func(ctx context.Context, doc *Document, ref *reference, by Actor) ([]Event, error)

// mutate runs fn under the document lock and inside a transaction. The
// document is re-read with a row lock and the precondition is checked again
// before fn sees it. Header, lines, events and audit are written atomically.
func (s *Service) mutate(
	ctx context.Context,
	action Action,
	docID id.ID,
	pre Precondition,
	need func(doc *Document) refRequest,
	fn mutation,
) (*Document, error) {
	ctx, span := tracer.Start(ctx, "reconciliation."+string(action),
		trace.WithAttributes(attribute.String("document.id", docID.String())))
	defer span.End()

	unlock, err := s.lock(ctx, docID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := s.load(ctx, docID)
	if err != nil {
		return nil, err
	}
	if err := pre.check(current); err != nil {
		return nil, err
	}

	ref := &reference{}
	if need != nil {
		if ref, err = s.loadReference(ctx, need(current)); err != nil {
			return nil, err
		}
	}

	var (
		doc  *Document
		from Status
	)
	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		locked, err := s.loadForUpdate(ctx, docID)
		if err != nil {
			return err
		}
		if err := pre.check(locked); err != nil {
			return err
		}
		from = locked.Status
		before := locked.snapshot()

		by := s.actor(ctx)
		events, err := fn(ctx, locked, ref, by)
		if err != nil {
			return err
		}
		locked.Stamp(by.UserID)
		if err := s.hooks.Run(ctx, domain.BeforeUpdate, locked); err != nil {
			return err
		}

		if err := s.repo.Update(ctx, locked); err != nil {
			return err
		}
		if err := s.repo.SaveLines(ctx, locked.ID, locked.Lines); err != nil {
			return fmt.Errorf("save lines: %w", err)
		}
		locked.Touch()

		for _, e := range events {
			if err := s.events.Publish(ctx, e); err != nil {
				return fmt.Errorf("publish %s: %w", e.Type, err)
			}
		}
		doc = locked
		return s.record(ctx, locked, string(action), before)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := s.hooks.Run(ctx, domain.AfterUpdate, doc); err != nil {
		logger.Warn(ctx, "after-update hook failed", "document_id", doc.ID, "error", err)
	}
	logger.Info(ctx, "reconciliation "+string(action),
		"document_id", doc.ID,
		"number", doc.DisplayNumber(),
		"from", from,
		"to", doc.Status,
		"action", action)
	return doc, nil
}

func (s *Service) record(ctx context.Context, doc *Document, action string, before map[string]any) error {
	if s.audit == nil {
		return nil
	}
	err := s.audit.Record(ctx, AuditEntry{
		EntityType: EntityName,
		EntityID:   doc.ID,
		Action:     action,
		Before:     before,
		After:      doc.snapshot(),
	})
	if err != nil {
		return fmt.Errorf("audit %s: %w", action, err)
	}
	return nil
}

func transitionEvent(typ string, doc *Document, from Status, by Actor, reason string) Event {
	payload := newLifecycleEvent(doc, from, by.UserID)
	payload.Reason = reason
	return Event{Type: typ, AggregateID: doc.ID, Payload: payload}
}
