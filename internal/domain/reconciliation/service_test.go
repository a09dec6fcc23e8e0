package reconciliation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockrecon/internal/core/apperror"
	appctx "stockrecon/internal/core/context"
	"stockrecon/internal/core/id"
	"stockrecon/internal/core/numerator"
	"stockrecon/internal/core/tx"
	"stockrecon/internal/core/types"
	"stockrecon/internal/domain"
)

var fixedNow = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

type harness struct {
	svc    *Service
	repo   *memRepo
	dir    *memDirectory
	stock  memStock
	events *memEvents
	audit  *memAudit
	locker *memLocker
	f      fixture
	eur    id.ID
	ctx    context.Context
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	f := newFixture()
	h := &harness{
		repo:   newMemRepo(),
		stock:  memStock{},
		events: &memEvents{},
		audit:  &memAudit{},
		locker: &memLocker{},
		f:      f,
		eur:    id.New(),
		ctx:    appctx.WithUser(context.Background(), &appctx.UserContext{UserID: "auditor"}),
	}
	h.dir = &memDirectory{
		def: Currency{ID: f.currency, Code: "USD", IsDefault: true, DecimalPlaces: 2},
		currencies: map[id.ID]Currency{
			f.currency: {ID: f.currency, Code: "USD", IsDefault: true, DecimalPlaces: 2},
			h.eur:      {ID: h.eur, Code: "EUR", DecimalPlaces: 3},
		},
		reasons: f.reasons,
	}
	h.svc = NewService(Dependencies{
		Repo:      h.repo,
		Directory: h.dir,
		Stock:     h.stock,
		Numerator: &numerator.MockGenerator{},
		TxManager: tx.Noop{},
		Locker:    h.locker,
		Events:    h.events,
		Audit:     h.audit,
	}, WithClock(func() time.Time { return fixedNow }))
	return h
}

func (h *harness) piInput(lines ...LineInput) DocumentInput {
	return DocumentInput{
		Kind:        KindPhysicalInventory,
		Date:        fixedNow,
		StoreID:     h.f.store,
		CurrencyID:  h.f.currency,
		InReasonID:  &h.f.inReason.ID,
		OutReasonID: &h.f.outReason.ID,
		Lines:       lines,
	}
}

func countLine(product id.ID, target int64, cost string) LineInput {
	return LineInput{ProductID: product, TargetQuantity: types.NewQuantity(target), UnitCost: types.MustMoney(cost)}
}

func at(status Status) Precondition {
	return Precondition{ExpectedStatus: status}
}

func TestServiceCreate(t *testing.T) {
	h := newHarness(t)
	product := id.New()
	h.stock[product] = types.NewQuantity(8)

	explicit := types.NewQuantity(1)
	other := countLine(id.New(), 2, "1")
	other.BaselineQuantity = &explicit

	doc, err := h.svc.Create(h.ctx, h.piInput(countLine(product, 5, "2.5"), other))
	require.NoError(t, err)

	assert.Equal(t, StatusDraft, doc.Status)
	assert.Equal(t, "Pending", doc.DisplayNumber())
	assert.Equal(t, "auditor", doc.CreatedBy)
	assert.Equal(t, types.NewQuantity(8), doc.Lines[0].BaselineQuantity, "baseline comes from stock")
	assert.Equal(t, types.NewQuantity(3), doc.Lines[0].AdjustmentOut)
	assert.Equal(t, explicit, doc.Lines[1].BaselineQuantity)
	assert.True(t, doc.ExchangeRate.Decimal.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, "14.5", doc.TotalAmount.String())

	stored, err := h.svc.Get(h.ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.TotalAmount.String(), stored.TotalAmount.String())
	assert.Equal(t, []string{"create"}, h.audit.actions())
	assert.Empty(t, h.events.types())

	_, err = h.svc.Create(h.ctx, DocumentInput{Kind: "recount"})
	assert.True(t, apperror.IsValidation(err))
}

func TestServiceFullPhysicalInventoryCycle(t *testing.T) {
	h := newHarness(t)
	grow, shrink := id.New(), id.New()
	h.stock[grow] = types.NewQuantity(2)
	h.stock[shrink] = types.NewQuantity(10)

	doc, err := h.svc.Create(h.ctx, h.piInput(countLine(grow, 5, "4"), countLine(shrink, 7, "1.5")))
	require.NoError(t, err)

	doc, err = h.svc.Submit(h.ctx, doc.ID, Precondition{ExpectedStatus: StatusDraft, ExpectedVersion: doc.Version})
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, doc.Status)
	assert.Equal(t, "PI-2026-00001", doc.Number)
	assert.Equal(t, "auditor", doc.SubmittedBy)
	assert.Equal(t, fixedNow, *doc.SubmittedAt)

	doc, err = h.svc.Approve(h.ctx, doc.ID, at(StatusSubmitted), map[id.ID]types.Quantity{
		doc.Lines[0].LineID: types.NewQuantity(4),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, doc.Status)
	assert.True(t, doc.Posted)

	doc, err = h.svc.AcceptVariance(h.ctx, doc.ID, at(StatusApproved))
	require.NoError(t, err)
	assert.Equal(t, StatusVarianceAccepted, doc.Status)
	assert.Equal(t, "3.5", doc.VarianceValue.Decimal.String())

	assert.Equal(t, []string{EventSubmitted, EventApproved, EventVarianceAccepted}, h.events.types())
	approved := h.events.events[1].Payload
	require.NotNil(t, approved.Movements)
	require.Len(t, approved.Movements.Movements, 2)
	assert.Equal(t, types.NewQuantity(2), approved.Movements.Movements[0].Quantity)
	assert.Equal(t, StatusSubmitted, approved.From)
	assert.Equal(t, StatusApproved, approved.To)

	assert.Equal(t, []string{"create", "submit", "approve", "accept_variance"}, h.audit.actions())
	last := h.audit.entries[3]
	assert.Equal(t, "approved", last.Before["status"])
	assert.Equal(t, "variance_accepted", last.After["status"])

	stored, err := h.svc.Get(h.ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.Version, stored.Version)
	require.NotNil(t, stored.Lines[0].ApprovedQuantity)
	assert.Equal(t, types.NewQuantity(4), *stored.Lines[0].ApprovedQuantity)
}

func TestServicePreconditions(t *testing.T) {
	h := newHarness(t)
	doc, err := h.svc.Create(h.ctx, h.piInput(countLine(id.New(), 1, "1")))
	require.NoError(t, err)

	_, err = h.svc.Submit(h.ctx, doc.ID, Precondition{})
	assert.True(t, apperror.IsValidation(err))

	_, err = h.svc.Submit(h.ctx, doc.ID, at(StatusReturnedForCorrection))
	assert.True(t, apperror.IsConcurrentModification(err))

	_, err = h.svc.Submit(h.ctx, doc.ID, Precondition{ExpectedStatus: StatusDraft, ExpectedVersion: doc.Version + 1})
	assert.True(t, apperror.IsConcurrentModification(err))

	_, err = h.svc.Approve(h.ctx, doc.ID, at(StatusDraft), nil)
	assert.True(t, apperror.IsInvalidStateTransition(err))

	_, err = h.svc.Submit(h.ctx, id.New(), at(StatusDraft))
	assert.True(t, apperror.IsNotFound(err))

	stored, err := h.svc.Get(h.ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.Version, stored.Version)
	assert.Empty(t, h.events.types())
}

func TestServiceLockIsHeldPerDocument(t *testing.T) {
	h := newHarness(t)
	doc, err := h.svc.Create(h.ctx, h.piInput(countLine(id.New(), 1, "1")))
	require.NoError(t, err)

	unlock, err := h.locker.Lock(h.ctx, EntityName+":"+doc.ID.String())
	require.NoError(t, err)
	_, err = h.svc.Submit(h.ctx, doc.ID, at(StatusDraft))
	assert.True(t, apperror.IsConcurrentModification(err))
	unlock()

	_, err = h.svc.Submit(h.ctx, doc.ID, at(StatusDraft))
	require.NoError(t, err)
}

func TestServiceRateResolution(t *testing.T) {
	h := newHarness(t)
	in := h.piInput(countLine(id.New(), 2, "10"))
	in.CurrencyID = h.eur

	doc, err := h.svc.Create(h.ctx, in)
	require.NoError(t, err, "a missing rate never blocks editing")
	assert.False(t, doc.ExchangeRate.Valid)
	assert.False(t, doc.EquivalentTotal.Valid)
	require.NotEmpty(t, doc.Warnings)
	assert.Equal(t, WarningRateUnavailable, doc.Warnings[0].Code)

	_, err = h.svc.Submit(h.ctx, doc.ID, at(StatusDraft))
	require.True(t, apperror.IsCurrencyRateUnavailable(err))

	h.dir.setRates(ExchangeRate{FromCurrencyID: h.eur, ToCurrencyID: h.f.currency, Rate: decimal.RequireFromString("1.1")})
	preview, err := h.svc.PreviewDocument(h.ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "22", preview.EquivalentTotal.Decimal.String())

	doc, err = h.svc.Submit(h.ctx, doc.ID, at(StatusDraft))
	require.NoError(t, err)
	assert.Equal(t, "1.1", doc.ExchangeRate.Decimal.String())

	h.dir.setRates(ExchangeRate{FromCurrencyID: h.eur, ToCurrencyID: h.f.currency, Rate: decimal.RequireFromString("2")})
	frozen, err := h.svc.PreviewDocument(h.ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "1.1", frozen.ExchangeRate.Decimal.String())
	assert.Equal(t, "22", frozen.EquivalentTotal.Decimal.String())

	assert.Equal(t, int32(3), h.svc.DisplayPlaces(h.ctx, h.eur))
	assert.Equal(t, int32(2), h.svc.DisplayPlaces(h.ctx, id.New()))
}

func TestServiceFailedSubmitChangesNothing(t *testing.T) {
	h := newHarness(t)
	in := h.piInput(countLine(id.New(), 1, "1"))
	in.InReasonID = nil
	doc, err := h.svc.Create(h.ctx, in)
	require.NoError(t, err)

	_, err = h.svc.Submit(h.ctx, doc.ID, at(StatusDraft))
	require.True(t, apperror.IsValidation(err))

	stored, err := h.svc.Get(h.ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, stored.Status)
	assert.Empty(t, stored.Number)
	assert.Equal(t, doc.Version, stored.Version)
	assert.Empty(t, h.events.types())
	assert.Equal(t, []string{"create"}, h.audit.actions())
}

func TestServiceUpdate(t *testing.T) {
	h := newHarness(t)
	doc, err := h.svc.Create(h.ctx, h.piInput(countLine(id.New(), 1, "1")))
	require.NoError(t, err)

	doc, err = h.svc.Update(h.ctx, doc.ID, at(StatusDraft), h.piInput(countLine(id.New(), 3, "2"), countLine(id.New(), 1, "1")))
	require.NoError(t, err)
	assert.Len(t, doc.Lines, 2)
	assert.Equal(t, "7", doc.TotalAmount.String())

	_, err = h.svc.Submit(h.ctx, doc.ID, at(StatusDraft))
	require.NoError(t, err)

	_, err = h.svc.Update(h.ctx, doc.ID, at(StatusSubmitted), h.piInput(countLine(id.New(), 1, "1")))
	assert.True(t, apperror.IsInvalidStateTransition(err))
}

func TestServiceImportLines(t *testing.T) {
	h := newHarness(t)
	product := id.New()
	h.stock[product] = types.NewQuantity(4)

	first := countLine(product, 5, "1")
	first.SerialNumbers = []string{"SN1"}
	doc, err := h.svc.Create(h.ctx, h.piInput(first))
	require.NoError(t, err)

	fresh := id.New()
	h.stock[fresh] = types.NewQuantity(9)
	clash := countLine(id.New(), 1, "1")
	clash.SerialNumbers = []string{"SN1"}

	doc, res, err := h.svc.ImportLines(h.ctx, doc.ID, at(StatusDraft), []LineInput{
		countLine(product, 6, "1"),
		clash,
		countLine(fresh, 9, "2"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
	require.Len(t, res.Issues, 2)
	assert.Equal(t, IssueDuplicateLine, res.Issues[0].Code)
	assert.Equal(t, IssueDuplicateSerial, res.Issues[1].Code)

	require.Len(t, doc.Lines, 2)
	assert.Equal(t, types.NewQuantity(9), doc.Lines[1].BaselineQuantity)
	assert.Equal(t, types.NewQuantity(5), doc.Lines[0].TargetQuantity)
}

func TestServiceApproveChecksReasonsOfApprovedQuantities(t *testing.T) {
	h := newHarness(t)
	product := id.New()
	h.stock[product] = types.NewQuantity(10)
	in := h.piInput(countLine(product, 12, "2"))
	in.OutReasonID = nil
	doc, err := h.svc.Create(h.ctx, in)
	require.NoError(t, err)
	_, err = h.svc.Submit(h.ctx, doc.ID, at(StatusDraft))
	require.NoError(t, err)

	_, err = h.svc.Approve(h.ctx, doc.ID, at(StatusSubmitted), map[id.ID]types.Quantity{
		doc.Lines[0].LineID: types.NewQuantity(5),
	})
	require.True(t, apperror.IsValidation(err))

	stored, err := h.svc.Get(h.ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, stored.Status)
	assert.Nil(t, stored.Lines[0].ApprovedQuantity)
	assert.Equal(t, []string{EventSubmitted}, h.events.types())
}

func TestServiceReturnApprovedCount(t *testing.T) {
	h := newHarness(t)
	doc, err := h.svc.Create(h.ctx, h.piInput(countLine(id.New(), 3, "1")))
	require.NoError(t, err)
	_, err = h.svc.Submit(h.ctx, doc.ID, at(StatusDraft))
	require.NoError(t, err)
	_, err = h.svc.Approve(h.ctx, doc.ID, at(StatusSubmitted), nil)
	require.NoError(t, err)

	_, err = h.svc.ReturnForCorrection(h.ctx, doc.ID, at(StatusApproved), "")
	require.True(t, apperror.IsValidation(err))

	doc, err = h.svc.ReturnForCorrection(h.ctx, doc.ID, at(StatusApproved), "recount")
	require.NoError(t, err)
	assert.False(t, doc.Posted)
	assert.Equal(t, []string{EventSubmitted, EventApproved, EventReturned, EventApprovalReverted}, h.events.types())
	reverted := h.events.events[3].Payload
	require.NotNil(t, reverted.Movements)
	assert.Equal(t, 1, reverted.Movements.PostedVersion)

	doc, err = h.svc.Reopen(h.ctx, doc.ID, at(StatusReturnedForCorrection))
	require.NoError(t, err)
	doc, err = h.svc.Submit(h.ctx, doc.ID, at(StatusDraft))
	require.NoError(t, err)
	assert.Equal(t, "PI-2026-00001", doc.Number, "number is assigned once")
}

func TestServiceRejectAndRevise(t *testing.T) {
	h := newHarness(t)
	doc, err := h.svc.Create(h.ctx, h.piInput(countLine(id.New(), 3, "1")))
	require.NoError(t, err)
	_, err = h.svc.Submit(h.ctx, doc.ID, at(StatusDraft))
	require.NoError(t, err)

	_, err = h.svc.Reject(h.ctx, doc.ID, at(StatusSubmitted), "")
	require.True(t, apperror.IsValidation(err))

	doc, err = h.svc.Reject(h.ctx, doc.ID, at(StatusSubmitted), "duplicate count")
	require.NoError(t, err)
	assert.Equal(t, "duplicate count", h.events.events[1].Payload.Reason)

	_, err = h.svc.Reopen(h.ctx, doc.ID, at(StatusRejected))
	assert.True(t, apperror.IsInvalidStateTransition(err))

	rev, err := h.svc.Revise(h.ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, rev.Status)
	assert.Equal(t, doc.ID, *rev.RevisionOf)

	stored, err := h.svc.Get(h.ctx, rev.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Lines, 1)

	src, err := h.svc.Get(h.ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, src.Status)
}

func TestServiceDelete(t *testing.T) {
	h := newHarness(t)
	doc, err := h.svc.Create(h.ctx, h.piInput(countLine(id.New(), 3, "1")))
	require.NoError(t, err)

	require.NoError(t, h.svc.Delete(h.ctx, doc.ID, at(StatusDraft)))
	_, err = h.svc.Get(h.ctx, doc.ID)
	assert.True(t, apperror.IsNotFound(err))

	doc, err = h.svc.Create(h.ctx, h.piInput(countLine(id.New(), 3, "1")))
	require.NoError(t, err)
	_, err = h.svc.Submit(h.ctx, doc.ID, at(StatusDraft))
	require.NoError(t, err)
	assert.True(t, apperror.IsInvalidStateTransition(h.svc.Delete(h.ctx, doc.ID, at(StatusSubmitted))))
}

func TestServiceHooks(t *testing.T) {
	h := newHarness(t)
	blocked := errors.New("store is being audited")
	h.svc.Hooks().On(BeforeSubmit, func(ctx context.Context, doc *Document) error {
		return blocked
	})

	doc, err := h.svc.Create(h.ctx, h.piInput(countLine(id.New(), 3, "1")))
	require.NoError(t, err)
	_, err = h.svc.Submit(h.ctx, doc.ID, at(StatusDraft))
	assert.ErrorIs(t, err, blocked)

	h.svc.hooks = domain.NewHookRegistry[*Document]()
	var approvedID id.ID
	h.svc.Hooks().On(AfterApprove, func(ctx context.Context, doc *Document) error {
		approvedID = doc.ID
		return errors.New("ignored")
	})
	_, err = h.svc.Submit(h.ctx, doc.ID, at(StatusDraft))
	require.NoError(t, err)
	_, err = h.svc.Approve(h.ctx, doc.ID, at(StatusSubmitted), nil)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, approvedID)
}

func TestServicePreviewDoesNotPersist(t *testing.T) {
	h := newHarness(t)
	in := h.piInput(countLine(id.New(), 3, "1"), countLine(id.New(), 1, "1"))
	in.Lines[1].SerialNumbers = []string{"X"}
	in.Lines[0].SerialNumbers = []string{"X"}

	doc, err := h.svc.Preview(h.ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "4", doc.TotalAmount.String())
	require.Len(t, doc.Warnings, 1)
	assert.Equal(t, WarningDuplicateSerial, doc.Warnings[0].Code)

	list, err := h.svc.List(h.ctx, ListFilter{ListFilter: domain.DefaultListFilter()})
	require.NoError(t, err)
	assert.Empty(t, list.Items)
	assert.Empty(t, h.audit.actions())
}

func TestServiceList(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Create(h.ctx, h.piInput(countLine(id.New(), 1, "1")))
	require.NoError(t, err)
	sa := DocumentInput{
		Kind:       KindStockAdjustment,
		StoreID:    h.f.store,
		CurrencyID: h.f.currency,
		ReasonID:   &h.f.inReason.ID,
		Lines: []LineInput{{
			ProductID: id.New(), AdjustmentType: AdjustmentAdd,
			AdjustedQuantity: types.NewQuantity(1), UnitCost: types.MustMoney("1"),
		}},
	}
	_, err = h.svc.Create(h.ctx, sa)
	require.NoError(t, err)

	list, err := h.svc.List(h.ctx, ListFilter{Kind: KindStockAdjustment})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, KindStockAdjustment, list.Items[0].Kind)
	assert.Equal(t, 50, list.Limit)
}
