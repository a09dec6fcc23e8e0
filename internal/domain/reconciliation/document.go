package reconciliation

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"stockrecon/internal/core/apperror"
	"stockrecon/internal/core/id"
	"stockrecon/internal/core/types"
)

// Actor identifies who performs a transition and when.
type Actor struct {
	UserID string
	At     time.Time
}

func (d *Document) strategy() Strategy {
	s, err := StrategyFor(d.Kind)
	if err != nil {
		// Kind is validated on creation and by the storage constraint.
		panic(err)
	}
	return s
}

// Workflow returns the transition table for the document's kind.
func (d *Document) Workflow() Workflow {
	return d.strategy().Workflow()
}

// ApplyRate replaces the exchange rate while the document is editable.
// Once submitted the rate is frozen and ApplyRate does nothing.
func (d *Document) ApplyRate(defaultCurrencyID id.ID, rate decimal.NullDecimal) {
	if !d.IsEditable() {
		return
	}
	d.DefaultCurrencyID = defaultCurrencyID
	d.ExchangeRate = rate
}

// Recalculate re-derives every line and the document totals from the line
// inputs and the current exchange rate, and refreshes Warnings.
// It has no hidden state: calling it twice yields identical results.
func (d *Document) Recalculate() []Warning {
	s := d.strategy()
	warnings := make([]Warning, 0)

	if !d.ExchangeRate.Valid {
		warnings = append(warnings, Warning{
			Code:    WarningRateUnavailable,
			Message: "exchange rate to the default currency is not available",
		})
	}

	vals := make([]Valuation, len(d.Lines))
	for i := range d.Lines {
		line := &d.Lines[i]
		warnings = append(warnings, s.RecomputeLine(line, d.ExchangeRate)...)
		vals[i] = Valuation{LineTotal: line.LineTotal, EquivalentLineTotal: line.EquivalentLineTotal}
	}

	for _, c := range FindSerialConflicts(d.Serials()) {
		warnings = append(warnings, Warning{
			Code:    WarningDuplicateSerial,
			Message: fmt.Sprintf("serial %q already used on line %d", c.Serial, c.FirstLineIndex+1),
			Line:    c.LineIndex + 1,
			Serial:  c.Serial,
		})
	}

	totals := Aggregate(vals...)
	d.TotalAmount = totals.Total
	d.EquivalentTotal = totals.EquivalentTotal
	d.Warnings = warnings
	return warnings
}

// SetLines replaces the lines, normalizes serials and validates values that
// can be rejected immediately. The document must be editable.
func (d *Document) SetLines(lines []Line) error {
	if _, err := d.Workflow().Transition(d.Status, ActionEdit); err != nil {
		return err
	}
	s := d.strategy()
	for i := range lines {
		lines[i].LineNo = i + 1
		lines[i].SerialNumbers = normalizeSerials(lines[i].SerialNumbers)
		lines[i].ApprovedQuantity = nil
		if err := s.ValidateLine(&lines[i]); err != nil {
			return err
		}
	}
	d.Lines = lines
	d.renumber()
	return nil
}

// CheckEditable fails with InvalidStateTransition unless edits are allowed.
func (d *Document) CheckEditable() error {
	_, err := d.Workflow().Transition(d.Status, ActionEdit)
	return err
}

// Submit validates the document authoritatively and moves it to submitted.
// On failure the document is left unchanged.
func (d *Document) Submit(by Actor, reasons map[id.ID]AdjustmentReason) error {
	next, err := d.Workflow().Transition(d.Status, ActionSubmit)
	if err != nil {
		return err
	}
	if err := d.validateForSubmit(reasons); err != nil {
		return err
	}
	d.Status = next
	d.SubmittedAt = &by.At
	d.SubmittedBy = by.UserID
	return nil
}

func (d *Document) validateForSubmit(reasons map[id.ID]AdjustmentReason) error {
	if len(d.Lines) == 0 {
		return apperror.NewValidation("at least one line is required").WithDetail("field", "lines")
	}
	if id.IsNil(d.StoreID) {
		return apperror.NewValidation("store is required").WithDetail("field", "storeId")
	}
	if err := d.ValidateCurrency(); err != nil {
		return err
	}
	if d.Date.IsZero() {
		return apperror.NewValidation("date is required").WithDetail("field", "date")
	}

	s := d.strategy()
	for i := range d.Lines {
		if err := s.ValidateLine(&d.Lines[i]); err != nil {
			return err
		}
	}
	if conflicts := FindSerialConflicts(d.Serials()); len(conflicts) > 0 {
		c := conflicts[0]
		return apperror.NewDuplicateSerial(c.Serial, c.LineIndex+1, c.FirstLineIndex+1)
	}

	d.Recalculate()
	if !d.ExchangeRate.Valid {
		return apperror.NewCurrencyRateUnavailable(d.CurrencyID, d.DefaultCurrencyID)
	}
	return s.ValidateForSubmit(d, reasons)
}

// Approve moves a submitted document to approved. overrides maps line ids
// to approved quantities; each must lie between zero and the requested quantity.
// An override can change a line's direction, so reasons are checked again
// against the approved values. On failure the document is left unchanged.
func (d *Document) Approve(by Actor, overrides map[id.ID]types.Quantity, reasons map[id.ID]AdjustmentReason) error {
	next, err := d.Workflow().Transition(d.Status, ActionApprove)
	if err != nil {
		return err
	}
	for lineID, qty := range overrides {
		idx := d.LineByID(lineID)
		if idx < 0 {
			return apperror.NewValidation("approved quantity refers to an unknown line").
				WithDetail("field", "approvedQuantities").
				WithDetail("lineId", lineID)
		}
		if err := approvedWithinRequest(&d.Lines[idx], d.Kind, qty); err != nil {
			return err
		}
	}

	previous := make([]*types.Quantity, len(d.Lines))
	for i := range d.Lines {
		previous[i] = d.Lines[i].ApprovedQuantity
	}
	for lineID, qty := range overrides {
		q := qty
		d.Lines[d.LineByID(lineID)].ApprovedQuantity = &q
	}
	d.Recalculate()
	if err := d.strategy().ValidateReasons(d, reasons); err != nil {
		for i := range d.Lines {
			d.Lines[i].ApprovedQuantity = previous[i]
		}
		d.Recalculate()
		return err
	}

	d.Status = next
	d.ApprovedAt = &by.At
	d.ApprovedBy = by.UserID
	d.MarkPosted()
	return nil
}

func requireReason(reason, field string) (string, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "", apperror.NewValidation(field+" is required").WithDetail("field", field)
	}
	return reason, nil
}

// Reject moves a submitted document to the terminal rejected state.
func (d *Document) Reject(by Actor, reason string) error {
	reason, err := requireReason(reason, "reason")
	if err != nil {
		return err
	}
	next, err := d.Workflow().Transition(d.Status, ActionReject)
	if err != nil {
		return err
	}
	d.Status = next
	d.RejectedAt = &by.At
	d.RejectedBy = by.UserID
	d.RejectionReason = reason
	return nil
}

// ReturnForCorrection sends the document back for editing. It reports
// whether an approved posting was reverted.
func (d *Document) ReturnForCorrection(by Actor, reason string) (bool, error) {
	reason, err := requireReason(reason, "reason")
	if err != nil {
		return false, err
	}
	next, err := d.Workflow().Transition(d.Status, ActionReturnForCorrection)
	if err != nil {
		return false, err
	}
	reverted := d.Status == StatusApproved
	if reverted {
		d.MarkUnposted()
		d.ApprovedAt = nil
		d.ApprovedBy = ""
	}
	d.Status = next
	d.ReturnedAt = &by.At
	d.ReturnedBy = by.UserID
	d.ReturnReason = reason
	return reverted, nil
}

// Reopen moves a returned document back to draft. Approved quantities are
// cleared so the lines are valued as requested again.
func (d *Document) Reopen(by Actor) error {
	next, err := d.Workflow().Transition(d.Status, ActionReopen)
	if err != nil {
		return err
	}
	for i := range d.Lines {
		d.Lines[i].ApprovedQuantity = nil
	}
	d.Status = next
	d.Stamp(by.UserID)
	d.Recalculate()
	return nil
}

// Variance is the net value of the movements: receipts minus expenses.
func (d *Document) Variance() (types.Money, decimal.NullDecimal) {
	net := decimal.Zero
	for i := range d.Lines {
		l := &d.Lines[i]
		net = net.Add(l.AdjustmentIn.Decimal().Mul(l.UnitCost)).
			Sub(l.AdjustmentOut.Decimal().Mul(l.UnitCost))
	}
	return net, Convert(net, d.ExchangeRate)
}

// AcceptVariance records the net value of an approved count and closes it.
func (d *Document) AcceptVariance(by Actor) error {
	next, err := d.Workflow().Transition(d.Status, ActionAcceptVariance)
	if err != nil {
		return err
	}
	d.Recalculate()
	value, equivalent := d.Variance()
	d.VarianceValue = decimal.NewNullDecimal(value)
	d.VarianceEquivalentValue = equivalent
	d.Status = next
	d.VarianceAcceptedAt = &by.At
	d.VarianceAcceptedBy = by.UserID
	return nil
}

// Revise creates a new draft from a rejected document. The source is unchanged.
func (d *Document) Revise(by Actor) (*Document, error) {
	if _, err := d.Workflow().Transition(d.Status, ActionRevise); err != nil {
		return nil, err
	}
	rev := NewDocument(d.Kind)
	rev.Date = by.At
	rev.Comment = d.Comment
	rev.CurrencyID = d.CurrencyID
	rev.StoreID = d.StoreID
	rev.InReasonID = d.InReasonID
	rev.OutReasonID = d.OutReasonID
	rev.ReasonID = d.ReasonID
	rev.ExchangeRate = d.ExchangeRate
	rev.DefaultCurrencyID = d.DefaultCurrencyID
	rev.Revision = d.Revision + 1
	srcID := d.ID
	if d.RevisionOf != nil {
		srcID = *d.RevisionOf
	}
	rev.RevisionOf = &srcID
	rev.Stamp(by.UserID)

	rev.Lines = make([]Line, len(d.Lines))
	for i, l := range d.Lines {
		l.LineID = id.Nil()
		l.ApprovedQuantity = nil
		l.SerialNumbers = append([]string(nil), l.SerialNumbers...)
		rev.Lines[i] = l
	}
	rev.renumber()
	rev.Recalculate()
	return rev, nil
}

// CheckDeletable fails unless the document is a draft.
func (d *Document) CheckDeletable() error {
	_, err := d.Workflow().Transition(d.Status, ActionDelete)
	return err
}
