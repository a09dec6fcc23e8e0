package entity

import (
	"context"
	"time"

	"stockrecon/internal/core/apperror"
)

// PendingNumber is shown in place of a reference number that has not been assigned yet.
const PendingNumber = "Pending"

// Document is the base type for business transactions.
type Document struct {
	BaseDocument

	// Number is assigned once, on first submission. Empty while in draft.
	Number string `db:"number" json:"number"`

	// Date is the business date of the document
	Date time.Time `db:"date" json:"date"`

	// Posted indicates the document's movements have been released to stock.
	Posted bool `db:"posted" json:"posted"`

	// PostedVersion counts posting iterations so consumers can reconcile reversals.
	PostedVersion int `db:"posted_version" json:"postedVersion"`

	Comment string `db:"comment" json:"comment,omitempty"`
}

// NewDocument creates a new Document dated today.
func NewDocument() Document {
	return Document{
		BaseDocument: NewBaseDocument(),
		Date:         time.Now().UTC(),
	}
}

// Validate implements Validatable.
func (d *Document) Validate(ctx context.Context) error {
	if d.Date.IsZero() {
		return apperror.NewValidation("date is required").
			WithDetail("field", "date")
	}
	return nil
}

// DisplayNumber returns the reference number or the pending placeholder.
func (d *Document) DisplayNumber() string {
	if d.Number == "" {
		return PendingNumber
	}
	return d.Number
}

// HasNumber reports whether a reference number was assigned.
func (d *Document) HasNumber() bool {
	return d.Number != ""
}

// MarkPosted sets the posted flag and bumps the posting iteration.
func (d *Document) MarkPosted() {
	d.Posted = true
	d.PostedVersion++
}

// MarkUnposted clears the posted flag.
func (d *Document) MarkUnposted() {
	d.Posted = false
}
