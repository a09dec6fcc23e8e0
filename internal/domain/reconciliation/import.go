package reconciliation

import (
	"fmt"
	"strings"
	"time"

	"stockrecon/internal/core/apperror"
	"stockrecon/internal/core/id"
	"stockrecon/internal/core/types"
)

// LineInput is the editable part of a line, as supplied by a caller or an
// import. A nil BaselineQuantity is filled from current stock.
type LineInput struct {
	ProductID        id.ID
	BaselineQuantity *types.Quantity
	TargetQuantity   types.Quantity
	AdjustmentType   AdjustmentType
	AdjustedQuantity types.Quantity
	UnitCost         types.Money
	SerialNumbers    []string
	BatchNumber      *string
	ExpiryDate       *time.Time
}

// ToLine builds a line, using onHand when no baseline was given.
func (in LineInput) ToLine(onHand types.Quantity) Line {
	baseline := onHand
	if in.BaselineQuantity != nil {
		baseline = *in.BaselineQuantity
	}
	var batch *string
	if in.BatchNumber != nil {
		if b := strings.TrimSpace(*in.BatchNumber); b != "" {
			batch = &b
		}
	}
	return Line{
		ProductID:        in.ProductID,
		BaselineQuantity: baseline,
		TargetQuantity:   in.TargetQuantity,
		AdjustmentType:   in.AdjustmentType,
		AdjustedQuantity: in.AdjustedQuantity,
		UnitCost:         in.UnitCost,
		SerialNumbers:    normalizeSerials(in.SerialNumbers),
		BatchNumber:      batch,
		ExpiryDate:       in.ExpiryDate,
	}
}

// Import issue codes.
const (
	IssueInvalidLine     = "INVALID_LINE"
	IssueDuplicateLine   = "DUPLICATE_LINE"
	IssueDuplicateSerial = "DUPLICATE_SERIAL"
)

// ImportIssue explains why a candidate was not merged. Row is 1-based.
type ImportIssue struct {
	Row       int    `json:"row"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	ProductID id.ID  `json:"productId"`
	Serial    string `json:"serial,omitempty"`
}

// ImportResult summarizes a bulk import.
type ImportResult struct {
	Added  int           `json:"added"`
	Issues []ImportIssue `json:"issues"`
}

type lineKey struct {
	product id.ID
	batch   string
}

func keyOf(l *Line) lineKey {
	k := lineKey{product: l.ProductID}
	if l.BatchNumber != nil {
		k.batch = *l.BatchNumber
	}
	return k
}

// MergeCandidates appends candidate lines that pass validation. A candidate
// for a product and batch already on the document, or carrying a serial
// already in use, is reported as an issue and left out. Existing lines are
// never modified.
func (d *Document) MergeCandidates(candidates []Line) (ImportResult, error) {
	if err := d.CheckEditable(); err != nil {
		return ImportResult{}, err
	}
	s := d.strategy()
	res := ImportResult{Issues: make([]ImportIssue, 0)}

	keys := make(map[lineKey]int, len(d.Lines))
	serials := make(map[string]int)
	for i := range d.Lines {
		keys[keyOf(&d.Lines[i])] = d.Lines[i].LineNo
		for _, sn := range d.Lines[i].SerialNumbers {
			if sn = strings.TrimSpace(sn); sn != "" {
				serials[sn] = d.Lines[i].LineNo
			}
		}
	}

	for i := range candidates {
		c := candidates[i]
		row := i + 1
		c.LineNo = row
		c.SerialNumbers = normalizeSerials(c.SerialNumbers)
		c.ApprovedQuantity = nil

		if err := s.ValidateLine(&c); err != nil {
			msg := err.Error()
			if appErr, ok := apperror.AsAppError(err); ok {
				msg = appErr.Message
			}
			res.Issues = append(res.Issues, ImportIssue{Row: row, Code: IssueInvalidLine, Message: msg, ProductID: c.ProductID})
			continue
		}
		if lineNo, dup := keys[keyOf(&c)]; dup {
			res.Issues = append(res.Issues, ImportIssue{
				Row: row, Code: IssueDuplicateLine, ProductID: c.ProductID,
				Message: fmt.Sprintf("product already present on line %d", lineNo),
			})
			continue
		}
		if issue, clash := serialClash(c, row, serials); clash {
			res.Issues = append(res.Issues, issue)
			continue
		}

		c.LineID = id.Nil()
		d.Lines = append(d.Lines, c)
		lineNo := len(d.Lines)
		keys[keyOf(&c)] = lineNo
		for _, sn := range c.SerialNumbers {
			serials[sn] = lineNo
		}
		res.Added++
	}

	d.renumber()
	d.Recalculate()
	return res, nil
}

func serialClash(c Line, row int, used map[string]int) (ImportIssue, bool) {
	local := make(map[string]struct{}, len(c.SerialNumbers))
	for _, sn := range c.SerialNumbers {
		if lineNo, ok := used[sn]; ok {
			return ImportIssue{
				Row: row, Code: IssueDuplicateSerial, ProductID: c.ProductID, Serial: sn,
				Message: fmt.Sprintf("serial %q already used on line %d", sn, lineNo),
			}, true
		}
		if _, ok := local[sn]; ok {
			return ImportIssue{
				Row: row, Code: IssueDuplicateSerial, ProductID: c.ProductID, Serial: sn,
				Message: fmt.Sprintf("serial %q repeated within the row", sn),
			}, true
		}
		local[sn] = struct{}{}
	}
	return ImportIssue{}, false
}
