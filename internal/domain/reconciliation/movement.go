package reconciliation

import (
	"time"

	"github.com/shopspring/decimal"

	"stockrecon/internal/core/id"
	"stockrecon/internal/core/types"
)

// Direction of a stock movement.
type Direction string

const (
	DirectionReceipt Direction = "receipt"
	DirectionExpense Direction = "expense"
)

// Movement is one stock register entry produced by an approved document.
// Amount values the moved quantity, not the line total.
type Movement struct {
	LineNo           int                 `json:"lineNo"`
	Direction        Direction           `json:"direction"`
	StoreID          id.ID               `json:"storeId"`
	ProductID        id.ID               `json:"productId"`
	Quantity         types.Quantity      `json:"quantity"`
	Amount           types.Money         `json:"amount"`
	EquivalentAmount decimal.NullDecimal `json:"equivalentAmount"`
	ReasonID         *id.ID              `json:"reasonId,omitempty"`
	BatchNumber      *string             `json:"batchNumber,omitempty"`
	SerialNumbers    []string            `json:"serialNumbers,omitempty"`
	ExpiryDate       *time.Time          `json:"expiryDate,omitempty"`
}

// MovementSet is consumed by the external stock and ledger modules.
// PostedVersion lets consumers drop movements of a reverted posting.
type MovementSet struct {
	DocumentID      id.ID               `json:"documentId"`
	Number          string              `json:"number"`
	Kind            Kind                `json:"kind"`
	Date            time.Time           `json:"date"`
	CurrencyID      id.ID               `json:"currencyId"`
	ExchangeRate    decimal.NullDecimal `json:"exchangeRate"`
	PostedVersion   int                 `json:"postedVersion"`
	Movements       []Movement          `json:"movements"`
	TotalAmount     types.Money         `json:"totalAmount"`
	EquivalentTotal decimal.NullDecimal `json:"equivalentTotal"`
}

// Movements lists the receipts and expenses implied by the lines.
// Lines without a delta produce nothing.
func (d *Document) Movements() MovementSet {
	set := MovementSet{
		DocumentID:      d.ID,
		Number:          d.Number,
		Kind:            d.Kind,
		Date:            d.Date,
		CurrencyID:      d.CurrencyID,
		ExchangeRate:    d.ExchangeRate,
		PostedVersion:   d.PostedVersion,
		Movements:       make([]Movement, 0, len(d.Lines)),
		TotalAmount:     d.TotalAmount,
		EquivalentTotal: d.EquivalentTotal,
	}
	for i := range d.Lines {
		l := &d.Lines[i]
		m := Movement{
			LineNo:        l.LineNo,
			StoreID:       d.StoreID,
			ProductID:     l.ProductID,
			BatchNumber:   l.BatchNumber,
			SerialNumbers: l.SerialNumbers,
			ExpiryDate:    l.ExpiryDate,
		}
		switch {
		case l.AdjustmentIn.IsPositive():
			m.Direction = DirectionReceipt
			m.Quantity = l.AdjustmentIn
			m.ReasonID = d.reasonFor(DirectionReceipt)
		case l.AdjustmentOut.IsPositive():
			m.Direction = DirectionExpense
			m.Quantity = l.AdjustmentOut
			m.ReasonID = d.reasonFor(DirectionExpense)
		default:
			continue
		}
		v := ValueLine(m.Quantity, l.UnitCost, d.ExchangeRate)
		m.Amount = v.LineTotal
		m.EquivalentAmount = v.EquivalentLineTotal
		set.Movements = append(set.Movements, m)
	}
	return set
}

func (d *Document) reasonFor(dir Direction) *id.ID {
	if d.Kind == KindStockAdjustment {
		return d.ReasonID
	}
	if dir == DirectionReceipt {
		return d.InReasonID
	}
	return d.OutReasonID
}
