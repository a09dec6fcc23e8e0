package entity

import (
	"stockrecon/internal/core/apperror"
	"stockrecon/internal/core/id"
)

// CurrencyAware is a trait for entities that have a currency dimension.
type CurrencyAware struct {
	// CurrencyID is the currency that unit costs and totals are denominated in
	CurrencyID id.ID `db:"currency_id" json:"currencyId"`
}

// ValidateCurrency ensures a currency is set.
func (c *CurrencyAware) ValidateCurrency() error {
	if id.IsNil(c.CurrencyID) {
		return apperror.NewValidation("currency is required").
			WithDetail("field", "currencyId")
	}
	return nil
}

// GetCurrencyID returns the currency ID.
func (c *CurrencyAware) GetCurrencyID() id.ID {
	return c.CurrencyID
}
