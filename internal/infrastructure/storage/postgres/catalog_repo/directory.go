// Package catalog_repo reads currency and adjustment reason reference data.
package catalog_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"stockrecon/internal/core/apperror"
	"stockrecon/internal/core/id"
	"stockrecon/internal/domain/reconciliation"
	"stockrecon/internal/infrastructure/storage/postgres"
)

const (
	currencyTable      = "cat_currencies"
	exchangeRateTable  = "cat_exchange_rates"
	adjustmentReasonTb = "cat_adjustment_reasons"
)

var (
	currencyColumns = postgres.ExtractDBColumns[reconciliation.Currency]()
	reasonColumns   = postgres.ExtractDBColumns[reconciliation.AdjustmentReason]()
)

// DirectoryRepo implements reconciliation.Directory. Exchange rates are read
// on every call so a rate saved a moment ago is used by the next edit.
type DirectoryRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

func NewDirectoryRepo(txm *postgres.TxManager) *DirectoryRepo {
	return &DirectoryRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (r *DirectoryRepo) currencySelect() squirrel.SelectBuilder {
	return r.builder.Select(currencyColumns...).
		From(currencyTable).
		Where(squirrel.Eq{"deletion_mark": false})
}

func (r *DirectoryRepo) DefaultCurrency(ctx context.Context) (reconciliation.Currency, error) {
	var c reconciliation.Currency
	sql, args, err := r.currencySelect().Where(squirrel.Eq{"is_default": true}).Limit(1).ToSql()
	if err != nil {
		return c, fmt.Errorf("build query: %w", err)
	}
	if err := pgxscan.Get(ctx, r.txm.Querier(ctx), &c, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return c, apperror.NewBusinessRule("DEFAULT_CURRENCY_MISSING", "no default currency is configured")
		}
		return c, fmt.Errorf("get default currency: %w", err)
	}
	return c, nil
}

func (r *DirectoryRepo) GetCurrency(ctx context.Context, currencyID id.ID) (reconciliation.Currency, error) {
	var c reconciliation.Currency
	sql, args, err := r.currencySelect().Where(squirrel.Eq{"id": currencyID}).ToSql()
	if err != nil {
		return c, fmt.Errorf("build query: %w", err)
	}
	if err := pgxscan.Get(ctx, r.txm.Querier(ctx), &c, sql, args...); err != nil {
		return c, postgres.MapError(err, "get currency", "currency", currencyID)
	}
	return c, nil
}

func (r *DirectoryRepo) ExchangeRates(ctx context.Context) ([]reconciliation.ExchangeRate, error) {
	sql, args, err := r.builder.
		Select("from_currency_id", "to_currency_id", "rate").
		From(exchangeRateTable).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rates := make([]reconciliation.ExchangeRate, 0)
	if err := pgxscan.Select(ctx, r.txm.Querier(ctx), &rates, sql, args...); err != nil {
		return nil, fmt.Errorf("select exchange rates: %w", err)
	}
	return rates, nil
}

// GetReasons returns the requested reasons keyed by id. Unknown ids are
// omitted; callers decide whether a missing reason is an error.
func (r *DirectoryRepo) GetReasons(ctx context.Context, ids []id.ID) (map[id.ID]reconciliation.AdjustmentReason, error) {
	out := make(map[id.ID]reconciliation.AdjustmentReason, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	sql, args, err := r.builder.
		Select(reasonColumns...).
		From(adjustmentReasonTb).
		Where(squirrel.Eq{"id": ids, "deletion_mark": false}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var reasons []reconciliation.AdjustmentReason
	if err := pgxscan.Select(ctx, r.txm.Querier(ctx), &reasons, sql, args...); err != nil {
		return nil, fmt.Errorf("select adjustment reasons: %w", err)
	}
	for _, reason := range reasons {
		out[reason.ID] = reason
	}
	return out, nil
}

// ListReasons returns every live reason, for pickers.
func (r *DirectoryRepo) ListReasons(ctx context.Context) ([]reconciliation.AdjustmentReason, error) {
	sql, args, err := r.builder.
		Select(reasonColumns...).
		From(adjustmentReasonTb).
		Where(squirrel.Eq{"deletion_mark": false}).
		OrderBy("name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	reasons := make([]reconciliation.AdjustmentReason, 0)
	if err := pgxscan.Select(ctx, r.txm.Querier(ctx), &reasons, sql, args...); err != nil {
		return nil, fmt.Errorf("select adjustment reasons: %w", err)
	}
	return reasons, nil
}

var _ reconciliation.Directory = (*DirectoryRepo)(nil)
