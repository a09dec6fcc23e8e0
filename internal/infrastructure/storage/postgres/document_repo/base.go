// Package document_repo provides PostgreSQL implementations of document repositories.
package document_repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"stockrecon/internal/core/apperror"
	"stockrecon/internal/core/id"
	"stockrecon/internal/infrastructure/storage/postgres"
)

// immutable columns are written on insert only; version and updated_at are
// maintained by Update itself.
var immutable = map[string]struct{}{
	"id": {}, "created_at": {}, "created_by": {}, "version": {}, "updated_at": {},
}

// BaseDocumentRepo provides header CRUD with optimistic locking.
type BaseDocumentRepo[T any] struct {
	txm        *postgres.TxManager
	tableName  string
	entityName string
	selectCols []string
	newFn      func() T
}

func NewBaseDocumentRepo[T any](txm *postgres.TxManager, tableName, entityName string, selectCols []string, newFn func() T) *BaseDocumentRepo[T] {
	return &BaseDocumentRepo[T]{
		txm:        txm,
		tableName:  tableName,
		entityName: entityName,
		selectCols: selectCols,
		newFn:      newFn,
	}
}

// Builder returns a squirrel builder with $n placeholders.
func (r *BaseDocumentRepo[T]) Builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

func (r *BaseDocumentRepo[T]) querier(ctx context.Context) postgres.Querier {
	return r.txm.Querier(ctx)
}

func (r *BaseDocumentRepo[T]) columns(entity T) (map[string]any, error) {
	data := postgres.StructToMap(entity)
	if len(data) == 0 {
		return nil, fmt.Errorf("%s: no db columns", r.entityName)
	}
	out := make(map[string]any, len(r.selectCols))
	for _, col := range r.selectCols {
		if val, ok := data[col]; ok {
			out[col] = val
		}
	}
	return out, nil
}

// Create inserts a header row.
func (r *BaseDocumentRepo[T]) Create(ctx context.Context, entity T) error {
	data, err := r.columns(entity)
	if err != nil {
		return err
	}
	sql, args, err := r.Builder().Insert(r.tableName).SetMap(data).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.querier(ctx).Exec(ctx, sql, args...); err != nil {
		return postgres.MapError(err, "insert "+r.tableName, r.entityName, data["id"])
	}
	return nil
}

// Update writes the header when the stored version still equals the entity's.
func (r *BaseDocumentRepo[T]) Update(ctx context.Context, entity T) error {
	data, err := r.columns(entity)
	if err != nil {
		return err
	}
	entityID := data["id"]
	version, ok := data["version"].(int)
	if !ok {
		return fmt.Errorf("%s: version column is not an int", r.entityName)
	}
	for col := range immutable {
		delete(data, col)
	}

	sql, args, err := r.Builder().
		Update(r.tableName).
		SetMap(data).
		Set("version", squirrel.Expr("version + 1")).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"id": entityID, "version": version}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := r.querier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return postgres.MapError(err, "update "+r.tableName, r.entityName, entityID)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewConcurrentModification(r.entityName, entityID)
	}
	return nil
}

// Delete sets the deletion mark.
func (r *BaseDocumentRepo[T]) Delete(ctx context.Context, entityID id.ID) error {
	sql, args, err := r.Builder().
		Update(r.tableName).
		Set("deletion_mark", true).
		Set("updated_at", squirrel.Expr("NOW()")).
		Set("version", squirrel.Expr("version + 1")).
		Where(squirrel.Eq{"id": entityID, "deletion_mark": false}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	tag, err := r.querier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return postgres.MapError(err, "delete "+r.tableName, r.entityName, entityID)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound(r.entityName, entityID)
	}
	return nil
}

func (r *BaseDocumentRepo[T]) baseSelect() squirrel.SelectBuilder {
	return r.Builder().Select(r.selectCols...).From(r.tableName)
}

func (r *BaseDocumentRepo[T]) get(ctx context.Context, entityID id.ID, suffix string) (T, error) {
	entity := r.newFn()
	q := r.baseSelect().Where(squirrel.Eq{"id": entityID, "deletion_mark": false})
	if suffix != "" {
		q = q.Suffix(suffix)
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return entity, fmt.Errorf("build query: %w", err)
	}
	if err := pgxscan.Get(ctx, r.querier(ctx), entity, sql, args...); err != nil {
		return entity, postgres.MapError(err, "get "+r.tableName, r.entityName, entityID)
	}
	return entity, nil
}

// GetByID loads a live header.
func (r *BaseDocumentRepo[T]) GetByID(ctx context.Context, entityID id.ID) (T, error) {
	return r.get(ctx, entityID, "")
}

// GetForUpdate loads a live header and locks its row until the transaction ends.
func (r *BaseDocumentRepo[T]) GetForUpdate(ctx context.Context, entityID id.ID) (T, error) {
	if r.txm.Tx(ctx) == nil {
		return r.newFn(), fmt.Errorf("get %s for update requires a transaction", r.tableName)
	}
	return r.get(ctx, entityID, "FOR UPDATE")
}

// page counts q, then applies ordering and paging and scans into items.
func (r *BaseDocumentRepo[T]) page(ctx context.Context, q squirrel.SelectBuilder, orderBy string, limit, offset int, items *[]T) (int64, error) {
	countSQL, countArgs, err := r.Builder().Select("COUNT(*)").FromSelect(q, "sub").ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}
	var total int64
	if err := r.querier(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count %s: %w", r.tableName, err)
	}

	order, err := r.parseOrderBy(orderBy)
	if err != nil {
		return 0, err
	}
	q = q.OrderBy(order, "id")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	if offset > 0 {
		q = q.Offset(uint64(offset))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	if err := pgxscan.Select(ctx, r.querier(ctx), items, sql, args...); err != nil {
		return 0, fmt.Errorf("list %s: %w", r.tableName, err)
	}
	return total, nil
}

// parseOrderBy accepts "col", "+col" or "-col" for known columns only.
func (r *BaseDocumentRepo[T]) parseOrderBy(orderBy string) (string, error) {
	orderBy = strings.TrimSpace(orderBy)
	if orderBy == "" {
		return "date DESC", nil
	}

	direction := "ASC"
	field := orderBy
	switch {
	case strings.HasPrefix(orderBy, "-"):
		direction = "DESC"
		field = orderBy[1:]
	case strings.HasPrefix(orderBy, "+"):
		field = orderBy[1:]
	}
	field = strings.TrimSpace(field)

	for _, col := range r.selectCols {
		if col == field {
			return field + " " + direction, nil
		}
	}
	return "", apperror.NewValidation("invalid orderBy").WithDetail("orderBy", orderBy)
}
