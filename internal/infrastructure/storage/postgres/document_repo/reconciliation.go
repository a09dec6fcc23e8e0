package document_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"stockrecon/internal/core/id"
	"stockrecon/internal/domain"
	"stockrecon/internal/domain/reconciliation"
	"stockrecon/internal/infrastructure/storage/postgres"
)

const (
	reconciliationsTable    = "doc_reconciliations"
	reconciliationLineTable = "doc_reconciliation_lines"
)

var lineColumns = postgres.ExtractDBColumns[reconciliation.Line]()

// ReconciliationRepo implements reconciliation.Repository.
type ReconciliationRepo struct {
	*BaseDocumentRepo[*reconciliation.Document]
}

func NewReconciliationRepo(txm *postgres.TxManager) *ReconciliationRepo {
	return &ReconciliationRepo{
		BaseDocumentRepo: NewBaseDocumentRepo[*reconciliation.Document](
			txm,
			reconciliationsTable,
			reconciliation.EntityName,
			postgres.ExtractDBColumns[reconciliation.Document](),
			func() *reconciliation.Document { return &reconciliation.Document{} },
		),
	}
}

func (r *ReconciliationRepo) GetLines(ctx context.Context, docID id.ID) ([]reconciliation.Line, error) {
	sql, args, err := r.Builder().
		Select(lineColumns...).
		From(reconciliationLineTable).
		Where(squirrel.Eq{"document_id": docID}).
		OrderBy("line_no").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	lines := make([]reconciliation.Line, 0)
	if err := pgxscan.Select(ctx, r.querier(ctx), &lines, sql, args...); err != nil {
		return nil, fmt.Errorf("get lines: %w", err)
	}
	return lines, nil
}

// SaveLines replaces every line of the document. It must run in a transaction.
func (r *ReconciliationRepo) SaveLines(ctx context.Context, docID id.ID, lines []reconciliation.Line) error {
	if _, err := r.querier(ctx).Exec(ctx,
		"DELETE FROM "+reconciliationLineTable+" WHERE document_id = $1", docID); err != nil {
		return fmt.Errorf("delete lines: %w", err)
	}
	if len(lines) == 0 {
		return nil
	}

	cols := append([]string{"document_id"}, lineColumns...)
	rows := make([][]any, len(lines))
	for i := range lines {
		rows[i] = append([]any{docID}, postgres.RowValues(lines[i], lineColumns)...)
	}
	if _, err := r.txm.CopyFrom(ctx, reconciliationLineTable, cols, rows); err != nil {
		return postgres.MapError(err, "insert lines", reconciliation.EntityName, docID)
	}
	return nil
}

func (r *ReconciliationRepo) List(ctx context.Context, filter reconciliation.ListFilter) (domain.ListResult[*reconciliation.Document], error) {
	result := domain.ListResult[*reconciliation.Document]{
		Items:  make([]*reconciliation.Document, 0),
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}

	q := r.baseSelect()
	if !filter.IncludeDeleted {
		q = q.Where(squirrel.Eq{"deletion_mark": false})
	}
	if filter.Kind != "" {
		q = q.Where(squirrel.Eq{"kind": filter.Kind})
	}
	if filter.Status != "" {
		q = q.Where(squirrel.Eq{"status": filter.Status})
	}
	if filter.StoreID != nil {
		q = q.Where(squirrel.Eq{"store_id": *filter.StoreID})
	}
	if filter.Search != "" {
		q = q.Where(squirrel.ILike{"number": "%" + filter.Search + "%"})
	}

	total, err := r.page(ctx, q, filter.OrderBy, filter.Limit, filter.Offset, &result.Items)
	if err != nil {
		return result, err
	}
	result.TotalCount = total
	return result, nil
}

var _ reconciliation.Repository = (*ReconciliationRepo)(nil)
