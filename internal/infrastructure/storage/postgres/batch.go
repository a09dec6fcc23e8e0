package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CopyFrom bulk-inserts rows with the COPY protocol. It requires an active
// transaction so a failed copy rolls back with the rest of the unit of work.
func (m *TxManager) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	t := m.Tx(ctx)
	if t == nil {
		return 0, fmt.Errorf("copy into %s requires a transaction", table)
	}
	n, err := t.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("copy into %s: %w", table, err)
	}
	return n, nil
}

// ExecBatch sends statements in one round-trip inside the active transaction.
func (m *TxManager) ExecBatch(ctx context.Context, batch *pgx.Batch) error {
	t := m.Tx(ctx)
	if t == nil {
		return fmt.Errorf("batch requires a transaction")
	}
	results := t.SendBatch(ctx, batch)
	defer results.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("batch statement %d: %w", i, err)
		}
	}
	return nil
}
