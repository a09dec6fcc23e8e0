// Package register_repo maintains the stock register: movements recorded by
// approved reconciliations and the per-store balances derived from them.
package register_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"stockrecon/internal/core/id"
	"stockrecon/internal/core/types"
	"stockrecon/internal/domain/reconciliation"
	"stockrecon/internal/infrastructure/storage/postgres"
)

const (
	stockMovementsTable = "reg_stock_movements"
	stockBalancesTable  = "reg_stock_balances"
)

var movementColumns = []string{
	"recorder_id", "recorder_version", "line_no", "period", "record_type",
	"store_id", "product_id", "quantity", "amount", "reason_id", "batch_number", "created_at",
}

// Balance is the on-hand quantity of a product in a store.
type Balance struct {
	StoreID        id.ID          `db:"store_id"`
	ProductID      id.ID          `db:"product_id"`
	Quantity       types.Quantity `db:"quantity"`
	LastMovementAt *time.Time     `db:"last_movement_at"`
}

// StockRepo implements reconciliation.StockLookup and records postings.
type StockRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
	now     func() time.Time
}

func NewStockRepo(txm *postgres.TxManager) *StockRepo {
	return &StockRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// OnHand implements reconciliation.StockLookup.
func (r *StockRepo) OnHand(ctx context.Context, storeID id.ID, productIDs []id.ID) (map[id.ID]types.Quantity, error) {
	out := make(map[id.ID]types.Quantity, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	balances, err := r.Balances(ctx, storeID, productIDs)
	if err != nil {
		return nil, err
	}
	for _, b := range balances {
		out[b.ProductID] = b.Quantity
	}
	return out, nil
}

// Balances returns non-zero balances of a store, optionally limited to products.
func (r *StockRepo) Balances(ctx context.Context, storeID id.ID, productIDs []id.ID) ([]Balance, error) {
	q := r.builder.
		Select("store_id", "product_id", "quantity", "last_movement_at").
		From(stockBalancesTable).
		Where(squirrel.Eq{"store_id": storeID}).
		Where(squirrel.NotEq{"quantity": int64(0)})
	if len(productIDs) > 0 {
		q = q.Where(squirrel.Eq{"product_id": productIDs})
	}
	sql, args, err := q.OrderBy("product_id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	balances := make([]Balance, 0)
	if err := pgxscan.Select(ctx, r.txm.Querier(ctx), &balances, sql, args...); err != nil {
		return nil, fmt.Errorf("select balances: %w", err)
	}
	return balances, nil
}

// Apply records the movements of one posting and updates balances. A posting
// that is already recorded or already reverted is skipped, so redelivered and
// reordered events are harmless.
func (r *StockRepo) Apply(ctx context.Context, set reconciliation.MovementSet) (bool, error) {
	applied := false
	err := r.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := r.lockRecorder(ctx, set.DocumentID); err != nil {
			return err
		}
		var exists, reverted bool
		if err := r.txm.Querier(ctx).QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM reg_stock_movements WHERE recorder_id = $1 AND recorder_version = $2),
			       EXISTS (SELECT 1 FROM reg_stock_reverted_postings WHERE recorder_id = $1 AND recorder_version = $2)`,
			set.DocumentID, set.PostedVersion).Scan(&exists, &reverted); err != nil {
			return fmt.Errorf("check posting: %w", err)
		}
		if exists || reverted || len(set.Movements) == 0 {
			return nil
		}

		now := r.now()
		rows := make([][]any, 0, len(set.Movements))
		deltas := make([]delta, 0, len(set.Movements))
		for _, m := range set.Movements {
			rows = append(rows, []any{
				set.DocumentID, set.PostedVersion, m.LineNo, set.Date, string(m.Direction),
				m.StoreID, m.ProductID, m.Quantity, m.Amount, m.ReasonID, m.BatchNumber, now,
			})
			deltas = append(deltas, delta{storeID: m.StoreID, productID: m.ProductID, qty: signed(m.Direction, m.Quantity)})
		}
		if _, err := r.txm.CopyFrom(ctx, stockMovementsTable, movementColumns, rows); err != nil {
			return err
		}
		applied = true
		return r.adjustBalances(ctx, deltas, now)
	})
	return applied, err
}

// Revert removes the movements of a posting and restores balances. The
// posting is marked reverted even when it was never applied, so an approval
// delivered after its reversal moves nothing.
func (r *StockRepo) Revert(ctx context.Context, documentID id.ID, postedVersion int) (bool, error) {
	reverted := false
	err := r.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := r.lockRecorder(ctx, documentID); err != nil {
			return err
		}
		if _, err := r.txm.Querier(ctx).Exec(ctx, `
			INSERT INTO reg_stock_reverted_postings (recorder_id, recorder_version, reverted_at)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING`, documentID, postedVersion, r.now()); err != nil {
			return fmt.Errorf("mark posting reverted: %w", err)
		}
		var removed []struct {
			StoreID    id.ID                    `db:"store_id"`
			ProductID  id.ID                    `db:"product_id"`
			RecordType reconciliation.Direction `db:"record_type"`
			Quantity   types.Quantity           `db:"quantity"`
		}
		if err := pgxscan.Select(ctx, r.txm.Querier(ctx), &removed, `
			DELETE FROM reg_stock_movements
			WHERE recorder_id = $1 AND recorder_version = $2
			RETURNING store_id, product_id, record_type, quantity`, documentID, postedVersion); err != nil {
			return fmt.Errorf("delete movements: %w", err)
		}
		if len(removed) == 0 {
			return nil
		}
		deltas := make([]delta, 0, len(removed))
		for _, m := range removed {
			deltas = append(deltas, delta{storeID: m.StoreID, productID: m.ProductID, qty: -signed(m.RecordType, m.Quantity)})
		}
		reverted = true
		return r.adjustBalances(ctx, deltas, r.now())
	})
	return reverted, err
}

// lockRecorder serializes projection of one document across workers.
func (r *StockRepo) lockRecorder(ctx context.Context, documentID id.ID) error {
	if _, err := r.txm.Querier(ctx).Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, documentID.String()); err != nil {
		return fmt.Errorf("lock recorder: %w", err)
	}
	return nil
}

type delta struct {
	storeID   id.ID
	productID id.ID
	qty       types.Quantity
}

func signed(dir reconciliation.Direction, q types.Quantity) types.Quantity {
	if dir == reconciliation.DirectionExpense {
		return -q
	}
	return q
}

func (r *StockRepo) adjustBalances(ctx context.Context, deltas []delta, at time.Time) error {
	batch := &pgx.Batch{}
	for _, d := range deltas {
		batch.Queue(`
			INSERT INTO reg_stock_balances (store_id, product_id, quantity, last_movement_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)
			ON CONFLICT (store_id, product_id) DO UPDATE
			SET quantity = reg_stock_balances.quantity + EXCLUDED.quantity,
			    last_movement_at = EXCLUDED.last_movement_at,
			    updated_at = EXCLUDED.updated_at`,
			d.storeID, d.productID, d.qty, at)
	}
	return r.txm.ExecBatch(ctx, batch)
}

var _ reconciliation.StockLookup = (*StockRepo)(nil)
