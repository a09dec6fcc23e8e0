package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"stockrecon/internal/core/id"
	"stockrecon/internal/domain/reconciliation"
	"stockrecon/pkg/logger"
)

// DirectoryChannel is notified by triggers on cat_currencies and
// cat_adjustment_reasons.
const DirectoryChannel = "directory_changed"

// DirectoryCache keeps currencies and adjustment reasons in memory and drops
// them when the database announces a change. Exchange rates always pass
// through so an edit sees the rate saved a moment ago.
type DirectoryCache struct {
	next reconciliation.Directory

	mu         sync.RWMutex
	defaultCur *reconciliation.Currency
	currencies map[id.ID]reconciliation.Currency
	reasons    map[id.ID]reconciliation.AdjustmentReason

	wg sync.WaitGroup
}

var _ reconciliation.Directory = (*DirectoryCache)(nil)

func NewDirectoryCache(next reconciliation.Directory) *DirectoryCache {
	c := &DirectoryCache{next: next}
	c.Invalidate()
	return c
}

// Invalidate drops every cached entry.
func (c *DirectoryCache) Invalidate() {
	c.mu.Lock()
	c.defaultCur = nil
	c.currencies = make(map[id.ID]reconciliation.Currency)
	c.reasons = make(map[id.ID]reconciliation.AdjustmentReason)
	c.mu.Unlock()
}

func (c *DirectoryCache) DefaultCurrency(ctx context.Context) (reconciliation.Currency, error) {
	c.mu.RLock()
	cur := c.defaultCur
	c.mu.RUnlock()
	if cur != nil {
		return *cur, nil
	}

	loaded, err := c.next.DefaultCurrency(ctx)
	if err != nil {
		return loaded, err
	}
	c.mu.Lock()
	c.defaultCur = &loaded
	c.currencies[loaded.ID] = loaded
	c.mu.Unlock()
	return loaded, nil
}

func (c *DirectoryCache) GetCurrency(ctx context.Context, currencyID id.ID) (reconciliation.Currency, error) {
	c.mu.RLock()
	cur, ok := c.currencies[currencyID]
	c.mu.RUnlock()
	if ok {
		return cur, nil
	}

	loaded, err := c.next.GetCurrency(ctx, currencyID)
	if err != nil {
		return loaded, err
	}
	c.mu.Lock()
	c.currencies[currencyID] = loaded
	c.mu.Unlock()
	return loaded, nil
}

func (c *DirectoryCache) ExchangeRates(ctx context.Context) ([]reconciliation.ExchangeRate, error) {
	return c.next.ExchangeRates(ctx)
}

// GetReasons serves cached reasons and loads only the missing ones.
func (c *DirectoryCache) GetReasons(ctx context.Context, ids []id.ID) (map[id.ID]reconciliation.AdjustmentReason, error) {
	out := make(map[id.ID]reconciliation.AdjustmentReason, len(ids))
	var missing []id.ID

	c.mu.RLock()
	for _, rid := range ids {
		if r, ok := c.reasons[rid]; ok {
			out[rid] = r
		} else {
			missing = append(missing, rid)
		}
	}
	c.mu.RUnlock()

	if len(missing) == 0 {
		return out, nil
	}
	loaded, err := c.next.GetReasons(ctx, missing)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	for rid, r := range loaded {
		c.reasons[rid] = r
		out[rid] = r
	}
	c.mu.Unlock()
	return out, nil
}

// Listen invalidates the cache on every DirectoryChannel notification until
// ctx is cancelled. It holds one pool connection while running.
func (c *DirectoryCache) Listen(ctx context.Context, pool *pgxpool.Pool) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for ctx.Err() == nil {
			if err := c.listenOnce(ctx, pool); err != nil && ctx.Err() == nil {
				logger.Warn(ctx, "directory listener restarting", "error", err)
				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
				}
			}
		}
	}()
}

// Wait blocks until the listener has stopped.
func (c *DirectoryCache) Wait() {
	c.wg.Wait()
}

func (c *DirectoryCache) listenOnce(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+DirectoryChannel); err != nil {
		return err
	}
	// Anything cached before LISTEN took effect may be stale.
	c.Invalidate()

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		logger.Debug(ctx, "directory changed", "table", n.Payload)
		c.Invalidate()
	}
}
