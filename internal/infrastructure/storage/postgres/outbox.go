package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"stockrecon/internal/core/id"
	"stockrecon/internal/domain/reconciliation"
	"stockrecon/pkg/logger"
)

// OutboxStatus is the delivery state of an outbox message.
type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxPublished OutboxStatus = "published"
	OutboxFailed    OutboxStatus = "failed"
)

// OutboxMessage is a row of sys_outbox.
type OutboxMessage struct {
	ID            id.ID        `db:"id"`
	AggregateType string       `db:"aggregate_type"`
	AggregateID   id.ID        `db:"aggregate_id"`
	EventType     string       `db:"event_type"`
	Payload       []byte       `db:"payload"`
	Status        OutboxStatus `db:"status"`
	RetryCount    int          `db:"retry_count"`
	LastError     *string      `db:"last_error"`
	NextRetryAt   *time.Time   `db:"next_retry_at"`
	CreatedAt     time.Time    `db:"created_at"`
	PublishedAt   *time.Time   `db:"published_at"`
}

// DomainEvent is an event queued for delivery.
type DomainEvent struct {
	AggregateType string
	AggregateID   id.ID
	EventType     string
	Payload       any
}

const insertOutbox = `
	INSERT INTO sys_outbox (id, aggregate_type, aggregate_id, event_type, payload, status, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

var _ reconciliation.EventPublisher = (*OutboxPublisher)(nil)

// OutboxPublisher writes events into sys_outbox in the caller's transaction,
// so an event exists if and only if the state change that raised it committed.
type OutboxPublisher struct {
	txm *TxManager
	now func() time.Time
}

func NewOutboxPublisher(txm *TxManager) *OutboxPublisher {
	return &OutboxPublisher{txm: txm, now: func() time.Time { return time.Now().UTC() }}
}

// Publish implements reconciliation.EventPublisher.
func (p *OutboxPublisher) Publish(ctx context.Context, event reconciliation.Event) error {
	return p.Enqueue(ctx, DomainEvent{
		AggregateType: reconciliation.EntityName,
		AggregateID:   event.AggregateID,
		EventType:     event.Type,
		Payload:       event.Payload,
	})
}

// Enqueue writes one event. It must run inside a transaction.
func (p *OutboxPublisher) Enqueue(ctx context.Context, event DomainEvent) error {
	t := p.txm.Tx(ctx)
	if t == nil {
		return fmt.Errorf("outbox publish requires a transaction")
	}
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event.EventType, err)
	}
	if _, err := t.Exec(ctx, insertOutbox,
		id.New(), event.AggregateType, event.AggregateID, event.EventType, payload, OutboxPending, p.now()); err != nil {
		return fmt.Errorf("insert outbox message: %w", err)
	}
	return nil
}

// EnqueueBatch writes several events in one round-trip.
func (p *OutboxPublisher) EnqueueBatch(ctx context.Context, events []DomainEvent) error {
	batch := &pgx.Batch{}
	now := p.now()
	for _, event := range events {
		payload, err := json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", event.EventType, err)
		}
		batch.Queue(insertOutbox,
			id.New(), event.AggregateType, event.AggregateID, event.EventType, payload, OutboxPending, now)
	}
	return p.txm.ExecBatch(ctx, batch)
}

// OutboxHandler delivers one message. A returned error schedules a retry.
type OutboxHandler interface {
	Handle(ctx context.Context, msg *OutboxMessage) error
}

// OutboxHandlerFunc adapts a function to OutboxHandler.
type OutboxHandlerFunc func(ctx context.Context, msg *OutboxMessage) error

func (f OutboxHandlerFunc) Handle(ctx context.Context, msg *OutboxMessage) error { return f(ctx, msg) }

// RelayConfig tunes the outbox relay.
type RelayConfig struct {
	BatchSize  int
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{BatchSize: 100, MaxRetries: 5, BaseDelay: 10 * time.Second, MaxDelay: 30 * time.Minute}
}

// transactor runs a function inside a transaction. *TxManager satisfies it.
type transactor interface {
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	RunWithOptions(ctx context.Context, opts TxOptions, fn func(ctx context.Context) error) error
}

var _ transactor = (*TxManager)(nil)

// outboxStore is the sys_outbox bookkeeping the relay needs. Every call runs
// in the transaction carried by ctx.
type outboxStore interface {
	claim(ctx context.Context, limit int) ([]*OutboxMessage, error)
	markPublished(ctx context.Context, msgID id.ID) error
	markRetry(ctx context.Context, msg *OutboxMessage, nextRetryAt time.Time) error
	moveFailed(ctx context.Context) (int64, error)
}

// OutboxRelay claims pending messages and hands them to a handler. Claims
// hold row locks until the batch transaction commits, so several relays can
// run side by side without delivering a message twice.
//
// Each message is handled behind its own savepoint: a handler that fails,
// even with an SQL error that would abort the transaction, is rolled back
// alone and its retry is still recorded, while the rest of the batch commits.
type OutboxRelay struct {
	tx      transactor
	store   outboxStore
	cfg     RelayConfig
	handler OutboxHandler
	now     func() time.Time
}

func NewOutboxRelay(txm *TxManager, cfg RelayConfig, handler OutboxHandler) *OutboxRelay {
	return newOutboxRelay(txm, &pgOutboxStore{txm: txm}, cfg, handler)
}

func newOutboxRelay(tx transactor, store outboxStore, cfg RelayConfig, handler OutboxHandler) *OutboxRelay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultRelayConfig().BatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultRelayConfig().MaxRetries
	}
	return &OutboxRelay{
		tx:      tx,
		store:   store,
		cfg:     cfg,
		handler: handler,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ProcessBatch delivers up to BatchSize messages and returns how many succeeded.
func (r *OutboxRelay) ProcessBatch(ctx context.Context) (int, error) {
	delivered := 0
	err := r.tx.RunInTransaction(ctx, func(ctx context.Context) error {
		delivered = 0
		msgs, err := r.store.claim(ctx, r.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("claim outbox messages: %w", err)
		}
		for _, msg := range msgs {
			if err := r.deliver(ctx, msg); err != nil {
				return err
			}
			if msg.Status == OutboxPublished {
				delivered++
			}
		}
		return nil
	})
	return delivered, err
}

func (r *OutboxRelay) deliver(ctx context.Context, msg *OutboxMessage) error {
	handleErr := r.tx.RunWithOptions(ctx, TxOptions{Savepoint: true}, func(ctx context.Context) error {
		return r.handler.Handle(ctx, msg)
	})
	if handleErr == nil {
		if err := r.store.markPublished(ctx, msg.ID); err != nil {
			return fmt.Errorf("mark %s published: %w", msg.ID, err)
		}
		msg.Status = OutboxPublished
		return nil
	}

	msg.RetryCount++
	lastErr := handleErr.Error()
	msg.LastError = &lastErr
	if msg.RetryCount >= r.cfg.MaxRetries {
		msg.Status = OutboxFailed
	}
	logger.Warn(ctx, "outbox delivery failed",
		"message_id", msg.ID, "event_type", msg.EventType, "retry", msg.RetryCount, "error", handleErr)

	if err := r.store.markRetry(ctx, msg, r.now().Add(r.backoff(msg.RetryCount))); err != nil {
		return fmt.Errorf("record retry of %s: %w", msg.ID, err)
	}
	return nil
}

// backoff doubles BaseDelay per attempt up to MaxDelay.
func (r *OutboxRelay) backoff(attempt int) time.Duration {
	d := r.cfg.BaseDelay
	for i := 1; i < attempt && d < r.cfg.MaxDelay; i++ {
		d *= 2
	}
	if r.cfg.MaxDelay > 0 && d > r.cfg.MaxDelay {
		d = r.cfg.MaxDelay
	}
	return d
}

// MoveToDLQ moves exhausted messages to the dead letter table.
func (r *OutboxRelay) MoveToDLQ(ctx context.Context) (int64, error) {
	var moved int64
	err := r.tx.RunInTransaction(ctx, func(ctx context.Context) error {
		n, err := r.store.moveFailed(ctx)
		moved = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("move to dlq: %w", err)
	}
	return moved, nil
}

// pgOutboxStore keeps relay state in sys_outbox.
type pgOutboxStore struct {
	txm *TxManager
}

func (s *pgOutboxStore) claim(ctx context.Context, limit int) ([]*OutboxMessage, error) {
	var msgs []*OutboxMessage
	err := pgxscan.Select(ctx, s.txm.Querier(ctx), &msgs, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, status,
		       retry_count, last_error, next_retry_at, created_at, published_at
		FROM sys_outbox
		WHERE status = $1 AND (next_retry_at IS NULL OR next_retry_at <= NOW())
		ORDER BY created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, OutboxPending, limit)
	return msgs, err
}

func (s *pgOutboxStore) markPublished(ctx context.Context, msgID id.ID) error {
	_, err := s.txm.Querier(ctx).Exec(ctx,
		`UPDATE sys_outbox SET status = $1, published_at = NOW() WHERE id = $2`, OutboxPublished, msgID)
	return err
}

func (s *pgOutboxStore) markRetry(ctx context.Context, msg *OutboxMessage, nextRetryAt time.Time) error {
	_, err := s.txm.Querier(ctx).Exec(ctx, `
		UPDATE sys_outbox
		SET retry_count = $1, last_error = $2, next_retry_at = $3, status = $4
		WHERE id = $5`,
		msg.RetryCount, msg.LastError, nextRetryAt, msg.Status, msg.ID)
	return err
}

func (s *pgOutboxStore) moveFailed(ctx context.Context) (int64, error) {
	tag, err := s.txm.Querier(ctx).Exec(ctx, `
		WITH moved AS (
			DELETE FROM sys_outbox WHERE status = $1
			RETURNING id, aggregate_type, aggregate_id, event_type, payload, retry_count, last_error, created_at
		)
		INSERT INTO sys_outbox_dlq (id, aggregate_type, aggregate_id, event_type, payload, retry_count, last_error, created_at, failed_at)
		SELECT id, aggregate_type, aggregate_id, event_type, payload, retry_count, last_error, created_at, NOW()
		FROM moved`, OutboxFailed)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
