// Package events delivers outbox messages: it projects approved
// reconciliations into the stock register and fans events out over Redis.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"stockrecon/internal/core/id"
	"stockrecon/internal/domain/reconciliation"
	"stockrecon/internal/infrastructure/storage/postgres"
	"stockrecon/pkg/logger"
)

// Chain runs handlers in order and stops at the first error. The relay
// retries the whole message, so every handler must tolerate redelivery.
func Chain(handlers ...postgres.OutboxHandler) postgres.OutboxHandler {
	return postgres.OutboxHandlerFunc(func(ctx context.Context, msg *postgres.OutboxMessage) error {
		for _, h := range handlers {
			if err := h.Handle(ctx, msg); err != nil {
				return err
			}
		}
		return nil
	})
}

// StockProjector is the write side of the stock register.
type StockProjector interface {
	Apply(ctx context.Context, set reconciliation.MovementSet) (bool, error)
	Revert(ctx context.Context, documentID id.ID, postedVersion int) (bool, error)
}

// StockProjection applies the movements carried by approval events.
type StockProjection struct {
	stock StockProjector
}

func NewStockProjection(stock StockProjector) *StockProjection {
	return &StockProjection{stock: stock}
}

func (p *StockProjection) Handle(ctx context.Context, msg *postgres.OutboxMessage) error {
	if msg.AggregateType != reconciliation.EntityName {
		return nil
	}
	if msg.EventType != reconciliation.EventApproved && msg.EventType != reconciliation.EventApprovalReverted {
		return nil
	}

	var event reconciliation.LifecycleEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return fmt.Errorf("decode %s: %w", msg.EventType, err)
	}
	if event.Movements == nil {
		logger.Warn(ctx, "approval event without movements", "message_id", msg.ID, "document_id", msg.AggregateID)
		return nil
	}

	var (
		changed bool
		err     error
	)
	switch msg.EventType {
	case reconciliation.EventApproved:
		changed, err = p.stock.Apply(ctx, *event.Movements)
	default:
		changed, err = p.stock.Revert(ctx, event.Movements.DocumentID, event.Movements.PostedVersion)
	}
	if err != nil {
		return fmt.Errorf("project %s: %w", msg.EventType, err)
	}
	if !changed {
		logger.Debug(ctx, "stock projection already up to date",
			"document_id", event.Movements.DocumentID, "posted_version", event.Movements.PostedVersion)
	}
	return nil
}

// RedisPublisher forwards every message to the channel "<prefix>.<event type>".
type RedisPublisher struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisPublisher(rdb redis.UniversalClient, prefix string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, prefix: prefix}
}

// Channel returns the channel an event type is published on.
func (p *RedisPublisher) Channel(eventType string) string {
	if p.prefix == "" {
		return eventType
	}
	return p.prefix + "." + eventType
}

func (p *RedisPublisher) Handle(ctx context.Context, msg *postgres.OutboxMessage) error {
	if err := p.rdb.Publish(ctx, p.Channel(msg.EventType), msg.Payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.EventType, err)
	}
	return nil
}
