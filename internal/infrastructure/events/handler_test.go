package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockrecon/internal/core/id"
	"stockrecon/internal/core/types"
	"stockrecon/internal/domain/reconciliation"
	"stockrecon/internal/infrastructure/storage/postgres"
)

type fakeStock struct {
	applied  []reconciliation.MovementSet
	reverted []int
	err      error
}

func (s *fakeStock) Apply(_ context.Context, set reconciliation.MovementSet) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	s.applied = append(s.applied, set)
	return true, nil
}

func (s *fakeStock) Revert(_ context.Context, _ id.ID, postedVersion int) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	s.reverted = append(s.reverted, postedVersion)
	return true, nil
}

func message(t *testing.T, eventType string, event reconciliation.LifecycleEvent) *postgres.OutboxMessage {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	return &postgres.OutboxMessage{
		ID:            id.New(),
		AggregateType: reconciliation.EntityName,
		AggregateID:   event.DocumentID,
		EventType:     eventType,
		Payload:       payload,
	}
}

func movementSet(docID id.ID, version int) *reconciliation.MovementSet {
	return &reconciliation.MovementSet{
		DocumentID:    docID,
		Kind:          reconciliation.KindPhysicalInventory,
		Date:          time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		PostedVersion: version,
		Movements: []reconciliation.Movement{{
			LineNo:    1,
			Direction: reconciliation.DirectionReceipt,
			StoreID:   id.New(),
			ProductID: id.New(),
			Quantity:  types.NewQuantity(2),
		}},
	}
}

func TestStockProjection_AppliesAndReverts(t *testing.T) {
	stock := &fakeStock{}
	p := NewStockProjection(stock)
	ctx := context.Background()
	docID := id.New()

	approved := message(t, reconciliation.EventApproved,
		reconciliation.LifecycleEvent{DocumentID: docID, Movements: movementSet(docID, 1)})
	require.NoError(t, p.Handle(ctx, approved))
	require.Len(t, stock.applied, 1)
	assert.Equal(t, docID, stock.applied[0].DocumentID)
	assert.Equal(t, types.NewQuantity(2), stock.applied[0].Movements[0].Quantity)

	reverted := message(t, reconciliation.EventApprovalReverted,
		reconciliation.LifecycleEvent{DocumentID: docID, Movements: movementSet(docID, 1)})
	require.NoError(t, p.Handle(ctx, reverted))
	assert.Equal(t, []int{1}, stock.reverted)
}

func TestStockProjection_IgnoresOtherEvents(t *testing.T) {
	stock := &fakeStock{err: errors.New("must not be called")}
	p := NewStockProjection(stock)
	ctx := context.Background()

	submitted := message(t, reconciliation.EventSubmitted, reconciliation.LifecycleEvent{DocumentID: id.New()})
	assert.NoError(t, p.Handle(ctx, submitted))

	foreign := message(t, reconciliation.EventApproved, reconciliation.LifecycleEvent{DocumentID: id.New()})
	foreign.AggregateType = "invoice"
	assert.NoError(t, p.Handle(ctx, foreign))

	noMovements := message(t, reconciliation.EventApproved, reconciliation.LifecycleEvent{DocumentID: id.New()})
	assert.NoError(t, p.Handle(ctx, noMovements))
}

func TestStockProjection_Errors(t *testing.T) {
	ctx := context.Background()

	broken := &postgres.OutboxMessage{
		AggregateType: reconciliation.EntityName,
		EventType:     reconciliation.EventApproved,
		Payload:       []byte(`{"movements":`),
	}
	assert.Error(t, NewStockProjection(&fakeStock{}).Handle(ctx, broken))

	docID := id.New()
	msg := message(t, reconciliation.EventApproved,
		reconciliation.LifecycleEvent{DocumentID: docID, Movements: movementSet(docID, 2)})
	err := NewStockProjection(&fakeStock{err: errors.New("db down")}).Handle(ctx, msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestRedisPublisher_Publishes(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	pub := NewRedisPublisher(rdb, "stockrecon")
	assert.Equal(t, "stockrecon.ReconciliationApproved", pub.Channel(reconciliation.EventApproved))
	assert.Equal(t, "X", NewRedisPublisher(rdb, "").Channel("X"))

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, pub.Channel(reconciliation.EventSubmitted))
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	docID := id.New()
	msg := message(t, reconciliation.EventSubmitted, reconciliation.LifecycleEvent{DocumentID: docID, Number: "PI-1"})
	require.NoError(t, pub.Handle(ctx, msg))

	select {
	case got := <-sub.Channel():
		var event reconciliation.LifecycleEvent
		require.NoError(t, json.Unmarshal([]byte(got.Payload), &event))
		assert.Equal(t, docID, event.DocumentID)
		assert.Equal(t, "PI-1", event.Number)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestRedisPublisher_FailsWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	err := NewRedisPublisher(rdb, "p").Handle(context.Background(),
		message(t, reconciliation.EventRejected, reconciliation.LifecycleEvent{DocumentID: id.New()}))
	assert.Error(t, err)
}

func TestChain_StopsAtFirstError(t *testing.T) {
	var calls []string
	step := func(name string, err error) postgres.OutboxHandler {
		return postgres.OutboxHandlerFunc(func(context.Context, *postgres.OutboxMessage) error {
			calls = append(calls, name)
			return err
		})
	}

	err := Chain(step("a", nil), step("b", errors.New("fail")), step("c", nil)).
		Handle(context.Background(), &postgres.OutboxMessage{})
	require.Error(t, err)
	assert.Equal(t, []string{"a", "b"}, calls)
}
