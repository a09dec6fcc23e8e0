// Package lock serializes mutations of one document, within a process or
// across replicas through Redis.
package lock

import (
	"context"
	"sync"
	"time"

	"stockrecon/internal/core/apperror"
)

// Local is an in-process keyed lock for single-replica deployments and tests.
type Local struct {
	wait time.Duration

	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocal creates a lock that waits up to wait for a busy key.
func NewLocal(wait time.Duration) *Local {
	return &Local{wait: wait, slots: make(map[string]*slot)}
}

// Lock blocks until key is free, ctx is done or the wait elapses. A timeout
// reports ConcurrentModification: someone else is changing the document.
func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	s := l.acquireSlot(key)

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.releaseSlot(key)
		return nil, ctx.Err()
	case <-timer.C:
		l.releaseSlot(key)
		return nil, apperror.NewConcurrentModification("lock", key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.releaseSlot(key)
		})
	}, nil
}

func (l *Local) acquireSlot(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

// releaseSlot drops the slot once nobody holds or waits for it.
func (l *Local) releaseSlot(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s := l.slots[key]; s != nil {
		s.refs--
		if s.refs == 0 {
			delete(l.slots, key)
		}
	}
}
