// Package lock provides the in-process per-key critical section used when no
// Redis is configured. Every booking key gets its own lock, so different keys
// never wait on each other.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotAcquired is returned when a key lock could not be taken within the
// configured wait. Callers should treat it as a retryable "busy" condition.
var ErrNotAcquired = errors.New("key lock not acquired")

type entry struct {
	sem  chan struct{}
	refs int
}

// Keyed serializes callers that share a key.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*entry
	wait  time.Duration
}

// NewKeyed returns a Keyed locker. A caller gives up with ErrNotAcquired after
// waiting longer than wait; wait <= 0 means only an uncontended lock is taken.
func NewKeyed(wait time.Duration) *Keyed {
	return &Keyed{
		locks: make(map[string]*entry),
		wait:  wait,
	}
}

// WithKeyLock runs fn while holding the lock for key.
func (k *Keyed) WithKeyLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	e := k.ref(key)
	defer k.unref(key, e)

	if err := k.acquire(ctx, e); err != nil {
		return err
	}
	defer func() { <-e.sem }()

	return fn(ctx)
}

func (k *Keyed) acquire(ctx context.Context, e *entry) error {
	select {
	case e.sem <- struct{}{}:
		return nil
	default:
	}

	if k.wait <= 0 {
		return ErrNotAcquired
	}

	timer := time.NewTimer(k.wait)
	defer timer.Stop()

	select {
	case e.sem <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrNotAcquired
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (k *Keyed) ref(key string) *entry {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.locks[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	return e
}

func (k *Keyed) unref(key string, e *entry) {
	k.mu.Lock()
	defer k.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

// Len reports how many keys currently have holders or waiters.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
