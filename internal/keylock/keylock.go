// Package keylock provides mutual exclusion keyed by user id.
//
// Entries are reference counted and removed once no goroutine holds or waits
// on them, so the map only grows with the number of users in flight.
package keylock

import (
	"context"
	"sync"
)

// Locker serializes callers that share a key. Different keys never block
// each other.
type Locker struct {
	mu      sync.Mutex
	entries map[int64]*entry
}

type entry struct {
	// sem is a one-slot semaphore so waiters can give up on ctx.
	sem  chan struct{}
	refs int
}

// New returns an empty Locker.
func New() *Locker {
	return &Locker{entries: make(map[int64]*entry)}
}

// Lock blocks until key is acquired or ctx is done. On success the returned
// function releases the lock and must be called exactly once.
func (l *Locker) Lock(ctx context.Context, key int64) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.release(key, e)
		})
	}, nil
}

func (l *Locker) release(key int64, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// Len returns the number of keys currently held or awaited.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
