// Package syncutil provides locking primitives that respect context cancellation.
package syncutil

import (
	"context"
	"sync"
)

// ContextMutex is a mutex implemented via a buffered channel so that waiters
// can give up when their context is cancelled. The zero value is not usable;
// construct with NewContextMutex.
type ContextMutex struct {
	ch   chan struct{}
	once sync.Once
}

// NewContextMutex creates an unlocked context-aware mutex.
func NewContextMutex() *ContextMutex {
	m := &ContextMutex{}
	m.init()
	return m
}

func (m *ContextMutex) init() {
	m.once.Do(func() {
		m.ch = make(chan struct{}, 1)
		m.ch <- struct{}{} // Start unlocked.
	})
}

// LockContext acquires the mutex, respecting context cancellation.
// On success it returns an unlock function that the caller MUST call.
// If ctx is done first, it returns nil and the context error and the
// mutex is left untouched.
func (m *ContextMutex) LockContext(ctx context.Context) (func(), error) {
	m.init()

	// Fail fast on an already-cancelled context even if the lock is free.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	select {
	case <-m.ch:
		var released sync.Once
		return func() {
			released.Do(func() { m.ch <- struct{}{} })
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryLock acquires the mutex only if it is free.
func (m *ContextMutex) TryLock() (func(), bool) {
	m.init()
	select {
	case <-m.ch:
		var released sync.Once
		return func() {
			released.Do(func() { m.ch <- struct{}{} })
		}, true
	default:
		return nil, false
	}
}
