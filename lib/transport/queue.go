// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"sync"
	"time"

	"github.com/bureau-foundation/sessionpack/lib/clock"
)

// Queue is an unbounded FIFO safe for concurrent use. Push signals a
// capacity-1 notify channel so one waiter wakes per burst of pushes;
// waiters recheck the queue after every wake, so a coalesced signal
// is never a lost item.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	notify chan struct{}
}

// NewQueue returns an empty queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{notify: make(chan struct{}, 1)}
}

// Push appends item and signals a waiter.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop removes and returns the oldest item, or false when empty.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Notify returns the channel Push signals.
func (q *Queue[T]) Notify() <-chan struct{} {
	return q.notify
}

// Wait blocks until a push is signaled, timeout elapses on clk, or ctx
// is done. Only the context case returns an error. Callers loop: pop
// until empty, then Wait.
func (q *Queue[T]) Wait(ctx context.Context, clk clock.Clock, timeout time.Duration) error {
	select {
	case <-q.notify:
		return nil
	case <-clk.After(timeout):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
