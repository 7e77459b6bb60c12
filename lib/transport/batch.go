// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/sessionpack/lib/session"
)

// DefaultWaitInterval bounds each wait in Drain. A missed signal
// delays collection by at most this long.
const DefaultWaitInterval = 250 * time.Millisecond

// Batch is one request's view of the scheduler: the items it
// submitted and the cleanup queue they return on. Submit may be called
// from any goroutine; TryCollect, Drain, and Outcome belong to the
// request's own goroutine.
type Batch struct {
	scheduler *Scheduler
	ctx       context.Context
	cleanup   *Queue[*Item]

	submitted atomic.Int64
	collected atomic.Int64

	outcomes []session.Outcome

	// WaitInterval overrides DefaultWaitInterval.
	WaitInterval time.Duration
}

// NewBatch starts a batch for one request. ctx supplies values to
// deliveries; its cancellation stops Drain but never a delivery in
// progress.
func (s *Scheduler) NewBatch(ctx context.Context) *Batch {
	return &Batch{
		scheduler: s,
		ctx:       ctx,
		cleanup:   NewQueue[*Item](),
	}
}

// Submit hands item to the worker. The item comes back through
// TryCollect or Drain once its outcome is set.
func (b *Batch) Submit(item *Item) {
	item.batch = b
	b.submitted.Add(1)
	b.scheduler.Enqueue(item)
}

// Outstanding returns the number of submitted items not yet
// collected.
func (b *Batch) Outstanding() int {
	return int(b.submitted.Load() - b.collected.Load())
}

// TryCollect returns a delivered item without waiting.
func (b *Batch) TryCollect() (*Item, bool) {
	item, ok := b.cleanup.Pop()
	if !ok {
		return nil, false
	}
	b.collected.Add(1)
	b.outcomes = append(b.outcomes, item.Outcome)
	return item, true
}

// Drain collects until every submitted item is back, calling collect
// for each in the order they were delivered. Waits are bounded so a
// missed signal is only a delay. Returns ctx.Err() if ctx ends first;
// items still in flight are then left to the worker.
func (b *Batch) Drain(ctx context.Context, collect func(*Item)) error {
	interval := b.WaitInterval
	if interval <= 0 {
		interval = DefaultWaitInterval
	}
	for b.Outstanding() > 0 {
		if item, ok := b.TryCollect(); ok {
			collect(item)
			continue
		}
		if err := b.cleanup.Wait(ctx, b.scheduler.clock, interval); err != nil {
			return err
		}
	}
	return nil
}

// Outcome aggregates the outcomes collected so far: the worst result
// wins and delivered bytes are summed.
func (b *Batch) Outcome() session.Outcome {
	return session.Aggregate(b.outcomes...)
}
