// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/sessionpack/lib/clock"
	"github.com/bureau-foundation/sessionpack/lib/delivery"
	"github.com/bureau-foundation/sessionpack/lib/packer"
	"github.com/bureau-foundation/sessionpack/lib/session"
)

// Item is one filled container on its way to a destination. It is in
// at most one queue at a time: the delivery queue, then its batch's
// cleanup queue.
type Item struct {
	Fill        *packer.Fill
	Package     *delivery.Package
	Destination delivery.Destination

	// Outcome is written by the worker before the item reaches the
	// cleanup queue.
	Outcome session.Outcome

	batch *Batch
}

// Executor runs a task in the background. The default starts a
// goroutine.
type Executor func(task func())

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	// Executor runs the worker. Defaults to a new goroutine per
	// dispatch.
	Executor Executor

	// Clock paces batch drain waits. Defaults to clock.Real().
	Clock clock.Clock

	// Logger receives delivery failures and recovered panics. If nil,
	// a no-op logger is used.
	Logger *slog.Logger
}

// Stats counts scheduler activity since creation.
type Stats struct {
	// Dispatches is the number of worker tasks started.
	Dispatches uint64
	Delivered  uint64
	Failed     uint64
}

// Scheduler owns the delivery queue and its single worker. Create one
// per process (or per test) and share it between requests.
type Scheduler struct {
	dispatchMu sync.Mutex
	dispatched bool
	dispatches uint64

	queue   *Queue[*Item]
	execute Executor
	clock   clock.Clock
	logger  *slog.Logger

	delivered atomic.Uint64
	failed    atomic.Uint64
}

// NewScheduler creates an idle scheduler.
func NewScheduler(config SchedulerConfig) *Scheduler {
	execute := config.Executor
	if execute == nil {
		execute = func(task func()) { go task() }
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		queue:   NewQueue[*Item](),
		execute: execute,
		clock:   clk,
		logger:  logger,
	}
}

// Enqueue appends item to the delivery queue and starts the worker if
// none is running. Items normally arrive through Batch.Submit; an item
// enqueued directly has no cleanup queue and is dropped after
// delivery.
func (s *Scheduler) Enqueue(item *Item) {
	if item == nil {
		s.logger.Error("nil item enqueued for delivery")
		return
	}
	s.dispatchMu.Lock()
	s.queue.Push(item)
	start := !s.dispatched
	if start {
		s.dispatched = true
		s.dispatches++
	}
	s.dispatchMu.Unlock()

	if start {
		s.execute(s.work)
	}
}

// Pending returns the number of items waiting for the worker.
func (s *Scheduler) Pending() int {
	return s.queue.Len()
}

// Stats returns activity counters.
func (s *Scheduler) Stats() Stats {
	s.dispatchMu.Lock()
	dispatches := s.dispatches
	s.dispatchMu.Unlock()
	return Stats{
		Dispatches: dispatches,
		Delivered:  s.delivered.Load(),
		Failed:     s.failed.Load(),
	}
}

// work is the worker loop. It exits when it observes the queue empty,
// clearing the dispatched flag in the same critical section.
func (s *Scheduler) work() {
	for {
		s.dispatchMu.Lock()
		item, ok := s.queue.Pop()
		if !ok {
			s.dispatched = false
			s.dispatchMu.Unlock()
			return
		}
		s.dispatchMu.Unlock()

		s.deliver(item)
		if item.batch != nil {
			item.batch.cleanup.Push(item)
		}
	}
}

// deliver runs one delivery, converting a panic into an Error outcome.
// An item without a destination or package fails without reaching
// one.
func (s *Scheduler) deliver(item *Item) {
	if item.Destination == nil || item.Package == nil {
		s.logger.Error("incomplete item on the delivery queue",
			"has_destination", item.Destination != nil,
			"has_package", item.Package != nil,
		)
		item.Outcome = session.Failed("delivery aborted",
			fmt.Errorf("%w: item has no destination or package", session.ErrDeliveryFailure))
		s.failed.Add(1)
		return
	}

	ctx := context.Background()
	if item.batch != nil {
		// Delivery is not cancellable once started; keep only the
		// request's values.
		ctx = context.WithoutCancel(item.batch.ctx)
	}

	name := "destination"
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Error("destination panicked during delivery",
				"destination", name,
				"package", item.Package.Caption,
				"panic", recovered,
				"stack", string(debug.Stack()),
			)
			item.Outcome = session.Failed(
				fmt.Sprintf("%s: delivery aborted", name),
				fmt.Errorf("%w: %s panicked: %v", session.ErrDeliveryFailure, name, recovered),
			)
			s.failed.Add(1)
		}
	}()

	name = item.Destination.Name()
	item.Outcome = item.Destination.Deliver(ctx, item.Package)
	if item.Outcome.Failure() {
		s.failed.Add(1)
		s.logger.Warn("package delivery failed",
			"destination", name,
			"package", item.Package.Caption,
			"index", item.Package.Index,
			"error", item.Outcome.Err(),
		)
		return
	}
	s.delivered.Add(1)
}
