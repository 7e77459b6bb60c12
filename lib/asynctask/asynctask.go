// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package asynctask runs a long operation in the background for either
// a blocking caller or a fire-and-forget caller.
//
// A blocking caller polls a completion flag on the injected clock
// rather than joining the goroutine, and gets the task's failure back
// as an error. A fire-and-forget caller returns at once and receives
// the outcome through its completion callback. Either way a panic in
// the task is recovered at the task boundary and becomes an Error
// outcome.
package asynctask

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/sessionpack/lib/clock"
	"github.com/bureau-foundation/sessionpack/lib/session"
)

// DefaultPollInterval is how often a blocking caller checks for
// completion.
const DefaultPollInterval = 50 * time.Millisecond

// Task is the background operation. state is passed through from
// Execute unchanged.
type Task func(ctx context.Context, state any) session.Outcome

// CompletionFunc receives the final outcome of a task. It runs on the
// task's goroutine.
type CompletionFunc func(title string, outcome session.Outcome)

// Runner executes tasks.
type Runner struct {
	// Clock paces the blocking poll. Defaults to clock.Real().
	Clock clock.Clock

	// Logger receives recovered panics. If nil, a no-op logger is
	// used.
	Logger *slog.Logger

	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration
}

// Execute runs task in a new goroutine.
//
// When runAsync is false, Execute blocks until the task finishes and
// returns the outcome's error for failures (the captured cause, or
// "<title> failed: <message>" when none was captured) and nil
// otherwise. When runAsync is true, Execute returns nil immediately.
// In both modes onComplete, if non-nil, receives the outcome.
func (r *Runner) Execute(ctx context.Context, task Task, title string, state any, runAsync bool, onComplete CompletionFunc) error {
	clk := r.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	interval := r.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	var (
		done    atomic.Bool
		outcome session.Outcome
	)
	go func() {
		// Publishes outcome to the polling caller, even when the
		// completion callback panics.
		defer done.Store(true)
		outcome = run(ctx, task, title, state, logger)
		if onComplete != nil {
			complete(onComplete, title, outcome, logger)
		}
	}()

	if runAsync {
		return nil
	}
	for !done.Load() {
		clk.Sleep(interval)
	}
	if !outcome.Failure() {
		return nil
	}
	if outcome.Cause != nil {
		return outcome.Cause
	}
	message := outcome.Message
	if message == "" {
		message = "unknown error"
	}
	return fmt.Errorf("%s failed: %s", title, message)
}

// run invokes task, converting a panic into an Error outcome.
func run(ctx context.Context, task Task, title string, state any, logger *slog.Logger) (outcome session.Outcome) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("background task panicked",
				"task", title,
				"panic", recovered,
				"stack", string(debug.Stack()),
			)
			outcome = session.Failed(
				fmt.Sprintf("%s failed unexpectedly", title),
				fmt.Errorf("%s panicked: %v", title, recovered),
			)
		}
	}()
	return task(ctx, state)
}

// complete delivers outcome to onComplete. A panicking callback is
// logged; the outcome already stands.
func complete(onComplete CompletionFunc, title string, outcome session.Outcome, logger *slog.Logger) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("completion callback panicked",
				"task", title,
				"result", outcome.Result.String(),
				"panic", recovered,
				"stack", string(debug.Stack()),
			)
		}
	}()
	onComplete(title, outcome)
}
