// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport hands filled containers from packaging requests to
// a single background delivery worker and back again.
//
// A [Scheduler] owns the delivery queue and the "worker dispatched"
// flag. [Scheduler.Enqueue] pushes under the dispatch mutex and starts
// a worker only when none is running; the worker clears the flag in
// the same critical section in which it observes the queue empty, so
// an item can never be left behind with no worker to deliver it. Lock
// order is dispatch mutex, then queue mutex. Delivery itself runs
// outside both locks.
//
// Each packaging request submits through its own [Batch], which owns
// the cleanup queue its delivered items come back on. Requests sharing
// one Scheduler see their own items in enqueue order; items of
// different requests interleave.
//
// A panic in a destination is recovered by the worker and recorded as
// an Error outcome for that item; the worker moves on to the next one.
package transport
