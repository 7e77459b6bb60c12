// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction.
//
// The packaging pipeline waits in three places: the synchronous task
// wrapper polls for completion with short sleeps, the cleanup drain
// waits on its queue with a bounded timeout, and the server
// destination backs off between retries. Each of these takes a Clock
// so tests can drive time deterministically:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go runner.Execute(...)      // polls with fake.Sleep
//	fake.WaitForTimers(1)       // wait until the poll registers
//	fake.Advance(time.Second)   // release it
//
// Production code uses Real().
package clock
