// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts the time operations used by the pipeline. Production
// code injects Real(); tests inject Fake() and move time by hand.
//
// Code that waits (task polling, drain waits, retry backoff) or stamps
// times (container creation, index refresh) takes a Clock field rather
// than calling time.Sleep, time.After or time.Now directly. The
// interface stays as small as those callers need: no tickers or
// AfterFunc timers, because nothing in the pipeline fires periodically.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d
	// has elapsed. Equivalent to time.After. If d <= 0 the channel
	// receives immediately. The channel is buffered, so a caller that
	// abandons the wait (for example on ctx.Done) leaks nothing.
	After(d time.Duration) <-chan time.Time

	// Sleep pauses the calling goroutine for at least d. Equivalent
	// to time.Sleep. Returns at once for d <= 0.
	Sleep(d time.Duration)
}
