// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds channel helpers shared by sessionpack tests.
//
// Background work in this module (the transport worker, asynchronous
// sends, recorder rotation) reports back over channels. [RequireReceive]
// and [RequireSend] bound each channel operation with a wall-clock
// timeout so a regression fails the test instead of hanging it. They
// are the only real-clock waits in the test suite; everything else is
// paced by clock.FakeClock.
package testutil
