// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"testing"
	"time"
)

// fatalRecorder captures Fatalf instead of stopping the test. Fatalf
// panics so the helper under test does not continue past the failure.
type fatalRecorder struct {
	message string
}

func (r *fatalRecorder) Helper() {}

func (r *fatalRecorder) Fatalf(format string, args ...any) {
	r.message = fmt.Sprintf(format, args...)
	panic(r)
}

func expectFatal(t *testing.T, fn func(*fatalRecorder)) string {
	t.Helper()
	recorder := &fatalRecorder{}
	func() {
		defer func() {
			if recovered := recover(); recovered != recorder {
				panic(recovered)
			}
		}()
		fn(recorder)
	}()
	if recorder.message == "" {
		t.Fatal("expected Fatalf")
	}
	return recorder.message
}

func TestRequireReceive(t *testing.T) {
	ch := make(chan int, 1)
	ch <- 7
	if got := RequireReceive(t, ch, time.Second, "buffered"); got != 7 {
		t.Errorf("RequireReceive = %d, want 7", got)
	}
}

func TestRequireReceiveTimeout(t *testing.T) {
	message := expectFatal(t, func(recorder *fatalRecorder) {
		RequireReceive(recorder, make(chan int), time.Millisecond, "waiting for %s", "nothing")
	})
	if want := "no value after 1ms: waiting for nothing"; message != want {
		t.Errorf("message = %q, want %q", message, want)
	}
}

func TestRequireReceiveClosed(t *testing.T) {
	ch := make(chan int)
	close(ch)
	message := expectFatal(t, func(recorder *fatalRecorder) {
		RequireReceive(recorder, ch, time.Second)
	})
	if want := "channel closed before a value arrived: (no message)"; message != want {
		t.Errorf("message = %q, want %q", message, want)
	}
}

func TestRequireSend(t *testing.T) {
	ch := make(chan string, 1)
	RequireSend(t, ch, "sent", time.Second)
	if got := <-ch; got != "sent" {
		t.Errorf("received %q", got)
	}

	message := expectFatal(t, func(recorder *fatalRecorder) {
		RequireSend(recorder, make(chan string), "dropped", time.Millisecond, 42)
	})
	if want := "send not accepted after 1ms: 42"; message != want {
		t.Errorf("message = %q, want %q", message, want)
	}
}
