// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package asynctask

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/sessionpack/lib/session"
	"github.com/bureau-foundation/sessionpack/lib/testutil"
)

// fastRunner polls on the real clock with a short interval; tasks in
// these tests finish promptly.
func fastRunner() *Runner {
	return &Runner{PollInterval: time.Millisecond}
}

func TestSyncSuccessReturnsNil(t *testing.T) {
	var gotState any
	completed := make(chan session.Outcome, 1)
	err := fastRunner().Execute(context.Background(), func(_ context.Context, state any) session.Outcome {
		gotState = state
		return session.Succeeded("sent", 42)
	}, "Send sessions", "request-1", false, func(_ string, outcome session.Outcome) {
		completed <- outcome
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotState != "request-1" {
		t.Errorf("state = %v", gotState)
	}
	if outcome := testutil.RequireReceive(t, completed, 5*time.Second, "completion"); outcome.BytesDelivered != 42 {
		t.Errorf("outcome = %+v", outcome)
	}
}

func TestSyncFailureReturnsCause(t *testing.T) {
	cause := errors.New("smtp refused")
	err := fastRunner().Execute(context.Background(), func(context.Context, any) session.Outcome {
		return session.Failed("mail not sent", cause)
	}, "Send sessions", nil, false, nil)
	if !errors.Is(err, cause) {
		t.Fatalf("Execute error = %v, want %v", err, cause)
	}
}

func TestSyncFailureWithoutCauseIsSynthesized(t *testing.T) {
	err := fastRunner().Execute(context.Background(), func(context.Context, any) session.Outcome {
		return session.Outcome{Result: session.ResultError, Message: "disk full"}
	}, "Package sessions", nil, false, nil)
	if err == nil || err.Error() != "Package sessions failed: disk full" {
		t.Fatalf("Execute error = %v", err)
	}
}

func TestSyncWarningIsNotAnError(t *testing.T) {
	err := fastRunner().Execute(context.Background(), func(context.Context, any) session.Outcome {
		return session.Outcome{Result: session.ResultWarning, Message: "one session skipped"}
	}, "Send sessions", nil, false, nil)
	if err != nil {
		t.Fatalf("Execute error = %v, want nil for a warning", err)
	}
}

func TestPanicBecomesFailure(t *testing.T) {
	err := fastRunner().Execute(context.Background(), func(context.Context, any) session.Outcome {
		panic("nil destination")
	}, "Send sessions", nil, false, nil)
	if err == nil || !strings.Contains(err.Error(), "nil destination") {
		t.Fatalf("Execute error = %v, want the panic value", err)
	}
}

func TestAsyncReturnsImmediately(t *testing.T) {
	release := make(chan struct{})
	completed := make(chan session.Outcome, 1)
	err := fastRunner().Execute(context.Background(), func(context.Context, any) session.Outcome {
		<-release
		panic("late failure")
	}, "Send sessions", nil, true, func(title string, outcome session.Outcome) {
		if title != "Send sessions" {
			t.Errorf("title = %q", title)
		}
		completed <- outcome
	})
	if err != nil {
		t.Fatalf("async Execute returned %v", err)
	}
	testutil.RequireSend(t, release, struct{}{}, 5*time.Second, "releasing task")
	outcome := testutil.RequireReceive(t, completed, 5*time.Second, "async completion")
	if outcome.Result != session.ResultError {
		t.Errorf("outcome = %+v, want Error from the recovered panic", outcome)
	}
}

// errorHandler forwards the message of every Error record.
type errorHandler struct {
	messages chan string
}

func (h errorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelError
}

func (h errorHandler) Handle(_ context.Context, record slog.Record) error {
	h.messages <- record.Message
	return nil
}

func (h errorHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h errorHandler) WithGroup(string) slog.Handler      { return h }

func TestCallbackPanicIsContained(t *testing.T) {
	explode := func(string, session.Outcome) { panic("callback exploded") }
	task := func(context.Context, any) session.Outcome {
		return session.Succeeded("sent", 7)
	}

	t.Run("sync", func(t *testing.T) {
		messages := make(chan string, 1)
		runner := fastRunner()
		runner.Logger = slog.New(errorHandler{messages: messages})

		returned := make(chan error, 1)
		go func() {
			returned <- runner.Execute(context.Background(), task, "Send sessions", nil, false, explode)
		}()
		if err := testutil.RequireReceive(t, returned, 5*time.Second, "sync Execute returning"); err != nil {
			t.Errorf("Execute error = %v, want the task's success", err)
		}
		if message := testutil.RequireReceive(t, messages, 5*time.Second, "panic log"); message != "completion callback panicked" {
			t.Errorf("logged %q", message)
		}
	})

	t.Run("async", func(t *testing.T) {
		messages := make(chan string, 1)
		runner := fastRunner()
		runner.Logger = slog.New(errorHandler{messages: messages})

		if err := runner.Execute(context.Background(), task, "Send sessions", nil, true, explode); err != nil {
			t.Fatalf("async Execute returned %v", err)
		}
		if message := testutil.RequireReceive(t, messages, 5*time.Second, "panic log"); message != "completion callback panicked" {
			t.Errorf("logged %q", message)
		}
	})
}
