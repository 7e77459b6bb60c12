// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a recorded session.
type Status uint8

const (
	// StatusRunning means the recording process is still alive (or
	// died without writing a final fragment).
	StatusRunning Status = 0

	// StatusCompleted means the session ended normally.
	StatusCompleted Status = 1

	// StatusCrashed means the session ended with an unhandled failure.
	StatusCrashed Status = 2
)

// String returns the lowercase status name.
func (status Status) String() string {
	switch status {
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusCrashed:
		return "crashed"
	default:
		return fmt.Sprintf("unknown(%d)", status)
	}
}

// ParseStatus parses the output of [Status.String].
func ParseStatus(name string) (Status, error) {
	switch name {
	case "running":
		return StatusRunning, nil
	case "completed":
		return StatusCompleted, nil
	case "crashed":
		return StatusCrashed, nil
	default:
		return 0, fmt.Errorf("unknown session status %q", name)
	}
}

// Summary is an immutable snapshot of one recorded session. Struct
// fields carry json tags; the CBOR codec falls back to them, so the
// same type serializes in fragment headers and container manifests.
type Summary struct {
	ID                 ID        `json:"id"`
	Product            string    `json:"product"`
	Application        string    `json:"application"`
	ApplicationVersion string    `json:"application_version,omitempty"`
	HostName           string    `json:"host_name,omitempty"`
	UserName           string    `json:"user_name,omitempty"`
	Status             Status    `json:"status"`
	CriticalCount      int       `json:"critical_count"`
	ErrorCount         int       `json:"error_count"`
	WarningCount       int       `json:"warning_count"`
	MessageCount       int       `json:"message_count"`
	StartTime          time.Time `json:"start_time"`
	EndTime            time.Time `json:"end_time"`

	// IsNew is true until the session has been delivered somewhere
	// and marked read in the local index.
	IsNew bool `json:"is_new"`
}

// HasProblem reports whether the session recorded any critical or
// error message, or crashed.
func (s Summary) HasProblem() bool {
	return s.CriticalCount > 0 || s.ErrorCount > 0 || s.Status == StatusCrashed
}

// Running reports whether the session is still recording.
func (s Summary) Running() bool {
	return s.Status == StatusRunning
}

// Duration returns EndTime - StartTime, or zero when either is unset.
func (s Summary) Duration() time.Duration {
	if s.StartTime.IsZero() || s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}
