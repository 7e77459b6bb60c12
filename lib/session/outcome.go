// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
)

// Result classifies an Outcome. The numeric order is significant:
// lower values are worse, and aggregation keeps the lowest.
type Result uint8

const (
	ResultError Result = iota
	ResultWarning
	ResultUnknown
	ResultCanceled
	ResultInformation
	ResultSuccess
)

// String returns the result name.
func (result Result) String() string {
	switch result {
	case ResultError:
		return "error"
	case ResultWarning:
		return "warning"
	case ResultUnknown:
		return "unknown"
	case ResultCanceled:
		return "canceled"
	case ResultInformation:
		return "information"
	case ResultSuccess:
		return "success"
	default:
		return fmt.Sprintf("result(%d)", result)
	}
}

// Worst returns the worse of two results.
func Worst(a, b Result) Result {
	if a < b {
		return a
	}
	return b
}

// Outcome is the record returned to callers of a packaging request,
// and the per-container delivery record inside the transport layer.
type Outcome struct {
	Result         Result
	Message        string
	Cause          error
	BytesDelivered int64
}

// Succeeded returns a Success outcome for bytes delivered.
func Succeeded(message string, bytes int64) Outcome {
	return Outcome{Result: ResultSuccess, Message: message, BytesDelivered: bytes}
}

// Informational returns an Information outcome with no bytes moved.
func Informational(message string) Outcome {
	return Outcome{Result: ResultInformation, Message: message}
}

// Failed returns an Error outcome carrying cause.
func Failed(message string, cause error) Outcome {
	return Outcome{Result: ResultError, Message: message, Cause: cause}
}

// Failure reports whether the outcome represents a failed operation.
func (o Outcome) Failure() bool {
	return o.Result == ResultError
}

// Err returns nil for non-failures. For failures it returns the
// captured cause, or a synthesized error when none was captured.
func (o Outcome) Err() error {
	if !o.Failure() {
		return nil
	}
	if o.Cause != nil {
		return o.Cause
	}
	if o.Message != "" {
		return errors.New(o.Message)
	}
	return errors.New("operation failed")
}

// Aggregate folds outcomes into one: the worst result wins (with its
// message and cause; the first outcome wins ties), and delivered bytes
// are summed. Aggregating nothing yields an Information outcome.
func Aggregate(outcomes ...Outcome) Outcome {
	if len(outcomes) == 0 {
		return Informational("nothing to deliver")
	}
	aggregate := outcomes[0]
	for _, outcome := range outcomes[1:] {
		if outcome.Result < aggregate.Result {
			aggregate.Result = outcome.Result
			aggregate.Message = outcome.Message
			aggregate.Cause = outcome.Cause
		}
		aggregate.BytesDelivered += outcome.BytesDelivered
	}
	return aggregate
}
