// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"io"
)

// Fragment is one physical chunk of a session's recorded data, opened
// for reading. Length is the declared uncompressed length of the full
// fragment stream (file header, session header, and body).
type Fragment struct {
	FileID   ID
	Sequence int
	Length   int64
	Reader   io.ReadCloser
}

// Stream is an opened session: every fragment the local index knows
// for one session id, in sequence order. A Stream owns its readers.
// Ownership moves with the pointer; exactly one holder calls Close.
type Stream struct {
	SessionID ID
	Fragments []Fragment

	closed bool
}

// Length returns the sum of the declared fragment lengths.
func (s *Stream) Length() int64 {
	var total int64
	for _, fragment := range s.Fragments {
		total += fragment.Length
	}
	return total
}

// Close closes every fragment reader. Safe to call more than once;
// only the first call closes anything.
func (s *Stream) Close() error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for _, fragment := range s.Fragments {
		if fragment.Reader == nil {
			continue
		}
		if err := fragment.Reader.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
