// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package packer

import (
	"github.com/bureau-foundation/sessionpack/lib/session"
)

// State is the resumable progress of one multi-container packaging
// request. Only the Packer mutates it. A fresh State starts before the
// first candidate; feed the same State to every FillOne call of the
// request and Close it when the request ends.
type State struct {
	lastSessionID session.ID
	hasLast       bool

	// pending is a session whose stream was opened but did not fit in
	// the previous container. The State owns the stream until the next
	// pass takes it.
	pending *pendingStream

	complete bool
	skipped  []SkippedSession
}

// SkippedSession is a candidate that was attempted but not placed.
// Oversize sessions carry session.ErrOversizeSession.
type SkippedSession struct {
	ID  session.ID
	Err error
}

type pendingStream struct {
	sessionID session.ID
	stream    *session.Stream
}

// NewState returns the state for a fresh packaging request.
func NewState() *State {
	return &State{}
}

// LastSessionID returns the last session placed or attempted.
func (s *State) LastSessionID() (session.ID, bool) {
	return s.lastSessionID, s.hasLast
}

// Pending returns the id of the session cached for the next pass.
func (s *State) Pending() (session.ID, bool) {
	if s.pending == nil {
		return session.NilID, false
	}
	return s.pending.sessionID, true
}

// Complete reports whether a pass finished every candidate without an
// early stop.
func (s *State) Complete() bool {
	return s.complete
}

// Skipped returns every session dropped so far in this request.
func (s *State) Skipped() []SkippedSession {
	return s.skipped
}

// Close releases the pending stream, if any. Safe to call more than
// once.
func (s *State) Close() error {
	if s.pending == nil {
		return nil
	}
	err := s.pending.stream.Close()
	s.pending = nil
	return err
}

func (s *State) advance(id session.ID) {
	s.lastSessionID = id
	s.hasLast = true
}

// takePending moves the cached stream out of the state if it belongs
// to id. A cached stream for any other session is closed: candidates
// changed between passes and it will not be used.
func (s *State) takePending(id session.ID) *session.Stream {
	if s.pending == nil {
		return nil
	}
	pending := s.pending
	s.pending = nil
	if pending.sessionID == id {
		return pending.stream
	}
	pending.stream.Close()
	return nil
}

// cache stores stream for the next pass. The state takes ownership.
func (s *State) cache(id session.ID, stream *session.Stream) {
	s.Close()
	s.pending = &pendingStream{sessionID: id, stream: stream}
}
