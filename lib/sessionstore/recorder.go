// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sessionstore

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/sessionpack/lib/fragment"
	"github.com/bureau-foundation/sessionpack/lib/session"
)

// Recorder writes the current process's session into the store's
// fragment directory.
type Recorder struct {
	store  *Store
	writer *fragment.Writer
}

// StartRecording begins the active session. Only one recording may be
// active per store.
func (s *Store) StartRecording(summary session.Summary) (*Recorder, error) {
	s.recorderMu.Lock()
	defer s.recorderMu.Unlock()
	if s.recorder != nil {
		return nil, fmt.Errorf("sessionstore: session %s is already recording", s.recorder.SessionID())
	}
	if summary.ID.IsZero() {
		summary.ID = session.NewID()
	}
	writer, err := fragment.NewWriter(s.dir, summary, s.clock)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: %w", err)
	}
	s.recorder = &Recorder{store: s, writer: writer}
	s.logger.Info("recording session", "session_id", summary.ID)
	return s.recorder, nil
}

// ActiveID returns the id of the session being recorded, or
// session.NilID.
func (s *Store) ActiveID() session.ID {
	s.recorderMu.Lock()
	defer s.recorderMu.Unlock()
	if s.recorder == nil {
		return session.NilID
	}
	return s.recorder.SessionID()
}

// RotateActive seals whatever the active session has written so far
// and refreshes the index, so a following LoadSessionStream returns a
// complete copy. Without an active recording it only refreshes.
func (s *Store) RotateActive(ctx context.Context) error {
	s.recorderMu.Lock()
	recorder := s.recorder
	s.recorderMu.Unlock()
	if recorder != nil {
		if _, err := recorder.Rotate(); err != nil {
			return err
		}
	}
	return s.Refresh(ctx)
}

// SessionID returns the recorded session's id.
func (r *Recorder) SessionID() session.ID {
	return r.writer.SessionID()
}

// Write appends session body bytes.
func (r *Recorder) Write(p []byte) (int, error) {
	return r.writer.Write(p)
}

// Update changes the running summary, for example to bump message
// counters.
func (r *Recorder) Update(change func(*session.Summary)) {
	r.writer.Update(change)
}

// Rotate seals the current segment as a fragment file. Returns "" when
// nothing was written since the last rotation.
func (r *Recorder) Rotate() (string, error) {
	path, err := r.writer.Rotate()
	if err != nil {
		return path, fmt.Errorf("sessionstore: rotating active session: %w", err)
	}
	return path, nil
}

// Close ends the recording with a final status and releases the
// store's active slot.
func (r *Recorder) Close(status session.Status) error {
	s := r.store
	s.recorderMu.Lock()
	if s.recorder == r {
		s.recorder = nil
	}
	s.recorderMu.Unlock()

	if _, err := r.writer.Close(status); err != nil {
		return fmt.Errorf("sessionstore: closing active session: %w", err)
	}
	return nil
}
