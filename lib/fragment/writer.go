// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fragment

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bureau-foundation/sessionpack/lib/clock"
	"github.com/bureau-foundation/sessionpack/lib/session"
)

// Writer records the body of one session into fragment files in a
// directory. Body bytes accumulate in a hidden segment file; Rotate
// seals the segment as "<file-id>.frag" (atomic rename) and starts the
// next sequence number. Readers scanning the directory for *.frag never
// observe a partially written fragment.
//
// Writer is safe for concurrent use.
type Writer struct {
	mu       sync.Mutex
	dir      string
	clock    clock.Clock
	summary  session.Summary
	sequence int
	closed   bool

	segment      *os.File
	segmentStart time.Time
	segmentBytes int64
}

// NewWriter starts recording summary's session into dir. The summary's
// StartTime is set from clk if zero, and its Status is forced to
// running until Close.
func NewWriter(dir string, summary session.Summary, clk clock.Clock) (*Writer, error) {
	if summary.ID.IsZero() {
		return nil, fmt.Errorf("fragment writer: session id is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("fragment writer: creating %s: %w", dir, err)
	}
	if summary.StartTime.IsZero() {
		summary.StartTime = clk.Now()
	}
	summary.Status = session.StatusRunning
	writer := &Writer{
		dir:     dir,
		clock:   clk,
		summary: summary,
	}
	if err := writer.openSegment(); err != nil {
		return nil, err
	}
	return writer, nil
}

// SessionID returns the id of the session being recorded.
func (w *Writer) SessionID() session.ID {
	return w.summary.ID
}

// Write appends body bytes to the current segment.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, fmt.Errorf("fragment writer: write after close")
	}
	n, err := w.segment.Write(p)
	w.segmentBytes += int64(n)
	return n, err
}

// Update applies change to the running summary. Counters and user
// identity recorded here appear in the header of every fragment
// sealed afterwards.
func (w *Writer) Update(change func(*session.Summary)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.summary.ID
	change(&w.summary)
	w.summary.ID = id
}

// Rotate seals the current segment as a fragment file and starts a new
// one. An empty segment is not sealed; Rotate then returns "".
func (w *Writer) Rotate() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return "", fmt.Errorf("fragment writer: rotate after close")
	}
	if w.segmentBytes == 0 {
		return "", nil
	}
	path, err := w.sealLocked(false)
	if err != nil {
		return "", err
	}
	if err := w.openSegment(); err != nil {
		return path, err
	}
	return path, nil
}

// Close ends the session with the given final status and seals the
// last fragment (even when empty, so the index learns the final
// status). Close is idempotent.
func (w *Writer) Close(status session.Status) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return "", nil
	}
	w.closed = true
	w.summary.Status = status
	return w.sealLocked(true)
}

func (w *Writer) openSegment() error {
	segment, err := os.CreateTemp(w.dir, ".segment-*")
	if err != nil {
		return fmt.Errorf("fragment writer: creating segment: %w", err)
	}
	w.segment = segment
	w.segmentStart = w.clock.Now()
	w.segmentBytes = 0
	return nil
}

// sealLocked writes the segment out as a complete fragment file. Must
// be called with w.mu held. The segment file is always removed.
func (w *Writer) sealLocked(last bool) (string, error) {
	segmentPath := w.segment.Name()
	defer os.Remove(segmentPath)
	defer w.segment.Close()

	if _, err := w.segment.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("fragment writer: rewinding segment: %w", err)
	}

	now := w.clock.Now()
	w.summary.EndTime = now
	header := &Header{
		Session:   w.summary,
		FileID:    session.NewID(),
		Sequence:  w.sequence,
		FileStart: w.segmentStart,
		FileEnd:   now,
		LastFile:  last,
	}

	finalPath := filepath.Join(w.dir, FileName(header.FileID))
	output, err := os.CreateTemp(w.dir, ".sealing-*")
	if err != nil {
		return "", fmt.Errorf("fragment writer: creating fragment: %w", err)
	}
	outputPath := output.Name()
	if _, err := Write(output, header, w.segment, w.segmentBytes); err != nil {
		output.Close()
		os.Remove(outputPath)
		return "", fmt.Errorf("fragment writer: %w", err)
	}
	if err := output.Close(); err != nil {
		os.Remove(outputPath)
		return "", fmt.Errorf("fragment writer: closing fragment: %w", err)
	}
	if err := os.Rename(outputPath, finalPath); err != nil {
		os.Remove(outputPath)
		return "", fmt.Errorf("fragment writer: publishing fragment: %w", err)
	}

	w.sequence++
	return finalPath, nil
}
