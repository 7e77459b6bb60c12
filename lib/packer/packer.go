// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package packer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/bureau-foundation/sessionpack/lib/archive"
	"github.com/bureau-foundation/sessionpack/lib/session"
)

// Bin is the container the packer fills. *archive.Container
// implements it.
type Bin interface {
	AddFragment(r io.Reader) error
	RemoveSession(id session.ID) bool

	// Flush persists the bin and returns its measured size on disk.
	Flush() (int64, error)

	Stats() archive.Stats
	Summaries() []session.Summary
	SetCaption(caption, description string)
	Path() string
	Dispose()
}

// BinFactory creates the next empty bin of a request. sequence counts
// bins created by this packer, starting at zero.
type BinFactory func(sequence int) (Bin, error)

// SessionSource opens the fragment stream of a session. The caller
// owns the returned stream.
type SessionSource interface {
	LoadSessionStream(ctx context.Context, id session.ID) (*session.Stream, error)
}

// Config configures a Packer.
type Config struct {
	NewBin BinFactory
	Source SessionSource

	// Logger receives per-session skip warnings. If nil, a no-op
	// logger is used.
	Logger *slog.Logger
}

// Packer fills size-bounded bins with whole sessions, first-fit in
// candidate order.
type Packer struct {
	newBin BinFactory
	source SessionSource
	logger *slog.Logger

	created int
}

// Fill is one finished bin.
type Fill struct {
	Bin         Bin
	Stats       archive.Stats
	Caption     string
	Description string

	// Size is the measured size of the bin after the final save.
	Size int64

	// ProblemSessions is set when any placed session has a critical or
	// error message or crashed.
	ProblemSessions bool

	// SessionIDs lists placed sessions in candidate order.
	SessionIDs []session.ID
}

// New creates a Packer.
func New(config Config) (*Packer, error) {
	if config.NewBin == nil {
		return nil, errors.New("packer: NewBin is required")
	}
	if config.Source == nil {
		return nil, errors.New("packer: Source is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Packer{
		newBin: config.NewBin,
		source: config.Source,
		logger: logger,
	}, nil
}

// placement records where a placed session sat in the candidate list
// and how many skips had been recorded when it was placed, so the
// session can be handed back to the state if the finished bin is over
// its bound.
type placement struct {
	index   int
	skipped int
}

type fitKind int

const (
	fitFits fitKind = iota
	fitExceeds
	fitUnrecoverable
)

// fitResult is the outcome of checking whether a stream of a given
// length fits on top of what the bin already holds. For fitFits and
// fitExceeds, base is the byte count the stream would be added to:
// the running estimate, or the measured size after a remeasure.
type fitResult struct {
	kind  fitKind
	base  int64
	cause error
}

// checkFit compares accumulated+length against bound. When the
// estimate is over, the bin is saved to learn its real compressed size
// and the comparison is repeated against that.
func checkFit(bin Bin, accumulated, length, bound int64) fitResult {
	if accumulated+length <= bound {
		return fitResult{kind: fitFits, base: accumulated}
	}
	measured, err := bin.Flush()
	if err != nil {
		return fitResult{kind: fitUnrecoverable, cause: err}
	}
	if measured+length <= bound {
		return fitResult{kind: fitFits, base: measured}
	}
	return fitResult{kind: fitExceeds, base: measured}
}

// FillOne fills exactly one bin from candidates, resuming after the
// last session recorded in state. Returns a nil Fill when no session
// was placed; state.Complete() tells whether another call can make
// progress.
//
// Sessions that fail to open or merge are logged and skipped. A
// session that cannot fit in an empty bin is dropped with
// session.ErrOversizeSession. An error return means the bin itself
// failed (it could not be saved or its index disagrees with what was
// placed); the bin is disposed and state is advanced past the session
// being placed so the next call continues with the rest.
func (p *Packer) FillOne(ctx context.Context, bound int64, candidates []session.Summary, state *State) (*Fill, error) {
	if bound <= 0 {
		return nil, fmt.Errorf("packer: bound must be positive, got %d", bound)
	}

	remaining := candidates
	if lastID, ok := state.LastSessionID(); ok {
		remaining = nil
		for i, candidate := range candidates {
			if candidate.ID == lastID {
				remaining = candidates[i+1:]
				break
			}
		}
	}
	if len(remaining) == 0 {
		state.Close()
		state.complete = true
		return nil, nil
	}

	bin, err := p.newBin(p.created)
	if err != nil {
		return nil, fmt.Errorf("packer: creating bin: %w", err)
	}
	p.created++

	fill := &Fill{Bin: bin}
	var placements []placement
	var accumulated int64
	stoppedEarly := false

	for i, candidate := range remaining {
		if err := ctx.Err(); err != nil {
			p.discard(bin)
			return nil, err
		}

		stream := state.takePending(candidate.ID)
		if stream == nil {
			stream, err = p.source.LoadSessionStream(ctx, candidate.ID)
			if err != nil {
				p.skip(state, candidate.ID, fmt.Errorf("opening session: %w", err))
				continue
			}
		}
		length := stream.Length()

		fit := checkFit(bin, accumulated, length, bound)
		if fit.kind == fitUnrecoverable {
			stream.Close()
			state.advance(candidate.ID)
			p.discard(bin)
			return nil, fmt.Errorf("packer: measuring bin: %w", fit.cause)
		}
		if fit.kind == fitFits {
			if err := mergeStream(bin, stream); err != nil {
				p.skip(state, candidate.ID, err)
				continue
			}
			accumulated = fit.base + length
			placements = append(placements, placement{index: i, skipped: len(state.skipped)})
			fill.SessionIDs = append(fill.SessionIDs, candidate.ID)
			state.advance(candidate.ID)
			continue
		}

		if len(fill.SessionIDs) > 0 {
			// The bin has other sessions; this one starts the next bin.
			state.cache(candidate.ID, stream)
			stoppedEarly = true
			break
		}

		// First session of the bin: merge anyway and let compression
		// decide.
		if err := mergeStream(bin, stream); err != nil {
			p.skip(state, candidate.ID, err)
			continue
		}
		measured, err := bin.Flush()
		if err != nil {
			state.advance(candidate.ID)
			p.discard(bin)
			return nil, fmt.Errorf("packer: measuring bin: %w", err)
		}
		if measured > bound {
			bin.RemoveSession(candidate.ID)
			accumulated = 0
			p.logger.Warn("session does not fit in an empty container, skipping",
				"session_id", candidate.ID,
				"declared_bytes", length,
				"measured_bytes", measured,
				"bound_bytes", bound,
			)
			state.skipped = append(state.skipped, SkippedSession{
				ID:  candidate.ID,
				Err: fmt.Errorf("%w: %d bytes after compression, bound %d", session.ErrOversizeSession, measured, bound),
			})
			state.advance(candidate.ID)
			continue
		}
		accumulated = measured
		placements = append(placements, placement{index: i, skipped: len(state.skipped)})
		fill.SessionIDs = append(fill.SessionIDs, candidate.ID)
		state.advance(candidate.ID)
	}

	state.complete = !stoppedEarly
	if len(fill.SessionIDs) == 0 {
		p.discard(bin)
		return nil, nil
	}
	if err := p.finalize(fill, bound, state, remaining, placements); err != nil {
		p.discard(bin)
		return nil, err
	}
	if len(fill.SessionIDs) == 0 {
		p.discard(bin)
		return nil, nil
	}
	return fill, nil
}

// discard disposes a bin that will not be delivered and removes
// whatever it saved to disk.
func (p *Packer) discard(bin Bin) {
	path := bin.Path()
	bin.Dispose()
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.Warn("removing discarded container failed", "path", path, "error", err)
	}
}

// skip records a session that could not be placed and moves past it.
func (p *Packer) skip(state *State, id session.ID, err error) {
	p.logger.Warn("skipping session", "session_id", id, "error", err)
	state.skipped = append(state.skipped, SkippedSession{ID: id, Err: err})
	state.advance(id)
}

// mergeStream adds every fragment of stream to bin and closes the
// stream. On failure the partially merged session is removed so the
// bin never holds half a session.
func mergeStream(bin Bin, stream *session.Stream) error {
	defer stream.Close()
	for _, fragment := range stream.Fragments {
		if err := bin.AddFragment(fragment.Reader); err != nil {
			bin.RemoveSession(stream.SessionID)
			return fmt.Errorf("adding fragment %s: %w", fragment.FileID, err)
		}
	}
	return nil
}

// finalize captions the bin and saves it for delivery. Placement only
// compared declared lengths against the bound, so the final save can
// come out larger once entry headers, the manifest and the caption are
// written. While it does, the last placed session is taken back out and
// state is rewound to just before it, so the next pass starts a fresh
// bin with it. A lone session that is still over is dropped as
// oversize and leaves fill with no sessions.
func (p *Packer) finalize(fill *Fill, bound int64, state *State, remaining []session.Summary, placements []placement) error {
	for {
		stats := fill.Bin.Stats()
		if stats.Sessions != len(fill.SessionIDs) {
			return fmt.Errorf("packer: %w: bin holds %d sessions, placed %d",
				session.ErrStateCorruption, stats.Sessions, len(fill.SessionIDs))
		}
		fill.Stats = stats
		fill.ProblemSessions = stats.ProblemSessions > 0
		fill.Caption, fill.Description = Caption(fill.Bin.Summaries(), stats.Bytes)
		fill.Bin.SetCaption(fill.Caption, fill.Description)

		size, err := fill.Bin.Flush()
		if err != nil {
			return fmt.Errorf("packer: saving bin: %w", err)
		}
		fill.Size = size
		if size <= bound {
			return nil
		}

		last := len(fill.SessionIDs) - 1
		id := fill.SessionIDs[last]
		fill.Bin.RemoveSession(id)
		fill.SessionIDs = fill.SessionIDs[:last]

		if last == 0 {
			p.logger.Warn("session does not fit in an empty container, skipping",
				"session_id", id,
				"measured_bytes", size,
				"bound_bytes", bound,
			)
			state.skipped = append(state.skipped, SkippedSession{
				ID:  id,
				Err: fmt.Errorf("%w: %d bytes after compression, bound %d", session.ErrOversizeSession, size, bound),
			})
			return nil
		}

		at := placements[last]
		placements = placements[:last]
		p.logger.Debug("container over bound after final save, deferring last session",
			"session_id", id,
			"measured_bytes", size,
			"bound_bytes", bound,
		)
		// Candidates after the deferred session are retried by the
		// next pass, along with any skips they produced.
		state.Close()
		state.skipped = state.skipped[:at.skipped]
		state.advance(remaining[at.index-1].ID)
		state.complete = false
	}
}
