// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package packager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/bureau-foundation/sessionpack/lib/archive"
	"github.com/bureau-foundation/sessionpack/lib/asynctask"
	"github.com/bureau-foundation/sessionpack/lib/clock"
	"github.com/bureau-foundation/sessionpack/lib/delivery"
	"github.com/bureau-foundation/sessionpack/lib/packer"
	"github.com/bureau-foundation/sessionpack/lib/session"
	"github.com/bureau-foundation/sessionpack/lib/transport"
)

// Index is the local session index a Packager reads from.
// *sessionstore.Store implements it.
type Index interface {
	packer.SessionSource

	Refresh(ctx context.Context) error
	Find(ctx context.Context, predicate session.Predicate) ([]session.Summary, error)
	SetSessionsRead(ctx context.Context, ids []session.ID, read bool) (int, error)

	// RotateActive seals the active session's open segment and
	// refreshes.
	RotateActive(ctx context.Context) error
	ActiveID() session.ID
}

// Config configures a Packager.
type Config struct {
	Index Index

	// Scheduler delivers containers. Share one between packagers that
	// should deliver through the same worker.
	Scheduler *transport.Scheduler

	// Runner runs requests. Defaults to a runner on Clock and Logger.
	Runner *asynctask.Runner

	// WorkDir holds containers while they are built and delivered.
	// Defaults to os.TempDir().
	WorkDir string

	// Compression for new containers. Defaults to Deflate.
	Compression archive.Compression

	Clock clock.Clock

	// Logger receives request progress. If nil, a no-op logger is used.
	Logger *slog.Logger
}

// Packager runs packaging requests. It is safe for concurrent use;
// concurrent requests share the scheduler's single worker.
type Packager struct {
	index       Index
	scheduler   *transport.Scheduler
	runner      *asynctask.Runner
	workDir     string
	compression archive.Compression
	logger      *slog.Logger
}

// New creates a Packager.
func New(config Config) (*Packager, error) {
	if config.Index == nil {
		return nil, errors.New("packager: Index is required")
	}
	if config.Scheduler == nil {
		return nil, errors.New("packager: Scheduler is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	runner := config.Runner
	if runner == nil {
		runner = &asynctask.Runner{Clock: clk, Logger: logger}
	}
	workDir := config.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	compression := config.Compression
	if compression == "" {
		compression = archive.CompressionDeflate
	}
	return &Packager{
		index:       config.Index,
		scheduler:   config.Scheduler,
		runner:      runner,
		workDir:     workDir,
		compression: compression,
		logger:      logger,
	}, nil
}

// Request is one "package and send" operation.
type Request struct {
	Selection   session.Selection
	Destination delivery.Destination

	// Async returns from Send immediately; the final outcome goes to
	// OnComplete.
	Async bool

	// OnComplete, if set, receives the final outcome in both modes.
	OnComplete func(session.Outcome)
}

// Send runs request. Destination validation errors are returned before
// any work starts.
//
// A synchronous Send returns the aggregate outcome, with a non-nil
// error when it is an Error outcome. An asynchronous Send returns an
// Unknown outcome and nil; the real outcome arrives via OnComplete.
func (p *Packager) Send(ctx context.Context, request Request) (session.Outcome, error) {
	if request.Destination == nil {
		return session.Outcome{}, errors.New("packager: destination is required")
	}
	if err := request.Destination.Validate(); err != nil {
		return session.Failed("destination configuration is invalid", err), err
	}

	if request.Selection.Empty() {
		outcome := session.Informational("no sessions requested")
		if request.OnComplete != nil {
			request.OnComplete(outcome)
		}
		return outcome, nil
	}

	title := fmt.Sprintf("sending sessions to %s", request.Destination.Name())
	var final session.Outcome
	onComplete := func(_ string, outcome session.Outcome) {
		final = outcome
		if request.OnComplete != nil {
			request.OnComplete(outcome)
		}
	}
	task := func(ctx context.Context, state any) session.Outcome {
		return p.run(ctx, state.(Request))
	}

	err := p.runner.Execute(ctx, task, title, request, request.Async, onComplete)
	if request.Async {
		return session.Outcome{Result: session.ResultUnknown, Message: title}, nil
	}
	return final, err
}

// run performs one request on the calling goroutine.
func (p *Packager) run(ctx context.Context, request Request) session.Outcome {
	destination := request.Destination
	selection := request.Selection
	logger := p.logger.With("destination", destination.Name())

	if selection.Criteria.Has(session.ActiveSession) {
		if selection.ActiveID.IsZero() {
			selection.ActiveID = p.index.ActiveID()
		}
		if err := p.index.RotateActive(ctx); err != nil {
			return session.Failed("rotating the active session failed", err)
		}
	} else if err := p.index.Refresh(ctx); err != nil {
		return session.Failed("refreshing the session index failed", err)
	}

	candidates, err := p.index.Find(ctx, selection.Match)
	if err != nil {
		return session.Failed("reading the session index failed", err)
	}
	if len(candidates) == 0 {
		logger.Info("no sessions matched", "criteria", selection.Criteria.String())
		return session.Informational("no sessions matched")
	}

	bound, err := destination.Bound()
	if err != nil {
		return session.Failed(fmt.Sprintf("%s: determining size limit failed", destination.Name()), err)
	}
	if bound <= 0 {
		return session.Failed(
			fmt.Sprintf("%s: no space available", destination.Name()),
			fmt.Errorf("%w: %s reports a bound of %d bytes", session.ErrDeliveryFailure, destination.Name(), bound),
		)
	}

	requestDir, err := os.MkdirTemp(p.workDir, "request-")
	if err != nil {
		return session.Failed("creating a work directory failed", err)
	}
	defer func() {
		if err := os.RemoveAll(requestDir); err != nil {
			logger.Warn("removing work directory failed", "path", requestDir, "error", err)
		}
	}()

	logger.Info("packaging sessions",
		"candidates", len(candidates),
		"bound", humanize.Bytes(uint64(bound)),
	)
	return p.pack(ctx, request, candidates, bound, requestDir, logger)
}

// pack fills and submits containers, then waits for every delivery to
// come back.
func (p *Packager) pack(ctx context.Context, request Request, candidates []session.Summary, bound int64, dir string, logger *slog.Logger) session.Outcome {
	newBin := func(sequence int) (packer.Bin, error) {
		path := filepath.Join(dir, fmt.Sprintf("package-%d%s", sequence+1, archive.PackageExtension))
		container, err := archive.Create(path, archive.Options{
			Compression: p.compression,
			TempDir:     dir,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		return container, nil
	}
	binPacker, err := packer.New(packer.Config{NewBin: newBin, Source: p.index, Logger: logger})
	if err != nil {
		return session.Failed("creating the packer failed", err)
	}

	state := packer.NewState()
	defer state.Close()

	// Cleanup of finished deliveries outlives cancellation of the
	// request; containers must never be left behind.
	cleanupCtx := context.WithoutCancel(ctx)
	batch := p.scheduler.NewBatch(cleanupCtx)
	collect := func(item *transport.Item) { p.cleanup(cleanupCtx, item, logger) }

	var extra []session.Outcome
	delivered := 0
	sessions := 0
	for !state.Complete() {
		if err := ctx.Err(); err != nil {
			extra = append(extra, session.Outcome{
				Result:  session.ResultCanceled,
				Message: "packaging canceled",
				Cause:   err,
			})
			break
		}

		before, _ := state.LastSessionID()
		fill, err := binPacker.FillOne(ctx, bound, candidates, state)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.Warn("container failed", "error", err)
			extra = append(extra, session.Failed("building a package failed", err))
			if after, _ := state.LastSessionID(); after == before {
				// No progress is possible; the container could not
				// even be created.
				break
			}
			continue
		}
		if fill == nil {
			continue
		}

		batch.Submit(&transport.Item{
			Fill: fill,
			Package: &delivery.Package{
				Path:        fill.Bin.Path(),
				Caption:     fill.Caption,
				Description: fill.Description,
				Stats:       fill.Stats,
				Size:        fill.Size,
				Problems:    fill.ProblemSessions,
				SessionIDs:  fill.SessionIDs,
				Index:       delivered,
			},
			Destination: request.Destination,
		})
		delivered++
		sessions += len(fill.SessionIDs)

		for {
			item, ok := batch.TryCollect()
			if !ok {
				break
			}
			collect(item)
		}
	}

	if err := batch.Drain(cleanupCtx, collect); err != nil {
		extra = append(extra, session.Failed("waiting for deliveries failed", err))
	}

	skipped := state.Skipped()
	if len(skipped) > 0 {
		extra = append(extra, skippedOutcome(skipped, delivered))
	}

	outcomes := extra
	if delivered > 0 {
		outcomes = append([]session.Outcome{batch.Outcome()}, extra...)
	}
	outcome := session.Aggregate(outcomes...)
	if outcome.Result == session.ResultSuccess {
		outcome.Message = fmt.Sprintf("delivered %d session(s) in %d package(s) to %s (%s)",
			sessions, delivered, request.Destination.Name(), humanize.Bytes(uint64(outcome.BytesDelivered)))
	}
	logger.Info("packaging request finished",
		"result", outcome.Result.String(),
		"packages", delivered,
		"sessions", sessions,
		"skipped", len(skipped),
		"bytes", outcome.BytesDelivered,
	)
	return outcome
}

// skippedOutcome summarizes sessions the packer could not place.
func skippedOutcome(skipped []packer.SkippedSession, delivered int) session.Outcome {
	causes := make([]error, 0, len(skipped))
	oversize := 0
	for _, entry := range skipped {
		causes = append(causes, fmt.Errorf("session %s: %w", entry.ID, entry.Err))
		if errors.Is(entry.Err, session.ErrOversizeSession) {
			oversize++
		}
	}
	message := fmt.Sprintf("%d session(s) skipped", len(skipped))
	if delivered == 0 && oversize == len(skipped) {
		message = "no session fits within the destination's size limit"
	}
	return session.Outcome{
		Result:  session.ResultWarning,
		Message: message,
		Cause:   errors.Join(causes...),
	}
}

// cleanup finishes one delivered container: sessions of a successful
// delivery are marked read, and the container is disposed and its
// file removed either way.
func (p *Packager) cleanup(ctx context.Context, item *transport.Item, logger *slog.Logger) {
	if !item.Outcome.Failure() && item.Outcome.Result != session.ResultCanceled {
		if _, err := p.index.SetSessionsRead(ctx, item.Fill.SessionIDs, true); err != nil {
			logger.Warn("marking delivered sessions read failed",
				"package", item.Package.Caption,
				"error", err,
			)
		}
	}
	path := item.Fill.Bin.Path()
	item.Fill.Bin.Dispose()
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("removing delivered container failed", "path", path, "error", err)
	}
}
