// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sessionstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/sessionpack/lib/clock"
	"github.com/bureau-foundation/sessionpack/lib/fragment"
	"github.com/bureau-foundation/sessionpack/lib/fragment/fragmenttest"
	"github.com/bureau-foundation/sessionpack/lib/session"
)

func openTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	store, err := Open(Config{
		Dir:   dir,
		Clock: clock.Fake(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func importStream(t *testing.T, store *Store, data []byte) string {
	t.Helper()
	path, err := store.ImportFragment(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ImportFragment: %v", err)
	}
	return path
}

func refresh(t *testing.T, store *Store) {
	t.Helper()
	if err := store.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
}

func findAll(t *testing.T, store *Store) []session.Summary {
	t.Helper()
	summaries, err := store.Find(context.Background(), nil)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	return summaries
}

func TestRefreshIndexesLatestSummary(t *testing.T) {
	store := openTestStore(t, t.TempDir())

	early := fragmenttest.Summary("Acme", "Shop", "alice")
	running := early
	running.Status = session.StatusRunning
	finished := early
	finished.ErrorCount = 2

	late := fragmenttest.Summary("Acme", "Admin", "bob")
	late.StartTime = early.StartTime.Add(time.Hour)

	// The later fragment arrives first; the index must still end up
	// with its summary.
	importStream(t, store, fragmenttest.Stream(t, finished, 1, []byte("second half")))
	importStream(t, store, fragmenttest.Stream(t, late, 0, []byte("other session")))
	refresh(t, store)
	importStream(t, store, fragmenttest.Stream(t, running, 0, []byte("first half")))
	refresh(t, store)

	summaries := findAll(t, store)
	if len(summaries) != 2 {
		t.Fatalf("indexed %d sessions, want 2", len(summaries))
	}
	if summaries[0].ID != early.ID || summaries[1].ID != late.ID {
		t.Errorf("sessions not ordered by start time: %v, %v", summaries[0].ID, summaries[1].ID)
	}
	got := summaries[0]
	if got.Status != session.StatusCompleted || got.ErrorCount != 2 {
		t.Errorf("summary = %+v, want completed with 2 errors", got)
	}
	if !got.IsNew {
		t.Error("fresh session should be new")
	}
	if !got.StartTime.Equal(early.StartTime) {
		t.Errorf("StartTime = %v, want %v", got.StartTime, early.StartTime)
	}

	stream, err := store.LoadSessionStream(context.Background(), early.ID)
	if err != nil {
		t.Fatalf("LoadSessionStream: %v", err)
	}
	defer stream.Close()
	if len(stream.Fragments) != 2 {
		t.Fatalf("stream has %d fragments, want 2", len(stream.Fragments))
	}
	for i, fragmentRow := range stream.Fragments {
		if fragmentRow.Sequence != i {
			t.Errorf("fragment %d has sequence %d", i, fragmentRow.Sequence)
		}
		data, err := io.ReadAll(fragmentRow.Reader)
		if err != nil {
			t.Fatalf("reading fragment: %v", err)
		}
		if int64(len(data)) != fragmentRow.Length {
			t.Errorf("fragment %d: read %d bytes, declared %d", i, len(data), fragmentRow.Length)
		}
		header, _, err := fragment.ReadHeader(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("ReadHeader: %v", err)
		}
		if header.FileID != fragmentRow.FileID {
			t.Errorf("fragment %d file id mismatch", i)
		}
	}
}

func TestRefreshSkipsInvalidFiles(t *testing.T) {
	dir := t.TempDir()
	store := openTestStore(t, dir)

	summary := fragmenttest.Summary("Acme", "Shop", "alice")
	valid := fragmenttest.Stream(t, summary, 0, fragmenttest.CompressibleBody(512))
	importStream(t, store, valid)

	other := fragmenttest.Summary("Acme", "Shop", "carol")
	truncated := fragmenttest.Stream(t, other, 0, fragmenttest.CompressibleBody(512))
	if err := os.WriteFile(filepath.Join(dir, "truncated.frag"), truncated[:len(truncated)-10], 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "junk.frag"), []byte("not a fragment"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	refresh(t, store)
	summaries := findAll(t, store)
	if len(summaries) != 1 || summaries[0].ID != summary.ID {
		t.Fatalf("indexed %v, want only %s", summaries, summary.ID)
	}
}

func TestRefreshDropsVanishedFiles(t *testing.T) {
	store := openTestStore(t, t.TempDir())

	kept := fragmenttest.Summary("Acme", "Shop", "alice")
	removed := fragmenttest.Summary("Acme", "Shop", "bob")
	importStream(t, store, fragmenttest.Stream(t, kept, 0, []byte("kept")))
	removedPath := importStream(t, store, fragmenttest.Stream(t, removed, 0, []byte("removed")))
	refresh(t, store)
	if len(findAll(t, store)) != 2 {
		t.Fatal("expected two sessions before removal")
	}

	if err := os.Remove(removedPath); err != nil {
		t.Fatal(err)
	}
	refresh(t, store)

	summaries := findAll(t, store)
	if len(summaries) != 1 || summaries[0].ID != kept.ID {
		t.Fatalf("after removal indexed %v", summaries)
	}
	_, err := store.LoadSessionStream(context.Background(), removed.ID)
	if !errors.Is(err, session.ErrNotFound) {
		t.Errorf("LoadSessionStream(removed) error = %v, want ErrNotFound", err)
	}
	if _, err := store.Summary(context.Background(), removed.ID); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Summary(removed) error = %v, want ErrNotFound", err)
	}
}

func TestSetSessionsReadPersists(t *testing.T) {
	dir := t.TempDir()
	store := openTestStore(t, dir)

	first := fragmenttest.Summary("Acme", "Shop", "alice")
	second := fragmenttest.Summary("Acme", "Shop", "bob")
	importStream(t, store, fragmenttest.Stream(t, first, 0, []byte("a")))
	importStream(t, store, fragmenttest.Stream(t, second, 0, []byte("b")))
	refresh(t, store)

	updated, err := store.SetSessionsRead(context.Background(), []session.ID{first.ID, session.NewID()}, true)
	if err != nil {
		t.Fatalf("SetSessionsRead: %v", err)
	}
	if updated != 1 {
		t.Errorf("updated %d sessions, want 1", updated)
	}

	selection := session.Selection{Criteria: session.NewSessions}
	newSessions, err := store.Find(context.Background(), selection.Match)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(newSessions) != 1 || newSessions[0].ID != second.ID {
		t.Fatalf("new sessions = %v, want only %s", newSessions, second.ID)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	reopened := openTestStore(t, dir)
	refresh(t, reopened)
	summary, err := reopened.Summary(context.Background(), first.ID)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary.IsNew {
		t.Error("read flag did not survive reopening")
	}
}

func TestRecorderRotateActive(t *testing.T) {
	store := openTestStore(t, t.TempDir())

	recorder, err := store.StartRecording(session.Summary{Product: "Acme", Application: "Shop"})
	if err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if _, err := store.StartRecording(session.Summary{Product: "Acme"}); err == nil {
		t.Error("second StartRecording should fail")
	}
	activeID := store.ActiveID()
	if activeID.IsZero() || activeID != recorder.SessionID() {
		t.Fatalf("ActiveID = %v, recorder = %v", activeID, recorder.SessionID())
	}

	if _, err := recorder.Write([]byte("event data so far")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	recorder.Update(func(summary *session.Summary) { summary.WarningCount = 1 })
	if err := store.RotateActive(context.Background()); err != nil {
		t.Fatalf("RotateActive: %v", err)
	}

	selection := session.Selection{Criteria: session.ActiveSession | session.WarningSessions, ActiveID: activeID}
	matched, err := store.Find(context.Background(), selection.Match)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(matched) != 1 || matched[0].ID != activeID || !matched[0].Running() {
		t.Fatalf("active selection = %+v", matched)
	}

	// Without the active bit a running session never matches.
	warnings := session.Selection{Criteria: session.WarningSessions}
	if matched, _ := store.Find(context.Background(), warnings.Match); len(matched) != 0 {
		t.Errorf("running session matched warning criteria: %+v", matched)
	}

	if err := recorder.Close(session.StatusCompleted); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !store.ActiveID().IsZero() {
		t.Error("ActiveID should be cleared after Close")
	}
	refresh(t, store)
	summary, err := store.Summary(context.Background(), activeID)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary.Status != session.StatusCompleted || summary.WarningCount != 1 {
		t.Errorf("final summary = %+v", summary)
	}
	stream, err := store.LoadSessionStream(context.Background(), activeID)
	if err != nil {
		t.Fatalf("LoadSessionStream: %v", err)
	}
	defer stream.Close()
	if len(stream.Fragments) != 2 {
		t.Errorf("recorded %d fragments, want 2", len(stream.Fragments))
	}
}

func TestDeleteSession(t *testing.T) {
	dir := t.TempDir()
	store := openTestStore(t, dir)

	summary := fragmenttest.Summary("Acme", "Shop", "alice")
	path := importStream(t, store, fragmenttest.Stream(t, summary, 0, []byte("bye")))
	refresh(t, store)

	if err := store.DeleteSession(context.Background(), summary.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("fragment file still present: %v", err)
	}
	if len(findAll(t, store)) != 0 {
		t.Error("deleted session still indexed")
	}
	if err := store.DeleteSession(context.Background(), summary.ID); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("second DeleteSession error = %v, want ErrNotFound", err)
	}
}

func TestImportRejectsTruncatedStream(t *testing.T) {
	dir := t.TempDir()
	store := openTestStore(t, dir)
	data := fragmenttest.Stream(t, fragmenttest.Summary("Acme", "Shop", "alice"), 0, []byte("payload"))
	if _, err := store.ImportFragment(bytes.NewReader(data[:len(data)-3])); !errors.Is(err, session.ErrInvalidFormat) {
		t.Fatalf("ImportFragment error = %v, want ErrInvalidFormat", err)
	}
	leftovers, _ := filepath.Glob(filepath.Join(dir, ".import-*"))
	if len(leftovers) != 0 {
		t.Errorf("temporary files left behind: %v", leftovers)
	}
}
