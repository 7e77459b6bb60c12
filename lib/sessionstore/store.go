// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/sessionpack/lib/clock"
	"github.com/bureau-foundation/sessionpack/lib/fragment"
	"github.com/bureau-foundation/sessionpack/lib/session"
	"github.com/bureau-foundation/sessionpack/lib/sqlitepool"
)

// DefaultIndexName is the index file created in Dir when
// Config.IndexPath is empty.
const DefaultIndexName = "index.db"

// Config configures a Store.
type Config struct {
	// Dir holds the fragment files. Created if missing.
	Dir string

	// IndexPath is the SQLite index. Defaults to Dir/index.db.
	IndexPath string

	// Clock stamps recorder fragments. Defaults to clock.Real().
	Clock clock.Clock

	// Logger receives scan warnings for unreadable fragments. If nil,
	// a no-op logger is used.
	Logger *slog.Logger
}

// Store is the local session index. It is safe for concurrent use.
type Store struct {
	dir    string
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger

	// refreshMu serializes directory scans.
	refreshMu sync.Mutex

	recorderMu sync.Mutex
	recorder   *Recorder

	closeOnce sync.Once
	closeErr  error
}

// Open opens (or creates) the index and its fragment directory. The
// caller should Refresh before the first query.
func Open(config Config) (*Store, error) {
	if config.Dir == "" {
		return nil, errors.New("sessionstore: Dir is required")
	}
	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("sessionstore: creating %s: %w", config.Dir, err)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	indexPath := config.IndexPath
	if indexPath == "" {
		indexPath = filepath.Join(config.Dir, DefaultIndexName)
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:       indexPath,
		Migrations: migrations,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("sessionstore: %w", err)
	}
	return &Store{
		dir:    config.Dir,
		pool:   pool,
		clock:  clk,
		logger: logger,
	}, nil
}

// Dir returns the fragment directory.
func (s *Store) Dir() string {
	return s.dir
}

// Close ends an active recording as crashed and closes the index.
// Later calls return the first call's result.
func (s *Store) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.close() })
	return s.closeErr
}

func (s *Store) close() error {
	s.recorderMu.Lock()
	recorder := s.recorder
	s.recorder = nil
	s.recorderMu.Unlock()

	var errs []error
	if recorder != nil {
		if _, err := recorder.writer.Close(session.StatusCrashed); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.pool.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// indexedFragment is one row of the fragments table.
type indexedFragment struct {
	fileID    session.ID
	sessionID session.ID
	sequence  int
	name      string
	length    int64
}

// scannedFragment is a fragment file parsed during Refresh.
type scannedFragment struct {
	indexedFragment
	header *fragment.Header
}

// Refresh brings the index in line with the fragment directory. Files
// that cannot be parsed, or whose size disagrees with their declared
// length, are logged and left out of the index.
func (s *Store) Refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	known := make(map[string]indexedFragment)
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT file_id, session_id, sequence, name, length FROM fragments`,
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					row, err := scanFragment(stmt)
					if err != nil {
						return err
					}
					known[row.name] = row
					return nil
				},
			})
	})
	if err != nil {
		return fmt.Errorf("sessionstore: reading fragment index: %w", err)
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("sessionstore: scanning %s: %w", s.dir, err)
	}
	present := make(map[string]bool)
	var added []scannedFragment
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fragment.Extension) || strings.HasPrefix(name, ".") {
			continue
		}
		present[name] = true
		if _, ok := known[name]; ok {
			continue
		}
		scanned, err := s.scanFile(name)
		if err != nil {
			s.logger.Warn("skipping unreadable fragment", "file", name, "error", err)
			continue
		}
		added = append(added, scanned)
	}

	var vanished []indexedFragment
	for name, row := range known {
		if !present[name] {
			vanished = append(vanished, row)
		}
	}
	if len(added) == 0 && len(vanished) == 0 {
		return nil
	}

	err = s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		for _, row := range vanished {
			if err := sqlitex.Execute(conn, `DELETE FROM fragments WHERE file_id = ?`,
				&sqlitex.ExecOptions{Args: []any{row.fileID.String()}}); err != nil {
				return err
			}
		}
		for _, scanned := range added {
			if err := insertFragment(conn, scanned); err != nil {
				return err
			}
		}
		// Sessions whose every fragment vanished go with them.
		return sqlitex.Execute(conn,
			`DELETE FROM sessions WHERE id NOT IN (SELECT DISTINCT session_id FROM fragments)`, nil)
	})
	if err != nil {
		return fmt.Errorf("sessionstore: updating index: %w", err)
	}
	s.logger.Debug("session index refreshed",
		"dir", s.dir,
		"added", len(added),
		"removed", len(vanished),
	)
	return nil
}

// scanFile parses the session header of one fragment file.
func (s *Store) scanFile(name string) (scannedFragment, error) {
	file, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return scannedFragment{}, err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return scannedFragment{}, err
	}
	header, fileHeader, err := fragment.ReadHeader(file)
	if err != nil {
		return scannedFragment{}, err
	}
	if fileHeader.StreamLength() != info.Size() {
		return scannedFragment{}, fmt.Errorf("%w: file is %d bytes, header declares %d",
			session.ErrInvalidFormat, info.Size(), fileHeader.StreamLength())
	}
	return scannedFragment{
		indexedFragment: indexedFragment{
			fileID:    header.FileID,
			sessionID: header.Session.ID,
			sequence:  header.Sequence,
			name:      name,
			length:    info.Size(),
		},
		header: header,
	}, nil
}

func insertFragment(conn *sqlite.Conn, scanned scannedFragment) error {
	err := sqlitex.Execute(conn,
		`INSERT OR REPLACE INTO fragments (file_id, session_id, sequence, name, length) VALUES (?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			scanned.fileID.String(),
			scanned.sessionID.String(),
			scanned.sequence,
			scanned.name,
			scanned.length,
		}})
	if err != nil {
		return err
	}
	summary := scanned.header.Session
	return sqlitex.Execute(conn, upsertSession, &sqlitex.ExecOptions{Args: []any{
		summary.ID.String(),
		summary.Product,
		summary.Application,
		summary.ApplicationVersion,
		summary.HostName,
		summary.UserName,
		int(summary.Status),
		summary.CriticalCount,
		summary.ErrorCount,
		summary.WarningCount,
		summary.MessageCount,
		unixNano(summary.StartTime),
		unixNano(summary.EndTime),
		scanned.sequence,
	}})
}

func scanFragment(stmt *sqlite.Stmt) (indexedFragment, error) {
	fileID, err := session.ParseID(stmt.ColumnText(0))
	if err != nil {
		return indexedFragment{}, err
	}
	sessionID, err := session.ParseID(stmt.ColumnText(1))
	if err != nil {
		return indexedFragment{}, err
	}
	return indexedFragment{
		fileID:    fileID,
		sessionID: sessionID,
		sequence:  stmt.ColumnInt(2),
		name:      stmt.ColumnText(3),
		length:    stmt.ColumnInt64(4),
	}, nil
}

// scanSummary reads a row selected with summaryColumns.
func scanSummary(stmt *sqlite.Stmt) (session.Summary, error) {
	id, err := session.ParseID(stmt.ColumnText(0))
	if err != nil {
		return session.Summary{}, err
	}
	return session.Summary{
		ID:                 id,
		Product:            stmt.ColumnText(1),
		Application:        stmt.ColumnText(2),
		ApplicationVersion: stmt.ColumnText(3),
		HostName:           stmt.ColumnText(4),
		UserName:           stmt.ColumnText(5),
		Status:             session.Status(stmt.ColumnInt(6)),
		CriticalCount:      stmt.ColumnInt(7),
		ErrorCount:         stmt.ColumnInt(8),
		WarningCount:       stmt.ColumnInt(9),
		MessageCount:       stmt.ColumnInt(10),
		StartTime:          fromUnixNano(stmt.ColumnInt64(11)),
		EndTime:            fromUnixNano(stmt.ColumnInt64(12)),
		IsNew:              stmt.ColumnInt64(13) == 0,
	}, nil
}

// Find returns the indexed sessions accepted by predicate, ordered by
// start time then id. A nil predicate accepts everything.
func (s *Store) Find(ctx context.Context, predicate session.Predicate) ([]session.Summary, error) {
	var summaries []session.Summary
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT `+summaryColumns+` FROM sessions ORDER BY start_time, id`,
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					summary, err := scanSummary(stmt)
					if err != nil {
						return err
					}
					if predicate == nil || predicate(summary) {
						summaries = append(summaries, summary)
					}
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("sessionstore: find: %w", err)
	}
	return summaries, nil
}

// Summary returns one session's summary, or session.ErrNotFound.
func (s *Store) Summary(ctx context.Context, id session.ID) (session.Summary, error) {
	var summary session.Summary
	found := false
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT `+summaryColumns+` FROM sessions WHERE id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{id.String()},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					var err error
					summary, err = scanSummary(stmt)
					found = err == nil
					return err
				},
			})
	})
	if err != nil {
		return session.Summary{}, fmt.Errorf("sessionstore: summary %s: %w", id, err)
	}
	if !found {
		return session.Summary{}, fmt.Errorf("sessionstore: session %s: %w", id, session.ErrNotFound)
	}
	return summary, nil
}

// LoadSessionStream opens every indexed fragment of a session in
// sequence order. The caller owns the returned stream.
func (s *Store) LoadSessionStream(ctx context.Context, id session.ID) (*session.Stream, error) {
	var rows []indexedFragment
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT file_id, session_id, sequence, name, length FROM fragments
			 WHERE session_id = ? ORDER BY sequence, file_id`,
			&sqlitex.ExecOptions{
				Args: []any{id.String()},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					row, err := scanFragment(stmt)
					if err != nil {
						return err
					}
					rows = append(rows, row)
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("sessionstore: loading session %s: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sessionstore: session %s: %w", id, session.ErrNotFound)
	}

	stream := &session.Stream{SessionID: id}
	for _, row := range rows {
		file, err := os.Open(filepath.Join(s.dir, row.name))
		if err != nil {
			stream.Close()
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("sessionstore: fragment %s of session %s: %w", row.name, id, session.ErrNotFound)
			}
			return nil, fmt.Errorf("sessionstore: opening fragment %s: %w", row.name, err)
		}
		stream.Fragments = append(stream.Fragments, session.Fragment{
			FileID:   row.fileID,
			Sequence: row.sequence,
			Length:   row.length,
			Reader:   file,
		})
	}
	return stream, nil
}

// SetSessionsRead sets or clears the read flag. Unknown ids are
// ignored. Returns the number of sessions updated.
func (s *Store) SetSessionsRead(ctx context.Context, ids []session.ID, read bool) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	flag := 0
	if read {
		flag = 1
	}
	updated := 0
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		for _, id := range ids {
			err := sqlitex.Execute(conn, `UPDATE sessions SET is_read = ? WHERE id = ?`,
				&sqlitex.ExecOptions{Args: []any{flag, id.String()}})
			if err != nil {
				return err
			}
			updated += conn.Changes()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sessionstore: marking sessions read: %w", err)
	}
	return updated, nil
}

// DeleteSession removes a session's fragment files and index rows.
// The active session cannot be deleted.
func (s *Store) DeleteSession(ctx context.Context, id session.ID) error {
	if id == s.ActiveID() {
		return fmt.Errorf("sessionstore: session %s is recording", id)
	}
	stream, err := s.LoadSessionStream(ctx, id)
	if err != nil {
		return err
	}
	var names []string
	for _, fragment := range stream.Fragments {
		if file, ok := fragment.Reader.(*os.File); ok {
			names = append(names, file.Name())
		}
	}
	stream.Close()

	err = s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, `DELETE FROM fragments WHERE session_id = ?`,
			&sqlitex.ExecOptions{Args: []any{id.String()}}); err != nil {
			return err
		}
		return sqlitex.Execute(conn, `DELETE FROM sessions WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{id.String()}})
	})
	if err != nil {
		return fmt.Errorf("sessionstore: deleting session %s: %w", id, err)
	}
	for _, name := range names {
		if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("removing fragment file failed", "path", name, "error", err)
		}
	}
	return nil
}

// ImportFragment copies a complete fragment stream into the fragment
// directory under its canonical name. The index picks it up on the
// next Refresh.
func (s *Store) ImportFragment(r io.Reader) (string, error) {
	temporary, err := os.CreateTemp(s.dir, ".import-*")
	if err != nil {
		return "", fmt.Errorf("sessionstore: import: %w", err)
	}
	temporaryPath := temporary.Name()
	fail := func(err error) (string, error) {
		temporary.Close()
		os.Remove(temporaryPath)
		return "", fmt.Errorf("sessionstore: import: %w", err)
	}

	header, fileHeader, err := fragment.ReadHeader(io.TeeReader(r, temporary))
	if err != nil {
		return fail(err)
	}
	remaining := fileHeader.StreamLength() - int64(fragment.FileHeaderSize) - int64(fileHeader.HeaderLength)
	if _, err := io.CopyN(temporary, r, remaining); err != nil {
		return fail(fmt.Errorf("%w: copying body: %v", session.ErrInvalidFormat, err))
	}
	if err := temporary.Close(); err != nil {
		os.Remove(temporaryPath)
		return "", fmt.Errorf("sessionstore: import: %w", err)
	}
	target := filepath.Join(s.dir, fragment.FileName(header.FileID))
	if err := os.Rename(temporaryPath, target); err != nil {
		os.Remove(temporaryPath)
		return "", fmt.Errorf("sessionstore: import: %w", err)
	}
	return target, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
