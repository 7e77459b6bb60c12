// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const defaultPoolSize = 4

// Config holds the parameters for opening a pool. Path is required.
type Config struct {
	// Path is the database file. Its directory must exist.
	Path string

	// PoolSize defaults to 4. The index has one writer and a handful
	// of readers.
	PoolSize int

	// Migrations are applied in order to databases whose user_version
	// is lower than their position. Each entry is a SQL script.
	Migrations []string

	// Logger receives open, migrate, and close messages. If nil, a
	// no-op logger is used.
	Logger *slog.Logger
}

// Pool is safe for concurrent use. Connections are not: a goroutine
// holds its own connection from Take to Put.
type Pool struct {
	inner  *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// Open creates the pool, applies pragmas, and brings the schema up to
// date.
//
// The database file is created if it does not exist. Pragmas run on
// every connection as the pool creates it, so a connection handed out
// by Take always has WAL mode and the busy timeout set. Migrations run
// once, on a borrowed connection, before Open returns; if any fails
// the pool is closed and the error names the failing step.
func Open(config Config) (*Pool, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("sqlitepool: Path is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	poolSize := config.PoolSize
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}

	inner, err := sqlitex.NewPool(config.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: opening %s: %w", config.Path, err)
	}
	pool := &Pool{inner: inner, logger: logger, path: config.Path}

	if err := pool.migrate(config.Migrations); err != nil {
		inner.Close()
		return nil, err
	}
	logger.Debug("session index opened", "path", config.Path, "pool_size", poolSize)
	return pool, nil
}

// prepareConnection configures a new connection:
//   - journal_mode=WAL lets the recorder append while a packaging
//     request reads the index
//   - synchronous=NORMAL is durable across application crashes in WAL
//     mode; only a power loss can drop the last transactions, and the
//     index is rebuilt from the fragment files by Refresh anyway
//   - busy_timeout=5000 makes a second writer wait rather than fail
//     with SQLITE_BUSY
//   - temp_store=MEMORY keeps sort spills off the disk
func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitepool: %s: %w", pragma, err)
		}
	}
	return nil
}

// migrate runs every migration past the database's user_version, each
// in its own transaction together with the version bump. A database
// whose user_version is already past the end of migrations (written
// by a newer build) is left alone; the columns this build reads are a
// subset of what later migrations add.
func (p *Pool) migrate(migrations []string) (err error) {
	if len(migrations) == 0 {
		return nil
	}
	conn, err := p.Take(context.Background())
	if err != nil {
		return err
	}
	defer p.Put(conn)

	version, err := UserVersion(conn)
	if err != nil {
		return err
	}
	for index := version; index < len(migrations); index++ {
		if err := applyMigration(conn, index, migrations[index]); err != nil {
			return err
		}
		p.logger.Info("session index migrated", "path", p.path, "version", index+1)
	}
	return nil
}

func applyMigration(conn *sqlite.Conn, index int, script string) (err error) {
	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("sqlitepool: migration %d: %w", index+1, err)
	}
	defer endTransaction(&err)
	if err = sqlitex.ExecuteScript(conn, script, nil); err != nil {
		return fmt.Errorf("sqlitepool: migration %d: %w", index+1, err)
	}
	if err = sqlitex.ExecuteTransient(conn, fmt.Sprintf("PRAGMA user_version=%d", index+1), nil); err != nil {
		return fmt.Errorf("sqlitepool: recording migration %d: %w", index+1, err)
	}
	return nil
}

// UserVersion returns the database's PRAGMA user_version.
func UserVersion(conn *sqlite.Conn) (int, error) {
	version := 0
	err := sqlitex.ExecuteTransient(conn, "PRAGMA user_version", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			version = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("sqlitepool: reading user_version: %w", err)
	}
	return version, nil
}

// Take borrows a connection. It blocks until one is free or ctx ends.
// Every Take must be paired with a Put, normally deferred. Prefer Read
// and Write, which do the pairing.
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: take: %w", err)
	}
	return conn, nil
}

// Put returns a connection taken with Take.
func (p *Pool) Put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

// Read runs fn with a borrowed connection.
func (p *Pool) Read(ctx context.Context, fn func(*sqlite.Conn) error) error {
	conn, err := p.Take(ctx)
	if err != nil {
		return err
	}
	defer p.Put(conn)
	return fn(conn)
}

// Write runs fn inside an IMMEDIATE transaction. The transaction
// commits when fn returns nil and rolls back otherwise, including when
// fn panics. IMMEDIATE takes the write lock at BEGIN, so two writers
// queue on the busy timeout instead of failing at their first write
// with a lock upgrade error.
func (p *Pool) Write(ctx context.Context, fn func(*sqlite.Conn) error) (err error) {
	conn, err := p.Take(ctx)
	if err != nil {
		return err
	}
	defer p.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("sqlitepool: begin transaction: %w", err)
	}
	defer endTransaction(&err)
	return fn(conn)
}

// Close waits for borrowed connections to return, then closes them.
func (p *Pool) Close() error {
	if err := p.inner.Close(); err != nil {
		p.logger.Error("closing session index failed", "path", p.path, "error", err)
		return fmt.Errorf("sqlitepool: closing %s: %w", p.path, err)
	}
	return nil
}
