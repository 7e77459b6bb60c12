// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool is the SQLite connection pool behind the local
// session index.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool and applies one set
// of pragmas to every connection: WAL journaling so the recorder can
// write while a packaging request reads, NORMAL synchronous, a busy
// timeout for writer contention, and an in-memory temp store.
//
// Schema changes are expressed as an ordered list of migrations. Open
// applies the ones a database has not seen yet, tracking progress in
// PRAGMA user_version, so an index written by an older build upgrades
// in place. Migrations are append-only: never edit one that has
// shipped.
//
// [Pool.Read] and [Pool.Write] cover the common case of borrowing a
// connection for one unit of work; Write wraps the work in an
// IMMEDIATE transaction. Callers that need finer control use
// [Pool.Take] and [Pool.Put] directly.
package sqlitepool
