// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sessionstore is the local session index: the fragment files
// recorded on this machine plus a SQLite table of their session
// summaries.
//
// Fragment files live flat in one directory, named by file id. The
// index is derived state. [Store.Refresh] rescans the directory,
// parses the session header of files it has not seen, and drops rows
// for files that have disappeared. The only state the index owns
// outright is the per-session read flag, which is what makes a session
// "new" until it has been delivered somewhere.
//
// A [Recorder] records the current process's own session. Packaging a
// request that includes the active session first rotates the recorder
// so the packaged copy contains everything written so far.
package sessionstore
