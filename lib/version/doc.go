// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports which sessionpack build is running.
//
// Four variables are injected at build time via -ldflags -X:
// [GitCommit], [GitDirty], [BuildTime], and [Version]. They default to
// "unknown" and "0.1.0-dev" in development builds and tests.
//
// [Info] and [Full] format them for "sessionpack version". [UserAgent]
// is the short form recorded in container manifests and sent to
// collection servers.
package version
