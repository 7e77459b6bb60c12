// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session defines the data model shared by the packaging
// pipeline: session identity and summaries, the selection criteria
// bitmask, owned fragment streams, and the outcome record returned to
// callers.
//
// Summaries are immutable snapshots owned by the local session index
// (lib/sessionstore). The packer, archive container, and transport
// layers reference them but never mutate them.
//
// The error taxonomy used across the pipeline lives here so that every
// layer can classify failures with errors.Is without importing the
// layer that produced them:
//
//   - [ErrInvalidFormat]: a byte stream does not parse as a fragment.
//     Recoverable; the stream is skipped.
//   - [ErrNotFound]: a requested session or file id is absent.
//   - [ErrOversizeSession]: a single session cannot fit in an empty
//     container. Recoverable; the session is skipped with a warning.
//   - [ErrDeliveryFailure]: a destination rejected a package or was
//     unreachable. Recorded per container.
//   - [ErrStateCorruption]: an index or packing invariant was violated.
//     Aborts the current container only.
//
// This package depends on no other sessionpack packages.
package session
