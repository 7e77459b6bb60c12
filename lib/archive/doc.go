// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive implements the archive container: the indexed,
// compressed file that carries session fragments from the packer to a
// destination.
//
// A container is a zip file (klauspost/compress/zip) with this layout:
//
//	SessionFragments/<file-id>.frag   one entry per fragment stream
//	<anything>.session                legacy whole-session entries
//	Manifest.cbor                     caption, description, digests
//
// The in-memory index maps session id to the session's most recent
// summary and its ordered fragment entries. It is rebuilt from the
// entries whenever a container is opened or saved: each fragment entry
// is opened and only its file header and session header are read (see
// lib/fragment), so recovery cost is independent of fragment size.
// Entries that fail to parse are logged and skipped; the manifest is
// optional and only contributes caption, description, and digests.
//
// Fragments added with [Container.AddFragment] are staged as copies in
// the container's private temp directory until [Container.Save] writes
// them. Save always writes a complete new file next to the target,
// renames it into place, and reopens it, so the index afterwards
// reflects exactly what was persisted and the measured file size is
// the true compressed size. The packer relies on this to remeasure a
// container whose estimated size crossed the bound.
//
// Compression profiles: deflate (default, readable by any zip tool),
// zstd (zip method 93), lz4 (private method), and store.
package archive
