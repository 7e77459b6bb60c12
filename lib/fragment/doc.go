// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fragment implements the header format of session fragment
// streams: the unit the local session index stores on disk and the
// archive container stores as entries.
//
// A fragment stream is laid out as:
//
//	+--------------------------- 24 bytes ---------------------------+
//	| magic "SPFRAG" ver 0 | header length u32 | reserved | body u64 |
//	+----------------------------------------------------------------+
//	| session header: CBOR-encoded [Header], header length bytes      |
//	+----------------------------------------------------------------+
//	| body: opaque event data produced by the packet codec            |
//	+----------------------------------------------------------------+
//
// The session header's length is only known after the fixed file
// header has been read, so every reader performs a two-stage read:
// [ReadFileHeader] then the declared number of header bytes. Container
// index recovery depends on this: it parses the session header of every
// entry without reading (or decompressing) the body.
//
// The body format is owned by the packet codec and is opaque here.
//
// [Writer] records one session's data as a series of fragment files,
// rotating to a new file on demand. The local session index uses it
// for the current process's own session.
package fragment
