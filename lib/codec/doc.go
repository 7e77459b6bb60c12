// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the standard CBOR encoding configuration for
// sessionpack's binary metadata.
//
// Two places in the pipeline store structured metadata inside binary
// files: the session header embedded at the start of every fragment
// stream (lib/fragment), and the manifest entry written into every
// archive container (lib/archive). Both use this package so that the
// same logical data always produces identical bytes. The encoder uses
// Core Deterministic Encoding (RFC 8949 §4.2): sorted map keys,
// smallest integer encoding, no indefinite-length items.
//
//	data, err := codec.Marshal(header)
//	err = codec.Unmarshal(data, &header)
//
// Types implementing encoding.TextMarshaler (session.ID) are encoded
// as CBOR text strings, so ids stay readable in diagnostic output.
//
// Struct types use json tags. fxamacker/cbor falls back to json tags
// when cbor tags are absent, so the same types also serve the CLI's
// --json output.
package codec
