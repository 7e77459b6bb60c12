// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds delivery credentials (SMTP passwords, server
// tokens, age identities) in memory the garbage collector never sees.
//
// A [Buffer] is an anonymous mmap region, mlocked against swap and
// excluded from core dumps with MADV_DONTDUMP. Close zeros, unlocks,
// and unmaps it; any read after Close panics.
//
// Because the region lives outside the Go heap, the runtime never
// copies it during a collection, so zeroing it on Close actually
// removes the secret. Heap copies are still unavoidable at the edges:
// net/smtp and age take strings, and [Buffer.String] exists for them.
// Those copies are short-lived and confined to the moment of use.
//
// [ReadFromPath] loads a credential from a file or stdin and
// [FromEnvironment] moves one out of an environment variable, clearing
// the variable. Both trim surrounding whitespace and zero the bytes
// they read once the value is in a Buffer.
package secret
