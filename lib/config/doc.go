// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads sessionpack configuration.
//
// Configuration comes from exactly one file: the path given with
// --config, or the SESSIONPACK_CONFIG environment variable via [Load].
// There is no discovery and no fallback search. Files ending in .json
// or .jsonc are read as JSON with comments and trailing commas; any
// other file is YAML.
//
// A file may carry development, staging, and production sections whose
// non-empty values override the base settings when Environment
// matches. After overrides, ${HOME}, ${SESSIONPACK_ROOT}, and
// ${VAR:-default} are expanded in path fields. Environment variables
// never override configured values directly.
//
// Credentials are never stored in plaintext: email.password_sealed and
// server.token_sealed hold age ciphertext produced by "sessionpack
// seal", opened with the identity named by keys.identity.
package config
