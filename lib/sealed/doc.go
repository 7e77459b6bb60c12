// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed protects delivery credentials stored in configuration
// files. A password is sealed to one or more age x25519 recipients and
// the base64 ciphertext goes into the config; at send time the CLI
// opens it with the machine's identity file.
//
// Identities and opened plaintext are returned as [secret.Buffer]
// values and must be closed by the caller.
package sealed
