// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework for the sessionpack binary.
//
// A [Command] tree dispatches on the first positional argument. Leaf
// commands declare their flags as a tagged params struct (see
// [BindFlags]); the framework parses flags, builds a logger with
// [NewCommandLogger], and calls Run with a context that is cancelled
// on SIGINT or SIGTERM.
//
// [Globals] carries the flags every command accepts (--config and
// --verbose). They may appear before or after the subcommand name.
//
// Commands that have already printed their result and only need a
// non-zero exit return an [ExitError].
package cli
