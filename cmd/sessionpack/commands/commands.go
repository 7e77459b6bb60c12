// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the sessionpack command tree.
package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/sessionpack/cmd/sessionpack/cli"
	"github.com/bureau-foundation/sessionpack/lib/version"
)

// Root builds the complete command tree around globals.
func Root(globals *cli.Globals) *cli.Command {
	return &cli.Command{
		Name: "sessionpack",
		Description: `sessionpack: package recorded diagnostic sessions and deliver them.

Sessions are read from the local index (paths.sessions in the
configuration), packed into size-bounded .spkg containers, and
delivered to a file, removable media, email, or a collection server.`,
		Globals: globals,
		Subcommands: []*cli.Command{
			listCommand(globals),
			packageCommand(globals),
			sendCommand(globals),
			inspectCommand(globals),
			extractCommand(globals),
			importCommand(globals),
			markCommand(globals),
			deleteCommand(globals),
			sealCommand(globals),
			keygenCommand(globals),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ context.Context, _ []string, _ *slog.Logger) error {
					fmt.Fprintf(globals.Out(), "sessionpack %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Show sessions not yet delivered anywhere",
				Command:     "sessionpack list --criteria new",
			},
			{
				Description: "Write every session with errors to a package file",
				Command:     "sessionpack package --criteria error,crashed --output ~/errors.spkg",
			},
			{
				Description: "Mail new sessions using the configured SMTP server",
				Command:     "sessionpack send --to email",
			},
			{
				Description: "Check a received package",
				Command:     "sessionpack inspect --verify received.spkg",
			},
		},
	}
}
