// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// sessionpack packages recorded diagnostic sessions and delivers them
// to a file, removable media, email, or a collection server.
package main

import (
	"fmt"
	"os"

	"github.com/bureau-foundation/sessionpack/cmd/sessionpack/cli"
	"github.com/bureau-foundation/sessionpack/cmd/sessionpack/commands"
)

func main() {
	if err := run(); err != nil {
		// Commands that print their own report return an ExitError
		// carrying the exit code; don't add an "error:" line.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return commands.Root(&cli.Globals{}).Execute(os.Args[1:])
}
