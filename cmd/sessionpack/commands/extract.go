// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/sessionpack/cmd/sessionpack/cli"
	"github.com/bureau-foundation/sessionpack/lib/archive"
	"github.com/bureau-foundation/sessionpack/lib/fragment"
	"github.com/bureau-foundation/sessionpack/lib/session"
)

type extractParams struct {
	Output string `json:"output"  flag:"output,o" desc:"directory to write fragment files into" default:"."`
	FileID string `json:"file_id" flag:"file-id"  desc:"extract only this fragment"`
}

func extractCommand(globals *cli.Globals) *cli.Command {
	var params extractParams

	return &cli.Command{
		Name:    "extract",
		Summary: "Copy one session's fragments out of a package",
		Description: `Write the fragment files of one session in a package to a directory.

Each fragment keeps its canonical "<file-id>.frag" name, so the output
directory can be pointed at by paths.sessions or fed to "sessionpack
import".`,
		Usage:  "sessionpack extract [--output DIR] [--file-id ID] PACKAGE SESSION-ID",
		Params: func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 2 {
				return errors.New("expected a package path and a session id")
			}
			sessionID, err := session.ParseID(args[1])
			if err != nil {
				return fmt.Errorf("session id: %w", err)
			}
			var fileID *session.ID
			if params.FileID != "" {
				parsed, err := session.ParseID(params.FileID)
				if err != nil {
					return fmt.Errorf("--file-id: %w", err)
				}
				fileID = &parsed
			}
			if err := os.MkdirAll(params.Output, 0o755); err != nil {
				return err
			}

			container, err := archive.Open(args[0], archive.Options{Logger: logger})
			if err != nil {
				return err
			}
			defer container.Dispose()

			stream, err := container.Session(sessionID, fileID)
			if err != nil {
				return err
			}
			defer stream.Close()

			for _, fragmentFile := range stream.Fragments {
				target := filepath.Join(params.Output, fragment.FileName(fragmentFile.FileID))
				if err := writeFragment(target, fragmentFile.Reader); err != nil {
					return err
				}
				logger.Debug("extracted fragment", "file_id", fragmentFile.FileID, "sequence", fragmentFile.Sequence)
				fmt.Fprintln(globals.Out(), target)
			}
			return nil
		},
	}
}

// writeFragment copies r to path through a temporary file so a reader
// of the directory never sees a partial fragment.
func writeFragment(path string, r io.Reader) error {
	file, err := os.CreateTemp(filepath.Dir(path), ".extract-*")
	if err != nil {
		return err
	}
	_, err = io.Copy(file, r)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(file.Name(), path)
	}
	if err != nil {
		os.Remove(file.Name())
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
