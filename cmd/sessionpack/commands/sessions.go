// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/sessionpack/cmd/sessionpack/cli"
	"github.com/bureau-foundation/sessionpack/lib/archive"
	"github.com/bureau-foundation/sessionpack/lib/session"
	"github.com/bureau-foundation/sessionpack/lib/sessionstore"
)

func importCommand(globals *cli.Globals) *cli.Command {
	return &cli.Command{
		Name:    "import",
		Summary: "Add fragment files or packages to the local index",
		Description: `Copy fragment files (.frag) into the sessions directory, or unpack
every session of a package (.spkg) into it, then refresh the index.

Fragments whose stream is truncated or malformed are rejected.`,
		Usage: "sessionpack import FILE...",
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) == 0 {
				return errors.New("expected at least one file")
			}
			env, err := openEnvironment(ctx, globals, logger)
			if err != nil {
				return err
			}
			defer env.Close()

			imported := 0
			for _, path := range args {
				var count int
				if strings.EqualFold(filepath.Ext(path), archive.PackageExtension) {
					count, err = importPackage(env.store, path, logger)
				} else {
					count, err = importFragmentFile(env.store, path)
				}
				if err != nil {
					return fmt.Errorf("importing %s: %w", path, err)
				}
				imported += count
			}
			if err := env.store.Refresh(ctx); err != nil {
				return err
			}
			fmt.Fprintf(globals.Out(), "imported %d fragments\n", imported)
			return nil
		},
	}
}

func importFragmentFile(store *sessionstore.Store, path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()
	if _, err := store.ImportFragment(file); err != nil {
		return 0, err
	}
	return 1, nil
}

func importPackage(store *sessionstore.Store, path string, logger *slog.Logger) (int, error) {
	container, err := archive.Open(path, archive.Options{Logger: logger})
	if err != nil {
		return 0, err
	}
	defer container.Dispose()

	count := 0
	for _, summary := range container.Summaries() {
		stream, err := container.Session(summary.ID, nil)
		if err != nil {
			return count, err
		}
		for _, fragmentFile := range stream.Fragments {
			if _, err := store.ImportFragment(fragmentFile.Reader); err != nil {
				stream.Close()
				return count, err
			}
			count++
		}
		stream.Close()
	}
	return count, nil
}

type markParams struct {
	Unread bool `json:"unread" flag:"unread" desc:"mark as not yet delivered instead of delivered"`
}

func markCommand(globals *cli.Globals) *cli.Command {
	var params markParams

	return &cli.Command{
		Name:    "mark",
		Summary: "Mark sessions as delivered (read) or new",
		Description: `Set the read flag of the given sessions. Sessions marked read no
longer match "--criteria new". Use --unread to deliver them again.`,
		Usage:  "sessionpack mark [--unread] SESSION-ID...",
		Params: func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			env, err := openEnvironment(ctx, globals, logger)
			if err != nil {
				return err
			}
			defer env.Close()

			changed, err := env.store.SetSessionsRead(ctx, ids, !params.Unread)
			if err != nil {
				return err
			}
			state := "read"
			if params.Unread {
				state = "new"
			}
			fmt.Fprintf(globals.Out(), "marked %d of %d sessions %s\n", changed, len(ids), state)
			if changed < len(ids) {
				return &cli.ExitError{Code: 2}
			}
			return nil
		},
	}
}

func deleteCommand(globals *cli.Globals) *cli.Command {
	return &cli.Command{
		Name:    "delete",
		Summary: "Delete sessions and their fragment files",
		Usage:   "sessionpack delete SESSION-ID...",
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			env, err := openEnvironment(ctx, globals, logger)
			if err != nil {
				return err
			}
			defer env.Close()

			var errs []error
			for _, id := range ids {
				if err := env.store.DeleteSession(ctx, id); err != nil {
					errs = append(errs, err)
					continue
				}
				logger.Info("deleted session", "session_id", id)
			}
			return errors.Join(errs...)
		},
	}
}

func parseIDs(args []string) ([]session.ID, error) {
	if len(args) == 0 {
		return nil, errors.New("expected at least one session id")
	}
	ids := make([]session.ID, 0, len(args))
	for _, arg := range args {
		id, err := session.ParseID(arg)
		if err != nil {
			return nil, fmt.Errorf("session id %q: %w", arg, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
