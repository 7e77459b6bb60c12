// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/bureau-foundation/sessionpack/cmd/sessionpack/cli"
	"github.com/bureau-foundation/sessionpack/lib/archive"
	"github.com/bureau-foundation/sessionpack/lib/codec"
	"github.com/bureau-foundation/sessionpack/lib/session"
)

type inspectParams struct {
	cli.JSONOutput
	Verify   bool `json:"verify"   flag:"verify"   desc:"recompute every fragment digest against the manifest"`
	Manifest bool `json:"manifest" flag:"manifest" desc:"also print the raw manifest in CBOR diagnostic notation"`
}

// inspectSession is one row of the --json report.
type inspectSession struct {
	session.Summary
	Fragments int `json:"fragments"`
}

type inspectReport struct {
	Path        string           `json:"path"`
	Caption     string           `json:"caption"`
	Description string           `json:"description,omitempty"`
	Generator   string           `json:"generator,omitempty"`
	FileSize    int64            `json:"file_size"`
	Stats       archive.Stats    `json:"stats"`
	Sessions    []inspectSession `json:"sessions"`
	Verified    *int             `json:"verified,omitempty"`
	Manifest    string           `json:"manifest,omitempty"`
}

func inspectCommand(globals *cli.Globals) *cli.Command {
	var params inspectParams

	return &cli.Command{
		Name:    "inspect",
		Summary: "Show the contents of a package file",
		Description: `Open a .spkg package and print its caption, totals, and sessions.

With --verify, every fragment is read back and its digest compared
with the manifest; a mismatch exits non-zero. --manifest dumps the
manifest entry itself in CBOR diagnostic notation (RFC 8949 §8).`,
		Usage:  "sessionpack inspect [--verify] [--manifest] [--json] PACKAGE",
		Params: func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("expected one package path, got %d arguments", len(args))
			}
			path := args[0]
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			container, err := archive.Open(path, archive.Options{Logger: logger})
			if err != nil {
				return err
			}
			defer container.Dispose()

			report := inspectReport{
				Path:        path,
				Caption:     container.Caption(),
				Description: container.Description(),
				Generator:   container.Generator(),
				FileSize:    info.Size(),
				Stats:       container.Stats(),
			}
			for _, summary := range container.Summaries() {
				report.Sessions = append(report.Sessions, inspectSession{
					Summary:   summary,
					Fragments: container.FragmentCount(summary.ID),
				})
			}
			if params.Manifest {
				raw, err := archive.RawManifest(path)
				if err != nil {
					return err
				}
				report.Manifest, err = codec.Diagnose(raw)
				if err != nil {
					return fmt.Errorf("decoding manifest: %w", err)
				}
			}
			var verifyErr error
			if params.Verify {
				checked, err := container.Verify()
				report.Verified = &checked
				verifyErr = err
			}

			out := globals.Out()
			if done, err := params.EmitJSON(out, report); done {
				if err != nil {
					return err
				}
				return verifyErr
			}

			fmt.Fprintf(out, "Package:   %s (%s)\n", path, humanize.Bytes(uint64(report.FileSize)))
			fmt.Fprintf(out, "Caption:   %s\n", report.Caption)
			if report.Description != "" {
				fmt.Fprintf(out, "Contents:  %s\n", report.Description)
			}
			if report.Generator != "" {
				fmt.Fprintf(out, "Generator: %s\n", report.Generator)
			}
			fmt.Fprintf(out, "Sessions:  %d (%d with problems), %d fragments, %s uncompressed\n",
				report.Stats.Sessions, report.Stats.ProblemSessions, report.Stats.Fragments,
				humanize.Bytes(uint64(report.Stats.Bytes)))

			if len(report.Sessions) > 0 {
				fmt.Fprintln(out)
				writer := tabwriter.NewWriter(out, 2, 0, 2, ' ', 0)
				fmt.Fprintln(writer, "ID\tPRODUCT\tAPPLICATION\tUSER\tSTATUS\tSTARTED\tFRAGMENTS\tPROBLEM")
				for _, row := range report.Sessions {
					fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
						row.ID, row.Product, row.Application, row.UserName, row.Status,
						row.StartTime.Local().Format(time.DateTime), row.Fragments, yesNo(row.HasProblem()))
				}
				writer.Flush()
			}

			if report.Manifest != "" {
				fmt.Fprintf(out, "\nManifest:\n%s\n", report.Manifest)
			}

			if params.Verify {
				if verifyErr != nil {
					fmt.Fprintf(out, "\nverification FAILED after %d fragments: %v\n", *report.Verified, verifyErr)
					return &cli.ExitError{Code: 1}
				}
				fmt.Fprintf(out, "\nverified %d fragments\n", *report.Verified)
			}
			return nil
		},
	}
}
