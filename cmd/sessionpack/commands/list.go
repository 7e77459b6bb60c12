// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/bureau-foundation/sessionpack/cmd/sessionpack/cli"
	"github.com/bureau-foundation/sessionpack/lib/session"
)

type listParams struct {
	cli.JSONOutput
	SelectionFlags
}

func listCommand(globals *cli.Globals) *cli.Command {
	var params listParams

	return &cli.Command{
		Name:    "list",
		Summary: "List recorded sessions",
		Description: `Refresh the local index and list matching sessions, oldest first.

Without --criteria every ended session is listed. The NEW column marks
sessions that have not been delivered anywhere yet.`,
		Usage: "sessionpack list [--criteria LIST] [--product NAME] [--application NAME] [--json]",
		Examples: []cli.Example{
			{
				Description: "Sessions that crashed or logged errors",
				Command:     "sessionpack list --criteria crashed,error",
			},
		},
		Params: func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			env, err := openEnvironment(ctx, globals, logger)
			if err != nil {
				return err
			}
			defer env.Close()

			selection, err := params.selection(env.config, session.AllSessions, env.store.ActiveID())
			if err != nil {
				return err
			}
			summaries, err := env.store.Find(ctx, selection.Match)
			if err != nil {
				return err
			}
			out := globals.Out()
			if done, err := params.EmitJSON(out, summaries); done {
				return err
			}
			if len(summaries) == 0 {
				fmt.Fprintln(out, "no sessions")
				return nil
			}
			writer := tabwriter.NewWriter(out, 2, 0, 2, ' ', 0)
			fmt.Fprintln(writer, "ID\tPRODUCT\tAPPLICATION\tUSER\tSTATUS\tSTARTED\tDURATION\tCRIT/ERR/WARN\tNEW")
			for _, summary := range summaries {
				fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d/%d/%d\t%s\n",
					summary.ID,
					summary.Product,
					summary.Application,
					summary.UserName,
					summary.Status,
					summary.StartTime.Local().Format(time.DateTime),
					summary.Duration().Round(time.Second),
					summary.CriticalCount, summary.ErrorCount, summary.WarningCount,
					yesNo(summary.IsNew),
				)
			}
			return writer.Flush()
		},
	}
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
