// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/bureau-foundation/sessionpack/cmd/sessionpack/cli"
	"github.com/bureau-foundation/sessionpack/lib/config"
	"github.com/bureau-foundation/sessionpack/lib/delivery"
	"github.com/bureau-foundation/sessionpack/lib/packager"
	"github.com/bureau-foundation/sessionpack/lib/secret"
	"github.com/bureau-foundation/sessionpack/lib/session"
)

// sendResult is the --json form of a request outcome.
type sendResult struct {
	Result  string `json:"result"`
	Message string `json:"message"`
	Bytes   int64  `json:"bytes"`
	Error   string `json:"error,omitempty"`
}

type packageParams struct {
	cli.JSONOutput
	SelectionFlags
	Output string `json:"output" flag:"output,o" desc:"package file to write; later packages get -2, -3, ... suffixes"`
}

func packageCommand(globals *cli.Globals) *cli.Command {
	var params packageParams

	return &cli.Command{
		Name:    "package",
		Summary: "Write sessions to a local package file",
		Description: `Pack matching sessions into one or more .spkg files at --output.

Packages are bounded by the free space of the target volume (and never
exceed 2 GiB). Sessions written successfully are marked read, so a
later "--criteria new" run skips them.`,
		Usage: "sessionpack package --output FILE [--criteria LIST] [--session ID]...",
		Examples: []cli.Example{
			{
				Description: "Package today's new sessions",
				Command:     "sessionpack package --output sessions.spkg",
			},
		},
		Params: func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			if params.Output == "" {
				return errors.New("--output is required")
			}
			destination := &delivery.FileDestination{Path: params.Output}
			return runSend(ctx, globals, logger, &params.SelectionFlags, &params.JSONOutput,
				func(*config.Config) (delivery.Destination, func(), error) {
					return destination, func() {}, nil
				})
		},
	}
}

type sendParams struct {
	cli.JSONOutput
	SelectionFlags
	To        string `json:"to"         flag:"to,t"       desc:"destination: email, server, media, or file"`
	MediaRoot string `json:"media_root" flag:"media-root" desc:"mount point of the removable media (default: media.root)"`
	Output    string `json:"output"     flag:"output,o"   desc:"package file for --to file"`
}

func sendCommand(globals *cli.Globals) *cli.Command {
	var params sendParams

	return &cli.Command{
		Name:    "send",
		Summary: "Package sessions and deliver them to a configured destination",
		Description: `Pack matching sessions and deliver each package to one destination.

  email   mails each package as an attachment (email section)
  server  uploads each package to the collection server (server section)
  media   copies packages into media.folder on removable media
  file    writes packages to --output, like "sessionpack package"

Package size is bounded by the destination. Sessions larger than the
bound are skipped with a warning. Delivered sessions are marked read.

Exit status is 0 on success or when nothing matched, 2 when sessions
were skipped, and 1 on failure.`,
		Usage: "sessionpack send --to DESTINATION [--criteria LIST] [--session ID]...",
		Examples: []cli.Example{
			{
				Description: "Mail sessions that crashed",
				Command:     "sessionpack send --to email --criteria crashed",
			},
			{
				Description: "Copy new sessions to a USB stick",
				Command:     "sessionpack send --to media --media-root /media/usb",
			},
		},
		Params: func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			if params.To == "" {
				return errors.New("--to is required (email, server, media, or file)")
			}
			return runSend(ctx, globals, logger, &params.SelectionFlags, &params.JSONOutput,
				func(cfg *config.Config) (delivery.Destination, func(), error) {
					return buildDestination(cfg, &params, logger)
				})
		},
	}
}

// buildDestination constructs the --to destination from the
// configuration. The returned release function closes unsealed
// credentials.
func buildDestination(cfg *config.Config, params *sendParams, logger *slog.Logger) (delivery.Destination, func(), error) {
	switch params.To {
	case "file":
		if params.Output == "" {
			return nil, nil, errors.New("--output is required with --to file")
		}
		return &delivery.FileDestination{Path: params.Output}, func() {}, nil

	case "media":
		root := params.MediaRoot
		if root == "" {
			root = cfg.Media.Root
		}
		return &delivery.MediaDestination{Root: root, Folder: cfg.Media.Folder}, func() {}, nil

	case "email":
		destination := &delivery.EmailDestination{
			Server:        cfg.Email.Server,
			Port:          cfg.Email.Port,
			UseTLS:        cfg.Email.UseTLS,
			User:          cfg.Email.User,
			From:          cfg.Email.From,
			To:            cfg.Email.To,
			SubjectPrefix: cfg.Email.SubjectPrefix,
			MaxMessageMB:  cfg.Email.MaxMessageMB,
		}
		if cfg.Email.PasswordSealed == "" {
			return destination, func() {}, nil
		}
		password, err := unseal(cfg, cfg.Email.PasswordSealed)
		if err != nil {
			return nil, nil, fmt.Errorf("email.password_sealed: %w", err)
		}
		destination.Password = password
		return destination, closer(password), nil

	case "server":
		retryDelay, err := cfg.RetryDelay()
		if err != nil {
			return nil, nil, err
		}
		destination := &delivery.ServerDestination{
			URL:             cfg.Server.URL,
			Customer:        cfg.Server.Customer,
			Repository:      cfg.Server.Repository,
			Retries:         cfg.Server.Retries,
			RetryDelay:      retryDelay,
			MaxPackageBytes: int64(cfg.Server.MaxPackageMB) * 1024 * 1024,
			Logger:          logger,
		}
		if cfg.Server.TokenSealed == "" {
			return destination, func() {}, nil
		}
		token, err := unseal(cfg, cfg.Server.TokenSealed)
		if err != nil {
			return nil, nil, fmt.Errorf("server.token_sealed: %w", err)
		}
		destination.Token = token
		return destination, closer(token), nil
	}
	return nil, nil, fmt.Errorf("unknown destination %q (want email, server, media, or file)", params.To)
}

func closer(buffer *secret.Buffer) func() {
	return func() { buffer.Close() }
}

// runSend runs one synchronous packaging request and reports the
// outcome on stdout.
func runSend(
	ctx context.Context,
	globals *cli.Globals,
	logger *slog.Logger,
	flags *SelectionFlags,
	output *cli.JSONOutput,
	destinationFor func(*config.Config) (delivery.Destination, func(), error),
) error {
	env, err := openEnvironment(ctx, globals, logger)
	if err != nil {
		return err
	}
	defer env.Close()

	selection, err := flags.selection(env.config, session.NewSessions, env.store.ActiveID())
	if err != nil {
		return err
	}
	destination, release, err := destinationFor(env.config)
	if err != nil {
		return err
	}
	defer release()

	pack, err := env.packager()
	if err != nil {
		return err
	}
	logger.Info("sending sessions",
		"destination", destination.Name(),
		"criteria", selection.Criteria.String(),
		"product", selection.Product,
	)
	outcome, sendErr := pack.Send(ctx, packager.Request{
		Selection:   selection,
		Destination: destination,
	})

	result := sendResult{
		Result:  outcome.Result.String(),
		Message: outcome.Message,
		Bytes:   outcome.BytesDelivered,
	}
	if sendErr != nil {
		result.Error = sendErr.Error()
	}
	out := globals.Out()
	if done, err := output.EmitJSON(out, result); done {
		if err != nil {
			return err
		}
	} else {
		fmt.Fprintln(out, outcome.Message)
		if outcome.BytesDelivered > 0 {
			fmt.Fprintf(out, "%s delivered\n", humanize.Bytes(uint64(outcome.BytesDelivered)))
		}
	}

	if sendErr != nil {
		return sendErr
	}
	switch outcome.Result {
	case session.ResultWarning, session.ResultCanceled, session.ResultUnknown:
		return &cli.ExitError{Code: 2}
	}
	return nil
}
