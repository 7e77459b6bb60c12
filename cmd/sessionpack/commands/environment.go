// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/sessionpack/cmd/sessionpack/cli"
	"github.com/bureau-foundation/sessionpack/lib/archive"
	"github.com/bureau-foundation/sessionpack/lib/config"
	"github.com/bureau-foundation/sessionpack/lib/packager"
	"github.com/bureau-foundation/sessionpack/lib/sealed"
	"github.com/bureau-foundation/sessionpack/lib/secret"
	"github.com/bureau-foundation/sessionpack/lib/sessionstore"
	"github.com/bureau-foundation/sessionpack/lib/transport"
)

// environment is the configuration and the open session index shared
// by commands that touch local sessions.
type environment struct {
	config *config.Config
	store  *sessionstore.Store
	logger *slog.Logger
}

// loadConfig reads the configuration, logging rejected settings.
func loadConfig(globals *cli.Globals, logger *slog.Logger) (*config.Config, error) {
	cfg, err := globals.LoadConfig()
	if err != nil {
		logger.Error("cannot load configuration", "path", globals.ConfigPath, "error", err)
		return nil, &cli.ExitError{Code: 1}
	}
	return cfg, nil
}

// openEnvironment loads the configuration, creates its directories,
// opens the index, and refreshes it.
func openEnvironment(ctx context.Context, globals *cli.Globals, logger *slog.Logger) (*environment, error) {
	cfg, err := loadConfig(globals, logger)
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}
	store, err := sessionstore.Open(sessionstore.Config{
		Dir:       cfg.Paths.Sessions,
		IndexPath: cfg.IndexPath(),
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	if err := store.Refresh(ctx); err != nil {
		store.Close()
		return nil, err
	}
	logger.Debug("session index ready", "sessions_dir", cfg.Paths.Sessions, "index", cfg.IndexPath())
	return &environment{config: cfg, store: store, logger: logger}, nil
}

func (e *environment) Close() error {
	return e.store.Close()
}

// packager builds a packager over the index with its own scheduler.
func (e *environment) packager() (*packager.Packager, error) {
	compression, err := archive.ParseCompression(e.config.Package.Compression)
	if err != nil {
		return nil, err
	}
	return packager.New(packager.Config{
		Index:       e.store,
		Scheduler:   transport.NewScheduler(transport.SchedulerConfig{Logger: e.logger}),
		WorkDir:     e.config.Paths.Work,
		Compression: compression,
		Logger:      e.logger,
	})
}

// unseal opens a sealed credential with the configured identity.
func unseal(cfg *config.Config, ciphertext string) (*secret.Buffer, error) {
	key, err := sealed.LoadIdentity(cfg.Keys.Identity)
	if err != nil {
		return nil, err
	}
	defer key.Close()
	plaintext, err := sealed.Open(ciphertext, key)
	if err != nil {
		return nil, fmt.Errorf("opening sealed credential: %w", err)
	}
	return plaintext, nil
}
