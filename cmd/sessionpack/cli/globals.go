// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/sessionpack/lib/config"
)

// Globals holds the flags shared by every command, and the streams
// commands write to.
type Globals struct {
	// ConfigPath is --config. Empty falls back to SESSIONPACK_CONFIG.
	ConfigPath string

	Verbose bool

	// Stdout and Stderr default to the process streams.
	Stdout io.Writer
	Stderr io.Writer
}

// AddFlags registers --config and --verbose.
func (g *Globals) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&g.ConfigPath, "config", g.ConfigPath, "configuration file (default $"+config.EnvironmentVariable+")")
	flagSet.BoolVarP(&g.Verbose, "verbose", "v", g.Verbose, "log at debug level")
}

// parseLeading consumes global flags up to the first positional
// argument and returns the rest.
func (g *Globals) parseLeading(args []string) ([]string, error) {
	flagSet := pflag.NewFlagSet("global", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.SetInterspersed(false)
	g.AddFlags(flagSet)
	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	return flagSet.Args(), nil
}

// Out returns the stream for command results.
func (g *Globals) Out() io.Writer {
	if g.Stdout == nil {
		return os.Stdout
	}
	return g.Stdout
}

// Err returns the stream for help and diagnostics.
func (g *Globals) Err() io.Writer {
	if g.Stderr == nil {
		return os.Stderr
	}
	return g.Stderr
}

// LoadConfig reads and validates the configuration named by --config
// or SESSIONPACK_CONFIG.
func (g *Globals) LoadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if g.ConfigPath != "" {
		cfg, err = config.LoadFile(g.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
