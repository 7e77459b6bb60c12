// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/sessionpack/lib/session"
)

// FileDestination writes packages to a local path. The first package
// of a request goes to Path; later ones get a numeric suffix before
// the extension ("out.spkg", "out-2.spkg", "out-3.spkg").
type FileDestination struct {
	Path string
}

func (d *FileDestination) Name() string { return "file" }

// Validate requires Path to name a file in an existing, writable
// directory.
func (d *FileDestination) Validate() error {
	if d.Path == "" {
		return errors.New("file destination: path is required")
	}
	if info, err := os.Stat(d.Path); err == nil && info.IsDir() {
		return fmt.Errorf("file destination: %s is a directory", d.Path)
	}
	dir := filepath.Dir(d.Path)
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("file destination: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("file destination: %s is not a directory", dir)
	}
	if err := unix.Access(dir, unix.W_OK); err != nil {
		return fmt.Errorf("file destination: %s is not writable: %w", dir, err)
	}
	return nil
}

func (d *FileDestination) Bound() (int64, error) {
	return volumeBound(filepath.Dir(d.Path))
}

// Target returns the path the package with the given index is
// written to.
func (d *FileDestination) Target(index int) string {
	if index == 0 {
		return d.Path
	}
	extension := filepath.Ext(d.Path)
	base := strings.TrimSuffix(d.Path, extension)
	return fmt.Sprintf("%s-%d%s", base, index+1, extension)
}

func (d *FileDestination) Deliver(_ context.Context, pkg *Package) session.Outcome {
	target := d.Target(pkg.Index)
	written, err := copyPackage(pkg, target)
	if err != nil {
		return failed(d, pkg, err)
	}
	return session.Succeeded(
		fmt.Sprintf("wrote %s (%s)", target, humanize.Bytes(uint64(written))),
		written,
	)
}
