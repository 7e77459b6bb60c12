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

	"github.com/bureau-foundation/sessionpack/lib/archive"
	"github.com/bureau-foundation/sessionpack/lib/session"
)

// DefaultMediaFolder is the folder created on removable media when
// MediaDestination.Folder is empty.
const DefaultMediaFolder = "Sessions"

// MediaDestination writes packages into a folder on removable media
// mounted at Root. File names derive from the package caption and
// the first session id. When a file of that name is already on the
// media, as after exporting the same session twice, the new package
// gets a -2, -3, ... suffix so repeated exports never overwrite each
// other.
type MediaDestination struct {
	Root   string
	Folder string
}

func (d *MediaDestination) Name() string { return "media" }

func (d *MediaDestination) folder() string {
	if d.Folder == "" {
		return filepath.Join(d.Root, DefaultMediaFolder)
	}
	return filepath.Join(d.Root, d.Folder)
}

func (d *MediaDestination) Validate() error {
	if d.Root == "" {
		return errors.New("media destination: root is required")
	}
	info, err := os.Stat(d.Root)
	if err != nil {
		return fmt.Errorf("media destination: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("media destination: %s is not a directory", d.Root)
	}
	if err := unix.Access(d.Root, unix.W_OK); err != nil {
		return fmt.Errorf("media destination: %s is not writable: %w", d.Root, err)
	}
	return nil
}

func (d *MediaDestination) Bound() (int64, error) {
	return volumeBound(d.Root)
}

// FileName returns the name the package is stored under.
func (d *MediaDestination) FileName(pkg *Package) string {
	suffix := fmt.Sprintf("%d", pkg.Index+1)
	if len(pkg.SessionIDs) > 0 {
		suffix = pkg.SessionIDs[0].String()[:8]
	}
	return slug(pkg.Caption) + "-" + suffix + archive.PackageExtension
}

func (d *MediaDestination) Deliver(_ context.Context, pkg *Package) session.Outcome {
	folder := d.folder()
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return failed(d, pkg, err)
	}
	target, err := unusedPath(folder, d.FileName(pkg))
	if err != nil {
		return failed(d, pkg, err)
	}
	written, err := copyPackage(pkg, target)
	if err != nil {
		return failed(d, pkg, err)
	}
	return session.Succeeded(
		fmt.Sprintf("copied %s to %s", humanize.Bytes(uint64(written)), target),
		written,
	)
}

// unusedPath returns the path of name in folder, or of name with the
// first free numeric suffix before its extension. FAT and exFAT media
// support neither hard links nor RENAME_NOREPLACE, so this checks for
// existence; the single delivery worker is the only writer.
func unusedPath(folder, name string) (string, error) {
	extension := filepath.Ext(name)
	base := strings.TrimSuffix(name, extension)
	for n := 1; ; n++ {
		candidate := name
		if n > 1 {
			candidate = fmt.Sprintf("%s-%d%s", base, n, extension)
		}
		path := filepath.Join(folder, candidate)
		_, err := os.Lstat(path)
		if errors.Is(err, os.ErrNotExist) {
			return path, nil
		}
		if err != nil {
			return "", err
		}
	}
}
