// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/sessionpack/lib/archive"
	"github.com/bureau-foundation/sessionpack/lib/session"
)

// MaxFileBound caps file and media package sizes at 2 GiB - 1.
const MaxFileBound int64 = 1<<31 - 1

// Package is one saved container ready for delivery.
type Package struct {
	// Path is the saved container file. Destinations read it; they
	// never modify or remove it.
	Path string

	Caption     string
	Description string
	Stats       archive.Stats
	Size        int64

	// Problems is set when any session in the package has a critical
	// or error message or crashed.
	Problems bool

	SessionIDs []session.ID

	// Index numbers the packages of one request from zero, in
	// enqueue order.
	Index int
}

// Destination delivers packages somewhere.
type Destination interface {
	// Name identifies the destination in logs and outcome messages.
	Name() string

	// Validate checks the destination's configuration before any
	// packaging work starts.
	Validate() error

	// Bound returns the largest package, in bytes, the destination
	// accepts.
	Bound() (int64, error)

	// Deliver sends one package. Failures are reported in the
	// returned outcome, never by panicking.
	Deliver(ctx context.Context, pkg *Package) session.Outcome
}

// failed builds the outcome for a delivery error. The cause always
// wraps session.ErrDeliveryFailure.
func failed(destination Destination, pkg *Package, err error) session.Outcome {
	return session.Failed(
		fmt.Sprintf("%s: delivering %q failed", destination.Name(), pkg.Caption),
		fmt.Errorf("%w: %s: %w", session.ErrDeliveryFailure, destination.Name(), err),
	)
}

// FreeSpace returns the bytes available to unprivileged users on the
// volume holding path.
func FreeSpace(path string) (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	available := uint64(stat.Bavail) * uint64(stat.Bsize)
	if available > uint64(1<<63-1) {
		return 1<<63 - 1, nil
	}
	return int64(available), nil
}

// volumeBound returns min(free space on dir's volume, MaxFileBound).
func volumeBound(dir string) (int64, error) {
	free, err := FreeSpace(dir)
	if err != nil {
		return 0, err
	}
	return min(free, MaxFileBound), nil
}

// copyPackage copies the package file to target through a temporary
// file in the same directory, so target never holds a partial copy.
func copyPackage(pkg *Package, target string) (int64, error) {
	source, err := os.Open(pkg.Path)
	if err != nil {
		return 0, err
	}
	defer source.Close()

	temporary, err := os.CreateTemp(filepath.Dir(target), ".sessionpack-*")
	if err != nil {
		return 0, err
	}
	temporaryPath := temporary.Name()
	written, err := io.Copy(temporary, source)
	if err == nil {
		err = temporary.Sync()
	}
	if closeErr := temporary.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(temporaryPath, target)
	}
	if err != nil {
		os.Remove(temporaryPath)
		return 0, err
	}
	return written, nil
}

// slug reduces a caption to a file-name-safe lowercase token.
func slug(caption string) string {
	var builder strings.Builder
	dash := false
	for _, r := range strings.ToLower(caption) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			builder.WriteRune(r)
			dash = false
			continue
		}
		if !dash && builder.Len() > 0 {
			builder.WriteByte('-')
			dash = true
		}
	}
	result := strings.TrimSuffix(builder.String(), "-")
	if result == "" {
		return "sessions"
	}
	return result
}
