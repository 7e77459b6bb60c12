// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
)

// Set via -ldflags, for example:
//
//	go build -ldflags "-X github.com/bureau-foundation/sessionpack/lib/version.GitCommit=$(git rev-parse --short HEAD)"
var (
	// GitCommit is the short commit hash the binary was built from.
	GitCommit = "unknown"

	// GitDirty is "true" when the working tree had uncommitted
	// changes. It is a string because -X can only set strings.
	GitDirty = "false"

	// BuildTime is an RFC 3339 timestamp of the build.
	BuildTime = "unknown"

	// Version is the release version. Containers record it as their
	// generator, so a collection server can tell which build produced
	// a package.
	Version = "0.1.0-dev"
)

// Info returns "<version> (<commit>[-dirty], <build time>)".
func Info() string {
	return fmt.Sprintf("%s (%s, %s)", Version, commit(), BuildTime)
}

// Full adds the Go toolchain and platform to Info.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// UserAgent returns "sessionpack/<version>+<commit>", the product token
// used in manifests and HTTP requests.
func UserAgent() string {
	return "sessionpack/" + Version + "+" + commit()
}

func commit() string {
	if GitDirty == "true" {
		return GitCommit + "-dirty"
	}
	return GitCommit
}
