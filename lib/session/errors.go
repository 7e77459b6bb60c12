// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "errors"

var (
	// ErrInvalidFormat is returned when a byte stream is not a
	// recognized session fragment.
	ErrInvalidFormat = errors.New("invalid fragment format")

	// ErrNotFound is returned when a requested session id, or a file id
	// within a session, is absent.
	ErrNotFound = errors.New("not found")

	// ErrOversizeSession is recorded when a single session does not fit
	// within the size bound even as the only session in a container.
	ErrOversizeSession = errors.New("session exceeds size bound")

	// ErrDeliveryFailure wraps any error returned by a destination while
	// delivering a package.
	ErrDeliveryFailure = errors.New("delivery failed")

	// ErrStateCorruption signals a violated container index or packing
	// state invariant.
	ErrStateCorruption = errors.New("state corruption")
)
