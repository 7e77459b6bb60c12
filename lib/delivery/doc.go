// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package delivery sends saved containers to where they are wanted: a
// local file, removable media, an email recipient, or a collection
// server.
//
// Each [Destination] validates its configuration up front, reports the
// largest package it accepts through Bound, and reports every delivery
// as a [session.Outcome] rather than an error: the transport worker
// aggregates outcomes across packages and must keep going after a
// failure. Failed outcomes wrap [session.ErrDeliveryFailure].
//
// File and media destinations bound packages by the free space on the
// target volume, capped at [MaxFileBound]. Email bounds by the
// configured message size. The server destination retries a fixed
// number of times with doubling delays and sends the package's BLAKE3
// digest in [DigestHeader].
package delivery
