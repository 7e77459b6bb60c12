// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package packager turns "send sessions matching X to destination Y"
// into packed, delivered, and cleaned-up containers.
//
// A request runs in four phases. Selection refreshes the local index
// (rotating the active session first when the request covers it) and
// filters it into an ordered candidate list. Packing calls
// [packer.Packer.FillOne] until the packing state is complete, handing
// each filled container to the shared [transport.Scheduler] as soon as
// it is finished. Cleanup collects delivered containers, marks the
// sessions of successful deliveries read, and disposes each
// container. The aggregate outcome is the worst result across
// containers with delivered bytes summed.
//
// Synchronous requests block in [asynctask.Runner] and get delivery
// failures back as errors. Asynchronous requests return at once and
// report through their completion callback.
package packager
