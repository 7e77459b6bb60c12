// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fragmenttest builds fragment streams for tests of packages
// that consume them (archive, packer, sessionstore, packager).
package fragmenttest

import (
	"bytes"
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/bureau-foundation/sessionpack/lib/fragment"
	"github.com/bureau-foundation/sessionpack/lib/session"
)

// Summary returns a completed session summary for product/application
// with a fresh id.
func Summary(product, application, user string) session.Summary {
	start := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	return session.Summary{
		ID:          session.NewID(),
		Product:     product,
		Application: application,
		UserName:    user,
		Status:      session.StatusCompleted,
		StartTime:   start,
		EndTime:     start.Add(30 * time.Minute),
		IsNew:       true,
	}
}

// Stream encodes one fragment of summary with the given sequence
// number and body.
func Stream(t testing.TB, summary session.Summary, sequence int, body []byte) []byte {
	t.Helper()
	header := &fragment.Header{
		Session:   summary,
		FileID:    session.NewID(),
		Sequence:  sequence,
		FileStart: summary.StartTime,
		FileEnd:   summary.EndTime,
	}
	data, err := fragment.Encode(header, body)
	if err != nil {
		t.Fatalf("encoding fragment: %v", err)
	}
	return data
}

// CompressibleBody returns size bytes of repetitive text.
func CompressibleBody(size int) []byte {
	pattern := []byte("2026-04-01T08:00:00Z INFO request handled path=/checkout status=200\n")
	body := bytes.Repeat(pattern, size/len(pattern)+1)
	return body[:size]
}

// RandomBody returns size bytes of incompressible data from a seeded
// source, so sizes measured after compression are stable.
func RandomBody(seed int64, size int) []byte {
	body := make([]byte, size)
	source := rand.New(rand.NewSource(seed))
	source.Read(body)
	return body
}

// SessionStream wraps encoded fragments of one session as an owned
// session.Stream, the shape the local index hands to the packer.
func SessionStream(sessionID session.ID, fragments ...[]byte) *session.Stream {
	stream := &session.Stream{SessionID: sessionID}
	for i, data := range fragments {
		stream.Fragments = append(stream.Fragments, session.Fragment{
			FileID:   session.NewID(),
			Sequence: i,
			Length:   int64(len(data)),
			Reader:   io.NopCloser(bytes.NewReader(data)),
		})
	}
	return stream
}
