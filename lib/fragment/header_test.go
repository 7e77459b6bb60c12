// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fragment

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/bureau-foundation/sessionpack/lib/session"
)

func sampleHeader() *Header {
	start := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	return &Header{
		Session: session.Summary{
			ID:          session.NewID(),
			Product:     "Acme",
			Application: "Shop",
			UserName:    "alice",
			Status:      session.StatusCompleted,
			ErrorCount:  2,
			StartTime:   start,
			EndTime:     start.Add(time.Hour),
		},
		FileID:    session.NewID(),
		Sequence:  4,
		FileStart: start,
		FileEnd:   start.Add(time.Hour),
		LastFile:  true,
	}
}

func TestEncodeReadHeaderRoundTrip(t *testing.T) {
	header := sampleHeader()
	body := bytes.Repeat([]byte("event "), 100)

	stream, err := Encode(header, body)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	reader := bytes.NewReader(stream)
	decoded, fileHeader, err := ReadHeader(reader)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}

	if fileHeader.StreamLength() != int64(len(stream)) {
		t.Errorf("StreamLength = %d, stream is %d bytes", fileHeader.StreamLength(), len(stream))
	}
	if decoded.Session.ID != header.Session.ID || decoded.FileID != header.FileID {
		t.Errorf("ids did not round-trip: %+v", decoded)
	}
	if decoded.Sequence != 4 || !decoded.LastFile || decoded.Session.ErrorCount != 2 {
		t.Errorf("header fields did not round-trip: %+v", decoded)
	}
	if !decoded.Session.StartTime.Equal(header.Session.StartTime) {
		t.Errorf("StartTime = %v", decoded.Session.StartTime)
	}

	// The two-stage read must leave the reader at the start of the body.
	rest, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if !bytes.Equal(rest, body) {
		t.Errorf("reader not positioned at body: got %d bytes", len(rest))
	}
}

func TestReadHeaderRejectsGarbage(t *testing.T) {
	tests := []struct {
		name   string
		stream []byte
	}{
		{"empty", nil},
		{"short", []byte("SPFRAG")},
		{"bad magic", bytes.Repeat([]byte{0x42}, 64)},
	}

	valid, err := Encode(sampleHeader(), []byte("body"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	truncated := valid[:FileHeaderSize+3]
	tests = append(tests, struct {
		name   string
		stream []byte
	}{"truncated session header", truncated})

	zeroLength := append([]byte(nil), valid...)
	copy(zeroLength[8:12], []byte{0, 0, 0, 0})
	tests = append(tests, struct {
		name   string
		stream []byte
	}{"zero header length", zeroLength})

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, _, err := ReadHeader(bytes.NewReader(test.stream))
			if !errors.Is(err, session.ErrInvalidFormat) {
				t.Errorf("ReadHeader error = %v, want ErrInvalidFormat", err)
			}
		})
	}
}

func TestFileName(t *testing.T) {
	id := session.MustParseID("7b0c2f1e-8f43-4d55-9c1a-3f3b7e2d9a10")
	if got := FileName(id); got != "7b0c2f1e-8f43-4d55-9c1a-3f3b7e2d9a10.frag" {
		t.Errorf("FileName = %q", got)
	}
}
