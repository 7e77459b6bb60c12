// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

type textID string

func (id textID) MarshalText() ([]byte, error) { return []byte("id:" + string(id)), nil }

func (id *textID) UnmarshalText(text []byte) error {
	*id = textID(strings.TrimPrefix(string(text), "id:"))
	return nil
}

type sampleHeader struct {
	ID       textID    `json:"id"`
	Product  string    `json:"product"`
	Sequence int       `json:"sequence"`
	Started  time.Time `json:"started"`
	Note     string    `json:"note,omitempty"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := sampleHeader{
		ID:       "6f1c",
		Product:  "Acme",
		Sequence: 3,
		Started:  time.Date(2026, 3, 1, 12, 30, 0, 123456789, time.UTC),
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleHeader
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !decoded.Started.Equal(original.Started) {
		t.Errorf("time lost precision: got %v, want %v", decoded.Started, original.Started)
	}
	decoded.Started = original.Started
	if decoded != original {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	header := sampleHeader{ID: "a", Product: "Acme", Sequence: 1}

	first, err := Marshal(header)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Marshal(header)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("Marshal produced different bytes for identical input")
		}
	}
}

func TestTextMarshalerEncodesAsTextString(t *testing.T) {
	data, err := Marshal(sampleHeader{ID: "xyz", Product: "p"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	diagnostic, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !strings.Contains(diagnostic, `"id:xyz"`) {
		t.Errorf("expected text-string id in diagnostic output, got %s", diagnostic)
	}
}

func TestStreamEncoderDecoder(t *testing.T) {
	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for i := 0; i < 3; i++ {
		if err := encoder.Encode(sampleHeader{ID: "s", Sequence: i}); err != nil {
			t.Fatalf("Encode(%d): %v", i, err)
		}
	}

	decoder := NewDecoder(&buffer)
	for i := 0; i < 3; i++ {
		var header sampleHeader
		if err := decoder.Decode(&header); err != nil {
			t.Fatalf("Decode(%d): %v", i, err)
		}
		if header.Sequence != i || header.ID != "s" {
			t.Errorf("decoded %+v at position %d", header, i)
		}
	}
}
