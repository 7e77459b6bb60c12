// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"

	"github.com/google/uuid"
)

// ID is a 128-bit unique identifier for a session or for one physical
// fragment file of a session. IDs marshal as the canonical hyphenated
// UUID string, so the CBOR codec stores them as text strings.
type ID uuid.UUID

// NilID is the zero ID. It never identifies a real session.
var NilID ID

// NewID returns a random (version 4) ID.
func NewID() ID {
	return ID(uuid.New())
}

// ParseID parses the canonical string form of an ID.
func ParseID(text string) (ID, error) {
	parsed, err := uuid.Parse(text)
	if err != nil {
		return NilID, fmt.Errorf("parsing session id %q: %w", text, err)
	}
	return ID(parsed), nil
}

// MustParseID is ParseID for constants and tests. Panics on error.
func MustParseID(text string) ID {
	id, err := ParseID(text)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the canonical hyphenated form.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id is NilID.
func (id ID) IsZero() bool {
	return id == NilID
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
