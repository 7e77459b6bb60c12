// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadFromPathTrims(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
	}{
		{"plain", "hunter2"},
		{"trailing newline", "hunter2\n"},
		{"surrounding space", "  hunter2 \n"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(test.name, " ", "-"))
			if err := os.WriteFile(path, []byte(test.content), 0o600); err != nil {
				t.Fatal(err)
			}
			buffer, err := ReadFromPath(path)
			if err != nil {
				t.Fatalf("ReadFromPath: %v", err)
			}
			defer buffer.Close()
			if buffer.String() != "hunter2" {
				t.Errorf("got %q, want hunter2", buffer.String())
			}
		})
	}
}

func TestReadFromPathErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := ReadFromPath(filepath.Join(dir, "missing")); err == nil {
		t.Error("missing file succeeded")
	}
	blank := filepath.Join(dir, "blank")
	if err := os.WriteFile(blank, []byte(" \n\t"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadFromPath(blank); err == nil {
		t.Error("whitespace-only file succeeded")
	}
}

func TestReadLine(t *testing.T) {
	buffer, err := readLine(strings.NewReader("first-line \nsecond-line\n"))
	if err != nil {
		t.Fatalf("readLine: %v", err)
	}
	defer buffer.Close()
	if buffer.String() != "first-line" {
		t.Errorf("got %q", buffer.String())
	}
	if _, err := readLine(strings.NewReader("")); err == nil {
		t.Error("empty input succeeded")
	}
}

func TestFromEnvironmentClearsVariable(t *testing.T) {
	const name = "SESSIONPACK_TEST_SECRET"
	t.Setenv(name, " s3cret\n")

	buffer, err := FromEnvironment(name)
	if err != nil {
		t.Fatalf("FromEnvironment: %v", err)
	}
	defer buffer.Close()
	if buffer.String() != "s3cret" {
		t.Errorf("got %q", buffer.String())
	}
	if _, ok := os.LookupEnv(name); ok {
		t.Error("variable still set")
	}

	unset, err := FromEnvironment(name)
	if err != nil || unset != nil {
		t.Errorf("unset variable = (%v, %v), want (nil, nil)", unset, err)
	}
}
