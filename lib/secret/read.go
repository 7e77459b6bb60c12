// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// ReadFromPath reads a credential from a file, or the first line of
// stdin when path is "-".
func ReadFromPath(path string) (*Buffer, error) {
	if path == "-" {
		return readLine(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("secret: %w", err)
	}
	return fromTrimmed(data, path)
}

func readLine(r io.Reader) (*Buffer, error) {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("secret: reading stdin: %w", err)
		}
		return nil, errors.New("secret: stdin is empty")
	}
	return fromTrimmed(scanner.Bytes(), "stdin")
}

// FromEnvironment moves the value of an environment variable into a
// Buffer and unsets the variable. Returns (nil, nil) when the variable
// is unset or blank.
func FromEnvironment(name string) (*Buffer, error) {
	value, ok := os.LookupEnv(name)
	if !ok {
		return nil, nil
	}
	if err := os.Unsetenv(name); err != nil {
		return nil, fmt.Errorf("secret: clearing %s: %w", name, err)
	}
	data := []byte(value)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	return fromTrimmed(data, name)
}

// fromTrimmed stores data without surrounding whitespace and zeros
// data.
func fromTrimmed(data []byte, source string) (*Buffer, error) {
	defer Zero(data)
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("secret: %s is empty", source)
	}
	return NewFromBytes(trimmed)
}
