// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Buffer is a fixed-size region of protected memory holding one
// credential. The region comes from an anonymous mmap, so the Go
// runtime never moves or copies it, and it stays mlocked and out of
// core dumps for its whole life.
//
// A Buffer must not be copied. The delivery code that borrows a
// password or token (SMTP auth, the Authorization header) reads it at
// the moment of use and never keeps the result. Every read after Close
// panics rather than returning zeros, so a use-after-close shows up as
// a crash instead of as an empty password sent to a server.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	closed bool
}

// New allocates a zero-filled protected buffer of size bytes. The
// region is:
//   - mapped with MAP_PRIVATE|MAP_ANONYMOUS, outside the Go heap
//   - locked into RAM with mlock so it is never written to swap
//   - marked MADV_DONTDUMP so a crash dump does not contain it
//
// Any step failing undoes the earlier ones. mlock can fail under a low
// RLIMIT_MEMLOCK; the error names the step so the operator can tell.
// The caller owns the buffer and must Close it.
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secret: buffer size must be positive, got %d", size)
	}
	// Anonymous, private, outside the Go heap.
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secret: mmap: %w", err)
	}
	// Keep the pages out of swap.
	if err := unix.Mlock(data); err != nil {
		unix.Munmap(data)
		return nil, fmt.Errorf("secret: mlock: %w", err)
	}
	// Keep the pages out of core dumps.
	if err := unix.Madvise(data, unix.MADV_DONTDUMP); err != nil {
		unix.Munlock(data)
		unix.Munmap(data)
		return nil, fmt.Errorf("secret: madvise(MADV_DONTDUMP): %w", err)
	}
	return &Buffer{data: data}, nil
}

// NewFromBytes moves source into a protected buffer. The bytes are
// copied into the locked region and source is zeroed in place, whether
// or not the allocation succeeds, so the heap copy the caller read
// from a file or the environment does not outlive this call. An empty
// source is an error: a zero-length mmap is invalid and an empty
// credential is always a configuration mistake.
func NewFromBytes(source []byte) (*Buffer, error) {
	defer Zero(source)
	if len(source) == 0 {
		return nil, errors.New("secret: empty source")
	}
	buffer, err := New(len(source))
	if err != nil {
		return nil, err
	}
	copy(buffer.data, source)
	return buffer, nil
}

// Bytes returns the protected region itself, not a copy. The slice
// aliases locked memory and becomes invalid (unmapped) after Close;
// callers must not retain it. Panics if the buffer is closed.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		panic("secret: read from closed buffer")
	}
	return b.data
}

// String returns a heap copy of the contents, for APIs that only take
// strings: smtp.PlainAuth, the bearer token header, and
// age.ParseX25519Identity. The copy is ordinary garbage-collected
// memory and cannot be zeroed, so prefer Bytes where the consumer
// accepts a slice. Panics if the buffer is closed.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		panic("secret: read from closed buffer")
	}
	return string(b.data)
}

// Len returns the size of the contents. Zero after Close.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Close zeros the region, then unlocks and unmaps it. Zeroing happens
// first so the contents are gone even if munlock or munmap fail; those
// failures are joined into the returned error. Calling Close again is a
// no-op returning nil.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	Zero(b.data)

	var errs []error
	if err := unix.Munlock(b.data); err != nil {
		errs = append(errs, fmt.Errorf("secret: munlock: %w", err))
	}
	if err := unix.Munmap(b.data); err != nil {
		errs = append(errs, fmt.Errorf("secret: munmap: %w", err))
	}
	b.data = nil
	return errors.Join(errs...)
}

// Zero overwrites data with zero bytes. It is used on heap slices that
// briefly held a credential (file contents, environment values) before
// they were moved into a Buffer.
func Zero(data []byte) {
	clear(data)
}
