// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/bureau-foundation/sessionpack/lib/codec"
	"github.com/bureau-foundation/sessionpack/lib/fragment"
	"github.com/bureau-foundation/sessionpack/lib/session"
	"github.com/bureau-foundation/sessionpack/lib/version"
)

// Save writes the container to path and rebinds the container to it.
// The new file is written next to path and renamed over it, so a
// reader of path sees either the previous or the new container.
// Persisted entries are copied without recompression; staged fragments
// are compressed with the configured profile. Entries that failed to
// index on load are not carried over.
//
// Saving to the container's own path any number of times is safe.
func (c *Container) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked(path)
}

// Flush saves the container to its own path and returns the size of
// the file on disk.
func (c *Container) Flush() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.saveLocked(c.path); err != nil {
		return 0, err
	}
	info, err := os.Stat(c.path)
	if err != nil {
		return 0, fmt.Errorf("archive: measuring %s: %w", c.path, err)
	}
	return info.Size(), nil
}

func (c *Container) saveLocked(path string) error {
	if c.disposed {
		return fmt.Errorf("archive: save after dispose")
	}
	if c.created.IsZero() {
		c.created = time.Now().UTC()
	}
	c.generator = version.UserAgent()

	temporary := path + ".tmp"
	file, err := os.Create(temporary)
	if err != nil {
		return fmt.Errorf("archive: creating %s: %w", temporary, err)
	}
	committed := false
	defer func() {
		if !committed {
			file.Close()
			os.Remove(temporary)
		}
	}()

	writer := zip.NewWriter(file)
	registerCompressors(writer)
	if err := writer.SetComment(c.caption); err != nil {
		return fmt.Errorf("archive: setting comment: %w", err)
	}

	var staged []string
	written := make(map[string]bool)
	for _, sessionID := range c.sortedSessionIDsLocked() {
		for _, entry := range c.index[sessionID].fragments {
			if written[entry.name] {
				continue
			}
			written[entry.name] = true
			if entry.staged != "" {
				if err := c.writeStaged(writer, entry); err != nil {
					return err
				}
				staged = append(staged, entry.staged)
				continue
			}
			source, ok := c.files[entry.name]
			if !ok {
				return fmt.Errorf("archive: %w: indexed entry %s missing from %s",
					session.ErrStateCorruption, entry.name, c.path)
			}
			if err := writer.Copy(source); err != nil {
				return fmt.Errorf("archive: copying entry %s: %w", entry.name, err)
			}
		}
	}

	manifest, err := codec.Marshal(c.manifestLocked())
	if err != nil {
		return fmt.Errorf("archive: encoding manifest: %w", err)
	}
	manifestWriter, err := writer.CreateHeader(&zip.FileHeader{
		Name:     manifestName,
		Method:   zip.Deflate,
		Modified: c.created,
	})
	if err != nil {
		return fmt.Errorf("archive: creating manifest entry: %w", err)
	}
	if _, err := manifestWriter.Write(manifest); err != nil {
		return fmt.Errorf("archive: writing manifest: %w", err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("archive: finishing %s: %w", temporary, err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("archive: syncing %s: %w", temporary, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("archive: closing %s: %w", temporary, err)
	}
	if err := os.Rename(temporary, path); err != nil {
		return fmt.Errorf("archive: renaming %s: %w", temporary, err)
	}
	committed = true

	// The staged copies now live in the saved file. Reloading rebuilds
	// the index from what was actually written.
	for _, stagedPath := range staged {
		if err := os.Remove(stagedPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("removing staged fragment failed", "path", stagedPath, "error", err)
		}
	}
	if c.handle != nil {
		if err := c.handle.Close(); err != nil {
			c.logger.Warn("closing previous container handle failed", "error", err)
		}
		c.handle = nil
	}
	c.path = path
	return c.loadLocked(path)
}

func (c *Container) writeStaged(writer *zip.Writer, entry *fragmentEntry) error {
	source, err := os.Open(entry.staged)
	if err != nil {
		return fmt.Errorf("archive: opening staged fragment %s: %w", entry.staged, err)
	}
	defer source.Close()
	destination, err := writer.CreateHeader(&zip.FileHeader{
		Name:     entry.name,
		Method:   c.options.Compression.method(),
		Modified: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("archive: creating entry %s: %w", entry.name, err)
	}
	if _, err := io.Copy(destination, source); err != nil {
		return fmt.Errorf("archive: writing entry %s: %w", entry.name, err)
	}
	return nil
}

// loadLocked opens path and rebuilds the index from its entries. Only
// the file header and session header of each entry are read. Must be
// called with c.mu held.
func (c *Container) loadLocked(path string) error {
	handle, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("archive: opening %s: %w", path, err)
	}
	registerDecompressors(&handle.Reader)

	c.handle = handle
	c.files = make(map[string]*zip.File, len(handle.File))
	c.index = make(map[session.ID]*sessionEntry)
	c.caption = handle.Comment
	c.description = ""
	c.generator = ""
	c.dirty = false

	digests := make(map[string]Digest)
	for _, file := range handle.File {
		if file.Name != manifestName {
			continue
		}
		manifest, err := readManifest(file)
		if err != nil {
			c.logger.Warn("ignoring unreadable manifest", "error", err)
			break
		}
		c.caption = manifest.Caption
		c.description = manifest.Description
		c.created = manifest.Created
		c.generator = manifest.Generator
		for _, entry := range manifest.Entries {
			if entry.Digest == "" {
				continue
			}
			digest, err := ParseDigest(entry.Digest)
			if err != nil {
				c.logger.Warn("ignoring malformed manifest digest", "entry", entry.Name, "error", err)
				continue
			}
			digests[entry.Name] = digest
		}
		break
	}

	for _, file := range handle.File {
		if file.Name == manifestName || !isFragmentEntry(file.Name) {
			continue
		}
		header, fileHeader, err := readEntryHeader(file)
		if err != nil {
			c.logger.Warn("skipping unreadable entry", "entry", file.Name, "error", err)
			continue
		}
		if fileHeader.StreamLength() != int64(file.UncompressedSize64) {
			c.logger.Warn("skipping entry with inconsistent length",
				"entry", file.Name,
				"declared", fileHeader.StreamLength(),
				"stored", file.UncompressedSize64,
			)
			continue
		}
		c.files[file.Name] = file
		c.insertLocked(header, &fragmentEntry{
			name:     file.Name,
			fileID:   header.FileID,
			sequence: header.Sequence,
			length:   fileHeader.StreamLength(),
			digest:   digests[file.Name],
		})
	}
	return nil
}

func readManifest(file *zip.File) (Manifest, error) {
	var manifest Manifest
	raw, err := readEntry(file)
	if err != nil {
		return manifest, err
	}
	if err := codec.Unmarshal(raw, &manifest); err != nil {
		return manifest, err
	}
	return manifest, nil
}

func readEntry(file *zip.File) ([]byte, error) {
	reader, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

// RawManifest returns the encoded manifest of the package file at
// path without indexing its fragments, for diagnostic dumps. Returns
// session.ErrNotFound when the file carries no manifest.
func RawManifest(path string) ([]byte, error) {
	handle, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("archive: opening %s: %w", path, err)
	}
	defer handle.Close()
	registerDecompressors(&handle.Reader)
	for _, file := range handle.File {
		if file.Name != manifestName {
			continue
		}
		raw, err := readEntry(file)
		if err != nil {
			return nil, fmt.Errorf("archive: reading manifest of %s: %w", path, err)
		}
		return raw, nil
	}
	return nil, fmt.Errorf("archive: %s has no manifest: %w", path, session.ErrNotFound)
}

func readEntryHeader(file *zip.File) (*fragment.Header, fragment.FileHeader, error) {
	reader, err := file.Open()
	if err != nil {
		return nil, fragment.FileHeader{}, err
	}
	defer reader.Close()
	return fragment.ReadHeader(reader)
}

// tempCopy is a materialized fragment. Closing it removes the file.
type tempCopy struct {
	*os.File
}

func (t *tempCopy) Close() error {
	closeErr := t.File.Close()
	removeErr := os.Remove(t.File.Name())
	if errors.Is(removeErr, os.ErrNotExist) {
		removeErr = nil
	}
	return errors.Join(closeErr, removeErr)
}

// Session reconstitutes one session as an owned stream. Every fragment
// is copied out to a rewound temp file, ordered by sequence then file
// id. When fileID is non-nil only that fragment is returned. Returns
// session.ErrNotFound for an unknown session or an unmatched file id.
func (c *Container) Session(id session.ID, fileID *session.ID) (*session.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return nil, fmt.Errorf("archive: read after dispose")
	}
	entry, ok := c.index[id]
	if !ok {
		return nil, fmt.Errorf("archive: session %s: %w", id, session.ErrNotFound)
	}

	stream := &session.Stream{SessionID: id}
	for _, fragmentEntry := range entry.fragments {
		if fileID != nil && fragmentEntry.fileID != *fileID {
			continue
		}
		copied, err := c.materializeLocked(fragmentEntry)
		if err != nil {
			stream.Close()
			return nil, err
		}
		stream.Fragments = append(stream.Fragments, session.Fragment{
			FileID:   fragmentEntry.fileID,
			Sequence: fragmentEntry.sequence,
			Length:   fragmentEntry.length,
			Reader:   copied,
		})
	}
	if len(stream.Fragments) == 0 {
		return nil, fmt.Errorf("archive: session %s has no file %s: %w", id, fileID, session.ErrNotFound)
	}
	return stream, nil
}

func (c *Container) openEntryLocked(entry *fragmentEntry) (io.ReadCloser, error) {
	if entry.staged != "" {
		return os.Open(entry.staged)
	}
	file, ok := c.files[entry.name]
	if !ok {
		return nil, fmt.Errorf("archive: %w: entry %s not in archive", session.ErrStateCorruption, entry.name)
	}
	return file.Open()
}

func (c *Container) materializeLocked(entry *fragmentEntry) (*tempCopy, error) {
	source, err := c.openEntryLocked(entry)
	if err != nil {
		return nil, fmt.Errorf("archive: opening %s: %w", entry.name, err)
	}
	defer source.Close()

	file, err := os.CreateTemp(c.tempDir, "extract-*"+fragment.Extension)
	if err != nil {
		return nil, fmt.Errorf("archive: extracting %s: %w", entry.name, err)
	}
	copied := &tempCopy{File: file}
	if _, err := io.Copy(file, source); err != nil {
		copied.Close()
		return nil, fmt.Errorf("archive: extracting %s: %w", entry.name, err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		copied.Close()
		return nil, fmt.Errorf("archive: rewinding %s: %w", entry.name, err)
	}
	return copied, nil
}

// Verify recomputes the digest of every persisted entry the manifest
// lists and compares it with the recorded value. Returns the number of
// entries checked. A mismatch returns session.ErrStateCorruption.
func (c *Container) Verify() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	checked := 0
	for _, sessionID := range c.sortedSessionIDsLocked() {
		for _, entry := range c.index[sessionID].fragments {
			if entry.staged != "" || entry.digest.IsZero() {
				continue
			}
			reader, err := c.openEntryLocked(entry)
			if err != nil {
				return checked, fmt.Errorf("archive: verifying %s: %w", entry.name, err)
			}
			digest, err := HashFragment(reader)
			reader.Close()
			if err != nil {
				return checked, fmt.Errorf("archive: verifying %s: %w", entry.name, err)
			}
			if digest != entry.digest {
				return checked, fmt.Errorf("archive: %w: %s digest %s, manifest has %s",
					session.ErrStateCorruption, entry.name, digest, entry.digest)
			}
			checked++
		}
	}
	return checked, nil
}
