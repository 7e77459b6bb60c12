// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/bureau-foundation/sessionpack/lib/codec"
	"github.com/bureau-foundation/sessionpack/lib/fragment"
	"github.com/bureau-foundation/sessionpack/lib/session"
	"github.com/bureau-foundation/sessionpack/lib/version"
)

const (
	// FragmentFolder is the logical folder holding fragment entries.
	FragmentFolder = "SessionFragments"

	// LegacySessionExtension marks whole-session entries written by
	// older packagers. They hold a single fragment stream each.
	LegacySessionExtension = ".session"

	// PackageExtension is the file name extension of saved containers.
	PackageExtension = ".spkg"

	manifestName = "Manifest.cbor"
)

// Options configures a container.
type Options struct {
	// Compression applies to fragments added to this container.
	// Defaults to CompressionDeflate.
	Compression Compression

	// TempDir is the parent of the container's private staging
	// directory. Defaults to os.TempDir().
	TempDir string

	// Logger receives index recovery and cleanup warnings. If nil, a
	// no-op logger is used.
	Logger *slog.Logger
}

// Stats summarizes a container's index.
type Stats struct {
	Sessions        int
	ProblemSessions int
	Fragments       int

	// Bytes is the sum of declared (uncompressed) fragment lengths.
	Bytes int64
}

// Container is an archive container. All methods are safe to call
// from multiple goroutines, but the container is designed for one
// writer at a time: the mutex serializes mutation and blocks readers
// of the index while a save is in progress.
type Container struct {
	mu      sync.Mutex
	options Options
	logger  *slog.Logger

	path   string
	handle *zip.ReadCloser
	files  map[string]*zip.File

	index       map[session.ID]*sessionEntry
	caption     string
	description string
	created     time.Time
	generator   string
	dirty       bool

	tempDir  string
	disposed bool
}

type sessionEntry struct {
	// summary is taken from the fragment with the highest sequence.
	summary   session.Summary
	fragments []*fragmentEntry
}

type fragmentEntry struct {
	name     string
	fileID   session.ID
	sequence int
	length   int64
	digest   Digest

	// staged is the temp copy of a fragment not yet saved. Empty for
	// persisted entries.
	staged string
}

// Manifest is the metadata entry stored in every saved container.
type Manifest struct {
	Caption     string          `json:"caption"`
	Description string          `json:"description,omitempty"`
	Created     time.Time       `json:"created"`
	Generator   string          `json:"generator,omitempty"`
	Entries     []ManifestEntry `json:"entries"`
}

// ManifestEntry records one fragment entry's identity and digest.
type ManifestEntry struct {
	Name      string     `json:"name"`
	SessionID session.ID `json:"session_id"`
	FileID    session.ID `json:"file_id"`
	Sequence  int        `json:"sequence"`
	Length    int64      `json:"length"`
	Digest    string     `json:"digest"`
}

// Create returns an empty container that will be saved to path.
// Nothing is written until Save or Flush.
func Create(path string, options Options) (*Container, error) {
	container, err := newContainer(path, options)
	if err != nil {
		return nil, err
	}
	container.created = time.Now().UTC()
	container.generator = version.UserAgent()
	return container, nil
}

// Open loads an existing container and rebuilds its index from the
// entries on disk.
func Open(path string, options Options) (*Container, error) {
	container, err := newContainer(path, options)
	if err != nil {
		return nil, err
	}
	container.mu.Lock()
	defer container.mu.Unlock()
	if err := container.loadLocked(path); err != nil {
		container.disposeLocked()
		return nil, err
	}
	return container, nil
}

func newContainer(path string, options Options) (*Container, error) {
	if options.Compression == "" {
		options.Compression = CompressionDeflate
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	tempDir, err := os.MkdirTemp(options.TempDir, "sessionpack-container-")
	if err != nil {
		return nil, fmt.Errorf("archive: creating temp directory: %w", err)
	}
	return &Container{
		options: options,
		logger:  logger.With("container", filepath.Base(path)),
		path:    path,
		files:   make(map[string]*zip.File),
		index:   make(map[session.ID]*sessionEntry),
		tempDir: tempDir,
	}, nil
}

// Path returns the file the container was opened from or last saved
// to.
func (c *Container) Path() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path
}

// Dirty reports whether the index has changes not yet saved.
func (c *Container) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// Caption returns the container's caption.
func (c *Container) Caption() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caption
}

// Generator names the sessionpack build that wrote the container.
// Empty for containers without a manifest.
func (c *Container) Generator() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generator
}

// Description returns the container's description.
func (c *Container) Description() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.description
}

// SetCaption sets the caption and description stored in the manifest.
func (c *Container) SetCaption(caption, description string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.caption != caption || c.description != description {
		c.caption = caption
		c.description = description
		c.dirty = true
	}
}

// AddFragment copies a fragment stream into the container. The stream
// is read to EOF and may be closed by the caller as soon as this
// returns. Returns session.ErrInvalidFormat if the stream is not a
// fragment; the container is then unchanged.
func (c *Container) AddFragment(r io.Reader) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return fmt.Errorf("archive: add fragment after dispose")
	}

	staged, err := os.CreateTemp(c.tempDir, "fragment-*"+fragment.Extension)
	if err != nil {
		return fmt.Errorf("archive: staging fragment: %w", err)
	}
	stagedPath := staged.Name()
	keep := false
	defer func() {
		staged.Close()
		if !keep {
			os.Remove(stagedPath)
		}
	}()

	hasher := newHasher(fragmentDomainKey)
	copied, err := io.Copy(io.MultiWriter(staged, hasher), r)
	if err != nil {
		return fmt.Errorf("archive: copying fragment: %w", err)
	}
	if _, err := staged.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("archive: rewinding staged fragment: %w", err)
	}
	header, fileHeader, err := fragment.ReadHeader(staged)
	if err != nil {
		return fmt.Errorf("archive: adding fragment: %w", err)
	}
	if fileHeader.StreamLength() != copied {
		return fmt.Errorf("archive: adding fragment: %w: declared length %d, stream has %d bytes",
			session.ErrInvalidFormat, fileHeader.StreamLength(), copied)
	}

	c.insertLocked(header, &fragmentEntry{
		name:     path.Join(FragmentFolder, fragment.FileName(header.FileID)),
		fileID:   header.FileID,
		sequence: header.Sequence,
		length:   copied,
		digest:   sumDigest(hasher),
		staged:   stagedPath,
	})
	c.dirty = true
	keep = true
	return nil
}

// insertLocked adds or replaces a fragment under its session entry.
// Must be called with c.mu held.
func (c *Container) insertLocked(header *fragment.Header, entry *fragmentEntry) {
	sessionID := header.Session.ID
	existing, ok := c.index[sessionID]
	if !ok {
		existing = &sessionEntry{summary: header.Session}
		c.index[sessionID] = existing
	}

	replaced := false
	for i, current := range existing.fragments {
		if current.fileID == entry.fileID {
			if current.staged != "" && current.staged != entry.staged {
				os.Remove(current.staged)
			}
			existing.fragments[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		existing.fragments = append(existing.fragments, entry)
	}
	sort.Slice(existing.fragments, func(i, j int) bool {
		left, right := existing.fragments[i], existing.fragments[j]
		if left.sequence != right.sequence {
			return left.sequence < right.sequence
		}
		return left.fileID.String() < right.fileID.String()
	})
	if last := existing.fragments[len(existing.fragments)-1]; last == entry {
		existing.summary = header.Session
	}
}

// RemoveSession drops a session and all its fragments from the index.
// The persisted file still contains it until the next Save. Returns
// false if the session was not present.
func (c *Container) RemoveSession(id session.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.index[id]
	if !ok {
		return false
	}
	for _, fragmentEntry := range entry.fragments {
		if fragmentEntry.staged != "" {
			os.Remove(fragmentEntry.staged)
		}
	}
	delete(c.index, id)
	c.dirty = true
	return true
}

// Stats returns aggregate counts over the index.
func (c *Container) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	var stats Stats
	for _, entry := range c.index {
		stats.Sessions++
		if entry.summary.HasProblem() {
			stats.ProblemSessions++
		}
		for _, fragmentEntry := range entry.fragments {
			stats.Fragments++
			stats.Bytes += fragmentEntry.length
		}
	}
	return stats
}

// Summaries returns the summary of every session in the container,
// ordered by start time then id.
func (c *Container) Summaries() []session.Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	summaries := make([]session.Summary, 0, len(c.index))
	for _, entry := range c.index {
		summaries = append(summaries, entry.summary)
	}
	sortSummaries(summaries)
	return summaries
}

// FragmentCount returns the number of fragments stored for id, or
// zero when the session is absent.
func (c *Container) FragmentCount(id session.ID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.index[id]; ok {
		return len(entry.fragments)
	}
	return 0
}

func sortSummaries(summaries []session.Summary) {
	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].StartTime.Equal(summaries[j].StartTime) {
			return summaries[i].StartTime.Before(summaries[j].StartTime)
		}
		return summaries[i].ID.String() < summaries[j].ID.String()
	})
}

// Dispose releases the archive handle and deletes the private temp
// directory. Idempotent; cleanup failures are logged, not returned.
// The saved container file itself is left in place.
func (c *Container) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disposeLocked()
}

func (c *Container) disposeLocked() {
	if c.disposed {
		return
	}
	c.disposed = true
	if c.handle != nil {
		if err := c.handle.Close(); err != nil {
			c.logger.Warn("closing container handle failed", "error", err)
		}
		c.handle = nil
	}
	c.files = nil
	if err := os.RemoveAll(c.tempDir); err != nil {
		c.logger.Warn("removing container temp directory failed",
			"temp_dir", c.tempDir,
			"error", err,
		)
	}
}

// isFragmentEntry reports whether an entry name follows the fragment
// storage convention or the legacy whole-session convention.
func isFragmentEntry(name string) bool {
	if strings.HasPrefix(name, FragmentFolder+"/") && strings.HasSuffix(name, fragment.Extension) {
		return true
	}
	return strings.HasSuffix(name, LegacySessionExtension)
}

// manifestLocked builds the manifest for the current index. Must be
// called with c.mu held.
func (c *Container) manifestLocked() Manifest {
	manifest := Manifest{
		Caption:     c.caption,
		Description: c.description,
		Created:     c.created,
		Generator:   c.generator,
	}
	for _, sessionID := range c.sortedSessionIDsLocked() {
		for _, entry := range c.index[sessionID].fragments {
			manifest.Entries = append(manifest.Entries, ManifestEntry{
				Name:      entry.name,
				SessionID: sessionID,
				FileID:    entry.fileID,
				Sequence:  entry.sequence,
				Length:    entry.length,
				Digest:    digestString(entry.digest),
			})
		}
	}
	return manifest
}

func digestString(digest Digest) string {
	if digest.IsZero() {
		return ""
	}
	return digest.String()
}

// sortedSessionIDsLocked returns session ids in summary order. Must be
// called with c.mu held.
func (c *Container) sortedSessionIDsLocked() []session.ID {
	summaries := make([]session.Summary, 0, len(c.index))
	for _, entry := range c.index {
		summaries = append(summaries, entry.summary)
	}
	sortSummaries(summaries)
	ids := make([]session.ID, len(summaries))
	for i, summary := range summaries {
		ids[i] = summary.ID
	}
	return ids
}

// ManifestBytes returns the CBOR encoding of the manifest that the
// next Save would write.
func (c *Container) ManifestBytes() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return codec.Marshal(c.manifestLocked())
}
