// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"

	"github.com/bureau-foundation/sessionpack/lib/codec"
	"github.com/bureau-foundation/sessionpack/lib/fragment/fragmenttest"
	"github.com/bureau-foundation/sessionpack/lib/session"
	"github.com/bureau-foundation/sessionpack/lib/version"
)

func newTestContainer(t *testing.T, compression Compression) (*Container, string) {
	t.Helper()
	directory := t.TempDir()
	path := filepath.Join(directory, "test"+PackageExtension)
	container, err := Create(path, Options{Compression: compression, TempDir: directory})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(container.Dispose)
	return container, path
}

func readAllFragments(t *testing.T, stream *session.Stream) [][]byte {
	t.Helper()
	var out [][]byte
	for _, fragment := range stream.Fragments {
		data, err := io.ReadAll(fragment.Reader)
		if err != nil {
			t.Fatalf("reading fragment %s: %v", fragment.FileID, err)
		}
		out = append(out, data)
	}
	return out
}

func TestSaveOpenRoundTrip(t *testing.T) {
	for _, compression := range []Compression{CompressionDeflate, CompressionZstd, CompressionLZ4, CompressionStore} {
		t.Run(string(compression), func(t *testing.T) {
			container, path := newTestContainer(t, compression)

			first := fragmenttest.Summary("Loupe", "Checkout", "ana")
			second := fragmenttest.Summary("Loupe", "Checkout", "ben")
			second.ErrorCount = 2
			firstStreams := [][]byte{
				fragmenttest.Stream(t, first, 0, fragmenttest.CompressibleBody(4096)),
				fragmenttest.Stream(t, first, 1, fragmenttest.RandomBody(1, 2048)),
			}
			secondStream := fragmenttest.Stream(t, second, 0, fragmenttest.CompressibleBody(100))

			for _, data := range append(firstStreams, secondStream) {
				if err := container.AddFragment(bytes.NewReader(data)); err != nil {
					t.Fatalf("AddFragment: %v", err)
				}
			}
			container.SetCaption("Loupe Checkout", "2 sessions")
			if !container.Dirty() {
				t.Fatal("container should be dirty after adds")
			}
			if err := container.Save(path); err != nil {
				t.Fatalf("Save: %v", err)
			}
			if container.Dirty() {
				t.Fatal("container should be clean after save")
			}

			reopened, err := Open(path, Options{TempDir: t.TempDir()})
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer reopened.Dispose()

			stats := reopened.Stats()
			wantBytes := int64(len(firstStreams[0]) + len(firstStreams[1]) + len(secondStream))
			if stats.Sessions != 2 || stats.Fragments != 3 || stats.ProblemSessions != 1 || stats.Bytes != wantBytes {
				t.Fatalf("Stats = %+v, want 2 sessions, 3 fragments, 1 problem, %d bytes", stats, wantBytes)
			}
			if reopened.Caption() != "Loupe Checkout" || reopened.Description() != "2 sessions" {
				t.Errorf("caption = %q / %q", reopened.Caption(), reopened.Description())
			}
			if reopened.Generator() != version.UserAgent() {
				t.Errorf("generator = %q, want %q", reopened.Generator(), version.UserAgent())
			}

			stream, err := reopened.Session(first.ID, nil)
			if err != nil {
				t.Fatalf("Session: %v", err)
			}
			defer stream.Close()
			got := readAllFragments(t, stream)
			if len(got) != 2 {
				t.Fatalf("got %d fragments, want 2", len(got))
			}
			for i := range got {
				if !bytes.Equal(got[i], firstStreams[i]) {
					t.Errorf("fragment %d differs after round trip", i)
				}
				if stream.Fragments[i].Sequence != i {
					t.Errorf("fragment %d has sequence %d", i, stream.Fragments[i].Sequence)
				}
			}

			checked, err := reopened.Verify()
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if checked != 3 {
				t.Errorf("Verify checked %d entries, want 3", checked)
			}
		})
	}
}

func TestAddFragmentRejectsGarbage(t *testing.T) {
	container, _ := newTestContainer(t, CompressionDeflate)
	err := container.AddFragment(bytes.NewReader([]byte("definitely not a fragment stream")))
	if !errors.Is(err, session.ErrInvalidFormat) {
		t.Fatalf("AddFragment error = %v, want ErrInvalidFormat", err)
	}
	if container.Dirty() {
		t.Error("failed add should leave the container clean")
	}
	if stats := container.Stats(); stats.Fragments != 0 {
		t.Errorf("Stats after failed add = %+v", stats)
	}
}

func TestAddFragmentRejectsTruncatedStream(t *testing.T) {
	container, _ := newTestContainer(t, CompressionDeflate)
	data := fragmenttest.Stream(t, fragmenttest.Summary("Loupe", "Checkout", "ana"), 0, fragmenttest.CompressibleBody(512))
	err := container.AddFragment(bytes.NewReader(data[:len(data)-10]))
	if !errors.Is(err, session.ErrInvalidFormat) {
		t.Fatalf("AddFragment error = %v, want ErrInvalidFormat", err)
	}
}

func TestSameFileIDReplaces(t *testing.T) {
	container, _ := newTestContainer(t, CompressionDeflate)
	summary := fragmenttest.Summary("Loupe", "Checkout", "ana")
	data := fragmenttest.Stream(t, summary, 0, fragmenttest.CompressibleBody(256))
	for range 2 {
		if err := container.AddFragment(bytes.NewReader(data)); err != nil {
			t.Fatalf("AddFragment: %v", err)
		}
	}
	if count := container.FragmentCount(summary.ID); count != 1 {
		t.Fatalf("FragmentCount = %d, want 1", count)
	}
}

func TestLaterFragmentUpdatesSummary(t *testing.T) {
	container, _ := newTestContainer(t, CompressionDeflate)
	running := fragmenttest.Summary("Loupe", "Checkout", "ana")
	running.Status = session.StatusRunning
	finished := running
	finished.Status = session.StatusCrashed

	// Added out of order: the highest sequence still wins.
	for _, data := range [][]byte{
		fragmenttest.Stream(t, finished, 1, []byte("late")),
		fragmenttest.Stream(t, running, 0, []byte("early")),
	} {
		if err := container.AddFragment(bytes.NewReader(data)); err != nil {
			t.Fatalf("AddFragment: %v", err)
		}
	}
	summaries := container.Summaries()
	if len(summaries) != 1 || summaries[0].Status != session.StatusCrashed {
		t.Fatalf("Summaries = %+v, want one crashed session", summaries)
	}
}

func TestSessionFileFilter(t *testing.T) {
	container, path := newTestContainer(t, CompressionDeflate)
	summary := fragmenttest.Summary("Loupe", "Checkout", "ana")
	for sequence := range 3 {
		data := fragmenttest.Stream(t, summary, sequence, fragmenttest.CompressibleBody(64))
		if err := container.AddFragment(bytes.NewReader(data)); err != nil {
			t.Fatalf("AddFragment: %v", err)
		}
	}
	if err := container.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	all, err := container.Session(summary.ID, nil)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	wanted := all.Fragments[1].FileID
	all.Close()

	filtered, err := container.Session(summary.ID, &wanted)
	if err != nil {
		t.Fatalf("Session with filter: %v", err)
	}
	defer filtered.Close()
	if len(filtered.Fragments) != 1 || filtered.Fragments[0].FileID != wanted {
		t.Fatalf("filtered fragments = %+v", filtered.Fragments)
	}
	if _, ok := filtered.Fragments[0].Reader.(io.Seeker); !ok {
		t.Error("materialized fragment should be seekable")
	}

	missing := session.NewID()
	if _, err := container.Session(summary.ID, &missing); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("unmatched file filter error = %v, want ErrNotFound", err)
	}
	if _, err := container.Session(session.NewID(), nil); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("unknown session error = %v, want ErrNotFound", err)
	}
}

func TestOpenSkipsGarbageAndReadsLegacyEntries(t *testing.T) {
	directory := t.TempDir()
	path := filepath.Join(directory, "mixed.zip")

	modern := fragmenttest.Summary("Loupe", "Checkout", "ana")
	legacy := fragmenttest.Summary("Loupe", "Checkout", "ben")
	entries := []struct {
		name string
		data []byte
	}{
		{FragmentFolder + "/" + session.NewID().String() + ".frag", fragmenttest.Stream(t, modern, 0, []byte("modern body"))},
		{"old/" + legacy.ID.String() + LegacySessionExtension, fragmenttest.Stream(t, legacy, 0, []byte("legacy body"))},
		{FragmentFolder + "/broken.frag", []byte("not a fragment at all")},
		{"README.txt", []byte("unrelated entry")},
	}

	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating zip: %v", err)
	}
	writer := zip.NewWriter(file)
	for _, entry := range entries {
		w, err := writer.Create(entry.name)
		if err != nil {
			t.Fatalf("creating entry: %v", err)
		}
		if _, err := w.Write(entry.data); err != nil {
			t.Fatalf("writing entry: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
	file.Close()

	container, err := Open(path, Options{TempDir: directory})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer container.Dispose()

	stats := container.Stats()
	if stats.Sessions != 2 || stats.Fragments != 2 {
		t.Fatalf("Stats = %+v, want 2 sessions with 2 fragments", stats)
	}
	if count := container.FragmentCount(legacy.ID); count != 1 {
		t.Errorf("legacy session has %d fragments, want 1", count)
	}

	// Without a manifest there is nothing to verify, and that is fine.
	if checked, err := container.Verify(); err != nil || checked != 0 {
		t.Errorf("Verify = %d, %v; want 0, nil", checked, err)
	}
}

func TestRepeatedSaveToSamePath(t *testing.T) {
	container, path := newTestContainer(t, CompressionDeflate)
	var sizes []int64
	for i := range 3 {
		summary := fragmenttest.Summary("Loupe", "Checkout", "ana")
		data := fragmenttest.Stream(t, summary, 0, fragmenttest.RandomBody(int64(i), 1024))
		if err := container.AddFragment(bytes.NewReader(data)); err != nil {
			t.Fatalf("AddFragment: %v", err)
		}
		size, err := container.Flush()
		if err != nil {
			t.Fatalf("Flush %d: %v", i, err)
		}
		sizes = append(sizes, size)
	}
	if !(sizes[0] < sizes[1] && sizes[1] < sizes[2]) {
		t.Errorf("flushed sizes should grow: %v", sizes)
	}
	if _, err := os.Stat(path + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("temporary file left behind: %v", err)
	}
	if stats := container.Stats(); stats.Sessions != 3 {
		t.Errorf("Stats = %+v, want 3 sessions", stats)
	}
}

func TestRemoveSession(t *testing.T) {
	container, path := newTestContainer(t, CompressionDeflate)
	keep := fragmenttest.Summary("Loupe", "Checkout", "ana")
	drop := fragmenttest.Summary("Loupe", "Checkout", "ben")
	for _, summary := range []session.Summary{keep, drop} {
		data := fragmenttest.Stream(t, summary, 0, []byte("body"))
		if err := container.AddFragment(bytes.NewReader(data)); err != nil {
			t.Fatalf("AddFragment: %v", err)
		}
	}
	if err := container.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !container.RemoveSession(drop.ID) {
		t.Fatal("RemoveSession returned false for a present session")
	}
	if container.RemoveSession(drop.ID) {
		t.Fatal("RemoveSession returned true for an absent session")
	}
	if err := container.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reopened, err := Open(path, Options{TempDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Dispose()
	summaries := reopened.Summaries()
	if len(summaries) != 1 || summaries[0].ID != keep.ID {
		t.Fatalf("Summaries after remove = %+v", summaries)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	container, path := newTestContainer(t, CompressionStore)
	summary := fragmenttest.Summary("Loupe", "Checkout", "ana")
	body := []byte("0123456789abcdef0123456789abcdef")
	if err := container.AddFragment(bytes.NewReader(fragmenttest.Stream(t, summary, 0, body))); err != nil {
		t.Fatalf("AddFragment: %v", err)
	}
	if err := container.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	container.Dispose()

	// Flip a body byte in the stored (uncompressed) entry. The zip CRC
	// also breaks, so either the read or the digest check must fail.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading package: %v", err)
	}
	index := bytes.Index(raw, body)
	if index < 0 {
		t.Fatal("stored body not found in package")
	}
	raw[index] ^= 0xFF
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("writing package: %v", err)
	}

	reopened, err := Open(path, Options{TempDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Dispose()
	if _, err := reopened.Verify(); err == nil {
		t.Fatal("Verify should fail for a tampered entry")
	}
}

func TestDisposeIsIdempotent(t *testing.T) {
	directory := t.TempDir()
	container, err := Create(filepath.Join(directory, "x.spkg"), Options{TempDir: directory})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	tempDir := container.tempDir
	container.Dispose()
	container.Dispose()
	if _, err := os.Stat(tempDir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("temp directory still present after Dispose: %v", err)
	}
	if err := container.AddFragment(bytes.NewReader(nil)); err == nil {
		t.Error("AddFragment after Dispose should fail")
	}
}

func TestParseCompression(t *testing.T) {
	if got, err := ParseCompression(""); err != nil || got != CompressionDeflate {
		t.Errorf("ParseCompression(\"\") = %q, %v", got, err)
	}
	if got, err := ParseCompression("zstd"); err != nil || got != CompressionZstd {
		t.Errorf("ParseCompression(zstd) = %q, %v", got, err)
	}
	if _, err := ParseCompression("brotli"); err == nil {
		t.Error("ParseCompression(brotli) should fail")
	}
}

func TestRawManifest(t *testing.T) {
	container, path := newTestContainer(t, CompressionDeflate)
	summary := fragmenttest.Summary("Loupe", "Checkout", "ana")
	if err := container.AddFragment(bytes.NewReader(fragmenttest.Stream(t, summary, 0, fragmenttest.CompressibleBody(512)))); err != nil {
		t.Fatalf("AddFragment: %v", err)
	}
	container.SetCaption("Loupe Checkout", "1 session")
	if err := container.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, err := RawManifest(path)
	if err != nil {
		t.Fatalf("RawManifest: %v", err)
	}
	var manifest Manifest
	if err := codec.Unmarshal(raw, &manifest); err != nil {
		t.Fatalf("decoding manifest: %v", err)
	}
	if manifest.Caption != "Loupe Checkout" || len(manifest.Entries) != 1 || manifest.Entries[0].SessionID != summary.ID {
		t.Errorf("manifest = %+v", manifest)
	}

	bare := filepath.Join(t.TempDir(), "bare"+PackageExtension)
	file, err := os.Create(bare)
	if err != nil {
		t.Fatal(err)
	}
	if err := zip.NewWriter(file).Close(); err != nil {
		t.Fatal(err)
	}
	file.Close()
	if _, err := RawManifest(bare); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("RawManifest of a zip without manifest = %v, want ErrNotFound", err)
	}
}
