// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how fragment entries are compressed. Existing
// entries keep their method when a container is rewritten; the profile
// applies to newly added fragments.
type Compression string

const (
	// CompressionDeflate is standard zip deflate. Readable by every
	// zip tool; the default.
	CompressionDeflate Compression = "deflate"

	// CompressionZstd uses zstd (zip method 93). Better ratio for
	// text-heavy logs, supported by 7-Zip and recent libarchive.
	CompressionZstd Compression = "zstd"

	// CompressionLZ4 uses LZ4 frames under a private method id. Fastest,
	// but only sessionpack can read it back.
	CompressionLZ4 Compression = "lz4"

	// CompressionStore writes entries uncompressed.
	CompressionStore Compression = "store"
)

// methodLZ4 is a private zip method id ("L4"). Not registered with
// PKWARE; only readers using this package can decompress it.
const methodLZ4 uint16 = 0x4C34

// ParseCompression validates a profile name. Empty selects deflate.
func ParseCompression(name string) (Compression, error) {
	switch Compression(name) {
	case "":
		return CompressionDeflate, nil
	case CompressionDeflate, CompressionZstd, CompressionLZ4, CompressionStore:
		return Compression(name), nil
	default:
		return "", fmt.Errorf("unknown compression %q (want deflate, zstd, lz4, or store)", name)
	}
}

// method returns the zip method id for the profile.
func (c Compression) method() uint16 {
	switch c {
	case CompressionZstd:
		return zstd.ZipMethodWinZip
	case CompressionLZ4:
		return methodLZ4
	case CompressionStore:
		return zip.Store
	default:
		return zip.Deflate
	}
}

// registerCompressors teaches a writer the non-standard methods.
func registerCompressors(writer *zip.Writer) {
	writer.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor(zstd.WithEncoderLevel(zstd.SpeedDefault)))
	writer.RegisterCompressor(methodLZ4, func(w io.Writer) (io.WriteCloser, error) {
		return lz4.NewWriter(w), nil
	})
}

// registerDecompressors teaches a reader the non-standard methods.
func registerDecompressors(reader *zip.Reader) {
	reader.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())
	reader.RegisterDecompressor(methodLZ4, func(r io.Reader) io.ReadCloser {
		return io.NopCloser(lz4.NewReader(r))
	})
}
