// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fragment

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/bureau-foundation/sessionpack/lib/codec"
	"github.com/bureau-foundation/sessionpack/lib/session"
)

const (
	fragmentVersion = 1

	// FileHeaderSize is the fixed size of the file header: 8-byte
	// magic, 4-byte session header length, 4 reserved bytes, 8-byte
	// body length.
	FileHeaderSize = 24

	// Extension is the file name extension of fragment files on disk
	// and of fragment entries inside archive containers.
	Extension = ".frag"

	// maxHeaderLength bounds the session header allocation when
	// reading untrusted streams. Real headers are a few hundred bytes.
	maxHeaderLength = 1 << 20
)

// fragmentMagic is the 8-byte fragment stream signature.
var fragmentMagic = [8]byte{'S', 'P', 'F', 'R', 'A', 'G', fragmentVersion, 0}

// FileHeader is the fixed-size prefix of a fragment stream.
type FileHeader struct {
	HeaderLength uint32
	BodyLength   uint64
}

// StreamLength returns the declared length of the whole stream.
func (h FileHeader) StreamLength() int64 {
	return FileHeaderSize + int64(h.HeaderLength) + int64(h.BodyLength)
}

// Header is the session header embedded in every fragment. Session is
// the summary as of the end of this fragment; later fragments of the
// same session carry more recent summaries.
type Header struct {
	Session   session.Summary `json:"session"`
	FileID    session.ID      `json:"file_id"`
	Sequence  int             `json:"sequence"`
	FileStart time.Time       `json:"file_start"`
	FileEnd   time.Time       `json:"file_end"`

	// LastFile is set on the fragment written when the session ended.
	LastFile bool `json:"last_file"`
}

// ReadFileHeader reads and validates exactly FileHeaderSize bytes.
func ReadFileHeader(r io.Reader) (FileHeader, error) {
	var raw [FileHeaderSize]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return FileHeader{}, fmt.Errorf("%w: reading file header: %v", session.ErrInvalidFormat, err)
	}
	if !bytes.Equal(raw[:8], fragmentMagic[:]) {
		return FileHeader{}, fmt.Errorf("%w: bad magic %q", session.ErrInvalidFormat, raw[:8])
	}
	header := FileHeader{
		HeaderLength: binary.LittleEndian.Uint32(raw[8:12]),
		BodyLength:   binary.LittleEndian.Uint64(raw[16:24]),
	}
	if header.HeaderLength == 0 || header.HeaderLength > maxHeaderLength {
		return FileHeader{}, fmt.Errorf("%w: session header length %d out of range",
			session.ErrInvalidFormat, header.HeaderLength)
	}
	return header, nil
}

// ReadHeader performs the two-stage read: the fixed file header, then
// exactly the declared session header bytes. The body is not read; on
// return r is positioned at the start of the body.
func ReadHeader(r io.Reader) (*Header, FileHeader, error) {
	fileHeader, err := ReadFileHeader(r)
	if err != nil {
		return nil, FileHeader{}, err
	}
	raw := make([]byte, fileHeader.HeaderLength)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, FileHeader{}, fmt.Errorf("%w: reading session header: %v", session.ErrInvalidFormat, err)
	}
	var header Header
	if err := codec.Unmarshal(raw, &header); err != nil {
		return nil, FileHeader{}, fmt.Errorf("%w: decoding session header: %v", session.ErrInvalidFormat, err)
	}
	if header.Session.ID.IsZero() || header.FileID.IsZero() {
		return nil, FileHeader{}, fmt.Errorf("%w: session header without ids", session.ErrInvalidFormat)
	}
	return &header, fileHeader, nil
}

// Write writes a complete fragment stream to w: file header, encoded
// session header, then bodyLength bytes copied from body. Returns the
// number of bytes written.
func Write(w io.Writer, header *Header, body io.Reader, bodyLength int64) (int64, error) {
	encoded, err := codec.Marshal(header)
	if err != nil {
		return 0, fmt.Errorf("encoding session header: %w", err)
	}

	var raw [FileHeaderSize]byte
	copy(raw[:8], fragmentMagic[:])
	binary.LittleEndian.PutUint32(raw[8:12], uint32(len(encoded)))
	binary.LittleEndian.PutUint64(raw[16:24], uint64(bodyLength))

	written := int64(0)
	n, err := w.Write(raw[:])
	written += int64(n)
	if err != nil {
		return written, fmt.Errorf("writing file header: %w", err)
	}
	n, err = w.Write(encoded)
	written += int64(n)
	if err != nil {
		return written, fmt.Errorf("writing session header: %w", err)
	}
	copied, err := io.CopyN(w, body, bodyLength)
	written += copied
	if err != nil {
		return written, fmt.Errorf("writing fragment body: %w", err)
	}
	return written, nil
}

// Encode returns a complete fragment stream for header and body.
func Encode(header *Header, body []byte) ([]byte, error) {
	var buffer bytes.Buffer
	if _, err := Write(&buffer, header, bytes.NewReader(body), int64(len(body))); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

// FileName returns the canonical file name for a fragment file id.
func FileName(fileID session.ID) string {
	return fileID.String() + Extension
}
