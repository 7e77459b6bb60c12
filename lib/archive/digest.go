// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Digest is a 32-byte BLAKE3 keyed digest.
type Digest [32]byte

// Domain keys: the ASCII domain name zero-padded to 32 bytes. The same
// bytes hash differently as a fragment and as a whole package.
var (
	fragmentDomainKey = [32]byte{
		's', 'e', 's', 's', 'i', 'o', 'n', 'p', 'a', 'c', 'k', '.',
		'f', 'r', 'a', 'g', 'm', 'e', 'n', 't',
	}
	packageDomainKey = [32]byte{
		's', 'e', 's', 's', 'i', 'o', 'n', 'p', 'a', 'c', 'k', '.',
		'p', 'a', 'c', 'k', 'a', 'g', 'e',
	}
)

// String returns the lowercase hex encoding.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether the digest is unset.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// ParseDigest parses a hex-encoded digest.
func ParseDigest(text string) (Digest, error) {
	var digest Digest
	decoded, err := hex.DecodeString(text)
	if err != nil {
		return digest, fmt.Errorf("parsing digest: %w", err)
	}
	if len(decoded) != len(digest) {
		return digest, fmt.Errorf("digest is %d bytes, want %d", len(decoded), len(digest))
	}
	copy(digest[:], decoded)
	return digest, nil
}

func newHasher(key [32]byte) hash.Hash {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		// Only returned for a wrong key length; the key is fixed-size.
		panic("archive: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	return hasher
}

func sumDigest(hasher hash.Hash) Digest {
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest
}

// HashFragment returns the fragment-domain digest of r's contents.
func HashFragment(r io.Reader) (Digest, error) {
	hasher := newHasher(fragmentDomainKey)
	if _, err := io.Copy(hasher, r); err != nil {
		return Digest{}, err
	}
	return sumDigest(hasher), nil
}

// HashPackageFile returns the package-domain digest of the file at
// path. Destinations send it alongside uploads so the receiver can
// verify the container it stored.
func HashPackageFile(path string) (Digest, error) {
	file, err := os.Open(path)
	if err != nil {
		return Digest{}, err
	}
	defer file.Close()
	hasher := newHasher(packageDomainKey)
	if _, err := io.Copy(hasher, file); err != nil {
		return Digest{}, fmt.Errorf("hashing %s: %w", path, err)
	}
	return sumDigest(hasher), nil
}
