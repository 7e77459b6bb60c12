// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"

	"github.com/bureau-foundation/sessionpack/lib/secret"
)

// identityPrefix starts the bech32 encoding of an x25519 private key.
// LoadIdentity uses it to find the key line among comments.
const identityPrefix = "AGE-SECRET-KEY-1"

// Identity is an age x25519 keypair. The private key lives in a
// secret.Buffer; the recipient is public and stays a plain string so it
// can be printed by keygen and written into configuration.
//
// Close releases the private key. An Identity is single-owner: keygen
// writes it out and closes it, and nothing else holds one for long.
type Identity struct {
	// PrivateKey is the AGE-SECRET-KEY-1... encoding.
	PrivateKey *secret.Buffer

	// Recipient is the age1... public key that values are sealed to.
	Recipient string
}

// Close releases the private key memory.
func (i *Identity) Close() error {
	if i.PrivateKey == nil {
		return nil
	}
	return i.PrivateKey.Close()
}

// GenerateIdentity creates a new keypair from crypto/rand via age. The
// age library hands back the private key as a string; it is copied
// into locked memory at once, although the library's own copy cannot
// be wiped.
func GenerateIdentity() (*Identity, error) {
	generated, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("sealed: generating identity: %w", err)
	}
	privateKey, err := secret.NewFromBytes([]byte(generated.String()))
	if err != nil {
		return nil, fmt.Errorf("sealed: %w", err)
	}
	return &Identity{
		PrivateKey: privateKey,
		Recipient:  generated.Recipient().String(),
	}, nil
}

// WriteIdentityFile writes identity in age-keygen's file format with
// mode 0600: a "# public key:" comment line followed by the key line.
// The file is created with O_EXCL, so an existing identity is never
// overwritten; losing it would make every sealed credential in the
// configuration unreadable. A partially written file is removed.
func WriteIdentityFile(path string, identity *Identity) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("sealed: %w", err)
	}
	_, err = fmt.Fprintf(file, "# public key: %s\n", identity.Recipient)
	if err == nil {
		_, err = file.Write(identity.PrivateKey.Bytes())
	}
	if err == nil {
		_, err = file.Write([]byte("\n"))
	}
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("sealed: writing %s: %w", path, err)
	}
	return nil
}

// LoadIdentity reads an identity file as written by WriteIdentityFile
// or age-keygen. Comment lines are ignored; the first key line wins
// and must parse as an x25519 identity. The file contents are held in
// locked memory while they are scanned, and the returned key is a
// fresh Buffer the caller must Close.
func LoadIdentity(path string) (*secret.Buffer, error) {
	contents, err := secret.ReadFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("sealed: reading identity: %w", err)
	}
	defer contents.Close()

	scanner := bufio.NewScanner(bytes.NewReader(contents.Bytes()))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if !bytes.HasPrefix(line, []byte(identityPrefix)) {
			continue
		}
		key, err := secret.NewFromBytes(bytes.Clone(line))
		if err != nil {
			return nil, fmt.Errorf("sealed: %w", err)
		}
		if err := ValidateIdentity(key); err != nil {
			key.Close()
			return nil, err
		}
		return key, nil
	}
	return nil, fmt.Errorf("sealed: %s contains no age identity", path)
}

// Seal encrypts plaintext to every recipient and returns standard
// base64 ciphertext, suitable for the *_sealed fields of the
// configuration file. Any one recipient's identity can Open the
// result, so an operator can seal a credential to both the machine
// and a recovery key.
func Seal(plaintext []byte, recipients []string) (string, error) {
	if len(recipients) == 0 {
		return "", errors.New("sealed: at least one recipient is required")
	}
	parsed := make([]age.Recipient, 0, len(recipients))
	for _, recipient := range recipients {
		value, err := age.ParseX25519Recipient(strings.TrimSpace(recipient))
		if err != nil {
			return "", fmt.Errorf("sealed: recipient %q: %w", recipient, err)
		}
		parsed = append(parsed, value)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, parsed...)
	if err != nil {
		return "", fmt.Errorf("sealed: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return "", fmt.Errorf("sealed: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("sealed: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext.Bytes()), nil
}

// Open decrypts a Seal result with privateKey, which is borrowed.
// Empty plaintext is an error: a sealed credential is never blank.
//
// The plaintext is read into a heap slice by the age reader and then
// moved into a Buffer, which zeros the slice. On a read error the
// partial plaintext is zeroed before returning.
func Open(ciphertext string, privateKey *secret.Buffer) (*secret.Buffer, error) {
	identity, err := age.ParseX25519Identity(privateKey.String())
	if err != nil {
		return nil, fmt.Errorf("sealed: identity: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ciphertext))
	if err != nil {
		return nil, fmt.Errorf("sealed: decoding ciphertext: %w", err)
	}
	reader, err := age.Decrypt(bytes.NewReader(raw), identity)
	if err != nil {
		return nil, fmt.Errorf("sealed: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("sealed: reading plaintext: %w", err)
	}
	if len(plaintext) == 0 {
		return nil, errors.New("sealed: sealed value is empty")
	}
	return secret.NewFromBytes(plaintext)
}

// ValidateRecipient checks an age1... public key.
func ValidateRecipient(recipient string) error {
	if _, err := age.ParseX25519Recipient(recipient); err != nil {
		return fmt.Errorf("sealed: invalid recipient: %w", err)
	}
	return nil
}

// RecipientOf returns the age1... public key for privateKey. seal uses
// it to default the recipient to this machine's own identity.
func RecipientOf(privateKey *secret.Buffer) (string, error) {
	identity, err := age.ParseX25519Identity(privateKey.String())
	if err != nil {
		return "", fmt.Errorf("sealed: invalid identity: %w", err)
	}
	return identity.Recipient().String(), nil
}

// ValidateIdentity checks an AGE-SECRET-KEY-1... private key.
func ValidateIdentity(privateKey *secret.Buffer) error {
	if _, err := age.ParseX25519Identity(privateKey.String()); err != nil {
		return fmt.Errorf("sealed: invalid identity: %w", err)
	}
	return nil
}
