// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func generate(t *testing.T) *Identity {
	t.Helper()
	identity, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	t.Cleanup(func() { identity.Close() })
	return identity
}

func TestGenerateIdentity(t *testing.T) {
	identity := generate(t)
	if !strings.HasPrefix(identity.PrivateKey.String(), identityPrefix) {
		t.Errorf("private key has wrong prefix")
	}
	if err := ValidateRecipient(identity.Recipient); err != nil {
		t.Errorf("ValidateRecipient: %v", err)
	}
	if err := ValidateIdentity(identity.PrivateKey); err != nil {
		t.Errorf("ValidateIdentity: %v", err)
	}
	recipient, err := RecipientOf(identity.PrivateKey)
	if err != nil {
		t.Fatalf("RecipientOf: %v", err)
	}
	if recipient != identity.Recipient {
		t.Errorf("RecipientOf = %q, want %q", recipient, identity.Recipient)
	}
	other := generate(t)
	if other.Recipient == identity.Recipient {
		t.Error("two identities share a recipient")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	machine := generate(t)
	escrow := generate(t)

	ciphertext, err := Seal([]byte("smtp-password"), []string{machine.Recipient, escrow.Recipient})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	for name, identity := range map[string]*Identity{"machine": machine, "escrow": escrow} {
		plaintext, err := Open(ciphertext, identity.PrivateKey)
		if err != nil {
			t.Fatalf("Open with %s identity: %v", name, err)
		}
		if plaintext.String() != "smtp-password" {
			t.Errorf("%s: plaintext = %q", name, plaintext.String())
		}
		plaintext.Close()
	}

	stranger := generate(t)
	if _, err := Open(ciphertext, stranger.PrivateKey); err == nil {
		t.Error("Open with an unrelated identity succeeded")
	}
}

func TestSealRejectsBadRecipients(t *testing.T) {
	if _, err := Seal([]byte("x"), nil); err == nil {
		t.Error("Seal without recipients succeeded")
	}
	if _, err := Seal([]byte("x"), []string{"age1notakey"}); err == nil {
		t.Error("Seal to an invalid recipient succeeded")
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	identity := generate(t)
	if _, err := Open("!!not base64!!", identity.PrivateKey); err == nil {
		t.Error("Open of invalid base64 succeeded")
	}
	if _, err := Open("aGVsbG8=", identity.PrivateKey); err == nil {
		t.Error("Open of non-age data succeeded")
	}
}

func TestIdentityFileRoundTrip(t *testing.T) {
	identity := generate(t)
	path := filepath.Join(t.TempDir(), "identity.txt")
	if err := WriteIdentityFile(path, identity); err != nil {
		t.Fatalf("WriteIdentityFile: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("identity file mode = %v, want 0600", info.Mode().Perm())
	}
	if err := WriteIdentityFile(path, identity); err == nil {
		t.Error("WriteIdentityFile overwrote an existing file")
	}

	loaded, err := LoadIdentity(path)
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}
	defer loaded.Close()
	if loaded.String() != identity.PrivateKey.String() {
		t.Error("loaded identity differs from the written one")
	}

	ciphertext, err := Seal([]byte("token"), []string{identity.Recipient})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	plaintext, err := Open(ciphertext, loaded)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	plaintext.Close()
}

func TestLoadIdentityWithoutKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty-identity.txt")
	if err := os.WriteFile(path, []byte("# just a comment\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadIdentity(path); err == nil {
		t.Error("LoadIdentity succeeded without a key line")
	}
}
