package identity

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

func TestSaveLoadEncrypted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.enc")
	passphrase := []byte("correct horse battery staple")

	id, err := Generate("alice")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if err := id.SaveEncrypted(path, passphrase); err != nil {
		t.Fatalf("SaveEncrypted: %v", err)
	}

	loaded, err := LoadEncrypted(path, passphrase)
	if err != nil {
		t.Fatalf("LoadEncrypted: %v", err)
	}

	if loaded.SessionID() != id.SessionID() {
		t.Error("loaded identity has a different session ID")
	}
	if loaded.DisplayName != id.DisplayName {
		t.Errorf("DisplayName = %q, want %q", loaded.DisplayName, id.DisplayName)
	}
	if !loaded.CreatedAt.Equal(id.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", loaded.CreatedAt, id.CreatedAt)
	}
	if !bytes.Equal(loaded.MLDSAPublicKey(), id.MLDSAPublicKey()) {
		t.Error("loaded identity has a different ML-DSA key")
	}
}

func TestLoadEncryptedWrongPassphrase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.enc")

	id, err := Generate("bob")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if err := id.SaveEncrypted(path, []byte("right")); err != nil {
		t.Fatalf("SaveEncrypted: %v", err)
	}

	_, err = LoadEncrypted(path, []byte("wrong"))
	if !errors.Is(err, ErrBadPassphrase) {
		t.Errorf("LoadEncrypted error = %v, want ErrBadPassphrase", err)
	}
}

func TestLoadEncryptedMissingFile(t *testing.T) {
	_, err := LoadEncrypted(filepath.Join(t.TempDir(), "nope.enc"), []byte("pw"))
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestFileCustody(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.enc")

	if got := FileCustody(path); got != CustodyPassphrase {
		t.Errorf("FileCustody on missing file = %q, want passphrase", got)
	}

	id, err := Generate("dave")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if err := id.SaveEncrypted(path, []byte("pw")); err != nil {
		t.Fatalf("SaveEncrypted: %v", err)
	}

	if got := FileCustody(path); got != CustodyPassphrase {
		t.Errorf("FileCustody = %q, want passphrase", got)
	}
}

func TestSaveLoadPublic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.pub.json")

	id, err := Generate("carol")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if err := id.SavePublic(path); err != nil {
		t.Fatalf("SavePublic: %v", err)
	}

	pub, err := LoadPublic(path)
	if err != nil {
		t.Fatalf("LoadPublic: %v", err)
	}

	if pub.SessionID != id.SessionID() {
		t.Errorf("SessionID = %q, want %q", pub.SessionID, id.SessionID())
	}
	if pub.DisplayName != "carol" {
		t.Errorf("DisplayName = %q, want %q", pub.DisplayName, "carol")
	}
	if pub.EncryptionKey == "" {
		t.Error("EncryptionKey is empty")
	}
	if pub.Fingerprint() != id.Fingerprint() {
		t.Error("public fingerprint does not match identity fingerprint")
	}
}
