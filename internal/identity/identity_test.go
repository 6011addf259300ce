package identity

import (
	"bytes"
	"strings"
	"testing"

	"kxctl.dev/go/kxctl/internal/crypto"
)

func TestGenerate(t *testing.T) {
	id, err := Generate("alice")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if id.DisplayName != "alice" {
		t.Errorf("DisplayName = %q, want %q", id.DisplayName, "alice")
	}
	if id.CreatedAt.IsZero() {
		t.Error("CreatedAt is zero")
	}

	sid := id.SessionID()
	if len(sid) != SessionIDLength {
		t.Errorf("session ID length = %d, want %d", len(sid), SessionIDLength)
	}
	if !strings.HasPrefix(sid, SessionIDPrefix) {
		t.Errorf("session ID %q missing %q prefix", sid, SessionIDPrefix)
	}
	if err := ValidateSessionID(sid); err != nil {
		t.Errorf("generated session ID failed validation: %v", err)
	}

	if id.EncryptionPublicKey() == nil {
		t.Error("encryption public key is nil")
	}
	if len(id.MLDSAPublicKey()) != crypto.MLDSAPublicKeySize {
		t.Errorf("ML-DSA public key length = %d, want %d", len(id.MLDSAPublicKey()), crypto.MLDSAPublicKeySize)
	}
	if len(id.Fingerprint()) != 16 {
		t.Errorf("fingerprint length = %d, want 16", len(id.Fingerprint()))
	}

	other, err := Generate("bob")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if other.SessionID() == id.SessionID() {
		t.Error("two generated identities share a session ID")
	}
}

func TestFromSeedDeterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{0x2a}, crypto.SeedSize)

	a, err := FromSeed(seed, "alice")
	if err != nil {
		t.Fatalf("FromSeed: %v", err)
	}
	b, err := FromSeed(seed, "alice")
	if err != nil {
		t.Fatalf("FromSeed: %v", err)
	}

	if a.SessionID() != b.SessionID() {
		t.Error("same seed produced different session IDs")
	}
	if *a.EncryptionPublicKey() != *b.EncryptionPublicKey() {
		t.Error("same seed produced different encryption keys")
	}
	if !bytes.Equal(a.MLDSAPublicKey(), b.MLDSAPublicKey()) {
		t.Error("same seed produced different ML-DSA keys")
	}

	// The caller's seed slice must survive the call
	if !bytes.Equal(seed, bytes.Repeat([]byte{0x2a}, crypto.SeedSize)) {
		t.Error("FromSeed modified the caller's seed")
	}

	if _, err := FromSeed(seed[:16], "short"); err == nil {
		t.Error("expected error for short seed")
	}
}

func TestMnemonicRestore(t *testing.T) {
	id, err := Generate("alice")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	phrase, err := id.Mnemonic()
	if err != nil {
		t.Fatalf("Mnemonic: %v", err)
	}
	if got := len(strings.Fields(phrase)); got != 24 {
		t.Errorf("mnemonic word count = %d, want 24", got)
	}

	restored, err := FromMnemonic(phrase, "alice restored")
	if err != nil {
		t.Fatalf("FromMnemonic: %v", err)
	}

	if restored.SessionID() != id.SessionID() {
		t.Error("restored identity has a different session ID")
	}
	if *restored.EncryptionPublicKey() != *id.EncryptionPublicKey() {
		t.Error("restored identity has a different encryption key")
	}
	if !bytes.Equal(restored.MLDSAPublicKey(), id.MLDSAPublicKey()) {
		t.Error("restored identity has a different ML-DSA key")
	}

	if _, err := FromMnemonic("not a valid phrase", "x"); err == nil {
		t.Error("expected error for invalid phrase")
	}
}

func TestSignVerify(t *testing.T) {
	id, err := Generate("signer")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	message := []byte("key exchange request")
	sig := id.Sign(message)

	if !id.Verify(message, sig) {
		t.Error("identity rejected its own signature")
	}
	if id.Verify([]byte("other"), sig) {
		t.Error("signature verified against wrong message")
	}

	signer := id.Signer()
	if signer.Algorithm() != crypto.AlgorithmEd25519 {
		t.Errorf("Signer algorithm = %q, want %q", signer.Algorithm(), crypto.AlgorithmEd25519)
	}
	if !bytes.Equal(signer.PublicKey(), id.VerifyKey()) {
		t.Error("signer public key does not match identity")
	}

	// The key recovered from the session ID must verify envelope signatures
	recovered, err := SessionPublicKey(id.SessionID())
	if err != nil {
		t.Fatalf("SessionPublicKey: %v", err)
	}
	if !signer.Verify(recovered, message, sig) {
		t.Error("session ID key did not verify the signature")
	}
}

func TestHybridSigner(t *testing.T) {
	id, err := Generate("hybrid")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	signer := id.HybridSigner()
	if signer.Algorithm() != crypto.AlgorithmHybrid {
		t.Errorf("Algorithm = %q, want %q", signer.Algorithm(), crypto.AlgorithmHybrid)
	}

	message := []byte("hybrid signed payload")
	sig, err := signer.Sign(message)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	ok, err := crypto.VerifyHybridSignature(id.VerifyKey(), id.MLDSAPublicKey(), message, sig)
	if err != nil {
		t.Fatalf("VerifyHybridSignature: %v", err)
	}
	if !ok {
		t.Error("hybrid signature did not verify")
	}
}

func TestDestroy(t *testing.T) {
	id, err := Generate("doomed")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	id.Destroy()

	if id.Seed() != nil {
		t.Error("Seed returned data after Destroy")
	}
	if _, err := id.Mnemonic(); err == nil {
		t.Error("Mnemonic succeeded after Destroy")
	}

	// Destroying twice must not panic
	id.Destroy()
}
