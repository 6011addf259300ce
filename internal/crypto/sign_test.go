package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
)

func TestEd25519SignVerify(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	signer := NewEd25519Signer(priv)
	message := []byte("sign me")

	sig, err := signer.Sign(message)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(sig) != ed25519.SignatureSize {
		t.Errorf("signature length = %d, want %d", len(sig), ed25519.SignatureSize)
	}

	if !signer.Verify(pub, message, sig) {
		t.Error("valid signature did not verify")
	}
	if signer.Verify(pub, []byte("different message"), sig) {
		t.Error("signature verified against wrong message")
	}

	otherPub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if signer.Verify(otherPub, message, sig) {
		t.Error("signature verified against wrong key")
	}

	if signer.Verify(pub[:16], message, sig) {
		t.Error("verify accepted truncated public key")
	}
	if signer.Verify(pub, message, sig[:32]) {
		t.Error("verify accepted truncated signature")
	}

	if got := signer.Algorithm(); got != AlgorithmEd25519 {
		t.Errorf("Algorithm = %q, want %q", got, AlgorithmEd25519)
	}
	if !bytes.Equal(signer.PublicKey(), pub) {
		t.Error("PublicKey does not match generated key")
	}
}

func TestVerifySignatureDispatch(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	message := []byte("dispatch test")
	sig := ed25519.Sign(priv, message)

	ok, err := VerifySignature(AlgorithmEd25519, pub, message, sig)
	if err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
	if !ok {
		t.Error("valid ed25519 signature rejected")
	}

	if _, err := VerifySignature("rot13", pub, message, sig); err == nil {
		t.Error("expected error for unknown algorithm")
	}

	if _, err := VerifySignature(AlgorithmHybrid, pub, message, sig); err == nil {
		t.Error("expected error directing hybrid verification elsewhere")
	}
}

func TestMLDSA65FromSeed(t *testing.T) {
	seed := bytes.Repeat([]byte{0x42}, MLDSASeedSize)

	pub1, priv1, err := GenerateMLDSA65FromSeed(seed)
	if err != nil {
		t.Fatalf("GenerateMLDSA65FromSeed: %v", err)
	}
	pub2, _, err := GenerateMLDSA65FromSeed(seed)
	if err != nil {
		t.Fatalf("GenerateMLDSA65FromSeed: %v", err)
	}

	if !bytes.Equal(pub1, pub2) {
		t.Error("same seed produced different public keys")
	}
	if len(pub1) != MLDSAPublicKeySize {
		t.Errorf("public key length = %d, want %d", len(pub1), MLDSAPublicKeySize)
	}
	if len(priv1) != MLDSAPrivateKeySize {
		t.Errorf("private key length = %d, want %d", len(priv1), MLDSAPrivateKeySize)
	}

	message := []byte("post-quantum message")
	sig, err := SignMLDSA65(priv1, message)
	if err != nil {
		t.Fatalf("SignMLDSA65: %v", err)
	}
	if len(sig) != MLDSASignatureSize {
		t.Errorf("signature length = %d, want %d", len(sig), MLDSASignatureSize)
	}

	if !VerifyMLDSA65(pub1, message, sig) {
		t.Error("valid ML-DSA signature rejected")
	}
	if VerifyMLDSA65(pub1, []byte("other message"), sig) {
		t.Error("ML-DSA signature verified against wrong message")
	}

	if _, _, err := GenerateMLDSA65FromSeed(seed[:16]); err == nil {
		t.Error("expected error for short seed")
	}
}

func TestHybridSignatureEncoding(t *testing.T) {
	classical := bytes.Repeat([]byte{0xaa}, 64)
	pqc := bytes.Repeat([]byte{0xbb}, 128)

	encoded := EncodeHybridSignature(classical, pqc)

	if !IsHybridSignature(encoded) {
		t.Error("IsHybridSignature = false for encoded hybrid signature")
	}
	if IsHybridSignature(classical) {
		t.Error("IsHybridSignature = true for raw ed25519 signature")
	}

	gotClassical, gotPQC, err := DecodeHybridSignature(encoded)
	if err != nil {
		t.Fatalf("DecodeHybridSignature: %v", err)
	}
	if !bytes.Equal(gotClassical, classical) {
		t.Error("classical component mismatch")
	}
	if !bytes.Equal(gotPQC, pqc) {
		t.Error("pqc component mismatch")
	}

	t.Run("too short", func(t *testing.T) {
		if _, _, err := DecodeHybridSignature([]byte{1, 1}); err == nil {
			t.Error("expected error for short signature")
		}
	})

	t.Run("bad version", func(t *testing.T) {
		bad := bytes.Clone(encoded)
		bad[0] = 99
		if _, _, err := DecodeHybridSignature(bad); err == nil {
			t.Error("expected error for unknown version")
		}
	})

	t.Run("truncated classical", func(t *testing.T) {
		if _, _, err := DecodeHybridSignature(encoded[:20]); err == nil {
			t.Error("expected error for truncated signature")
		}
	})

	t.Run("missing pqc", func(t *testing.T) {
		if _, _, err := DecodeHybridSignature(encoded[:4+len(classical)]); err == nil {
			t.Error("expected error for missing pqc component")
		}
	})
}

func TestHybridSignVerify(t *testing.T) {
	_, edPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	seed := bytes.Repeat([]byte{0x07}, MLDSASeedSize)
	mldsaPub, mldsaPriv, err := GenerateMLDSA65FromSeed(seed)
	if err != nil {
		t.Fatalf("GenerateMLDSA65FromSeed: %v", err)
	}

	signer := NewHybridSigner(edPriv, mldsaPriv, mldsaPub)
	if got := signer.Algorithm(); got != AlgorithmHybrid {
		t.Errorf("Algorithm = %q, want %q", got, AlgorithmHybrid)
	}

	message := []byte("belt and suspenders")
	sig, err := signer.Sign(message)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !IsHybridSignature(sig) {
		t.Error("hybrid signer produced non-hybrid signature")
	}

	edPub := signer.PublicKey()

	ok, err := VerifyHybridSignature(edPub, mldsaPub, message, sig)
	if err != nil {
		t.Fatalf("VerifyHybridSignature: %v", err)
	}
	if !ok {
		t.Error("valid hybrid signature rejected")
	}

	ok, err = VerifyHybridSignature(edPub, mldsaPub, []byte("tampered"), sig)
	if err != nil {
		t.Fatalf("VerifyHybridSignature: %v", err)
	}
	if ok {
		t.Error("hybrid signature verified against wrong message")
	}

	if _, err := VerifyHybridSignature(edPub, nil, message, sig); err == nil {
		t.Error("expected error for missing ML-DSA public key")
	}

	// Classical-only check used when the peer's PQC key is unknown
	if !signer.Verify(edPub, message, sig) {
		t.Error("classical component did not verify")
	}
}
