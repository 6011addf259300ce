// Package identity manages the local cryptographic identity: the seed,
// the keys derived from it, and the session ID peers address it by.
//
// Everything hangs off a single 32-byte seed. The Ed25519 signing key
// comes straight from the seed; the X25519 encryption key and the
// ML-DSA-65 key are derived from it with HKDF so a mnemonic backup of
// the seed restores the complete identity.
package identity

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"time"

	"golang.org/x/crypto/curve25519"

	"kxctl.dev/go/kxctl/internal/crypto"
)

// HKDF purpose strings. Changing these invalidates every derived key.
const (
	encryptionKeyPurpose = "kxctl-encryption-v1"
	mldsaKeyPurpose      = "kxctl-mldsa-v1"
)

// Identity is the local user's key material.
type Identity struct {
	DisplayName string
	CreatedAt   time.Time

	seed *crypto.ProtectedBuffer

	signingKey ed25519.PrivateKey
	verifyKey  ed25519.PublicKey

	encPriv *[crypto.X25519KeySize]byte
	encPub  *[crypto.X25519KeySize]byte

	mldsaPriv []byte
	mldsaPub  []byte

	sessionID string
}

// Generate creates a new identity from fresh random entropy.
func Generate(displayName string) (*Identity, error) {
	seed, err := crypto.RandomBytes(crypto.SeedSize)
	if err != nil {
		return nil, fmt.Errorf("generate seed: %w", err)
	}
	defer crypto.ZeroBytes(seed)

	id, err := FromSeed(seed, displayName)
	if err != nil {
		return nil, err
	}
	id.CreatedAt = time.Now().UTC()
	return id, nil
}

// FromSeed derives the full identity from a 32-byte seed. The caller's
// slice is not consumed; it remains valid after the call.
func FromSeed(seed []byte, displayName string) (*Identity, error) {
	if len(seed) != crypto.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", crypto.SeedSize, len(seed))
	}

	signingKey := ed25519.NewKeyFromSeed(seed)
	verifyKey := signingKey.Public().(ed25519.PublicKey)

	encPriv, encPub, err := deriveEncryptionKey(seed)
	if err != nil {
		return nil, fmt.Errorf("derive encryption key: %w", err)
	}

	mldsaSeed, err := crypto.DeriveKey(seed, mldsaKeyPurpose, crypto.MLDSASeedSize)
	if err != nil {
		return nil, fmt.Errorf("derive ML-DSA seed: %w", err)
	}
	defer crypto.ZeroBytes(mldsaSeed)

	mldsaPub, mldsaPriv, err := crypto.GenerateMLDSA65FromSeed(mldsaSeed)
	if err != nil {
		return nil, fmt.Errorf("derive ML-DSA key: %w", err)
	}

	return &Identity{
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
		seed:        crypto.NewProtectedBufferFromBytes(bytes.Clone(seed)),
		signingKey:  signingKey,
		verifyKey:   verifyKey,
		encPriv:     encPriv,
		encPub:      encPub,
		mldsaPriv:   mldsaPriv,
		mldsaPub:    mldsaPub,
		sessionID:   SessionIDFromPublicKey(verifyKey),
	}, nil
}

// FromMnemonic restores an identity from a 24-word recovery phrase.
func FromMnemonic(phrase, displayName string) (*Identity, error) {
	seed, err := crypto.MnemonicToEntropy(phrase)
	if err != nil {
		return nil, err
	}
	defer crypto.ZeroBytes(seed)

	return FromSeed(seed, displayName)
}

func deriveEncryptionKey(seed []byte) (priv, pub *[crypto.X25519KeySize]byte, err error) {
	raw, err := crypto.DeriveKey(seed, encryptionKeyPurpose, crypto.X25519KeySize)
	if err != nil {
		return nil, nil, err
	}
	defer crypto.ZeroBytes(raw)

	priv = new([crypto.X25519KeySize]byte)
	copy(priv[:], raw)

	pubSlice, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, nil, err
	}

	pub = new([crypto.X25519KeySize]byte)
	copy(pub[:], pubSlice)
	return priv, pub, nil
}

// SessionID returns the 66-character address peers reach us at.
func (id *Identity) SessionID() string {
	return id.sessionID
}

// VerifyKey returns the Ed25519 public key embedded in the session ID.
func (id *Identity) VerifyKey() ed25519.PublicKey {
	return id.verifyKey
}

// EncryptionPublicKey returns the X25519 public key exchanged with peers.
func (id *Identity) EncryptionPublicKey() *[crypto.X25519KeySize]byte {
	return id.encPub
}

// EncryptionPrivateKey returns the X25519 private key.
func (id *Identity) EncryptionPrivateKey() *[crypto.X25519KeySize]byte {
	return id.encPriv
}

// MLDSAPublicKey returns the ML-DSA-65 public key bytes.
func (id *Identity) MLDSAPublicKey() []byte {
	return id.mldsaPub
}

// Seed returns a copy of the identity seed. The caller must zero it.
func (id *Identity) Seed() []byte {
	return id.seed.Copy()
}

// Mnemonic renders the seed as a 24-word recovery phrase.
func (id *Identity) Mnemonic() (string, error) {
	seed := id.Seed()
	if seed == nil {
		return "", fmt.Errorf("identity destroyed")
	}
	defer crypto.ZeroBytes(seed)

	return crypto.EntropyToMnemonic(seed)
}

// Sign signs a message with the Ed25519 key.
func (id *Identity) Sign(message []byte) []byte {
	return ed25519.Sign(id.signingKey, message)
}

// Verify checks a signature against our own key.
func (id *Identity) Verify(message, signature []byte) bool {
	return ed25519.Verify(id.verifyKey, message, signature)
}

// Signer returns the Ed25519 signer for envelope signing.
func (id *Identity) Signer() crypto.Signer {
	return crypto.NewEd25519Signer(id.signingKey)
}

// HybridSigner returns a signer producing combined Ed25519 + ML-DSA-65
// signatures.
func (id *Identity) HybridSigner() crypto.Signer {
	return crypto.NewHybridSigner(id.signingKey, id.mldsaPriv, id.mldsaPub)
}

// Fingerprint returns a short fingerprint of the signing key.
func (id *Identity) Fingerprint() string {
	return crypto.PublicKeyFingerprint(id.verifyKey)
}

// Destroy zeroes all private key material. The identity is unusable
// afterwards.
func (id *Identity) Destroy() {
	if id.seed != nil {
		id.seed.Destroy()
	}
	crypto.ZeroBytes(id.signingKey)
	crypto.ZeroBytes(id.mldsaPriv)
	if id.encPriv != nil {
		crypto.ZeroBytes(id.encPriv[:])
	}
}
