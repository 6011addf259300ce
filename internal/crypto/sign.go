package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
)

// Algorithm identifiers for signature schemes
const (
	AlgorithmEd25519 = "ed25519"
	AlgorithmMLDSA   = "mldsa"
)

// Signer produces signatures under a fixed key. Implementations exist
// for Ed25519, ML-DSA-65, the hybrid of the two, and PIV hardware keys.
type Signer interface {
	// Sign produces a signature for the given message
	Sign(message []byte) ([]byte, error)

	// Verify checks if a signature is valid for a message and public key
	Verify(pubkey, message, signature []byte) bool

	// Algorithm returns the signature algorithm identifier
	Algorithm() string

	// PublicKey returns the public key bytes
	PublicKey() []byte
}

// Verifier checks signatures without signing capability.
type Verifier interface {
	Verify(pubkey, message, signature []byte) bool
	Algorithm() string
}

// Ed25519Signer implements Signer using Ed25519.
type Ed25519Signer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
}

// NewEd25519Signer creates a signer from an Ed25519 private key.
func NewEd25519Signer(privateKey ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{
		privateKey: privateKey,
		publicKey:  privateKey.Public().(ed25519.PublicKey),
	}
}

// Sign produces an Ed25519 signature for the given message.
func (s *Ed25519Signer) Sign(message []byte) ([]byte, error) {
	if s.privateKey == nil {
		return nil, errors.New("no private key available")
	}
	return ed25519.Sign(s.privateKey, message), nil
}

// Verify checks if an Ed25519 signature is valid.
func (s *Ed25519Signer) Verify(pubkey, message, signature []byte) bool {
	return verifyEd25519(pubkey, message, signature)
}

// Algorithm returns "ed25519".
func (s *Ed25519Signer) Algorithm() string {
	return AlgorithmEd25519
}

// PublicKey returns the public key bytes.
func (s *Ed25519Signer) PublicKey() []byte {
	return []byte(s.publicKey)
}

// Ed25519Verifier implements verification-only operations.
type Ed25519Verifier struct{}

// NewEd25519Verifier creates a new Ed25519Verifier.
func NewEd25519Verifier() *Ed25519Verifier {
	return &Ed25519Verifier{}
}

// Verify checks if an Ed25519 signature is valid.
func (v *Ed25519Verifier) Verify(pubkey, message, signature []byte) bool {
	return verifyEd25519(pubkey, message, signature)
}

// Algorithm returns "ed25519".
func (v *Ed25519Verifier) Algorithm() string {
	return AlgorithmEd25519
}

func verifyEd25519(pubkey, message, signature []byte) bool {
	if len(pubkey) != ed25519.PublicKeySize {
		return false
	}
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pubkey, message, signature)
}

// VerifySignature verifies a signature using the named algorithm.
func VerifySignature(algorithm string, pubkey, message, signature []byte) (bool, error) {
	switch algorithm {
	case AlgorithmEd25519:
		return verifyEd25519(pubkey, message, signature), nil
	case AlgorithmMLDSA:
		return VerifyMLDSA65(pubkey, message, signature), nil
	case AlgorithmHybrid:
		// Hybrid signatures carry two components and need both public keys
		return false, errors.New("use VerifyHybridSignature for hybrid signatures")
	default:
		return false, fmt.Errorf("unknown signature algorithm: %s", algorithm)
	}
}

// PublicKeyFingerprint returns a short hex fingerprint of a public key.
func PublicKeyFingerprint(pubkey []byte) string {
	hash := sha256.Sum256(pubkey)
	return fmt.Sprintf("%x", hash[:8])
}

// GetVerifier returns a Verifier for the given algorithm.
func GetVerifier(algorithm string) (Verifier, error) {
	switch algorithm {
	case AlgorithmEd25519:
		return NewEd25519Verifier(), nil
	case AlgorithmMLDSA:
		return NewMLDSA65Verifier(), nil
	default:
		return nil, fmt.Errorf("unknown signature algorithm: %s", algorithm)
	}
}
