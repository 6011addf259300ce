package crypto

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
)

// Hybrid signature constants
const (
	hybridSignatureVersion = 1
	signatureTypeHybrid    = 0x01 // Ed25519 + ML-DSA-65

	AlgorithmHybrid = "hybrid"
)

// Hybrid signature format:
// [version:1][type:1][classical_len:2][ed25519_sig][mldsa_sig]

// EncodeHybridSignature packs classical (Ed25519) and PQC (ML-DSA-65)
// signatures into a single wire blob.
func EncodeHybridSignature(classicalSig, pqcSig []byte) []byte {
	buf := make([]byte, 4+len(classicalSig)+len(pqcSig))

	buf[0] = hybridSignatureVersion
	buf[1] = signatureTypeHybrid
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(classicalSig)))
	copy(buf[4:], classicalSig)
	copy(buf[4+len(classicalSig):], pqcSig)

	return buf
}

// DecodeHybridSignature splits a hybrid signature into its components.
func DecodeHybridSignature(sig []byte) (classicalSig, pqcSig []byte, err error) {
	if len(sig) < 4 {
		return nil, nil, fmt.Errorf("signature too short")
	}

	if sig[0] != hybridSignatureVersion {
		return nil, nil, fmt.Errorf("unknown signature version: %d", sig[0])
	}

	if sig[1] != signatureTypeHybrid {
		return nil, nil, fmt.Errorf("not a hybrid signature (type=%d)", sig[1])
	}

	classicalLen := binary.BigEndian.Uint16(sig[2:4])

	if len(sig) < 4+int(classicalLen) {
		return nil, nil, fmt.Errorf("signature truncated: need %d bytes for classical sig, have %d", classicalLen, len(sig)-4)
	}

	classicalSig = sig[4 : 4+classicalLen]
	pqcSig = sig[4+classicalLen:]

	if len(pqcSig) == 0 {
		return nil, nil, fmt.Errorf("missing PQC signature component")
	}

	return classicalSig, pqcSig, nil
}

// IsHybridSignature checks if a signature is in hybrid format.
func IsHybridSignature(sig []byte) bool {
	return len(sig) >= 2 && sig[0] == hybridSignatureVersion && sig[1] == signatureTypeHybrid
}

// VerifyHybridSignature checks both components of a hybrid signature.
// Both the Ed25519 and the ML-DSA-65 component must verify.
func VerifyHybridSignature(edPub, mldsaPub, message, sig []byte) (bool, error) {
	if len(mldsaPub) == 0 {
		return false, errors.New("missing ML-DSA public key")
	}

	classicalSig, pqcSig, err := DecodeHybridSignature(sig)
	if err != nil {
		return false, err
	}

	if !verifyEd25519(edPub, message, classicalSig) {
		return false, nil
	}
	return VerifyMLDSA65(mldsaPub, message, pqcSig), nil
}

// HybridSigner implements Signer by combining Ed25519 and ML-DSA-65.
// PublicKey returns the Ed25519 component; the ML-DSA public key is
// distributed separately and looked up by the verifier.
type HybridSigner struct {
	classical *Ed25519Signer
	pqc       *MLDSA65Signer
}

// NewHybridSigner creates a hybrid signer from both private keys.
func NewHybridSigner(edPriv ed25519.PrivateKey, mldsaPriv, mldsaPub []byte) *HybridSigner {
	return &HybridSigner{
		classical: NewEd25519Signer(edPriv),
		pqc:       NewMLDSA65Signer(mldsaPriv, mldsaPub),
	}
}

// Sign produces an encoded hybrid signature over the message.
func (s *HybridSigner) Sign(message []byte) ([]byte, error) {
	classicalSig, err := s.classical.Sign(message)
	if err != nil {
		return nil, fmt.Errorf("classical sign: %w", err)
	}

	pqcSig, err := s.pqc.Sign(message)
	if err != nil {
		return nil, fmt.Errorf("pqc sign: %w", err)
	}

	return EncodeHybridSignature(classicalSig, pqcSig), nil
}

// Verify checks the classical component against the given Ed25519 key.
// Full verification of both components goes through VerifyHybridSignature.
func (s *HybridSigner) Verify(pubkey, message, signature []byte) bool {
	classicalSig, _, err := DecodeHybridSignature(signature)
	if err != nil {
		return false
	}
	return verifyEd25519(pubkey, message, classicalSig)
}

// Algorithm returns "hybrid".
func (s *HybridSigner) Algorithm() string {
	return AlgorithmHybrid
}

// PublicKey returns the Ed25519 public key bytes.
func (s *HybridSigner) PublicKey() []byte {
	return s.classical.PublicKey()
}

// PQCPublicKey returns the ML-DSA-65 public key bytes.
func (s *HybridSigner) PQCPublicKey() []byte {
	return s.pqc.PublicKey()
}
