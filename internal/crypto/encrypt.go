package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/box"
)

// Sealed message format:
// [nonce (24 bytes)][NaCl box ciphertext (plaintext + 16 byte tag)]
const (
	// X25519KeySize is the length of Curve25519 public and private keys.
	X25519KeySize = 32

	boxNonceSize = 24
)

// ErrDecryptionFailed is returned when a sealed message cannot be opened
// with the given keys. Wrong key, truncation and tampering are deliberately
// indistinguishable.
var ErrDecryptionFailed = errors.New("decryption failed")

// GenerateEncryptionKey creates a fresh Curve25519 key pair.
func GenerateEncryptionKey() (publicKey, privateKey *[X25519KeySize]byte, err error) {
	publicKey, privateKey, err = box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate encryption key: %w", err)
	}
	return publicKey, privateKey, nil
}

// Encrypt seals plaintext for the holder of peerPublic, authenticated
// by localPrivate. The random nonce is prepended to the ciphertext.
func Encrypt(plaintext []byte, peerPublic, localPrivate *[X25519KeySize]byte) ([]byte, error) {
	var nonce [boxNonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, boxNonceSize+len(plaintext)+box.Overhead)
	out = append(out, nonce[:]...)
	return box.Seal(out, plaintext, &nonce, peerPublic, localPrivate), nil
}

// Decrypt opens a message produced by Encrypt.
func Decrypt(ciphertext []byte, peerPublic, localPrivate *[X25519KeySize]byte) ([]byte, error) {
	if len(ciphertext) < boxNonceSize+box.Overhead {
		return nil, ErrDecryptionFailed
	}

	var nonce [boxNonceSize]byte
	copy(nonce[:], ciphertext[:boxNonceSize])

	plaintext, ok := box.Open(nil, ciphertext[boxNonceSize:], &nonce, peerPublic, localPrivate)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// DeriveKey derives a purpose-bound key from a secret using HKDF-SHA256.
// Distinct purpose strings yield independent keys from the same secret.
func DeriveKey(secret []byte, purpose string, keyLen int) ([]byte, error) {
	key := make([]byte, keyLen)
	r := hkdf.New(sha256.New, secret, nil, []byte(purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// ParseX25519Key decodes a hex-encoded Curve25519 key.
func ParseX25519Key(s string) (*[X25519KeySize]byte, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(raw) != X25519KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", X25519KeySize, len(raw))
	}

	var k [X25519KeySize]byte
	copy(k[:], raw)
	return &k, nil
}

// EncodeX25519Key returns the lowercase hex encoding of a Curve25519 key.
func EncodeX25519Key(k *[X25519KeySize]byte) string {
	return hex.EncodeToString(k[:])
}
