//go:build yubikey

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/go-piv/piv-go/piv"
	"golang.org/x/crypto/hkdf"
)

// PIV seed custody. The card holds a P-256 key in the Key Management
// slot; the identity material is wrapped with an ECDH-derived key and
// only the wrapped blob touches disk. Unwrapping needs the card, its
// PIN, and a touch.

var (
	// ErrPIVUnavailable is returned when no card is reachable.
	ErrPIVUnavailable = errors.New("no YubiKey available")
	// ErrPIVPIN is returned when the card rejects the PIN.
	ErrPIVPIN = errors.New("invalid PIN")
)

const pivWrapVersion = 1

// pivBlob is the self-contained wrapped-seed format. CardPub pins the
// wrap to one slot key; Serial pins it to one card.
type pivBlob struct {
	Version      int    `json:"version"`
	Serial       uint32 `json:"serial"`
	CardPub      []byte `json:"card_pub"`      // P-256, uncompressed
	EphemeralPub []byte `json:"ephemeral_pub"` // P-256, uncompressed
	Salt         []byte `json:"salt"`
	Wrapped      []byte `json:"wrapped"` // nonce || AES-GCM ciphertext
}

// PIVAvailable reports whether a YubiKey is connected.
func PIVAvailable() bool {
	yk, _, err := firstCard()
	if err != nil {
		return false
	}
	yk.Close()
	return true
}

// PIVWrap encrypts data to a fresh P-256 key generated on the card.
// Each call replaces the slot key, so older blobs stop unwrapping.
// The PIN is verified up front to fail at setup rather than at first
// load.
func PIVWrap(data []byte, pin string) ([]byte, error) {
	yk, serial, err := firstCard()
	if err != nil {
		return nil, err
	}
	defer yk.Close()

	if err := yk.VerifyPIN(pin); err != nil {
		return nil, ErrPIVPIN
	}

	cardPub, err := yk.GenerateKey(
		piv.DefaultManagementKey,
		piv.SlotKeyManagement,
		piv.Key{
			Algorithm:   piv.AlgorithmEC256,
			TouchPolicy: piv.TouchPolicyAlways,
			PINPolicy:   piv.PINPolicyOnce,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("generate card key: %w", err)
	}
	ecdsaPub, ok := cardPub.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("unexpected key type from card")
	}
	cardPubBytes := elliptic.Marshal(ecdsaPub.Curve, ecdsaPub.X, ecdsaPub.Y)

	ephemeral, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	ephemeralPub := elliptic.Marshal(ephemeral.Curve, ephemeral.X, ephemeral.Y)

	// ECDH against the card public key happens in software here; only
	// the unwrap side needs the card private key.
	sharedX, _ := elliptic.P256().ScalarMult(ecdsaPub.X, ecdsaPub.Y, ephemeral.D.Bytes())
	shared := padToCurveSize(sharedX.Bytes(), 32)
	defer ZeroBytes(shared)

	salt, err := RandomBytes(16)
	if err != nil {
		return nil, err
	}

	wrapKey, err := pivWrapKey(shared, salt)
	if err != nil {
		return nil, err
	}
	defer ZeroBytes(wrapKey)

	wrapped, err := sealAESGCM(wrapKey, data)
	if err != nil {
		return nil, err
	}

	blob := pivBlob{
		Version:      pivWrapVersion,
		Serial:       serial,
		CardPub:      cardPubBytes,
		EphemeralPub: ephemeralPub,
		Salt:         salt,
		Wrapped:      wrapped,
	}
	return json.Marshal(blob)
}

// PIVUnwrap decrypts a blob produced by PIVWrap. The ECDH runs on the
// card, which enforces PIN and touch.
func PIVUnwrap(data []byte, pin string) ([]byte, error) {
	var blob pivBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("parse wrapped seed: %w", err)
	}
	if blob.Version != pivWrapVersion {
		return nil, fmt.Errorf("unsupported wrap version: %d", blob.Version)
	}

	yk, err := openBySerial(blob.Serial)
	if err != nil {
		return nil, err
	}
	defer yk.Close()

	if err := yk.VerifyPIN(pin); err != nil {
		return nil, ErrPIVPIN
	}

	cardX, cardY := elliptic.Unmarshal(elliptic.P256(), blob.CardPub)
	if cardX == nil {
		return nil, errors.New("invalid card public key")
	}
	ephX, ephY := elliptic.Unmarshal(elliptic.P256(), blob.EphemeralPub)
	if ephX == nil {
		return nil, errors.New("invalid ephemeral public key")
	}

	priv, err := yk.PrivateKey(
		piv.SlotKeyManagement,
		&ecdsa.PublicKey{Curve: elliptic.P256(), X: cardX, Y: cardY},
		piv.KeyAuth{PIN: pin},
	)
	if err != nil {
		return nil, fmt.Errorf("access card key: %w", err)
	}
	ecdsaPriv, ok := priv.(*piv.ECDSAPrivateKey)
	if !ok {
		return nil, errors.New("card key does not support ECDH")
	}

	shared, err := ecdsaPriv.SharedKey(&ecdsa.PublicKey{Curve: elliptic.P256(), X: ephX, Y: ephY})
	if err != nil {
		return nil, fmt.Errorf("card ECDH: %w", err)
	}
	shared = padToCurveSize(shared, 32)
	defer ZeroBytes(shared)

	wrapKey, err := pivWrapKey(shared, blob.Salt)
	if err != nil {
		return nil, err
	}
	defer ZeroBytes(wrapKey)

	return openAESGCM(wrapKey, blob.Wrapped)
}

func firstCard() (*piv.YubiKey, uint32, error) {
	cards, err := piv.Cards()
	if err != nil {
		return nil, 0, ErrPIVUnavailable
	}
	for _, card := range cards {
		yk, err := piv.Open(card)
		if err != nil {
			continue // not a YubiKey or busy
		}
		serial, err := yk.Serial()
		if err != nil {
			yk.Close()
			continue
		}
		return yk, serial, nil
	}
	return nil, 0, ErrPIVUnavailable
}

func openBySerial(serial uint32) (*piv.YubiKey, error) {
	cards, err := piv.Cards()
	if err != nil {
		return nil, ErrPIVUnavailable
	}
	for _, card := range cards {
		yk, err := piv.Open(card)
		if err != nil {
			continue
		}
		s, err := yk.Serial()
		if err != nil {
			yk.Close()
			continue
		}
		if s == serial {
			return yk, nil
		}
		yk.Close()
	}
	return nil, fmt.Errorf("YubiKey with serial %d not found", serial)
}

func pivWrapKey(shared, salt []byte) ([]byte, error) {
	kdf := hkdf.New(sha256.New, shared, salt, []byte("kxctl-piv-v1"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive wrap key: %w", err)
	}
	return key, nil
}

// sealAESGCM returns nonce || ciphertext.
func sealAESGCM(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

func openAESGCM(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(data) < gcm.NonceSize() {
		return nil, errors.New("wrapped seed too short")
	}
	return gcm.Open(nil, data[:gcm.NonceSize()], data[gcm.NonceSize():], nil)
}

func padToCurveSize(b []byte, size int) []byte {
	if len(b) >= size {
		return b
	}
	padded := make([]byte, size)
	copy(padded[size-len(b):], b)
	return padded
}
