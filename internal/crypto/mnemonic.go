package crypto

import (
	"fmt"
	"strings"

	"github.com/cosmos/go-bip39"
)

// SeedSize is the length of an identity seed in bytes.
const SeedSize = 32

// EntropyToMnemonic converts a 32-byte seed to a 24-word recovery phrase.
func EntropyToMnemonic(entropy []byte) (string, error) {
	if len(entropy) != SeedSize {
		return "", fmt.Errorf("entropy must be %d bytes, got %d", SeedSize, len(entropy))
	}

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("generating mnemonic: %w", err)
	}

	return mnemonic, nil
}

// MnemonicToEntropy converts a recovery phrase back to the 32-byte seed.
// Whitespace is normalized before validation, so phrases pasted with
// line breaks or double spaces are accepted.
func MnemonicToEntropy(mnemonic string) ([]byte, error) {
	mnemonic = normalizeMnemonic(mnemonic)

	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic phrase")
	}

	// MnemonicToByteArray returns the entropy plus a trailing checksum
	// byte: 33 bytes for a 24-word phrase.
	data, err := bip39.MnemonicToByteArray(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("decoding mnemonic: %w", err)
	}
	if len(data) != SeedSize+1 {
		return nil, fmt.Errorf("mnemonic encodes %d bytes, expected %d", len(data), SeedSize+1)
	}

	return data[:SeedSize], nil
}

// ValidateMnemonic checks whether a recovery phrase is well formed.
func ValidateMnemonic(mnemonic string) error {
	if !bip39.IsMnemonicValid(normalizeMnemonic(mnemonic)) {
		return fmt.Errorf("invalid mnemonic phrase")
	}
	return nil
}

func normalizeMnemonic(mnemonic string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(mnemonic)), " ")
}
