// Package keychain stores the identity seed in the system keychain
// (macOS Keychain, Linux Secret Service, Windows Credential Manager).
package keychain

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	// ServiceName is the keychain service identifier
	ServiceName = "kxctl"
	// SeedAccount is the keychain account holding the identity seed
	SeedAccount = "identity-seed"
)

// ErrNotFound is returned when no seed is stored in the keychain.
var ErrNotFound = errors.New("identity seed not found in keychain")

// StoreSeed saves the identity seed to the system keychain.
// The seed is hex encoded; secret services are string oriented.
func StoreSeed(seed []byte) error {
	return keyring.Set(ServiceName, SeedAccount, hex.EncodeToString(seed))
}

// GetSeed retrieves the identity seed from the system keychain.
// Returns ErrNotFound if no seed is stored.
func GetSeed() ([]byte, error) {
	encoded, err := keyring.Get(ServiceName, SeedAccount)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	seed, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode stored seed: %w", err)
	}
	return seed, nil
}

// DeleteSeed removes the identity seed from the system keychain.
// Deleting an absent seed is not an error.
func DeleteSeed() error {
	err := keyring.Delete(ServiceName, SeedAccount)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return err
	}
	return nil
}

// IsAvailable checks if the system keychain is usable. Headless Linux
// hosts without a secret service fail here and fall back to the
// encrypted identity file.
func IsAvailable() bool {
	_, err := keyring.Get(ServiceName, "availability-probe")
	return err == nil || errors.Is(err, keyring.ErrNotFound)
}
