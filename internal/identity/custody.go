package identity

import (
	"errors"
	"fmt"
	"os"

	"kxctl.dev/go/kxctl/internal/crypto"
	"kxctl.dev/go/kxctl/internal/keychain"
)

var (
	// ErrNoIdentity is returned when no custody location holds a seed.
	ErrNoIdentity = errors.New("no identity configured")
	// ErrPassphraseRequired is returned when the encrypted file is the
	// only custody option and no passphrase was given.
	ErrPassphraseRequired = errors.New("passphrase required")
)

// SaveIdentity persists the identity. The seed goes to the system
// keychain when one is available, then to a YubiKey-wrapped file when
// a card is connected, and falls back to a passphrase-encrypted file.
// On the card path the passphrase is the PIN. The public profile is
// written either way.
func SaveIdentity(id *Identity, seedPath, profilePath string, passphrase []byte) error {
	switch {
	case keychain.IsAvailable():
		seed := id.Seed()
		if seed == nil {
			return errors.New("identity destroyed")
		}
		err := keychain.StoreSeed(seed)
		crypto.ZeroBytes(seed)
		if err != nil {
			return fmt.Errorf("store seed in keychain: %w", err)
		}
	case crypto.PIVAvailable():
		if len(passphrase) == 0 {
			return ErrPassphraseRequired
		}
		if err := id.SavePIV(seedPath, passphrase); err != nil {
			return err
		}
	default:
		if len(passphrase) == 0 {
			return ErrPassphraseRequired
		}
		if err := id.SaveEncrypted(seedPath, passphrase); err != nil {
			return err
		}
	}

	return id.SavePublic(profilePath)
}

// LoadIdentity restores the identity, trying the keychain first and the
// encrypted file second. The passphrase is only consulted for the file.
func LoadIdentity(seedPath, profilePath string, passphrase []byte) (*Identity, error) {
	pub, _ := LoadPublic(profilePath)

	seed, err := keychain.GetSeed()
	if err == nil {
		defer crypto.ZeroBytes(seed)

		displayName := ""
		if pub != nil {
			displayName = pub.DisplayName
		}

		id, err := FromSeed(seed, displayName)
		if err != nil {
			return nil, err
		}
		if pub != nil {
			id.CreatedAt = pub.CreatedAt
		}
		return id, nil
	}

	if _, statErr := os.Stat(seedPath); statErr != nil {
		return nil, ErrNoIdentity
	}
	if len(passphrase) == 0 {
		return nil, ErrPassphraseRequired
	}

	return LoadEncrypted(seedPath, passphrase)
}

// HasIdentity reports whether any custody location holds a seed.
func HasIdentity(seedPath string) bool {
	if seed, err := keychain.GetSeed(); err == nil {
		crypto.ZeroBytes(seed)
		return true
	}
	_, err := os.Stat(seedPath)
	return err == nil
}

// DeleteIdentity removes the seed and profile from every custody
// location. Missing locations are ignored.
func DeleteIdentity(seedPath, profilePath string) error {
	var firstErr error

	if err := keychain.DeleteSeed(); err != nil {
		firstErr = err
	}
	if err := os.Remove(seedPath); err != nil && !os.IsNotExist(err) && firstErr == nil {
		firstErr = err
	}
	if err := os.Remove(profilePath); err != nil && !os.IsNotExist(err) && firstErr == nil {
		firstErr = err
	}

	return firstErr
}
