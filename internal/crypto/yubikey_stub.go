//go:build !yubikey

package crypto

import "errors"

// PIV support is compiled in with the yubikey build tag. Default
// builds avoid the pcsc dependency and report no card present.

var (
	// ErrPIVUnavailable is returned when no card is reachable.
	ErrPIVUnavailable = errors.New("no YubiKey available")
	// ErrPIVPIN is returned when the card rejects the PIN.
	ErrPIVPIN = errors.New("invalid PIN")
)

// PIVAvailable reports whether a YubiKey is connected.
func PIVAvailable() bool { return false }

// PIVWrap encrypts data to a key generated on the card.
func PIVWrap(data []byte, pin string) ([]byte, error) {
	return nil, ErrPIVUnavailable
}

// PIVUnwrap decrypts a blob produced by PIVWrap.
func PIVUnwrap(data []byte, pin string) ([]byte, error) {
	return nil, ErrPIVUnavailable
}
