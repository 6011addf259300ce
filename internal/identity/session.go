package identity

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"
)

// Session IDs are the stable addresses of the messenger: a fixed prefix
// byte followed by the hex-encoded Ed25519 public key.
const (
	// SessionIDPrefix marks the address format version.
	SessionIDPrefix = "05"
	// SessionIDLength is the full length: 2 prefix chars + 64 hex chars.
	SessionIDLength = 66
)

// SessionIDFromPublicKey builds the session ID for an Ed25519 public key.
func SessionIDFromPublicKey(pub ed25519.PublicKey) string {
	return SessionIDPrefix + hex.EncodeToString(pub)
}

// ValidateSessionID checks that s is a well-formed session ID.
func ValidateSessionID(s string) error {
	if len(s) != SessionIDLength {
		return fmt.Errorf("session ID must be %d characters, got %d", SessionIDLength, len(s))
	}
	if !strings.HasPrefix(s, SessionIDPrefix) {
		return fmt.Errorf("session ID must start with %q", SessionIDPrefix)
	}
	if _, err := hex.DecodeString(s[len(SessionIDPrefix):]); err != nil {
		return fmt.Errorf("session ID is not valid hex: %w", err)
	}
	return nil
}

// SessionPublicKey extracts the Ed25519 public key from a session ID.
// Every valid session ID embeds the key that signs its envelopes.
func SessionPublicKey(sessionID string) (ed25519.PublicKey, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	raw, err := hex.DecodeString(sessionID[len(SessionIDPrefix):])
	if err != nil {
		return nil, fmt.Errorf("decode session ID: %w", err)
	}
	return ed25519.PublicKey(raw), nil
}

// ShortSessionID renders a session ID for logs: prefix and first/last
// four hex characters.
func ShortSessionID(s string) string {
	if len(s) != SessionIDLength {
		return s
	}
	return s[:6] + ".." + s[len(s)-4:]
}
