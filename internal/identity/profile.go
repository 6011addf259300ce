package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"kxctl.dev/go/kxctl/internal/crypto"
)

// PublicIdentity is the shareable half of an identity. It is stored
// unencrypted next to the config so status commands work without
// unlocking the seed, and it is what peers receive in a profile
// exchange.
type PublicIdentity struct {
	SessionID     string    `json:"session_id"`
	DisplayName   string    `json:"display_name"`
	EncryptionKey string    `json:"encryption_key"`
	MLDSAPub      []byte    `json:"mldsa_pub,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Public returns the shareable identity.
func (id *Identity) Public() *PublicIdentity {
	return &PublicIdentity{
		SessionID:     id.sessionID,
		DisplayName:   id.DisplayName,
		EncryptionKey: crypto.EncodeX25519Key(id.encPub),
		MLDSAPub:      id.mldsaPub,
		CreatedAt:     id.CreatedAt,
	}
}

// SavePublic writes the public identity to a file.
func (id *Identity) SavePublic(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	data, err := json.MarshalIndent(id.Public(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal public identity: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// LoadPublic reads a public identity from a file.
func LoadPublic(path string) (*PublicIdentity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var pub PublicIdentity
	if err := json.Unmarshal(data, &pub); err != nil {
		return nil, fmt.Errorf("parse public identity: %w", err)
	}
	return &pub, nil
}

// Fingerprint returns a short fingerprint of the identity's signing
// key, derived from the session ID.
func (pub *PublicIdentity) Fingerprint() string {
	key, err := SessionPublicKey(pub.SessionID)
	if err != nil {
		return ""
	}
	return crypto.PublicKeyFingerprint(key)
}
