// Package keystore tracks the public keys of peers. A completed key
// exchange lands here; everything that needs to encrypt for a peer or
// check whether an exchange has finished asks this package.
package keystore

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"kxctl.dev/go/kxctl/internal/crypto"
	"kxctl.dev/go/kxctl/internal/identity"
	"kxctl.dev/go/kxctl/internal/kv"
)

// storeKey is the kv key holding the peer key map.
const storeKey = "peer_keys"

// ErrNoPublicKey is returned when there is no key on file for a peer.
var ErrNoPublicKey = errors.New("no public key for peer")

// PeerKey is the key material held for one peer.
type PeerKey struct {
	EncryptionKey  string `json:"encryptionKey"`
	MLDSAPublicKey []byte `json:"mldsaPublicKey,omitempty"`
	AddedAt        int64  `json:"addedAt"`
}

// Keystore is the persistent peer key registry.
type Keystore struct {
	mu    sync.RWMutex
	store kv.Store
	local *identity.Identity
	keys  map[string]PeerKey
}

// New loads the registry from the backing store. A missing entry means
// an empty registry.
func New(store kv.Store, local *identity.Identity) (*Keystore, error) {
	keys := make(map[string]PeerKey)
	if err := kv.GetJSON(store, storeKey, &keys); err != nil && !errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("load peer keys: %w", err)
	}

	return &Keystore{
		store: store,
		local: local,
		keys:  keys,
	}, nil
}

// Has reports whether a peer's encryption key is on file. This is the
// completion signal for a key exchange. An entry holding only an ML-DSA
// key (a request that carried no inline encryption key) does not count:
// nothing can be encrypted for that peer yet.
func (k *Keystore) Has(peer string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.keys[peer].EncryptionKey != ""
}

// Store records a peer's encryption key. The key must be a hex-encoded
// X25519 public key. Storing again overwrites the previous key.
func (k *Keystore) Store(peer, encryptionKey string) error {
	if _, err := crypto.ParseX25519Key(encryptionKey); err != nil {
		return fmt.Errorf("invalid encryption key for %s: %w", identity.ShortSessionID(peer), err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	entry := k.keys[peer]
	entry.EncryptionKey = encryptionKey
	if entry.AddedAt == 0 {
		entry.AddedAt = time.Now().UnixMilli()
	}
	k.keys[peer] = entry

	return k.flushLocked()
}

// StoreMLDSA records a peer's ML-DSA-65 public key alongside the
// encryption key. Hybrid envelope signatures from the peer verify in
// full once this is set.
func (k *Keystore) StoreMLDSA(peer string, pub []byte) error {
	if len(pub) != crypto.MLDSAPublicKeySize {
		return fmt.Errorf("invalid ML-DSA key for %s: %d bytes", identity.ShortSessionID(peer), len(pub))
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	entry := k.keys[peer]
	entry.MLDSAPublicKey = pub
	if entry.AddedAt == 0 {
		entry.AddedAt = time.Now().UnixMilli()
	}
	k.keys[peer] = entry

	return k.flushLocked()
}

// Get returns the key material for a peer.
func (k *Keystore) Get(peer string) (*PeerKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	entry, ok := k.keys[peer]
	if !ok || entry.EncryptionKey == "" {
		return nil, ErrNoPublicKey
	}
	return &entry, nil
}

// MLDSAKey returns the peer's ML-DSA public key, or nil if unknown.
func (k *Keystore) MLDSAKey(peer string) []byte {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.keys[peer].MLDSAPublicKey
}

// Remove drops all key material for a peer. Removing an unknown peer
// is not an error.
func (k *Keystore) Remove(peer string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.keys[peer]; !ok {
		return nil
	}
	delete(k.keys, peer)

	return k.flushLocked()
}

// Peers lists all peers with keys on file.
func (k *Keystore) Peers() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()

	peers := make([]string, 0, len(k.keys))
	for peer := range k.keys {
		peers = append(peers, peer)
	}
	return peers
}

// Encrypt seals plaintext for a peer using their stored key and our
// identity key.
func (k *Keystore) Encrypt(peer string, plaintext []byte) ([]byte, error) {
	entry, err := k.Get(peer)
	if err != nil {
		return nil, err
	}

	peerPub, err := crypto.ParseX25519Key(entry.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("stored key for %s is corrupt: %w", identity.ShortSessionID(peer), err)
	}

	return crypto.Encrypt(plaintext, peerPub, k.local.EncryptionPrivateKey())
}

// Decrypt opens a message sealed for us by a peer.
func (k *Keystore) Decrypt(peer string, ciphertext []byte) ([]byte, error) {
	entry, err := k.Get(peer)
	if err != nil {
		return nil, err
	}

	peerPub, err := crypto.ParseX25519Key(entry.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("stored key for %s is corrupt: %w", identity.ShortSessionID(peer), err)
	}

	return crypto.Decrypt(ciphertext, peerPub, k.local.EncryptionPrivateKey())
}

func (k *Keystore) flushLocked() error {
	if err := kv.SetJSON(k.store, storeKey, k.keys); err != nil {
		return fmt.Errorf("persist peer keys: %w", err)
	}
	return nil
}
