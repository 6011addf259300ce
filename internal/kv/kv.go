package kv

import (
	"encoding/json"
	"errors"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("key not found")

// Store is a durable string-keyed store of JSON-encoded values.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(key string) (json.RawMessage, error)

	// Set writes the value for key, replacing any existing value.
	Set(key string, value json.RawMessage) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error

	// Has reports whether key exists.
	Has(key string) bool

	// Keys returns all keys currently in the store.
	Keys() []string
}

// GetJSON reads key and unmarshals it into v. Returns ErrNotFound when the
// key is absent.
func GetJSON(s Store, key string, v any) error {
	raw, err := s.Get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// SetJSON marshals v and writes it under key.
func SetJSON(s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Set(key, raw)
}
