package kv

import (
	"encoding/json"
	"sort"
	"sync"
)

// MemStore is an in-memory Store used by tests and by components that do
// not need durability.
type MemStore struct {
	mu   sync.Mutex
	data map[string]json.RawMessage

	// FailWrites makes Set and Delete return this error when non-nil,
	// simulating storage I/O failures.
	FailWrites error
}

// NewMem returns an empty in-memory store.
func NewMem() *MemStore {
	return &MemStore{data: make(map[string]json.RawMessage)}
}

// Get returns the value for key, or ErrNotFound.
func (s *MemStore) Get(key string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make(json.RawMessage, len(v))
	copy(out, v)
	return out, nil
}

// Set writes the value for key.
func (s *MemStore) Set(key string, value json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWrites != nil {
		return s.FailWrites
	}
	v := make(json.RawMessage, len(value))
	copy(v, value)
	s.data[key] = v
	return nil
}

// Delete removes key.
func (s *MemStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWrites != nil {
		return s.FailWrites
	}
	delete(s.data, key)
	return nil
}

// Has reports whether key exists.
func (s *MemStore) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.data[key]
	return ok
}

// Keys returns all keys in the store, sorted.
func (s *MemStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
