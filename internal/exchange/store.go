package exchange

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"kxctl.dev/go/kxctl/internal/kv"
)

// Storage keys. The combined legacy key is consumed only by migration.
const (
	sentRequestsKey     = "sent_requests"
	receivedRequestsKey = "received_requests"
	legacyRequestsKey   = "key_exchange_requests"
)

// RequestStore persists the sent and received request lists as two JSON
// lists in the KV store. Each write rewrites the whole list, so a partial
// write never corrupts individual entries.
type RequestStore struct {
	store kv.Store
}

// NewRequestStore creates a request store backed by the given KV store.
func NewRequestStore(store kv.Store) *RequestStore {
	return &RequestStore{store: store}
}

func keyFor(dir Direction) string {
	if dir == DirectionSent {
		return sentRequestsKey
	}
	return receivedRequestsKey
}

// Load reads both partitions, newest first. Malformed entries are skipped
// and logged; a bad entry never aborts the load.
func (s *RequestStore) Load() (sent, received []*Request) {
	sent = s.loadList(sentRequestsKey)
	received = s.loadList(receivedRequestsKey)
	return sent, received
}

func (s *RequestStore) loadList(key string) []*Request {
	raw, err := s.store.Get(key)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			slog.Warn("Request list read failed", "key", key, "error", err)
		}
		return nil
	}
	return decodeList(raw, key)
}

// decodeList decodes entries one at a time so a single malformed entry
// does not discard the rest of the list.
func decodeList(raw json.RawMessage, key string) []*Request {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		slog.Warn("Request list is not a JSON array", "key", key, "error", err)
		return nil
	}

	list := make([]*Request, 0, len(items))
	for i, item := range items {
		var req Request
		if err := json.Unmarshal(item, &req); err != nil {
			slog.Warn("Skipping malformed request entry", "key", key, "index", i, "error", err)
			continue
		}
		if req.ID == "" || !req.Status.Valid() {
			slog.Warn("Skipping invalid request entry", "key", key, "index", i, "status", req.Status)
			continue
		}
		list = append(list, &req)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].Timestamp > list[j].Timestamp
	})
	return list
}

// Upsert replaces the entry with the same id or appends, then rewrites
// the partition.
func (s *RequestStore) Upsert(dir Direction, req *Request) error {
	key := keyFor(dir)
	list := s.loadList(key)

	replaced := false
	for i, existing := range list {
		if existing.ID == req.ID {
			list[i] = req
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, req)
	}

	return s.writeList(key, list)
}

// Remove filters the entry with the given id out of the partition. Removing
// an absent id is not an error.
func (s *RequestStore) Remove(dir Direction, id string) error {
	key := keyFor(dir)
	list := s.loadList(key)

	filtered := list[:0]
	for _, req := range list {
		if req.ID != id {
			filtered = append(filtered, req)
		}
	}

	return s.writeList(key, filtered)
}

func (s *RequestStore) writeList(key string, list []*Request) error {
	if list == nil {
		list = []*Request{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrStorageFailure, key, err)
	}
	if err := s.store.Set(key, data); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrStorageFailure, key, err)
	}
	return nil
}

// MigrateLegacy partitions the deprecated combined request list into the
// sent and received keys by comparing each entry against the local
// identity, then deletes the legacy key. Safe to call when the legacy key
// is absent, and safe to call again after a partial run: entries already
// present in a partition win over their legacy copy.
func (s *RequestStore) MigrateLegacy(localID string) (int, error) {
	raw, err := s.store.Get(legacyRequestsKey)
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read %s: %v", ErrStorageFailure, legacyRequestsKey, err)
	}

	legacy := decodeList(raw, legacyRequestsKey)
	sent, received := s.Load()

	migrated := 0
	for _, req := range legacy {
		if req.Direction(localID) == DirectionSent {
			if !containsID(sent, req.ID) {
				sent = append(sent, req)
				migrated++
			}
		} else {
			if !containsID(received, req.ID) {
				received = append(received, req)
				migrated++
			}
		}
	}

	if err := s.writeList(sentRequestsKey, sent); err != nil {
		return 0, err
	}
	if err := s.writeList(receivedRequestsKey, received); err != nil {
		return 0, err
	}
	if err := s.store.Delete(legacyRequestsKey); err != nil {
		return 0, fmt.Errorf("%w: delete %s: %v", ErrStorageFailure, legacyRequestsKey, err)
	}

	slog.Info("Migrated legacy request list", "entries", migrated)
	return migrated, nil
}

func containsID(list []*Request, id string) bool {
	for _, existing := range list {
		if existing.ID == id {
			return true
		}
	}
	return false
}
