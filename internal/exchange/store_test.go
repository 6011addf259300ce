package exchange

import (
	"encoding/json"
	"fmt"
	"testing"

	"kxctl.dev/go/kxctl/internal/kv"
)

const (
	storeLocal = "local-session"
	storePeer  = "peer-session"
)

func storeRequest(id string, ts int64) *Request {
	return &Request{
		ID:            id,
		FromSessionID: storeLocal,
		ToSessionID:   storePeer,
		RequestPhrase: "hello",
		Status:        StatusSent,
		Timestamp:     ts,
	}
}

func TestStoreUpsertAndLoad(t *testing.T) {
	s := NewRequestStore(kv.NewMem())

	if err := s.Upsert(DirectionSent, storeRequest("req-1", 100)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Upsert(DirectionSent, storeRequest("req-2", 200)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	sent, received := s.Load()
	if len(received) != 0 {
		t.Errorf("received partition not empty: %d entries", len(received))
	}
	if len(sent) != 2 {
		t.Fatalf("sent partition has %d entries, want 2", len(sent))
	}
	if sent[0].ID != "req-2" {
		t.Errorf("newest entry first: got %s", sent[0].ID)
	}

	updated := storeRequest("req-1", 300)
	updated.Status = StatusFailed
	if err := s.Upsert(DirectionSent, updated); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	sent, _ = s.Load()
	if len(sent) != 2 {
		t.Fatalf("upsert duplicated entry: %d entries", len(sent))
	}
	if sent[0].ID != "req-1" || sent[0].Status != StatusFailed {
		t.Errorf("upsert did not replace: id=%s status=%s", sent[0].ID, sent[0].Status)
	}
}

func TestStoreRemove(t *testing.T) {
	s := NewRequestStore(kv.NewMem())
	if err := s.Upsert(DirectionReceived, storeRequest("req-1", 100)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if err := s.Remove(DirectionReceived, "req-1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	_, received := s.Load()
	if len(received) != 0 {
		t.Errorf("entry survived removal: %d entries", len(received))
	}

	if err := s.Remove(DirectionReceived, "no-such-id"); err != nil {
		t.Errorf("removing an absent id: %v", err)
	}
}

func TestStoreLoadSkipsBadEntries(t *testing.T) {
	mem := kv.NewMem()
	raw := fmt.Sprintf(`[
		{"id":"good","fromSessionId":%q,"toSessionId":%q,"status":"sent","timestamp":100},
		"not an object",
		{"id":"","status":"sent","timestamp":50},
		{"id":"bad-status","fromSessionId":%q,"toSessionId":%q,"status":"teleported","timestamp":60}
	]`, storeLocal, storePeer, storeLocal, storePeer)
	if err := mem.Set(sentRequestsKey, json.RawMessage(raw)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	sent, _ := NewRequestStore(mem).Load()
	if len(sent) != 1 || sent[0].ID != "good" {
		t.Errorf("Load = %d entries, want only the good one", len(sent))
	}
}

func TestStoreLoadMissingKeys(t *testing.T) {
	sent, received := NewRequestStore(kv.NewMem()).Load()
	if len(sent) != 0 || len(received) != 0 {
		t.Errorf("empty store loaded %d/%d entries", len(sent), len(received))
	}
}

func TestMigrateLegacy(t *testing.T) {
	mem := kv.NewMem()
	legacy := []*Request{
		{ID: "out-1", FromSessionID: storeLocal, ToSessionID: storePeer, Status: StatusSent, Timestamp: 100},
		{ID: "in-1", FromSessionID: storePeer, ToSessionID: storeLocal, Status: StatusReceived, Timestamp: 200},
		{ID: "out-2", FromSessionID: storeLocal, ToSessionID: "third-session", Status: StatusAccepted, Timestamp: 300},
	}
	data, err := json.Marshal(legacy)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := mem.Set(legacyRequestsKey, data); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s := NewRequestStore(mem)
	migrated, err := s.MigrateLegacy(storeLocal)
	if err != nil {
		t.Fatalf("MigrateLegacy: %v", err)
	}
	if migrated != 3 {
		t.Errorf("migrated = %d, want 3", migrated)
	}

	sent, received := s.Load()
	if len(sent) != 2 {
		t.Fatalf("sent partition has %d entries, want 2", len(sent))
	}
	for _, req := range sent {
		if req.FromSessionID != storeLocal {
			t.Errorf("entry %s in sent partition has foreign sender %s", req.ID, req.FromSessionID)
		}
	}
	if len(received) != 1 || received[0].ID != "in-1" {
		t.Errorf("received partition = %v, want [in-1]", received)
	}

	if mem.Has(legacyRequestsKey) {
		t.Error("legacy key survived migration")
	}

	migrated, err = s.MigrateLegacy(storeLocal)
	if err != nil || migrated != 0 {
		t.Errorf("second migration = (%d, %v), want (0, nil)", migrated, err)
	}
}

func TestMigrateLegacyFoldsIntoExisting(t *testing.T) {
	mem := kv.NewMem()
	s := NewRequestStore(mem)

	current := storeRequest("out-1", 500)
	current.Status = StatusAccepted
	if err := s.Upsert(DirectionSent, current); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	stale := storeRequest("out-1", 100)
	data, _ := json.Marshal([]*Request{stale})
	if err := mem.Set(legacyRequestsKey, data); err != nil {
		t.Fatalf("seed: %v", err)
	}

	migrated, err := s.MigrateLegacy(storeLocal)
	if err != nil {
		t.Fatalf("MigrateLegacy: %v", err)
	}
	if migrated != 0 {
		t.Errorf("migrated = %d, want 0 for an already-known id", migrated)
	}

	sent, _ := s.Load()
	if len(sent) != 1 {
		t.Fatalf("folding by id produced %d entries, want 1", len(sent))
	}
	if sent[0].Status != StatusAccepted {
		t.Errorf("legacy copy overwrote the current entry: status = %s", sent[0].Status)
	}
}
