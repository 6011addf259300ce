package kv

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStore_SetGet(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenFile(filepath.Join(dir, "store.json"))
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}

	if err := store.Set("greeting", json.RawMessage(`"hello"`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	v, err := store.Get("greeting")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(v) != `"hello"` {
		t.Errorf("Get returned %s, want %q", v, `"hello"`)
	}

	if _, err := store.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get for missing key returned %v, want ErrNotFound", err)
	}
}

func TestFileStore_Persistence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")

	store, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	if err := store.Set("a", json.RawMessage(`[1,2,3]`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set("b", json.RawMessage(`{"x":true}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Reopen and verify both keys survived.
	reopened, err := OpenFile(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	v, err := reopened.Get("a")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if string(v) != `[1,2,3]` {
		t.Errorf("Get returned %s, want [1,2,3]", v)
	}
	keys := reopened.Keys()
	if len(keys) != 2 {
		t.Errorf("Keys returned %d entries, want 2", len(keys))
	}
}

func TestFileStore_Delete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")

	store, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	if err := store.Set("k", json.RawMessage(`1`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Delete("k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if store.Has("k") {
		t.Error("Has returned true after Delete")
	}

	// Deleting an absent key is not an error.
	if err := store.Delete("k"); err != nil {
		t.Errorf("Delete of absent key returned %v", err)
	}

	// Deletion persists across reopen.
	reopened, err := OpenFile(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if reopened.Has("k") {
		t.Error("deleted key resurfaced after reopen")
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")

	if err := os.WriteFile(path, []byte("not json{"), 0600); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	if _, err := OpenFile(path); err == nil {
		t.Error("OpenFile succeeded on corrupt file, want error")
	}
}

func TestFileStore_NoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")

	store, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	if err := store.Set("k", json.RawMessage(`1`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after flush")
	}
}

func TestMemStore_FailWrites(t *testing.T) {
	store := NewMem()
	boom := errors.New("disk full")
	store.FailWrites = boom

	if err := store.Set("k", json.RawMessage(`1`)); !errors.Is(err, boom) {
		t.Errorf("Set returned %v, want injected error", err)
	}
	if store.Has("k") {
		t.Error("failed Set still stored the value")
	}
}

func TestJSONHelpers(t *testing.T) {
	store := NewMem()

	type item struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	if err := SetJSON(store, "item", item{Name: "a", Count: 2}); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}

	var got item
	if err := GetJSON(store, "item", &got); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if got.Name != "a" || got.Count != 2 {
		t.Errorf("GetJSON returned %+v", got)
	}

	var missing item
	if err := GetJSON(store, "absent", &missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetJSON for absent key returned %v, want ErrNotFound", err)
	}
}
