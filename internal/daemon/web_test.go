package daemon

import (
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"testing"

	"kxctl.dev/go/kxctl/internal/audit"
	"kxctl.dev/go/kxctl/internal/identity"
)

func TestWebAuditCategoryCounts(t *testing.T) {
	alice, _, ta, _ := generatePair(t)
	d := newTestDaemon(t, alice, ta, nil)
	ws := NewWebServer(d, d.hub, 0)

	// A fresh session ID keeps the shared audit log's events from other
	// tests out of the peer-filtered counts.
	other, err := identity.Generate("Carol")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	peer := other.SessionID()

	audit.LogExchangeRequested(peer, "req-1")
	audit.LogExchangeAccepted(peer, "req-1")
	audit.LogPeerKeyStored(peer)

	req := httptest.NewRequest("GET", "/api/audit?peer="+url.QueryEscape(peer), nil)
	rec := httptest.NewRecorder()
	ws.handleAudit(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Events     []audit.Event  `json:"events"`
		Count      int            `json:"count"`
		Categories map[string]int `json:"categories"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if resp.Count != 3 || len(resp.Events) != 3 {
		t.Fatalf("count = %d, events = %d, want 3", resp.Count, len(resp.Events))
	}
	if resp.Categories[audit.CategoryExchange] != 2 {
		t.Errorf("exchange category = %d, want 2", resp.Categories[audit.CategoryExchange])
	}
	if resp.Categories[audit.CategoryPeer] != 1 {
		t.Errorf("peer category = %d, want 1", resp.Categories[audit.CategoryPeer])
	}

	post := httptest.NewRequest("POST", "/api/audit", nil)
	rec = httptest.NewRecorder()
	ws.handleAudit(rec, post)
	if rec.Code != 405 {
		t.Errorf("POST status = %d, want 405", rec.Code)
	}
}
