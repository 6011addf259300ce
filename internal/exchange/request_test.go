package exchange

import (
	"encoding/json"
	"testing"

	"kxctl.dev/go/kxctl/internal/protocol"
)

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
		active   bool
	}{
		{StatusPending, false, true},
		{StatusSent, false, true},
		{StatusReceived, false, true},
		{StatusProcessing, false, true},
		{StatusFailed, false, true},
		{StatusAccepted, true, false},
		{StatusDeclined, true, false},
		{StatusRevoked, true, false},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.terminal)
		}
		if got := tt.status.Active(); got != tt.active {
			t.Errorf("%s.Active() = %v, want %v", tt.status, got, tt.active)
		}
		if !tt.status.Valid() {
			t.Errorf("%s.Valid() = false", tt.status)
		}
	}
	if Status("bogus").Valid() {
		t.Error("bogus status reported valid")
	}
	if Status("bogus").Active() {
		t.Error("bogus status reported active")
	}
}

func TestDirectionHelpers(t *testing.T) {
	if DirectionSent.Opposite() != DirectionReceived {
		t.Error("sent opposite should be received")
	}
	if DirectionReceived.Opposite() != DirectionSent {
		t.Error("received opposite should be sent")
	}
	if got := DirectionSent.InitialStatus(); got != StatusPending {
		t.Errorf("sent initial status = %s, want %s", got, StatusPending)
	}
	if got := DirectionReceived.InitialStatus(); got != StatusReceived {
		t.Errorf("received initial status = %s, want %s", got, StatusReceived)
	}
}

func TestRequestDecodeDefaultsVersion(t *testing.T) {
	raw := `{"id":"req-1","fromSessionId":"aa","toSessionId":"bb","requestPhrase":"hi","status":"sent","timestamp":1700000000000}`
	var req Request
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.Version != protocol.ProtocolVersion {
		t.Errorf("version = %q, want default %q", req.Version, protocol.ProtocolVersion)
	}

	raw = `{"id":"req-2","status":"sent","version":"2"}`
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.Version != "2" {
		t.Errorf("explicit version overwritten: got %q", req.Version)
	}
}

func TestRequestClone(t *testing.T) {
	at := int64(1700000000000)
	orig := &Request{
		ID:            "req-1",
		FromSessionID: "aa",
		ToSessionID:   "bb",
		Status:        StatusAccepted,
		RespondedAt:   &at,
	}
	clone := orig.Clone()
	if !clone.Equal(orig) {
		t.Fatal("clone is not equal to original")
	}

	*clone.RespondedAt = 42
	clone.Status = StatusDeclined
	if *orig.RespondedAt != at {
		t.Error("clone shares respondedAt pointer with original")
	}
	if orig.Status != StatusAccepted {
		t.Error("clone shares status with original")
	}
}

func TestRequestPeerAndDirection(t *testing.T) {
	req := &Request{ID: "req-1", FromSessionID: "aa", ToSessionID: "bb", Status: StatusSent}

	if got := req.Peer("aa"); got != "bb" {
		t.Errorf("Peer from sender view = %q, want bb", got)
	}
	if got := req.Peer("bb"); got != "aa" {
		t.Errorf("Peer from receiver view = %q, want aa", got)
	}
	if got := req.Direction("aa"); got != DirectionSent {
		t.Errorf("Direction from sender view = %s, want %s", got, DirectionSent)
	}
	if got := req.Direction("bb"); got != DirectionReceived {
		t.Errorf("Direction from receiver view = %s, want %s", got, DirectionReceived)
	}
}
