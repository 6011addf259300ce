package exchange

import (
	"errors"
	"testing"
)

const (
	guardLocal = "local-session"
	guardPeer  = "peer-session"
)

func newGuardCandidate(dir Direction, id string) *Request {
	req := &Request{
		ID:            id,
		RequestPhrase: "hello",
		Timestamp:     1700000000000,
	}
	if dir == DirectionSent {
		req.FromSessionID = guardLocal
		req.ToSessionID = guardPeer
		req.Status = StatusPending
	} else {
		req.FromSessionID = guardPeer
		req.ToSessionID = guardLocal
		req.Status = StatusReceived
	}
	return req
}

func TestResolveCreatesOutgoing(t *testing.T) {
	guard := NewDeduplicationGuard(guardLocal)

	outcome, err := guard.Resolve(nil, nil, DirectionSent, newGuardCandidate(DirectionSent, ""))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if outcome.Updated {
		t.Error("fresh create reported as update")
	}
	if outcome.Request.ID == "" {
		t.Error("outgoing request did not get a generated id")
	}
	if outcome.Request.Status != StatusPending {
		t.Errorf("status = %s, want pending", outcome.Request.Status)
	}
}

func TestResolveKeepsSenderID(t *testing.T) {
	guard := NewDeduplicationGuard(guardLocal)

	outcome, err := guard.Resolve(nil, nil, DirectionReceived, newGuardCandidate(DirectionReceived, "peer-id-1"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if outcome.Request.ID != "peer-id-1" {
		t.Errorf("id = %q, want the sender-issued peer-id-1", outcome.Request.ID)
	}
	if outcome.Request.Status != StatusReceived {
		t.Errorf("status = %s, want received", outcome.Request.Status)
	}
}

func TestResolveUpsertsSameDirection(t *testing.T) {
	guard := NewDeduplicationGuard(guardLocal)
	at := int64(1690000000000)
	existing := newGuardCandidate(DirectionSent, "req-1")
	existing.Status = StatusFailed
	existing.RespondedAt = &at
	existing.Timestamp = 1690000000000

	candidate := newGuardCandidate(DirectionSent, "")
	candidate.RequestPhrase = "hello again"

	outcome, err := guard.Resolve([]*Request{existing}, nil, DirectionSent, candidate)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !outcome.Updated {
		t.Fatal("existing active entry not treated as upsert")
	}
	got := outcome.Request
	if got.ID != "req-1" {
		t.Errorf("id changed on upsert: %q", got.ID)
	}
	if got.Status != StatusPending {
		t.Errorf("status = %s, want reset to pending", got.Status)
	}
	if got.RequestPhrase != "hello again" {
		t.Errorf("phrase not refreshed: %q", got.RequestPhrase)
	}
	if got.Timestamp == existing.Timestamp {
		t.Error("timestamp not refreshed")
	}
	if got.RespondedAt != nil {
		t.Error("respondedAt survived upsert")
	}
	if existing.Status != StatusFailed {
		t.Error("upsert mutated the stored entry in place")
	}
}

func TestResolveReplacesIncomingID(t *testing.T) {
	guard := NewDeduplicationGuard(guardLocal)
	existing := newGuardCandidate(DirectionReceived, "old-id")
	candidate := newGuardCandidate(DirectionReceived, "new-id")

	outcome, err := guard.Resolve(nil, []*Request{existing}, DirectionReceived, candidate)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !outcome.Updated {
		t.Fatal("resent request not treated as upsert")
	}
	if outcome.Request.ID != "new-id" {
		t.Errorf("id = %q, want the counterpart's new-id", outcome.Request.ID)
	}
	if outcome.Replaced != "old-id" {
		t.Errorf("replaced = %q, want old-id", outcome.Replaced)
	}
}

func TestResolveNeverReplacesOutgoingID(t *testing.T) {
	guard := NewDeduplicationGuard(guardLocal)
	existing := newGuardCandidate(DirectionSent, "req-1")

	outcome, err := guard.Resolve([]*Request{existing}, nil, DirectionSent, newGuardCandidate(DirectionSent, ""))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if outcome.Request.ID != "req-1" || outcome.Replaced != "" {
		t.Errorf("outgoing upsert changed id: id=%q replaced=%q", outcome.Request.ID, outcome.Replaced)
	}
}

func TestResolveCrossDirectionConflict(t *testing.T) {
	guard := NewDeduplicationGuard(guardLocal)

	sent := []*Request{newGuardCandidate(DirectionSent, "req-1")}
	_, err := guard.Resolve(sent, nil, DirectionReceived, newGuardCandidate(DirectionReceived, "peer-id-1"))
	if !errors.Is(err, ErrCrossDirectionConflict) {
		t.Errorf("incoming with active outgoing: err = %v, want ErrCrossDirectionConflict", err)
	}

	received := []*Request{newGuardCandidate(DirectionReceived, "peer-id-1")}
	_, err = guard.Resolve(nil, received, DirectionSent, newGuardCandidate(DirectionSent, ""))
	if !errors.Is(err, ErrCrossDirectionConflict) {
		t.Errorf("outgoing with active incoming: err = %v, want ErrCrossDirectionConflict", err)
	}
}

func TestResolveIgnoresTerminalEntries(t *testing.T) {
	guard := NewDeduplicationGuard(guardLocal)

	declined := newGuardCandidate(DirectionReceived, "peer-id-1")
	declined.Status = StatusDeclined

	outcome, err := guard.Resolve(nil, []*Request{declined}, DirectionSent, newGuardCandidate(DirectionSent, ""))
	if err != nil {
		t.Fatalf("declined history blocked a new outgoing request: %v", err)
	}
	if outcome.Updated {
		t.Error("terminal entry treated as active upsert target")
	}
}

func TestActiveForPeer(t *testing.T) {
	active := newGuardCandidate(DirectionSent, "req-1")
	terminal := newGuardCandidate(DirectionSent, "req-2")
	terminal.Status = StatusAccepted
	other := &Request{ID: "req-3", FromSessionID: guardLocal, ToSessionID: "someone-else", Status: StatusSent}

	list := []*Request{terminal, other, active}
	if got := ActiveForPeer(list, guardLocal, guardPeer); got == nil || got.ID != "req-1" {
		t.Errorf("ActiveForPeer = %v, want req-1", got)
	}
	if got := ActiveForPeer([]*Request{terminal, other}, guardLocal, guardPeer); got != nil {
		t.Errorf("ActiveForPeer = %v, want nil", got)
	}
}

func TestPurgeTargets(t *testing.T) {
	guard := NewDeduplicationGuard(guardLocal)

	keep := newGuardCandidate(DirectionReceived, "keep-id")
	keep.Status = StatusAccepted
	staleSent := newGuardCandidate(DirectionSent, "stale-sent")
	staleSent.Status = StatusFailed
	staleReceived := newGuardCandidate(DirectionReceived, "stale-received")
	history := newGuardCandidate(DirectionSent, "history")
	history.Status = StatusDeclined
	unrelated := &Request{ID: "other", FromSessionID: guardLocal, ToSessionID: "someone-else", Status: StatusSent}

	sentIDs, receivedIDs := guard.PurgeTargets(
		[]*Request{staleSent, history, unrelated},
		[]*Request{keep, staleReceived},
		guardPeer, "keep-id",
	)
	if len(sentIDs) != 1 || sentIDs[0] != "stale-sent" {
		t.Errorf("sent purge targets = %v, want [stale-sent]", sentIDs)
	}
	if len(receivedIDs) != 1 || receivedIDs[0] != "stale-received" {
		t.Errorf("received purge targets = %v, want [stale-received]", receivedIDs)
	}
}
