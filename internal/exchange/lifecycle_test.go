package exchange

import (
	"errors"
	"testing"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusPending, StatusSent},
		{StatusPending, StatusFailed},
		{StatusPending, StatusRevoked},
		{StatusSent, StatusAccepted},
		{StatusSent, StatusDeclined},
		{StatusSent, StatusFailed},
		{StatusSent, StatusRevoked},
		{StatusReceived, StatusProcessing},
		{StatusReceived, StatusRevoked},
		{StatusProcessing, StatusAccepted},
		{StatusProcessing, StatusDeclined},
		{StatusProcessing, StatusReceived},
		{StatusProcessing, StatusRevoked},
		{StatusFailed, StatusSent},
		{StatusFailed, StatusAccepted},
		{StatusFailed, StatusDeclined},
		{StatusFailed, StatusRevoked},
	}
	for _, tt := range allowed {
		if !CanTransition(tt.from, tt.to) {
			t.Errorf("CanTransition(%s, %s) = false, want true", tt.from, tt.to)
		}
	}

	denied := []struct{ from, to Status }{
		{StatusPending, StatusAccepted},
		{StatusPending, StatusReceived},
		{StatusSent, StatusPending},
		{StatusReceived, StatusAccepted},
		{StatusReceived, StatusDeclined},
		{StatusFailed, StatusProcessing},
		{StatusAccepted, StatusDeclined},
		{StatusAccepted, StatusRevoked},
		{StatusDeclined, StatusSent},
		{StatusRevoked, StatusPending},
	}
	for _, tt := range denied {
		if CanTransition(tt.from, tt.to) {
			t.Errorf("CanTransition(%s, %s) = true, want false", tt.from, tt.to)
		}
	}
}

func TestTransitionSetsRespondedAt(t *testing.T) {
	req := &Request{ID: "req-1", Status: StatusSent}
	if err := Transition(req, StatusAccepted); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if req.Status != StatusAccepted {
		t.Errorf("status = %s, want accepted", req.Status)
	}
	if req.RespondedAt == nil || *req.RespondedAt == 0 {
		t.Error("respondedAt not set on accepted")
	}

	req = &Request{ID: "req-2", Status: StatusProcessing}
	if err := Transition(req, StatusDeclined); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if req.RespondedAt == nil {
		t.Error("respondedAt not set on declined")
	}
}

func TestTransitionClearsRespondedAtOtherwise(t *testing.T) {
	at := int64(1700000000000)
	req := &Request{ID: "req-1", Status: StatusProcessing, RespondedAt: &at}
	if err := Transition(req, StatusReceived); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if req.RespondedAt != nil {
		t.Error("respondedAt survived a non-terminal transition")
	}
}

func TestTransitionTerminalImmutable(t *testing.T) {
	for _, status := range []Status{StatusAccepted, StatusDeclined, StatusRevoked} {
		req := &Request{ID: "req-1", Status: status}
		err := Transition(req, StatusSent)
		if !errors.Is(err, ErrTerminalState) {
			t.Errorf("transition out of %s: err = %v, want ErrTerminalState", status, err)
		}
		if req.Status != status {
			t.Errorf("terminal status mutated to %s", req.Status)
		}
	}
}

func TestTransitionInvalid(t *testing.T) {
	req := &Request{ID: "req-1", Status: StatusReceived}
	err := Transition(req, StatusAccepted)
	if err == nil {
		t.Fatal("received -> accepted allowed without processing step")
	}
	if errors.Is(err, ErrTerminalState) {
		t.Error("invalid transition misreported as terminal")
	}
	if req.Status != StatusReceived {
		t.Errorf("status mutated on rejected transition: %s", req.Status)
	}
}

func TestReconcileOnLoad(t *testing.T) {
	at := int64(1700000000000)
	tests := []struct {
		name    string
		in      Status
		want    Status
		changed bool
	}{
		{"processing reverts", StatusProcessing, StatusReceived, true},
		{"pending fails", StatusPending, StatusFailed, true},
		{"sent untouched", StatusSent, StatusSent, false},
		{"received untouched", StatusReceived, StatusReceived, false},
		{"accepted untouched", StatusAccepted, StatusAccepted, false},
		{"failed untouched", StatusFailed, StatusFailed, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &Request{ID: "req-1", Status: tt.in, RespondedAt: &at}
			if got := ReconcileOnLoad(req); got != tt.changed {
				t.Errorf("ReconcileOnLoad = %v, want %v", got, tt.changed)
			}
			if req.Status != tt.want {
				t.Errorf("status = %s, want %s", req.Status, tt.want)
			}
			if tt.changed && req.RespondedAt != nil {
				t.Error("respondedAt survived reconciliation")
			}
		})
	}
}
