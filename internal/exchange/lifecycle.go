package exchange

import (
	"fmt"
	"time"
)

// transitions maps each status to the statuses it may move to. Terminal
// states have no outgoing edges. Revocation is reachable from every
// active state; the entry is removed immediately afterwards.
var transitions = map[Status][]Status{
	StatusPending:    {StatusSent, StatusFailed, StatusRevoked},
	StatusSent:       {StatusAccepted, StatusDeclined, StatusFailed, StatusRevoked},
	StatusReceived:   {StatusProcessing, StatusRevoked},
	StatusProcessing: {StatusAccepted, StatusDeclined, StatusReceived, StatusRevoked},
	// A failed entry can still be completed by a late peer response:
	// transport error events are advisory, not proof of non-delivery.
	StatusFailed: {StatusSent, StatusAccepted, StatusDeclined, StatusRevoked},
}

// CanTransition reports whether the move from one status to another is
// allowed.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition applies a status change to the request, maintaining the
// respondedAt invariant: set on entry into accepted or declined, nil
// everywhere else. Terminal states reject all changes.
func Transition(req *Request, to Status) error {
	if req.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminalState, req.ID, req.Status)
	}
	if !CanTransition(req.Status, to) {
		return fmt.Errorf("invalid transition %s -> %s for request %s", req.Status, to, req.ID)
	}

	req.Status = to
	switch to {
	case StatusAccepted, StatusDeclined:
		now := time.Now().UnixMilli()
		req.RespondedAt = &now
	default:
		req.RespondedAt = nil
	}
	return nil
}

// ReconcileOnLoad repairs states that must not survive a restart. A
// processing entry means an accept or decline round trip was cut off
// mid-flight; it reverts to received so the user can decide again. A
// pending entry means a send never reached the transport; it becomes
// failed so the user can retry. Returns true when the request changed.
func ReconcileOnLoad(req *Request) bool {
	switch req.Status {
	case StatusProcessing:
		req.Status = StatusReceived
		req.RespondedAt = nil
		return true
	case StatusPending:
		req.Status = StatusFailed
		req.RespondedAt = nil
		return true
	}
	return false
}
