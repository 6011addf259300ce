// Package exchange implements the key exchange request lifecycle: the
// request entity, durable partitioned persistence with legacy migration,
// deduplication, the status state machine, completion polling and the
// coordinator facade consuming socket events.
package exchange

import (
	"encoding/json"

	"kxctl.dev/go/kxctl/internal/protocol"
)

// Status is the lifecycle state of a key exchange request.
type Status string

const (
	// StatusPending is an outgoing request not yet acknowledged by the
	// transport.
	StatusPending Status = "pending"

	// StatusSent is an outgoing request delivered to the transport,
	// awaiting the peer's decision.
	StatusSent Status = "sent"

	// StatusReceived is an incoming request awaiting the local user's
	// decision.
	StatusReceived Status = "received"

	// StatusProcessing guards an incoming request while an accept or
	// decline round trip is outstanding.
	StatusProcessing Status = "processing"

	// StatusAccepted records a completed exchange. Terminal.
	StatusAccepted Status = "accepted"

	// StatusDeclined records a rejected exchange. Terminal.
	StatusDeclined Status = "declined"

	// StatusFailed is an outgoing request whose delivery failed. The
	// user may retry.
	StatusFailed Status = "failed"

	// StatusRevoked is a withdrawn request. Terminal; the entry is
	// removed rather than kept as history.
	StatusRevoked Status = "revoked"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusAccepted, StatusDeclined, StatusRevoked:
		return true
	}
	return false
}

// Active reports whether the request still participates in deduplication
// and lifecycle decisions.
func (s Status) Active() bool {
	return s.Valid() && !s.Terminal()
}

// Valid reports whether the status is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusReceived, StatusProcessing,
		StatusAccepted, StatusDeclined, StatusFailed, StatusRevoked:
		return true
	}
	return false
}

// Direction partitions requests by who initiated them.
type Direction string

const (
	// DirectionSent holds requests initiated locally.
	DirectionSent Direction = "sent"

	// DirectionReceived holds requests initiated by peers.
	DirectionReceived Direction = "received"
)

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == DirectionSent {
		return DirectionReceived
	}
	return DirectionSent
}

// InitialStatus returns the status a fresh or upserted request starts in
// for this direction.
func (d Direction) InitialStatus() Status {
	if d == DirectionSent {
		return StatusPending
	}
	return StatusReceived
}

// Request is a key exchange request. Exactly one of FromSessionID and
// ToSessionID equals the local identity; the other is the peer.
type Request struct {
	ID            string `json:"id"`
	FromSessionID string `json:"fromSessionId"`
	ToSessionID   string `json:"toSessionId"`
	RequestPhrase string `json:"requestPhrase"`
	Status        Status `json:"status"`
	Timestamp     int64  `json:"timestamp"` // unix milliseconds, creation or last resend
	RespondedAt   *int64 `json:"respondedAt,omitempty"`
	PublicKey     string `json:"publicKey,omitempty"` // peer's X25519 key when delivered inline
	Version       string `json:"version,omitempty"`
	DisplayName   string `json:"displayName,omitempty"`
}

// UnmarshalJSON decodes a request, applying defaults for optional fields.
func (r *Request) UnmarshalJSON(data []byte) error {
	type plain Request
	if err := json.Unmarshal(data, (*plain)(r)); err != nil {
		return err
	}
	if r.Version == "" {
		r.Version = protocol.ProtocolVersion
	}
	return nil
}

// Equal reports whether two requests refer to the same logical request.
func (r *Request) Equal(other *Request) bool {
	return other != nil && r.ID == other.ID
}

// Clone returns a copy of the request.
func (r *Request) Clone() *Request {
	c := *r
	if r.RespondedAt != nil {
		at := *r.RespondedAt
		c.RespondedAt = &at
	}
	return &c
}

// Active reports whether the request is non-terminal.
func (r *Request) Active() bool {
	return r.Status.Active()
}

// Peer returns the counterpart session ID for the given local identity.
func (r *Request) Peer(localID string) string {
	if r.FromSessionID == localID {
		return r.ToSessionID
	}
	return r.FromSessionID
}

// Direction returns which partition the request belongs to for the given
// local identity.
func (r *Request) Direction(localID string) Direction {
	if r.FromSessionID == localID {
		return DirectionSent
	}
	return DirectionReceived
}
