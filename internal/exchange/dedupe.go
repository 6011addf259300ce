package exchange

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DeduplicationGuard enforces at most one active request per peer and
// direction. Every create and upsert decision flows through Resolve so
// duplicate detection lives in one place.
type DeduplicationGuard struct {
	localID string
}

// NewDeduplicationGuard creates a guard for the given local identity.
func NewDeduplicationGuard(localID string) *DeduplicationGuard {
	return &DeduplicationGuard{localID: localID}
}

// Outcome reports how a candidate was folded into the existing lists.
type Outcome struct {
	Request  *Request
	Updated  bool   // an existing active entry was upserted
	Replaced string // id of the replaced entry when the counterpart issued a new one
}

// Resolve decides whether the candidate upserts an existing active entry,
// conflicts with one in the opposite direction, or creates a new entry.
// An empty candidate id on the create path is assigned a fresh uuid;
// incoming candidates keep the sender-provided id.
func (g *DeduplicationGuard) Resolve(sent, received []*Request, dir Direction, candidate *Request) (Outcome, error) {
	peer := candidate.Peer(g.localID)

	same, opposite := received, sent
	if dir == DirectionSent {
		same, opposite = sent, received
	}

	if existing := ActiveForPeer(same, g.localID, peer); existing != nil {
		merged := existing.Clone()
		replaced := ""
		if dir == DirectionReceived && candidate.ID != "" && candidate.ID != existing.ID {
			// The counterpart issued a new id; it replaces the old entry.
			replaced = existing.ID
			merged.ID = candidate.ID
		}
		if candidate.RequestPhrase != "" {
			merged.RequestPhrase = candidate.RequestPhrase
		}
		if candidate.PublicKey != "" {
			merged.PublicKey = candidate.PublicKey
		}
		if candidate.Version != "" {
			merged.Version = candidate.Version
		}
		if candidate.DisplayName != "" {
			merged.DisplayName = candidate.DisplayName
		}
		merged.Status = dir.InitialStatus()
		merged.Timestamp = candidate.Timestamp
		if merged.Timestamp == 0 {
			merged.Timestamp = time.Now().UnixMilli()
		}
		merged.RespondedAt = nil
		return Outcome{Request: merged, Updated: true, Replaced: replaced}, nil
	}

	if existing := ActiveForPeer(opposite, g.localID, peer); existing != nil {
		return Outcome{}, fmt.Errorf("%w: request %s is %s", ErrCrossDirectionConflict, existing.ID, existing.Status)
	}

	created := candidate.Clone()
	if created.ID == "" {
		created.ID = uuid.New().String()
	}
	if created.Timestamp == 0 {
		created.Timestamp = time.Now().UnixMilli()
	}
	created.Status = dir.InitialStatus()
	created.RespondedAt = nil
	return Outcome{Request: created}, nil
}

// ActiveForPeer returns the active entry for the peer in the list, or nil.
func ActiveForPeer(list []*Request, localID, peer string) *Request {
	for _, r := range list {
		if r.Active() && r.Peer(localID) == peer {
			return r
		}
	}
	return nil
}

// PurgeTargets lists ids of other active entries for the peer in both
// directions. Used when an exchange completes so only the surviving entry
// remains.
func (g *DeduplicationGuard) PurgeTargets(sent, received []*Request, peer, keepID string) (sentIDs, receivedIDs []string) {
	for _, r := range sent {
		if r.ID != keepID && r.Active() && r.Peer(g.localID) == peer {
			sentIDs = append(sentIDs, r.ID)
		}
	}
	for _, r := range received {
		if r.ID != keepID && r.Active() && r.Peer(g.localID) == peer {
			receivedIDs = append(receivedIDs, r.ID)
		}
	}
	return sentIDs, receivedIDs
}
