package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"kxctl.dev/go/kxctl/internal/audit"
	"kxctl.dev/go/kxctl/internal/crypto"
	"kxctl.dev/go/kxctl/internal/identity"
	"kxctl.dev/go/kxctl/internal/protocol"
)

// profileSendTimeout bounds the fire-and-forget profile exchange.
const profileSendTimeout = 10 * time.Second

// KeyManager is the subset of the peer key store the coordinator needs.
type KeyManager interface {
	Has(peer string) bool
	Store(peer, encryptionKey string) error
	StoreMLDSA(peer string, pub []byte) error
	MLDSAKey(peer string) []byte
	Encrypt(peer string, plaintext []byte) ([]byte, error)
	Decrypt(peer string, ciphertext []byte) ([]byte, error)
}

// Notifier posts local user notifications on lifecycle transitions.
// Implementations must not block; failures are their own problem.
type Notifier interface {
	RequestReceived(peer, phrase string)
	RequestAccepted(peer string)
	RequestDeclined(peer string)
	RequestRevoked(peer string)
	KeyReady(peer string)
}

// ChangeKind describes what happened to a request entry.
type ChangeKind string

const (
	// ChangeUpserted means the entry was created or updated.
	ChangeUpserted ChangeKind = "upserted"

	// ChangeRemoved means the entry was removed.
	ChangeRemoved ChangeKind = "removed"
)

// Listener observes request list changes. Invoked inline with a snapshot
// copy; implementations must not block.
type Listener func(kind ChangeKind, dir Direction, req *Request)

// Coordinator orchestrates the key exchange lifecycle. All mutations go
// through it: user intents on one side, socket events on the other.
// Operations for the same peer are serialized; different peers proceed
// concurrently.
type Coordinator struct {
	local     *identity.Identity
	localID   string
	store     *RequestStore
	guard     *DeduplicationGuard
	keys      KeyManager
	transport protocol.Transport
	notifier  Notifier
	poller    *CompletionPoller

	mu        sync.RWMutex
	sent      []*Request
	received  []*Request
	listener  Listener
	peerLocks map[string]*sync.Mutex
}

// NewCoordinator builds a coordinator, migrates any legacy request list,
// loads both partitions with restart reconciliation applied, and hooks
// itself up as the transport's event handler. notifier may be nil.
func NewCoordinator(local *identity.Identity, store *RequestStore, keys KeyManager, transport protocol.Transport, notifier Notifier) *Coordinator {
	c := &Coordinator{
		local:     local,
		localID:   local.SessionID(),
		store:     store,
		guard:     NewDeduplicationGuard(local.SessionID()),
		keys:      keys,
		transport: transport,
		notifier:  notifier,
		peerLocks: make(map[string]*sync.Mutex),
	}
	c.poller = NewCompletionPoller(keys.Has, c.completeExchange, c.reportExhausted)

	if migrated, err := store.MigrateLegacy(c.localID); err != nil {
		slog.Warn("Legacy request migration failed", "error", err)
	} else if migrated > 0 {
		audit.LogExchangeMigrated(migrated)
	}

	sent, received := store.Load()
	for _, req := range sent {
		if ReconcileOnLoad(req) {
			c.persist(DirectionSent, req)
		}
	}
	for _, req := range received {
		if ReconcileOnLoad(req) {
			c.persist(DirectionReceived, req)
		}
	}
	c.sent, c.received = sent, received

	transport.SetHandler(c.dispatch)
	return c
}

// dispatch routes transport events to their handlers. Rejections are
// logged, never fatal.
func (c *Coordinator) dispatch(env *protocol.Envelope) {
	var err error
	switch env.Type {
	case protocol.EventRequest:
		err = c.HandleIncomingRequest(env)
	case protocol.EventAccept:
		err = c.HandlePeerAccepted(env)
	case protocol.EventDecline:
		err = c.HandlePeerDeclined(env)
	case protocol.EventRevoke:
		err = c.HandlePeerRevoked(env)
	case protocol.EventError:
		err = c.HandleTransportError(env)
	case protocol.EventProfile:
		err = c.HandlePeerProfile(env)
	default:
		slog.Debug("Unknown event type", "type", env.Type)
	}
	if err != nil {
		slog.Debug("Key exchange event rejected",
			"type", env.Type,
			"from", identity.ShortSessionID(env.From),
			"error", err,
		)
	}
}

// SendRequest creates or refreshes an outgoing request for the peer and
// delivers it. On transport failure the entry is kept as failed so the
// user can retry; a pending entry never survives a synchronous failure.
func (c *Coordinator) SendRequest(ctx context.Context, peerID, phrase string) error {
	if err := identity.ValidateSessionID(peerID); err != nil {
		return fmt.Errorf("%w: peer: %v", ErrInvalidPayload, err)
	}
	if peerID == c.localID {
		return fmt.Errorf("%w: cannot request key exchange with self", ErrInvalidPayload)
	}
	if phrase == "" {
		return fmt.Errorf("%w: missing request phrase", ErrInvalidPayload)
	}

	lock := c.peerLock(peerID)
	lock.Lock()
	defer lock.Unlock()

	candidate := &Request{
		FromSessionID: c.localID,
		ToSessionID:   peerID,
		RequestPhrase: phrase,
		Status:        StatusPending,
		Timestamp:     time.Now().UnixMilli(),
		Version:       protocol.ProtocolVersion,
	}

	c.mu.Lock()
	outcome, err := c.guard.Resolve(c.sent, c.received, DirectionSent, candidate)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.upsertLocked(DirectionSent, outcome.Request, outcome.Replaced)
	snap := outcome.Request.Clone()
	c.mu.Unlock()

	c.persist(DirectionSent, snap)
	c.emit(ChangeUpserted, DirectionSent, snap)

	if err := c.deliverRequest(ctx, snap); err != nil {
		c.fail(DirectionSent, snap.ID, err)
		return err
	}

	snap, err = c.mutate(DirectionSent, snap.ID, func(r *Request) error {
		return Transition(r, StatusSent)
	})
	if err != nil {
		return err
	}
	c.persist(DirectionSent, snap)
	c.emit(ChangeUpserted, DirectionSent, snap)
	audit.LogExchangeRequested(peerID, snap.ID)
	return nil
}

// HandleIncomingRequest consumes a key_exchange:request event. The
// sender's inline keys are stored before the entry is created so a later
// accept can encrypt immediately.
func (c *Coordinator) HandleIncomingRequest(env *protocol.Envelope) error {
	var payload protocol.RequestPayload
	if err := env.ParsePayload(&payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := payload.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := c.verify(env); err != nil {
		return err
	}
	peer := payload.SenderID
	if env.From != "" && env.From != peer {
		return fmt.Errorf("%w: envelope sender does not match payload sender", ErrUnauthorized)
	}
	if peer == c.localID {
		return fmt.Errorf("%w: request from own identity", ErrInvalidPayload)
	}

	c.storePeerKeys(peer, payload.PublicKey, payload.MLDSAPublicKey)

	lock := c.peerLock(peer)
	lock.Lock()
	defer lock.Unlock()

	candidate := &Request{
		ID:            payload.RequestID,
		FromSessionID: peer,
		ToSessionID:   c.localID,
		RequestPhrase: payload.RequestPhrase,
		Status:        StatusReceived,
		Timestamp:     payload.Timestamp,
		PublicKey:     payload.PublicKey,
		Version:       payload.Version,
	}
	if candidate.Version == "" {
		candidate.Version = protocol.ProtocolVersion
	}
	if candidate.Timestamp == 0 {
		candidate.Timestamp = time.Now().UnixMilli()
	}

	c.mu.Lock()
	outcome, err := c.guard.Resolve(c.sent, c.received, DirectionReceived, candidate)
	if err != nil {
		c.mu.Unlock()
		slog.Info("Incoming request rejected",
			"peer", identity.ShortSessionID(peer),
			"error", err,
		)
		return err
	}
	c.upsertLocked(DirectionReceived, outcome.Request, outcome.Replaced)
	snap := outcome.Request.Clone()
	c.mu.Unlock()

	if outcome.Replaced != "" {
		c.persistRemove(DirectionReceived, outcome.Replaced)
	}
	c.persist(DirectionReceived, snap)
	c.emit(ChangeUpserted, DirectionReceived, snap)
	audit.LogExchangeReceived(peer, snap.ID)
	if c.notifier != nil && !outcome.Updated {
		c.notifier.RequestReceived(peer, snap.RequestPhrase)
	}
	return nil
}

// Accept answers an incoming request. The entry passes through processing
// while the accept round trip is outstanding; any failure reverts it to
// received so the user can try again.
func (c *Coordinator) Accept(ctx context.Context, id string) error {
	pre := c.snapshot(DirectionReceived, id)
	if pre == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	peer := pre.Peer(c.localID)

	lock := c.peerLock(peer)
	lock.Lock()
	defer lock.Unlock()

	snap, err := c.mutate(DirectionReceived, id, func(r *Request) error {
		return Transition(r, StatusProcessing)
	})
	if err != nil {
		return err
	}
	c.persist(DirectionReceived, snap)
	c.emit(ChangeUpserted, DirectionReceived, snap)

	payload, err := c.buildAccept(snap)
	if err != nil {
		c.revertProcessing(id)
		return err
	}
	if err := c.send(ctx, peer, protocol.EventAccept, payload); err != nil {
		c.revertProcessing(id)
		return err
	}

	snap, err = c.mutate(DirectionReceived, id, func(r *Request) error {
		return Transition(r, StatusAccepted)
	})
	if err != nil {
		return err
	}
	c.persist(DirectionReceived, snap)
	c.emit(ChangeUpserted, DirectionReceived, snap)
	c.purgeOthers(peer, id)
	audit.LogExchangeAccepted(peer, id)
	c.completeOrPoll(peer, OriginDirect)
	return nil
}

// Decline rejects an incoming request. Same processing guard and revert
// semantics as Accept.
func (c *Coordinator) Decline(ctx context.Context, id string) error {
	pre := c.snapshot(DirectionReceived, id)
	if pre == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	peer := pre.Peer(c.localID)

	lock := c.peerLock(peer)
	lock.Lock()
	defer lock.Unlock()

	snap, err := c.mutate(DirectionReceived, id, func(r *Request) error {
		return Transition(r, StatusProcessing)
	})
	if err != nil {
		return err
	}
	c.persist(DirectionReceived, snap)
	c.emit(ChangeUpserted, DirectionReceived, snap)

	payload := &protocol.DeclinePayload{
		RequestID:   id,
		SenderID:    c.localID,
		RecipientID: peer,
	}
	if err := c.send(ctx, peer, protocol.EventDecline, payload); err != nil {
		c.revertProcessing(id)
		return err
	}

	snap, err = c.mutate(DirectionReceived, id, func(r *Request) error {
		return Transition(r, StatusDeclined)
	})
	if err != nil {
		return err
	}
	c.persist(DirectionReceived, snap)
	c.emit(ChangeUpserted, DirectionReceived, snap)
	audit.LogExchangeDeclined(peer, id)
	return nil
}

// Revoke withdraws an outgoing request. The peer is notified best-effort;
// local removal happens regardless of the transport outcome.
func (c *Coordinator) Revoke(ctx context.Context, id string) error {
	pre := c.snapshot(DirectionSent, id)
	if pre == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	peer := pre.Peer(c.localID)

	lock := c.peerLock(peer)
	lock.Lock()
	defer lock.Unlock()

	snap, err := c.mutate(DirectionSent, id, func(r *Request) error {
		return Transition(r, StatusRevoked)
	})
	if err != nil {
		return err
	}

	payload := &protocol.RevokePayload{RequestID: id, RecipientID: peer}
	if err := c.send(ctx, peer, protocol.EventRevoke, payload); err != nil {
		slog.Warn("Revoke delivery failed", "id", id, "error", err)
	}

	c.remove(DirectionSent, id, snap)
	c.poller.Cancel(peer)
	audit.LogExchangeRevoked(peer, id)
	return nil
}

// Delete removes an incoming request that has not been decided yet.
// Withdrawing attention from a pending ask is allowed; undoing a
// recorded decision is not.
func (c *Coordinator) Delete(id string) error {
	pre := c.snapshot(DirectionReceived, id)
	if pre == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	peer := pre.Peer(c.localID)

	lock := c.peerLock(peer)
	lock.Lock()
	defer lock.Unlock()

	snap, err := c.mutate(DirectionReceived, id, func(r *Request) error {
		if r.Status.Terminal() {
			return fmt.Errorf("%w: %s is %s", ErrTerminalState, id, r.Status)
		}
		if r.Status != StatusReceived {
			return fmt.Errorf("cannot delete request %s while %s", id, r.Status)
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.remove(DirectionReceived, id, snap)
	c.poller.Cancel(peer)
	audit.LogExchangeRemoved(peer, id)
	return nil
}

// Retry re-sends a failed outgoing request under its original id.
func (c *Coordinator) Retry(ctx context.Context, id string) error {
	pre := c.snapshot(DirectionSent, id)
	if pre == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	peer := pre.Peer(c.localID)

	lock := c.peerLock(peer)
	lock.Lock()
	defer lock.Unlock()

	snap, err := c.mutate(DirectionSent, id, func(r *Request) error {
		if r.Status != StatusFailed {
			return fmt.Errorf("request %s is %s, only failed requests can be retried", id, r.Status)
		}
		r.Timestamp = time.Now().UnixMilli()
		return nil
	})
	if err != nil {
		return err
	}

	if err := c.deliverRequest(ctx, snap); err != nil {
		c.persist(DirectionSent, snap)
		return err
	}

	snap, err = c.mutate(DirectionSent, id, func(r *Request) error {
		return Transition(r, StatusSent)
	})
	if err != nil {
		return err
	}
	c.persist(DirectionSent, snap)
	c.emit(ChangeUpserted, DirectionSent, snap)
	audit.LogExchangeRetried(peer, id)
	return nil
}

// HandlePeerAccepted consumes a key_exchange:accept event in either
// historical shape and drives the sender-side accepted transition.
func (c *Coordinator) HandlePeerAccepted(env *protocol.Envelope) error {
	payload, err := protocol.NormalizeAccept(env.Payload, env.From)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := c.verify(env); err != nil {
		return err
	}
	peer := payload.SenderID

	lock := c.peerLock(peer)
	lock.Lock()
	defer lock.Unlock()

	req := c.findWithReload(DirectionSent, payload.RequestID)
	if req == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, payload.RequestID)
	}
	if req.Peer(c.localID) != peer {
		return fmt.Errorf("%w: accept for %s from %s", ErrUnauthorized, payload.RequestID, identity.ShortSessionID(peer))
	}

	c.storePeerKeys(peer, payload.PublicKey, payload.MLDSAPublicKey)

	snap, err := c.mutate(DirectionSent, payload.RequestID, func(r *Request) error {
		if payload.PublicKey != "" {
			r.PublicKey = payload.PublicKey
		}
		return Transition(r, StatusAccepted)
	})
	if err != nil {
		return err
	}
	c.persist(DirectionSent, snap)
	c.emit(ChangeUpserted, DirectionSent, snap)
	c.purgeOthers(peer, snap.ID)
	audit.LogExchangeAccepted(peer, snap.ID)
	if c.notifier != nil {
		c.notifier.RequestAccepted(peer)
	}

	if len(payload.EncryptedUserData) > 0 {
		c.applyProfileData(peer, payload.EncryptedUserData)
	}
	c.completeOrPoll(peer, OriginDirect)
	return nil
}

// HandlePeerDeclined consumes a key_exchange:decline event.
func (c *Coordinator) HandlePeerDeclined(env *protocol.Envelope) error {
	var payload protocol.DeclinePayload
	if err := env.ParsePayload(&payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := payload.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := c.verify(env); err != nil {
		return err
	}
	peer := payload.SenderID

	lock := c.peerLock(peer)
	lock.Lock()
	defer lock.Unlock()

	req := c.findWithReload(DirectionSent, payload.RequestID)
	if req == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, payload.RequestID)
	}
	if req.Peer(c.localID) != peer {
		return fmt.Errorf("%w: decline for %s from %s", ErrUnauthorized, payload.RequestID, identity.ShortSessionID(peer))
	}

	snap, err := c.mutate(DirectionSent, payload.RequestID, func(r *Request) error {
		return Transition(r, StatusDeclined)
	})
	if err != nil {
		return err
	}
	c.persist(DirectionSent, snap)
	c.emit(ChangeUpserted, DirectionSent, snap)
	audit.LogExchangeDeclined(peer, snap.ID)
	if c.notifier != nil {
		c.notifier.RequestDeclined(peer)
	}
	if payload.Reason != "" {
		slog.Info("Request declined by peer", "id", snap.ID, "reason", payload.Reason)
	}
	return nil
}

// HandlePeerRevoked consumes a key_exchange:revoke event. The received
// entry is removed entirely; decided entries survive a late revoke.
func (c *Coordinator) HandlePeerRevoked(env *protocol.Envelope) error {
	var payload protocol.RevokePayload
	if err := env.ParsePayload(&payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := payload.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := c.verify(env); err != nil {
		return err
	}
	peer := env.From
	if peer == "" {
		return fmt.Errorf("%w: missing sender", ErrInvalidPayload)
	}

	lock := c.peerLock(peer)
	lock.Lock()
	defer lock.Unlock()

	req := c.findWithReload(DirectionReceived, payload.RequestID)
	if req == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, payload.RequestID)
	}
	if req.FromSessionID != peer {
		return fmt.Errorf("%w: revoke for %s from %s", ErrUnauthorized, payload.RequestID, identity.ShortSessionID(peer))
	}

	snap, err := c.mutate(DirectionReceived, payload.RequestID, func(r *Request) error {
		return Transition(r, StatusRevoked)
	})
	if err != nil {
		return err
	}

	c.remove(DirectionReceived, payload.RequestID, snap)
	c.poller.Cancel(peer)
	audit.LogExchangeRevoked(peer, payload.RequestID)
	if c.notifier != nil {
		c.notifier.RequestRevoked(peer)
	}
	return nil
}

// HandleTransportError consumes a key_exchange:error event. These carry
// no sender signature; the only state change they can cause is moving an
// undecided outgoing request to failed.
func (c *Coordinator) HandleTransportError(env *protocol.Envelope) error {
	var payload protocol.ErrorPayload
	if err := env.ParsePayload(&payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := payload.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	slog.Warn("Key exchange error event", "code", payload.ErrorCode, "id", payload.RequestID)
	if payload.RequestID == "" {
		return nil
	}

	pre := c.snapshot(DirectionSent, payload.RequestID)
	if pre == nil {
		return nil
	}
	peer := pre.Peer(c.localID)

	lock := c.peerLock(peer)
	lock.Lock()
	defer lock.Unlock()

	snap, err := c.mutate(DirectionSent, payload.RequestID, func(r *Request) error {
		if r.Status != StatusPending && r.Status != StatusSent {
			return errStaleEvent
		}
		return Transition(r, StatusFailed)
	})
	if err != nil {
		if errors.Is(err, errStaleEvent) {
			return nil
		}
		return err
	}
	c.persist(DirectionSent, snap)
	c.emit(ChangeUpserted, DirectionSent, snap)
	audit.LogExchangeFailed(peer, snap.ID, errors.New(payload.ErrorCode))
	return nil
}

// errStaleEvent marks an event that arrived after the request moved on.
var errStaleEvent = errors.New("stale event")

// HandlePeerProfile consumes a key_exchange:profile event and updates
// the peer's cached display name.
func (c *Coordinator) HandlePeerProfile(env *protocol.Envelope) error {
	var payload protocol.ProfilePayload
	if err := env.ParsePayload(&payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := payload.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := c.verify(env); err != nil {
		return err
	}

	c.applyProfileData(env.From, payload.Ciphertext)
	return nil
}

// SetDisplayName updates the cached display name on every entry for the
// peer, independent of status.
func (c *Coordinator) SetDisplayName(peerID, name string) {
	type change struct {
		dir Direction
		req *Request
	}
	var changes []change

	c.mu.Lock()
	for _, r := range c.sent {
		if r.Peer(c.localID) == peerID && r.DisplayName != name {
			r.DisplayName = name
			changes = append(changes, change{DirectionSent, r.Clone()})
		}
	}
	for _, r := range c.received {
		if r.Peer(c.localID) == peerID && r.DisplayName != name {
			r.DisplayName = name
			changes = append(changes, change{DirectionReceived, r.Clone()})
		}
	}
	c.mu.Unlock()

	for _, ch := range changes {
		c.persist(ch.dir, ch.req)
		c.emit(ChangeUpserted, ch.dir, ch.req)
	}
	if len(changes) > 0 {
		audit.Info(audit.ActionPeerNamed, "peer display name updated", "peer", peerID)
	}
}

// ResumeCompletion restarts completion polling for accepted exchanges
// whose peer key has not arrived yet. Meant for startup and reconnect,
// where the trigger is a notification rather than a direct accept, so
// the slower backoff schedule applies. Returns the number of peers
// scheduled.
func (c *Coordinator) ResumeCompletion() int {
	c.mu.RLock()
	seen := make(map[string]bool)
	var candidates []string
	for _, list := range [][]*Request{c.sent, c.received} {
		for _, r := range list {
			if r.Status != StatusAccepted {
				continue
			}
			peer := r.Peer(c.localID)
			if !seen[peer] {
				seen[peer] = true
				candidates = append(candidates, peer)
			}
		}
	}
	c.mu.RUnlock()

	scheduled := 0
	for _, peer := range candidates {
		if c.keys.Has(peer) {
			continue
		}
		c.poller.Schedule(peer, OriginNotification)
		scheduled++
	}
	return scheduled
}

// Reload folds entries persisted by another writer of the same store
// into memory and returns how many were new. Nothing is announced;
// callers that need client visibility follow up with a list.
func (c *Coordinator) Reload() int {
	sent, received := c.store.Load()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mergeLocked(DirectionSent, sent) + c.mergeLocked(DirectionReceived, received)
}

// Sent returns a snapshot of outgoing requests, newest first.
func (c *Coordinator) Sent() []*Request {
	return c.snapshotList(DirectionSent)
}

// Received returns a snapshot of incoming requests, newest first.
func (c *Coordinator) Received() []*Request {
	return c.snapshotList(DirectionReceived)
}

// PollerStats returns lifetime completion polling counters.
func (c *Coordinator) PollerStats() PollerStats {
	return c.poller.Stats()
}

// SetListener registers an observer for request list changes.
func (c *Coordinator) SetListener(fn Listener) {
	c.mu.Lock()
	c.listener = fn
	c.mu.Unlock()
}

// Close cancels all completion polling.
func (c *Coordinator) Close() {
	c.poller.Close()
}

// --- internals ---

func (c *Coordinator) peerLock(peer string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.peerLocks[peer]
	if !ok {
		l = &sync.Mutex{}
		c.peerLocks[peer] = l
	}
	return l
}

func (c *Coordinator) listLocked(dir Direction) *[]*Request {
	if dir == DirectionSent {
		return &c.sent
	}
	return &c.received
}

func (c *Coordinator) findLocked(dir Direction, id string) *Request {
	for _, r := range *c.listLocked(dir) {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (c *Coordinator) upsertLocked(dir Direction, req *Request, replaced string) {
	if replaced != "" {
		c.removeFromListLocked(dir, replaced)
	}
	list := c.listLocked(dir)
	for i, existing := range *list {
		if existing.ID == req.ID {
			(*list)[i] = req
			return
		}
	}
	*list = append(*list, req)
}

func (c *Coordinator) removeFromListLocked(dir Direction, id string) bool {
	list := c.listLocked(dir)
	for i, existing := range *list {
		if existing.ID == id {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return true
		}
	}
	return false
}

// snapshot returns a copy of the entry, or nil.
func (c *Coordinator) snapshot(dir Direction, id string) *Request {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if req := c.findLocked(dir, id); req != nil {
		return req.Clone()
	}
	return nil
}

func (c *Coordinator) snapshotList(dir Direction) []*Request {
	c.mu.RLock()
	defer c.mu.RUnlock()
	src := *c.listLocked(dir)
	out := make([]*Request, 0, len(src))
	for _, r := range src {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp > out[j].Timestamp
	})
	return out
}

// mutate applies fn to the entry under the list lock and returns a
// snapshot of the result. fn must not block.
func (c *Coordinator) mutate(dir Direction, id string, fn func(r *Request) error) (*Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req := c.findLocked(dir, id)
	if req == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := fn(req); err != nil {
		return nil, err
	}
	return req.Clone(), nil
}

// findWithReload returns a snapshot of the entry, reloading from storage
// once when it is missing. Covers the race where another process
// persisted the entry but this one has not observed it yet.
func (c *Coordinator) findWithReload(dir Direction, id string) *Request {
	if snap := c.snapshot(dir, id); snap != nil {
		return snap
	}

	sent, received := c.store.Load()
	stored := sent
	if dir == DirectionReceived {
		stored = received
	}

	c.mu.Lock()
	c.mergeLocked(dir, stored)
	var snap *Request
	if req := c.findLocked(dir, id); req != nil {
		snap = req.Clone()
	}
	c.mu.Unlock()

	if snap == nil {
		slog.Debug("Request not found after store reload", "id", id)
	}
	return snap
}

// mergeLocked folds stored entries unknown to memory into the partition
// list. Existing ids win over their stored copy.
func (c *Coordinator) mergeLocked(dir Direction, stored []*Request) int {
	list := c.listLocked(dir)
	known := make(map[string]bool, len(*list))
	for _, r := range *list {
		known[r.ID] = true
	}
	added := 0
	for _, r := range stored {
		if !known[r.ID] {
			*list = append(*list, r)
			added++
		}
	}
	return added
}

// persist writes the entry through to storage. Failures are logged and
// swallowed: memory stays authoritative for this run.
func (c *Coordinator) persist(dir Direction, req *Request) {
	if err := c.store.Upsert(dir, req); err != nil {
		slog.Warn("Request persistence failed", "id", req.ID, "error", err)
	}
}

func (c *Coordinator) persistRemove(dir Direction, id string) {
	if err := c.store.Remove(dir, id); err != nil {
		slog.Warn("Request removal persistence failed", "id", id, "error", err)
	}
}

func (c *Coordinator) remove(dir Direction, id string, snap *Request) {
	c.mu.Lock()
	c.removeFromListLocked(dir, id)
	c.mu.Unlock()
	c.persistRemove(dir, id)
	c.emit(ChangeRemoved, dir, snap)
}

func (c *Coordinator) emit(kind ChangeKind, dir Direction, req *Request) {
	c.mu.RLock()
	fn := c.listener
	c.mu.RUnlock()
	if fn != nil {
		fn(kind, dir, req)
	}
}

// fail marks the entry failed after a delivery error.
func (c *Coordinator) fail(dir Direction, id string, cause error) {
	snap, err := c.mutate(dir, id, func(r *Request) error {
		return Transition(r, StatusFailed)
	})
	if err != nil {
		slog.Warn("Could not mark request failed", "id", id, "error", err)
		return
	}
	c.persist(dir, snap)
	c.emit(ChangeUpserted, dir, snap)
	audit.LogExchangeFailed(snap.Peer(c.localID), id, cause)
}

// revertProcessing returns an entry to received after a failed accept or
// decline round trip. A processing entry must never outlive its failure.
func (c *Coordinator) revertProcessing(id string) {
	snap, err := c.mutate(DirectionReceived, id, func(r *Request) error {
		return Transition(r, StatusReceived)
	})
	if err != nil {
		slog.Warn("Processing revert failed", "id", id, "error", err)
		return
	}
	c.persist(DirectionReceived, snap)
	c.emit(ChangeUpserted, DirectionReceived, snap)
}

// purgeOthers removes every other active entry for the peer in both
// directions once an exchange completes.
func (c *Coordinator) purgeOthers(peer, keepID string) {
	type removal struct {
		dir Direction
		req *Request
	}
	var removals []removal

	c.mu.Lock()
	sentIDs, receivedIDs := c.guard.PurgeTargets(c.sent, c.received, peer, keepID)
	for _, id := range sentIDs {
		if req := c.findLocked(DirectionSent, id); req != nil {
			removals = append(removals, removal{DirectionSent, req.Clone()})
			c.removeFromListLocked(DirectionSent, id)
		}
	}
	for _, id := range receivedIDs {
		if req := c.findLocked(DirectionReceived, id); req != nil {
			removals = append(removals, removal{DirectionReceived, req.Clone()})
			c.removeFromListLocked(DirectionReceived, id)
		}
	}
	c.mu.Unlock()

	for _, rm := range removals {
		c.persistRemove(rm.dir, rm.req.ID)
		c.emit(ChangeRemoved, rm.dir, rm.req)
	}
}

// verify checks the envelope signature. Hybrid signatures are fully
// verified once the peer's ML-DSA key is on file; before that, the
// classical component carries the trust.
func (c *Coordinator) verify(env *protocol.Envelope) error {
	if err := env.Verify(c.keys.MLDSAKey(env.From)); err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return nil
}

func (c *Coordinator) storePeerKeys(peer, encryptionKey string, mldsaKey []byte) {
	if encryptionKey != "" {
		if err := c.keys.Store(peer, encryptionKey); err != nil {
			slog.Warn("Peer key store failed", "peer", identity.ShortSessionID(peer), "error", err)
		} else {
			audit.LogPeerKeyStored(peer)
		}
	}
	if len(mldsaKey) > 0 {
		if err := c.keys.StoreMLDSA(peer, mldsaKey); err != nil {
			slog.Warn("Peer ML-DSA key store failed", "peer", identity.ShortSessionID(peer), "error", err)
		}
	}
}

// send wraps, signs and delivers an event to the peer.
func (c *Coordinator) send(ctx context.Context, peer string, eventType protocol.EventType, payload interface{}) error {
	env, err := protocol.NewEnvelope(eventType, c.localID, payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := env.Sign(c.local.HybridSigner()); err != nil {
		return fmt.Errorf("sign %s: %w", eventType, err)
	}
	if err := c.transport.Send(ctx, peer, env); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	return nil
}

func (c *Coordinator) deliverRequest(ctx context.Context, req *Request) error {
	payload := &protocol.RequestPayload{
		RequestID:      req.ID,
		SenderID:       c.localID,
		RequestPhrase:  req.RequestPhrase,
		PublicKey:      crypto.EncodeX25519Key(c.local.EncryptionPublicKey()),
		MLDSAPublicKey: c.local.MLDSAPublicKey(),
		Version:        req.Version,
		Timestamp:      req.Timestamp,
	}
	return c.send(ctx, req.Peer(c.localID), protocol.EventRequest, payload)
}

func (c *Coordinator) buildAccept(req *Request) (*protocol.AcceptPayload, error) {
	peer := req.Peer(c.localID)
	payload := &protocol.AcceptPayload{
		RequestID:      req.ID,
		SenderID:       c.localID,
		RecipientID:    peer,
		PublicKey:      crypto.EncodeX25519Key(c.local.EncryptionPublicKey()),
		MLDSAPublicKey: c.local.MLDSAPublicKey(),
		Timestamp:      time.Now().UnixMilli(),
	}
	if c.keys.Has(peer) {
		data, err := c.encryptProfile(peer)
		if err != nil {
			return nil, err
		}
		payload.EncryptedUserData = data
	}
	return payload, nil
}

func (c *Coordinator) encryptProfile(peer string) ([]byte, error) {
	profile := protocol.Profile{DisplayName: c.local.DisplayName}
	plaintext, err := json.Marshal(profile)
	if err != nil {
		return nil, fmt.Errorf("%w: encode profile: %v", ErrEncryptionFailure, err)
	}
	ciphertext, err := c.keys.Encrypt(peer, plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailure, err)
	}
	return ciphertext, nil
}

func (c *Coordinator) applyProfileData(peer string, ciphertext []byte) {
	plaintext, err := c.keys.Decrypt(peer, ciphertext)
	if err != nil {
		slog.Warn("Profile decrypt failed", "peer", identity.ShortSessionID(peer), "error", err)
		return
	}
	var profile protocol.Profile
	if err := json.Unmarshal(plaintext, &profile); err != nil {
		slog.Warn("Profile decode failed", "peer", identity.ShortSessionID(peer), "error", err)
		return
	}
	if profile.DisplayName != "" {
		c.SetDisplayName(peer, profile.DisplayName)
	}
	audit.LogProfileReceived(peer)
}

// completeOrPoll finishes the exchange immediately when the peer key is
// already on file, otherwise starts the completion poller.
func (c *Coordinator) completeOrPoll(peer string, origin PollOrigin) {
	if c.keys.Has(peer) {
		go c.completeExchange(peer)
		return
	}
	c.poller.Schedule(peer, origin)
}

// completeExchange sends the encrypted profile once the peer's key is
// available. Fire and forget: the exchange itself is already complete,
// so failures are only logged.
func (c *Coordinator) completeExchange(peer string) {
	if c.notifier != nil {
		c.notifier.KeyReady(peer)
	}

	ciphertext, err := c.encryptProfile(peer)
	if err != nil {
		slog.Warn("Profile encryption failed", "peer", identity.ShortSessionID(peer), "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), profileSendTimeout)
	defer cancel()
	if err := c.send(ctx, peer, protocol.EventProfile, &protocol.ProfilePayload{Ciphertext: ciphertext}); err != nil {
		slog.Warn("Profile send failed", "peer", identity.ShortSessionID(peer), "error", err)
		return
	}
	audit.LogProfileSent(peer)
}

// reportExhausted logs the in-memory state for the peer when polling
// gives up. The exchange may still complete later via other events.
func (c *Coordinator) reportExhausted(peer string) {
	c.mu.RLock()
	var states []string
	for _, r := range c.sent {
		if r.Peer(c.localID) == peer {
			states = append(states, fmt.Sprintf("sent/%s=%s", r.ID, r.Status))
		}
	}
	for _, r := range c.received {
		if r.Peer(c.localID) == peer {
			states = append(states, fmt.Sprintf("received/%s=%s", r.ID, r.Status))
		}
	}
	c.mu.RUnlock()

	slog.Warn("Exchange completion never observed",
		"peer", identity.ShortSessionID(peer),
		"entries", strings.Join(states, " "),
	)
}
