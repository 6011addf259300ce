package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotConnected is returned by Send when the transport has no link to
// the peer network.
var ErrNotConnected = errors.New("transport not connected")

// Transport delivers signed envelopes to peers and hands inbound ones
// to the registered handler. Send must be safe for concurrent use.
type Transport interface {
	// Send delivers an envelope to the named peer
	Send(ctx context.Context, peer string, env *Envelope) error

	// SetHandler registers the sink for inbound envelopes
	SetHandler(func(env *Envelope))

	// Connected reports whether sends can currently succeed
	Connected() bool

	// Close shuts the transport down
	Close() error
}

// NullTransport is permanently disconnected. It is the daemon default
// until a real network transport is configured; every send surfaces
// ErrNotConnected and state reverts accordingly.
type NullTransport struct{}

// NewNullTransport creates a transport that never connects.
func NewNullTransport() *NullTransport {
	return &NullTransport{}
}

// Send always fails with ErrNotConnected.
func (t *NullTransport) Send(ctx context.Context, peer string, env *Envelope) error {
	return ErrNotConnected
}

// SetHandler is a no-op; nothing ever arrives.
func (t *NullTransport) SetHandler(func(env *Envelope)) {}

// Connected always reports false.
func (t *NullTransport) Connected() bool { return false }

// Close is a no-op.
func (t *NullTransport) Close() error { return nil }

// LoopbackEndpoint is one side of an in-process transport pair. Tests
// wire two of them together to exercise full request round trips
// without a network.
type LoopbackEndpoint struct {
	id string

	mu        sync.Mutex
	peer      *LoopbackEndpoint
	handler   func(env *Envelope)
	connected bool
	closed    bool
}

// NewLoopbackPair creates two connected endpoints. Envelopes sent from
// one are delivered synchronously to the other's handler.
func NewLoopbackPair(idA, idB string) (*LoopbackEndpoint, *LoopbackEndpoint) {
	a := &LoopbackEndpoint{id: idA, connected: true}
	b := &LoopbackEndpoint{id: idB, connected: true}
	a.peer = b
	b.peer = a
	return a, b
}

// Send delivers the envelope to the paired endpoint. The peer argument
// must name the other side.
func (e *LoopbackEndpoint) Send(ctx context.Context, peer string, env *Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	if e.closed || !e.connected {
		e.mu.Unlock()
		return ErrNotConnected
	}
	other := e.peer
	e.mu.Unlock()

	if peer != other.id {
		return fmt.Errorf("unknown peer %s", peer)
	}

	other.mu.Lock()
	handler := other.handler
	closed := other.closed
	other.mu.Unlock()

	if closed {
		return ErrNotConnected
	}
	if handler != nil {
		handler(env)
	}
	return nil
}

// SetHandler registers the sink for inbound envelopes.
func (e *LoopbackEndpoint) SetHandler(h func(env *Envelope)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = h
}

// SetConnected toggles the simulated link state. While disconnected,
// Send fails with ErrNotConnected.
func (e *LoopbackEndpoint) SetConnected(ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = ok
}

// Connected reports the simulated link state.
func (e *LoopbackEndpoint) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected && !e.closed
}

// Close tears the endpoint down.
func (e *LoopbackEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
