package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"kxctl.dev/go/kxctl/internal/protocol"
)

func TestBridgeSendRecordsMetrics(t *testing.T) {
	local, remote := protocol.NewLoopbackPair("alice", "bob")
	metrics := NewMetrics()
	bridge := NewBridge(local, NewRateLimiter(permissiveConfig()), metrics)

	var got *protocol.Envelope
	remote.SetHandler(func(env *protocol.Envelope) {
		got = env
	})

	payload := json.RawMessage(`{"phrase":"blue-falcon-42"}`)
	env := &protocol.Envelope{
		Type:    protocol.EventRequest,
		From:    "alice",
		Payload: payload,
	}

	if err := bridge.Send(context.Background(), "bob", env); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if got == nil {
		t.Fatal("envelope not delivered")
	}
	if metrics.EventsSent.Load() != 1 {
		t.Errorf("EventsSent: got %d, want 1", metrics.EventsSent.Load())
	}
	if metrics.BytesSent.Load() != int64(len(payload)) {
		t.Errorf("BytesSent: got %d, want %d", metrics.BytesSent.Load(), len(payload))
	}
}

func TestBridgeSendFailureNotRecorded(t *testing.T) {
	local, _ := protocol.NewLoopbackPair("alice", "bob")
	metrics := NewMetrics()
	bridge := NewBridge(local, NewRateLimiter(permissiveConfig()), metrics)

	local.SetConnected(false)

	env := &protocol.Envelope{Type: protocol.EventRequest, From: "alice"}
	err := bridge.Send(context.Background(), "bob", env)
	if !errors.Is(err, protocol.ErrNotConnected) {
		t.Fatalf("Send: got %v, want ErrNotConnected", err)
	}

	if metrics.EventsSent.Load() != 0 {
		t.Errorf("EventsSent: got %d, want 0", metrics.EventsSent.Load())
	}
}

func TestBridgeInboundPassesAllowedEvents(t *testing.T) {
	local, remote := protocol.NewLoopbackPair("alice", "bob")
	metrics := NewMetrics()
	bridge := NewBridge(local, NewRateLimiter(permissiveConfig()), metrics)

	var got *protocol.Envelope
	bridge.SetHandler(func(env *protocol.Envelope) {
		got = env
	})

	payload := json.RawMessage(`{"phrase":"green-otter-7"}`)
	env := &protocol.Envelope{
		Type:    protocol.EventRequest,
		From:    "bob",
		Payload: payload,
	}
	if err := remote.Send(context.Background(), "alice", env); err != nil {
		t.Fatalf("remote Send failed: %v", err)
	}

	if got == nil {
		t.Fatal("handler not called")
	}
	if metrics.EventsReceived.Load() != 1 {
		t.Errorf("EventsReceived: got %d, want 1", metrics.EventsReceived.Load())
	}
	if metrics.BytesReceived.Load() != int64(len(payload)) {
		t.Errorf("BytesReceived: got %d, want %d", metrics.BytesReceived.Load(), len(payload))
	}
	if metrics.EventsDropped.Load() != 0 {
		t.Errorf("EventsDropped: got %d, want 0", metrics.EventsDropped.Load())
	}
}

func TestBridgeInboundDropsOverLimit(t *testing.T) {
	local, remote := protocol.NewLoopbackPair("alice", "bob")
	metrics := NewMetrics()

	cfg := permissiveConfig()
	cfg.TypeSizeLimits[protocol.EventRequest] = 10
	bridge := NewBridge(local, NewRateLimiter(cfg), metrics)

	called := false
	bridge.SetHandler(func(env *protocol.Envelope) {
		called = true
	})

	env := &protocol.Envelope{
		Type:    protocol.EventRequest,
		From:    "bob",
		Payload: json.RawMessage(`{"phrase":"way past the ten byte size cap"}`),
	}
	if err := remote.Send(context.Background(), "alice", env); err != nil {
		t.Fatalf("remote Send failed: %v", err)
	}

	if called {
		t.Error("handler should not see dropped events")
	}
	if metrics.EventsDropped.Load() != 1 {
		t.Errorf("EventsDropped: got %d, want 1", metrics.EventsDropped.Load())
	}
	if metrics.EventsReceived.Load() != 0 {
		t.Errorf("EventsReceived: got %d, want 0", metrics.EventsReceived.Load())
	}
}

func TestBridgeConnectedPassthrough(t *testing.T) {
	local, _ := protocol.NewLoopbackPair("alice", "bob")
	bridge := NewBridge(local, NewRateLimiter(nil), NewMetrics())

	if !bridge.Connected() {
		t.Error("bridge should report connected")
	}

	local.SetConnected(false)
	if bridge.Connected() {
		t.Error("bridge should report disconnected")
	}

	if err := bridge.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
