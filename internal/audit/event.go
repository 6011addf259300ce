// Package audit records the security-relevant actions of the daemon
// and CLI in an append-only JSONL trail.
package audit

import (
	"strings"
	"time"
)

// Event is one audit log line. The JSON field names are the on-disk
// contract; existing logs must keep parsing.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Level     string         `json:"level"`
	Category  string         `json:"category"`
	Action    string         `json:"action"`
	Message   string         `json:"msg"`
	Actor     string         `json:"actor,omitempty"`   // session ID of who did it
	Peer      string         `json:"peer,omitempty"`    // counterpart session ID
	Request   string         `json:"request,omitempty"` // key exchange request ID
	Details   map[string]any `json:"details,omitempty"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
}

const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// Actions use category.verb form; the prefix doubles as the category.
const (
	ActionIdentityCreated   = "identity.created"
	ActionIdentityRecovered = "identity.recovered"
	ActionIdentityDeleted   = "identity.deleted"

	ActionExchangeRequested = "exchange.requested"
	ActionExchangeReceived  = "exchange.received"
	ActionExchangeAccepted  = "exchange.accepted"
	ActionExchangeDeclined  = "exchange.declined"
	ActionExchangeRevoked   = "exchange.revoked"
	ActionExchangeFailed    = "exchange.failed"
	ActionExchangeRetried   = "exchange.retried"
	ActionExchangeRemoved   = "exchange.removed"
	ActionExchangeMigrated  = "exchange.migrated"

	ActionPeerKeyStored = "peer.key_stored"
	ActionPeerNamed     = "peer.named"

	ActionProfileSent     = "profile.sent"
	ActionProfileReceived = "profile.received"

	ActionDaemonStarted = "daemon.started"
	ActionDaemonStopped = "daemon.stopped"
	ActionDaemonError   = "daemon.error"
)

const (
	CategoryIdentity = "identity"
	CategoryExchange = "exchange"
	CategoryPeer     = "peer"
	CategoryProfile  = "profile"
	CategoryDaemon   = "daemon"
)

// AllCategories lists the valid --category filter values.
func AllCategories() []string {
	return []string{
		CategoryIdentity,
		CategoryExchange,
		CategoryPeer,
		CategoryProfile,
		CategoryDaemon,
	}
}

// categoryOf derives the category from an action's dotted prefix.
func categoryOf(action string) string {
	if idx := strings.Index(action, "."); idx > 0 {
		return action[:idx]
	}
	return ""
}
