package daemon

import (
	"fmt"
	"sync"

	"golang.org/x/time/rate"
	"kxctl.dev/go/kxctl/internal/protocol"
)

// RateLimitConfig defines rate limits for inbound exchange events
type RateLimitConfig struct {
	// Per-peer limits
	PeerEventsPerSecond float64 // Overall events per second per peer
	PeerBurst           int     // Burst allowance per peer

	// Per-event-type limits (events per minute)
	TypeLimits map[protocol.EventType]TypeLimit

	// Global limits
	GlobalEventsPerSecond float64
	GlobalBurst           int

	// Payload size limits per event type (bytes)
	TypeSizeLimits map[protocol.EventType]int
}

// TypeLimit defines the rate limit for a specific event type
type TypeLimit struct {
	PerMinute int // Max events of this type per minute
	Burst     int // Burst allowance
}

// DefaultRateLimitConfig returns sensible defaults
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		// Per-peer: 10 events/sec with burst of 20. Key exchange is a
		// human-paced protocol; anything faster is a misbehaving peer.
		PeerEventsPerSecond: 10,
		PeerBurst:           20,

		// Per-type limits (per minute)
		TypeLimits: map[protocol.EventType]TypeLimit{
			// A peer has no business re-requesting more than a few
			// times a minute.
			protocol.EventRequest: {PerMinute: 6, Burst: 3},

			// One response per outstanding request.
			protocol.EventAccept:  {PerMinute: 10, Burst: 3},
			protocol.EventDecline: {PerMinute: 10, Burst: 3},
			protocol.EventRevoke:  {PerMinute: 10, Burst: 3},

			// Server error events can cluster on reconnect.
			protocol.EventError: {PerMinute: 30, Burst: 10},

			// Profile data follows each completed exchange.
			protocol.EventProfile: {PerMinute: 10, Burst: 3},
		},

		// Global: 100 events/sec across all peers
		GlobalEventsPerSecond: 100,
		GlobalBurst:           200,

		// Payload size limits per type (bytes)
		TypeSizeLimits: map[protocol.EventType]int{
			protocol.EventRequest: 16 * 1024, // 16 KB (phrase + keys)
			protocol.EventAccept:  64 * 1024, // 64 KB (keys + encrypted profile)
			protocol.EventDecline: 4096,      // 4 KB
			protocol.EventRevoke:  4096,      // 4 KB
			protocol.EventError:   4096,      // 4 KB
			protocol.EventProfile: 64 * 1024, // 64 KB (encrypted profile)
		},
	}
}

// RateLimiter manages rate limiting for inbound transport events
type RateLimiter struct {
	config *RateLimitConfig

	// Global limiter
	globalLimiter *rate.Limiter

	// Per-peer limiters
	peerLimiters sync.Map // session ID -> *rate.Limiter

	// Per-peer per-type limiters
	peerTypeLimiters sync.Map // "sessionID:type" -> *rate.Limiter

	// Metrics
	mu            sync.RWMutex
	dropped       map[string]int64 // session ID -> count
	droppedByType map[protocol.EventType]int64
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}

	return &RateLimiter{
		config:        config,
		globalLimiter: rate.NewLimiter(rate.Limit(config.GlobalEventsPerSecond), config.GlobalBurst),
		dropped:       make(map[string]int64),
		droppedByType: make(map[protocol.EventType]int64),
	}
}

// Allow checks if an event should be allowed through
func (rl *RateLimiter) Allow(peer string, eventType protocol.EventType, payloadSize int) error {
	// Check 1: Payload size limit
	if err := rl.checkSizeLimit(eventType, payloadSize); err != nil {
		rl.recordDrop(peer, eventType)
		return err
	}

	// Check 2: Global rate limit
	if !rl.globalLimiter.Allow() {
		rl.recordDrop(peer, eventType)
		return fmt.Errorf("global rate limit exceeded")
	}

	// Check 3: Per-peer rate limit
	peerLimiter := rl.getPeerLimiter(peer)
	if !peerLimiter.Allow() {
		rl.recordDrop(peer, eventType)
		return fmt.Errorf("peer rate limit exceeded")
	}

	// Check 4: Per-type rate limit
	typeLimiter := rl.getTypeLimiter(peer, eventType)
	if typeLimiter != nil && !typeLimiter.Allow() {
		rl.recordDrop(peer, eventType)
		return fmt.Errorf("event type %s rate limit exceeded", eventType)
	}

	return nil
}

// checkSizeLimit verifies payload size is within limits
func (rl *RateLimiter) checkSizeLimit(eventType protocol.EventType, size int) error {
	limit, exists := rl.config.TypeSizeLimits[eventType]
	if !exists {
		// Default to 64KB for unknown types
		limit = 64 * 1024
	}

	if size > limit {
		return fmt.Errorf("payload size %d exceeds limit %d for type %s", size, limit, eventType)
	}

	return nil
}

// getPeerLimiter returns the rate limiter for a specific peer
func (rl *RateLimiter) getPeerLimiter(peer string) *rate.Limiter {
	if limiter, ok := rl.peerLimiters.Load(peer); ok {
		return limiter.(*rate.Limiter)
	}

	limiter := rate.NewLimiter(
		rate.Limit(rl.config.PeerEventsPerSecond),
		rl.config.PeerBurst,
	)

	rl.peerLimiters.Store(peer, limiter)
	return limiter
}

// getTypeLimiter returns the rate limiter for a specific peer and event type
func (rl *RateLimiter) getTypeLimiter(peer string, eventType protocol.EventType) *rate.Limiter {
	key := fmt.Sprintf("%s:%s", peer, eventType)

	if limiter, ok := rl.peerTypeLimiters.Load(key); ok {
		return limiter.(*rate.Limiter)
	}

	typeLimit, exists := rl.config.TypeLimits[eventType]
	if !exists {
		return nil // No type-specific limit
	}

	// Convert per-minute to per-second
	perSecond := float64(typeLimit.PerMinute) / 60.0
	limiter := rate.NewLimiter(rate.Limit(perSecond), typeLimit.Burst)

	rl.peerTypeLimiters.Store(key, limiter)
	return limiter
}

// recordDrop records a dropped event for metrics
func (rl *RateLimiter) recordDrop(peer string, eventType protocol.EventType) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.dropped[peer]++
	rl.droppedByType[eventType]++
}

// RemovePeer cleans up limiters for a peer
func (rl *RateLimiter) RemovePeer(peer string) {
	rl.peerLimiters.Delete(peer)

	// Remove all type limiters for this peer
	for eventType := range rl.config.TypeLimits {
		key := fmt.Sprintf("%s:%s", peer, eventType)
		rl.peerTypeLimiters.Delete(key)
	}
}

// Stats returns rate limiting statistics
func (rl *RateLimiter) Stats() RateLimitStats {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	stats := RateLimitStats{
		DroppedByPeer: make(map[string]int64),
		DroppedByType: make(map[protocol.EventType]int64),
	}

	for k, v := range rl.dropped {
		stats.DroppedByPeer[k] = v
		stats.TotalDropped += v
	}

	for k, v := range rl.droppedByType {
		stats.DroppedByType[k] = v
	}

	return stats
}

// RateLimitStats holds rate limiting statistics
type RateLimitStats struct {
	TotalDropped  int64
	DroppedByPeer map[string]int64
	DroppedByType map[protocol.EventType]int64
}

// ResetStats resets the rate limiting statistics
func (rl *RateLimiter) ResetStats() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.dropped = make(map[string]int64)
	rl.droppedByType = make(map[protocol.EventType]int64)
}

// GetDropCount returns the number of dropped events for a peer
func (rl *RateLimiter) GetDropCount(peer string) int64 {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.dropped[peer]
}
