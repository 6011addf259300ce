package daemon

import (
	"context"
	"log/slog"
	"time"

	"kxctl.dev/go/kxctl/internal/protocol"
)

// Bridge wraps the peer transport with daemon-side policy. Inbound
// envelopes pass through the rate limiter before they reach the
// exchange coordinator, and both directions feed the metrics
// collector. The coordinator sees a plain protocol.Transport and
// stays unaware of any of this.
type Bridge struct {
	inner   protocol.Transport
	limiter *RateLimiter
	metrics *Metrics
}

// NewBridge wraps inner with rate limiting and metrics.
func NewBridge(inner protocol.Transport, limiter *RateLimiter, metrics *Metrics) *Bridge {
	return &Bridge{
		inner:   inner,
		limiter: limiter,
		metrics: metrics,
	}
}

// Send delivers an envelope through the wrapped transport and records
// it on success.
func (b *Bridge) Send(ctx context.Context, peer string, env *protocol.Envelope) error {
	if err := b.inner.Send(ctx, peer, env); err != nil {
		return err
	}
	b.metrics.RecordEventSent(env.Type, len(env.Payload))
	return nil
}

// SetHandler registers the inbound sink. Envelopes that exceed the
// rate or size limits are dropped here and never reach h.
func (b *Bridge) SetHandler(h func(env *protocol.Envelope)) {
	b.inner.SetHandler(func(env *protocol.Envelope) {
		if err := b.limiter.Allow(env.From, env.Type, len(env.Payload)); err != nil {
			b.metrics.EventsDropped.Add(1)
			slog.Debug("dropped inbound event",
				"type", env.Type,
				"from", env.From,
				"reason", err)
			return
		}

		b.metrics.RecordEventReceived(env.Type, len(env.Payload))

		start := time.Now()
		h(env)
		b.metrics.RecordDispatchLatency(time.Since(start))
	})
}

// Connected reports the wrapped transport's link state.
func (b *Bridge) Connected() bool {
	return b.inner.Connected()
}

// Close shuts the wrapped transport down.
func (b *Bridge) Close() error {
	return b.inner.Close()
}
