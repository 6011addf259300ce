package exchange

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
)

const (
	// directPollInterval is the fixed schedule used when polling starts
	// from a local accept.
	directPollInterval = 5 * time.Second

	// pollAttempts caps every polling run regardless of schedule.
	pollAttempts = 12

	// notifyBackoffMin and notifyBackoffMax bound the schedule used when
	// polling starts from the notification path: 10s, then 30s repeating.
	notifyBackoffMin    = 10 * time.Second
	notifyBackoffMax    = 30 * time.Second
	notifyBackoffFactor = 3
)

// PollOrigin selects the retry schedule for a polling run.
type PollOrigin int

const (
	// OriginDirect polls on the fixed short schedule.
	OriginDirect PollOrigin = iota

	// OriginNotification polls on the slower backoff schedule.
	OriginNotification
)

// CompletionPoller waits for a peer's public key to become available
// after an accepted exchange that did not deliver the key inline. Each
// peer gets at most one live polling run; runs are individually
// cancelable and bounded.
type CompletionPoller struct {
	keyAvailable func(peerID string) bool
	onComplete   func(peerID string)
	onExhausted  func(peerID string)

	mu     sync.Mutex
	active map[string]*pollTask
	closed bool
	wg     sync.WaitGroup

	started   atomic.Int64
	satisfied atomic.Int64
	exhausted atomic.Int64

	directInterval time.Duration
	backoffMin     time.Duration
	backoffMax     time.Duration
}

type pollTask struct {
	cancel context.CancelFunc
}

// NewCompletionPoller creates a poller. keyAvailable is checked on each
// attempt; onComplete fires once when it first reports true. onExhausted
// may be nil.
func NewCompletionPoller(keyAvailable func(string) bool, onComplete, onExhausted func(string)) *CompletionPoller {
	return &CompletionPoller{
		keyAvailable:   keyAvailable,
		onComplete:     onComplete,
		onExhausted:    onExhausted,
		active:         make(map[string]*pollTask),
		directInterval: directPollInterval,
		backoffMin:     notifyBackoffMin,
		backoffMax:     notifyBackoffMax,
	}
}

// SetSchedule overrides the polling intervals (for testing)
func (p *CompletionPoller) SetSchedule(direct, min, max time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.directInterval = direct
	p.backoffMin = min
	p.backoffMax = max
}

// Schedule starts a polling run for the peer. A peer with a live run is
// left alone: the predicate is identical, so a second run adds nothing.
func (p *CompletionPoller) Schedule(peerID string, origin PollOrigin) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if _, ok := p.active[peerID]; ok {
		p.mu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	task := &pollTask{cancel: cancel}
	p.active[peerID] = task
	p.wg.Add(1)
	p.mu.Unlock()

	p.started.Add(1)
	go p.run(ctx, peerID, origin, task)
}

// PollerStats counts polling runs over the poller's lifetime.
type PollerStats struct {
	Started   int64 `json:"started"`
	Satisfied int64 `json:"satisfied"`
	Exhausted int64 `json:"exhausted"`
}

// Stats returns lifetime polling counters.
func (p *CompletionPoller) Stats() PollerStats {
	return PollerStats{
		Started:   p.started.Load(),
		Satisfied: p.satisfied.Load(),
		Exhausted: p.exhausted.Load(),
	}
}

// Active reports whether a polling run is live for the peer.
func (p *CompletionPoller) Active(peerID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[peerID]
	return ok
}

// Cancel stops the polling run for the peer, if any.
func (p *CompletionPoller) Cancel(peerID string) {
	p.mu.Lock()
	task, ok := p.active[peerID]
	if ok {
		delete(p.active, peerID)
	}
	p.mu.Unlock()

	if ok {
		task.cancel()
	}
}

// Close cancels all polling runs and waits for them to stop. Further
// Schedule calls are no-ops.
func (p *CompletionPoller) Close() {
	p.mu.Lock()
	p.closed = true
	tasks := make([]*pollTask, 0, len(p.active))
	for _, task := range p.active {
		tasks = append(tasks, task)
	}
	p.active = make(map[string]*pollTask)
	p.mu.Unlock()

	for _, task := range tasks {
		task.cancel()
	}
	p.wg.Wait()
}

func (p *CompletionPoller) run(ctx context.Context, peerID string, origin PollOrigin, task *pollTask) {
	defer p.wg.Done()
	defer p.finish(peerID, task)

	next := p.schedule(origin)
	timer := time.NewTimer(next())
	defer timer.Stop()

	for attempt := 1; attempt <= pollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if p.keyAvailable(peerID) {
			slog.Debug("Peer key available", "peer", shortID(peerID), "attempt", attempt)
			p.satisfied.Add(1)
			p.onComplete(peerID)
			return
		}

		if attempt < pollAttempts {
			timer.Reset(next())
		}
	}

	slog.Warn("Peer key polling exhausted",
		"peer", shortID(peerID),
		"attempts", pollAttempts,
	)
	p.exhausted.Add(1)
	if p.onExhausted != nil {
		p.onExhausted(peerID)
	}
}

// schedule returns the wait-interval generator for the origin.
func (p *CompletionPoller) schedule(origin PollOrigin) func() time.Duration {
	p.mu.Lock()
	direct := p.directInterval
	min, max := p.backoffMin, p.backoffMax
	p.mu.Unlock()

	if origin == OriginNotification {
		b := &backoff.Backoff{
			Min:    min,
			Max:    max,
			Factor: notifyBackoffFactor,
			Jitter: false,
		}
		return b.Duration
	}
	return func() time.Duration { return direct }
}

func (p *CompletionPoller) finish(peerID string, task *pollTask) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active[peerID] == task {
		delete(p.active, peerID)
	}
}

// shortID truncates a session ID for logging.
func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}
