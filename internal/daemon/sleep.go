package daemon

import (
	"log/slog"
	"time"
)

const (
	wakeTickInterval = 1 * time.Second

	// wakeGap is the tick spacing beyond which the system is assumed to
	// have slept rather than merely stalled.
	wakeGap = 10 * time.Second
)

// WakeWatcher detects system wake by measuring the gap between ticks of
// a steady clock. Completion polling timers do not run while the machine
// sleeps, so a peer key published during that window would otherwise sit
// unnoticed until the next backoff slot.
type WakeWatcher struct {
	onWake func(gap time.Duration)
	ticker *time.Ticker
	done   chan struct{}
}

// NewWakeWatcher creates a watcher that invokes onWake after each
// detected sleep, with the measured gap.
func NewWakeWatcher(onWake func(gap time.Duration)) *WakeWatcher {
	return &WakeWatcher{
		onWake: onWake,
		done:   make(chan struct{}),
	}
}

// Start begins watching for wake events.
func (w *WakeWatcher) Start() {
	w.ticker = time.NewTicker(wakeTickInterval)
	last := time.Now()

	go func() {
		for {
			select {
			case <-w.done:
				return
			case now := <-w.ticker.C:
				gap := now.Sub(last)
				last = now
				if gap > wakeGap {
					slog.Info("System wake detected", "gap", gap)
					if w.onWake != nil {
						w.onWake(gap)
					}
				}
			}
		}
	}()
}

// Stop ends watching. Safe to call once, whether or not Start ran.
func (w *WakeWatcher) Stop() {
	if w.ticker != nil {
		w.ticker.Stop()
	}
	close(w.done)
}
