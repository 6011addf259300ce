package audit

import "sync"

// ringBuffer keeps the most recent events in memory so queries avoid
// rescanning the log file.
type ringBuffer struct {
	mu     sync.RWMutex
	events []Event
	next   int
	filled bool
}

func newRing(capacity int) *ringBuffer {
	return &ringBuffer{events: make([]Event, capacity)}
}

func (r *ringBuffer) add(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events[r.next] = e
	r.next++
	if r.next == len(r.events) {
		r.next = 0
		r.filled = true
	}
}

func (r *ringBuffer) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.filled {
		return len(r.events)
	}
	return r.next
}

// query walks the buffer newest first, so the limit keeps the most
// recent matches.
func (r *ringBuffer) query(opts QueryOpts) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := r.next
	if r.filled {
		count = len(r.events)
	}

	results := make([]Event, 0)
	for i := 1; i <= count; i++ {
		e := r.events[(r.next-i+len(r.events))%len(r.events)]
		if !opts.matches(e) {
			continue
		}
		results = append(results, e)
		if opts.Limit > 0 && len(results) == opts.Limit {
			break
		}
	}
	return results
}
