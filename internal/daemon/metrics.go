package daemon

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"kxctl.dev/go/kxctl/internal/protocol"
)

// Metrics collects operational metrics for observability
type Metrics struct {
	startTime time.Time

	// Counters (use atomic for lock-free updates)
	RequestsSent     atomic.Int64
	RequestsReceived atomic.Int64
	RequestsAccepted atomic.Int64
	RequestsDeclined atomic.Int64
	RequestsRevoked  atomic.Int64
	RequestsFailed   atomic.Int64
	RequestsRetried  atomic.Int64
	PollersStarted   atomic.Int64
	PollersSatisfied atomic.Int64
	PollersExhausted atomic.Int64
	EventsReceived   atomic.Int64
	EventsSent       atomic.Int64
	EventsDropped    atomic.Int64

	// Event counters by type
	eventCountersMu sync.RWMutex
	eventsReceived  map[protocol.EventType]int64
	eventsSent      map[protocol.EventType]int64

	// Bytes transferred (payload bytes)
	BytesReceived atomic.Int64
	BytesSent     atomic.Int64

	// Error tracking (ring buffer)
	errorsMu   sync.RWMutex
	errors     []ErrorEntry
	errorIndex int

	// Dispatch latency tracking (ring buffer for last N samples)
	latencyMu       sync.RWMutex
	dispatchLatency []time.Duration
	latencyIndex    int
}

// ErrorEntry records an error event
type ErrorEntry struct {
	Time    time.Time `json:"time"`
	Type    string    `json:"type"`
	Message string    `json:"message"`
	Peer    string    `json:"peer,omitempty"`
}

// MetricsSnapshot is a point-in-time view of all metrics
type MetricsSnapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
	UptimeSec float64   `json:"uptime_sec"`

	System SystemMetrics `json:"system"`

	Counters CounterMetrics `json:"counters"`

	// Wire event breakdown
	EventsByType EventMetrics `json:"events_by_type"`

	// Gauges (current state)
	Gauges GaugeMetrics `json:"gauges"`

	Latencies LatencyMetrics `json:"latencies"`

	RecentErrors []ErrorEntry `json:"recent_errors"`
}

// SystemMetrics contains runtime/system information
type SystemMetrics struct {
	GoVersion    string `json:"go_version"`
	NumCPU       int    `json:"num_cpu"`
	NumGoroutine int    `json:"num_goroutine"`

	// Memory stats
	MemAllocMB      float64 `json:"mem_alloc_mb"`
	MemTotalAllocMB float64 `json:"mem_total_alloc_mb"`
	MemSysMB        float64 `json:"mem_sys_mb"`
	MemHeapMB       float64 `json:"mem_heap_mb"`
	MemHeapObjects  uint64  `json:"mem_heap_objects"`
	NumGC           uint32  `json:"num_gc"`
	LastGCPauseMs   float64 `json:"last_gc_pause_ms"`
}

// CounterMetrics contains cumulative counters
type CounterMetrics struct {
	RequestsSent     int64 `json:"requests_sent"`
	RequestsReceived int64 `json:"requests_received"`
	RequestsAccepted int64 `json:"requests_accepted"`
	RequestsDeclined int64 `json:"requests_declined"`
	RequestsRevoked  int64 `json:"requests_revoked"`
	RequestsFailed   int64 `json:"requests_failed"`
	RequestsRetried  int64 `json:"requests_retried"`
	PollersStarted   int64 `json:"pollers_started"`
	PollersSatisfied int64 `json:"pollers_satisfied"`
	PollersExhausted int64 `json:"pollers_exhausted"`
	EventsReceived   int64 `json:"events_received"`
	EventsSent       int64 `json:"events_sent"`
	EventsDropped    int64 `json:"events_dropped"`
	BytesReceived    int64 `json:"bytes_received"`
	BytesSent        int64 `json:"bytes_sent"`
}

// EventMetrics breaks down wire events by type
type EventMetrics struct {
	Received map[protocol.EventType]int64 `json:"received"`
	Sent     map[protocol.EventType]int64 `json:"sent"`
}

// GaugeMetrics contains current state values
type GaugeMetrics struct {
	SentRequests     int `json:"sent_requests"`
	ReceivedRequests int `json:"received_requests"`
	ActiveRequests   int `json:"active_requests"`
	TrustedPeers     int `json:"trusted_peers"`
	WSClients        int `json:"ws_clients"`
	IPCSubscribers   int `json:"ipc_subscribers"`
}

// LatencyMetrics contains latency statistics
type LatencyMetrics struct {
	DispatchAvgMs float64 `json:"dispatch_avg_ms"`
	DispatchP95Ms float64 `json:"dispatch_p95_ms"`
	DispatchMaxMs float64 `json:"dispatch_max_ms"`
}

const (
	maxErrorEntries   = 100
	maxLatencySamples = 100
)

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		startTime:       time.Now(),
		eventsReceived:  make(map[protocol.EventType]int64),
		eventsSent:      make(map[protocol.EventType]int64),
		errors:          make([]ErrorEntry, maxErrorEntries),
		dispatchLatency: make([]time.Duration, maxLatencySamples),
	}
}

// RecordEventReceived records a received wire event
func (m *Metrics) RecordEventReceived(eventType protocol.EventType, size int) {
	m.EventsReceived.Add(1)
	m.BytesReceived.Add(int64(size))

	m.eventCountersMu.Lock()
	m.eventsReceived[eventType]++
	m.eventCountersMu.Unlock()
}

// RecordEventSent records a sent wire event
func (m *Metrics) RecordEventSent(eventType protocol.EventType, size int) {
	m.EventsSent.Add(1)
	m.BytesSent.Add(int64(size))

	m.eventCountersMu.Lock()
	m.eventsSent[eventType]++
	m.eventCountersMu.Unlock()
}

// RecordError records an error event
func (m *Metrics) RecordError(errType, message, peer string) {
	entry := ErrorEntry{
		Time:    time.Now(),
		Type:    errType,
		Message: message,
		Peer:    peer,
	}

	m.errorsMu.Lock()
	m.errors[m.errorIndex] = entry
	m.errorIndex = (m.errorIndex + 1) % maxErrorEntries
	m.errorsMu.Unlock()
}

// RecordDispatchLatency records how long an inbound event took to process
func (m *Metrics) RecordDispatchLatency(d time.Duration) {
	m.latencyMu.Lock()
	m.dispatchLatency[m.latencyIndex] = d
	m.latencyIndex = (m.latencyIndex + 1) % maxLatencySamples
	m.latencyMu.Unlock()
}

// Snapshot returns a point-in-time view of all metrics
func (m *Metrics) Snapshot(gaugeProvider func() GaugeMetrics) *MetricsSnapshot {
	now := time.Now()
	uptime := now.Sub(m.startTime)

	// Get runtime memory stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	// Calculate last GC pause
	var lastGCPause float64
	if memStats.NumGC > 0 {
		lastGCPause = float64(memStats.PauseNs[(memStats.NumGC+255)%256]) / 1e6
	}

	// Build event type maps
	m.eventCountersMu.RLock()
	received := make(map[protocol.EventType]int64, len(m.eventsReceived))
	for k, v := range m.eventsReceived {
		received[k] = v
	}
	sent := make(map[protocol.EventType]int64, len(m.eventsSent))
	for k, v := range m.eventsSent {
		sent[k] = v
	}
	m.eventCountersMu.RUnlock()

	// Get recent errors
	m.errorsMu.RLock()
	recentErrors := make([]ErrorEntry, 0, maxErrorEntries)
	for i := 0; i < maxErrorEntries; i++ {
		idx := (m.errorIndex - 1 - i + maxErrorEntries) % maxErrorEntries
		if !m.errors[idx].Time.IsZero() {
			recentErrors = append(recentErrors, m.errors[idx])
		}
	}
	m.errorsMu.RUnlock()

	latencies := m.calculateLatencyStats()

	// Get gauge values from provider
	var gauges GaugeMetrics
	if gaugeProvider != nil {
		gauges = gaugeProvider()
	}

	return &MetricsSnapshot{
		Timestamp: now,
		Uptime:    uptime.Round(time.Second).String(),
		UptimeSec: uptime.Seconds(),
		System: SystemMetrics{
			GoVersion:       runtime.Version(),
			NumCPU:          runtime.NumCPU(),
			NumGoroutine:    runtime.NumGoroutine(),
			MemAllocMB:      float64(memStats.Alloc) / 1024 / 1024,
			MemTotalAllocMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			MemSysMB:        float64(memStats.Sys) / 1024 / 1024,
			MemHeapMB:       float64(memStats.HeapAlloc) / 1024 / 1024,
			MemHeapObjects:  memStats.HeapObjects,
			NumGC:           memStats.NumGC,
			LastGCPauseMs:   lastGCPause,
		},
		Counters: CounterMetrics{
			RequestsSent:     m.RequestsSent.Load(),
			RequestsReceived: m.RequestsReceived.Load(),
			RequestsAccepted: m.RequestsAccepted.Load(),
			RequestsDeclined: m.RequestsDeclined.Load(),
			RequestsRevoked:  m.RequestsRevoked.Load(),
			RequestsFailed:   m.RequestsFailed.Load(),
			RequestsRetried:  m.RequestsRetried.Load(),
			PollersStarted:   m.PollersStarted.Load(),
			PollersSatisfied: m.PollersSatisfied.Load(),
			PollersExhausted: m.PollersExhausted.Load(),
			EventsReceived:   m.EventsReceived.Load(),
			EventsSent:       m.EventsSent.Load(),
			EventsDropped:    m.EventsDropped.Load(),
			BytesReceived:    m.BytesReceived.Load(),
			BytesSent:        m.BytesSent.Load(),
		},
		EventsByType: EventMetrics{
			Received: received,
			Sent:     sent,
		},
		Gauges:       gauges,
		Latencies:    latencies,
		RecentErrors: recentErrors,
	}
}

// calculateLatencyStats computes latency statistics from samples
func (m *Metrics) calculateLatencyStats() LatencyMetrics {
	m.latencyMu.RLock()
	defer m.latencyMu.RUnlock()

	stats := computeLatencyStats(m.dispatchLatency)

	return LatencyMetrics{
		DispatchAvgMs: stats.avg,
		DispatchP95Ms: stats.p95,
		DispatchMaxMs: stats.max,
	}
}

type latencyStats struct {
	avg, p95, max float64
}

func computeLatencyStats(samples []time.Duration) latencyStats {
	// Filter non-zero samples
	var valid []time.Duration
	for _, d := range samples {
		if d > 0 {
			valid = append(valid, d)
		}
	}

	if len(valid) == 0 {
		return latencyStats{}
	}

	// Calculate average and max
	var total time.Duration
	maxVal := time.Duration(0)
	for _, d := range valid {
		total += d
		if d > maxVal {
			maxVal = d
		}
	}
	avg := total / time.Duration(len(valid))

	// Sort for percentile (simple insertion sort for small arrays)
	sorted := make([]time.Duration, len(valid))
	copy(sorted, valid)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	// P95
	p95Index := int(float64(len(sorted)) * 0.95)
	if p95Index >= len(sorted) {
		p95Index = len(sorted) - 1
	}

	return latencyStats{
		avg: float64(avg.Microseconds()) / 1000,
		p95: float64(sorted[p95Index].Microseconds()) / 1000,
		max: float64(maxVal.Microseconds()) / 1000,
	}
}

// Reset resets all metrics (useful for testing)
func (m *Metrics) Reset() {
	m.startTime = time.Now()
	m.RequestsSent.Store(0)
	m.RequestsReceived.Store(0)
	m.RequestsAccepted.Store(0)
	m.RequestsDeclined.Store(0)
	m.RequestsRevoked.Store(0)
	m.RequestsFailed.Store(0)
	m.RequestsRetried.Store(0)
	m.PollersStarted.Store(0)
	m.PollersSatisfied.Store(0)
	m.PollersExhausted.Store(0)
	m.EventsReceived.Store(0)
	m.EventsSent.Store(0)
	m.EventsDropped.Store(0)
	m.BytesReceived.Store(0)
	m.BytesSent.Store(0)

	m.eventCountersMu.Lock()
	m.eventsReceived = make(map[protocol.EventType]int64)
	m.eventsSent = make(map[protocol.EventType]int64)
	m.eventCountersMu.Unlock()

	m.errorsMu.Lock()
	m.errors = make([]ErrorEntry, maxErrorEntries)
	m.errorIndex = 0
	m.errorsMu.Unlock()

	m.latencyMu.Lock()
	m.dispatchLatency = make([]time.Duration, maxLatencySamples)
	m.latencyIndex = 0
	m.latencyMu.Unlock()
}
