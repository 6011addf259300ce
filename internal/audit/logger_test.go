package audit

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRingOverflow(t *testing.T) {
	r := newRing(3)

	for i := 0; i < 5; i++ {
		r.add(Event{
			Timestamp: time.Now().Add(time.Duration(i) * time.Second),
			Level:     LevelInfo,
			Message:   "m",
			Details:   map[string]any{"index": i},
		})
	}

	if r.len() != 3 {
		t.Errorf("len after overflow = %d, want 3", r.len())
	}

	events := r.query(QueryOpts{})
	if len(events) != 3 {
		t.Fatalf("query returned %d events, want 3", len(events))
	}
	// Newest first; the two oldest were overwritten.
	if events[0].Details["index"] != 4 {
		t.Errorf("first event index = %v, want 4", events[0].Details["index"])
	}
	if events[2].Details["index"] != 2 {
		t.Errorf("last event index = %v, want 2", events[2].Details["index"])
	}
}

func TestQueryLevelThreshold(t *testing.T) {
	r := newRing(10)

	r.add(Event{Timestamp: time.Now(), Level: LevelDebug, Message: "debug"})
	r.add(Event{Timestamp: time.Now(), Level: LevelInfo, Message: "info"})
	r.add(Event{Timestamp: time.Now(), Level: LevelWarn, Message: "warn"})
	r.add(Event{Timestamp: time.Now(), Level: LevelError, Message: "error"})

	cases := []struct {
		level string
		want  int
	}{
		{LevelError, 1},
		{LevelWarn, 2},
		{LevelInfo, 3},
		{LevelDebug, 4},
		{"warn", 2}, // filter level is case-insensitive
		{"bogus", 4},
	}
	for _, tc := range cases {
		got := len(r.query(QueryOpts{Level: tc.level}))
		if got != tc.want {
			t.Errorf("level %q matched %d events, want %d", tc.level, got, tc.want)
		}
	}
}

func TestQueryFilters(t *testing.T) {
	r := newRing(10)

	r.add(Event{Timestamp: time.Now(), Category: CategoryExchange, Action: ActionExchangeRequested, Peer: "05aa", Message: "request sent to alice"})
	r.add(Event{Timestamp: time.Now(), Category: CategoryExchange, Action: ActionExchangeAccepted, Peer: "05aa", Message: "request accepted"})
	r.add(Event{Timestamp: time.Now(), Category: CategoryPeer, Action: ActionPeerKeyStored, Peer: "05bb", Message: "key stored"})
	r.add(Event{Timestamp: time.Now(), Category: CategoryDaemon, Action: ActionDaemonStarted, Message: "daemon started"})

	if got := len(r.query(QueryOpts{Category: CategoryExchange})); got != 2 {
		t.Errorf("category filter matched %d, want 2", got)
	}
	if got := len(r.query(QueryOpts{Peer: "05aa"})); got != 2 {
		t.Errorf("peer filter matched %d, want 2", got)
	}
	if got := len(r.query(QueryOpts{Action: ActionPeerKeyStored})); got != 1 {
		t.Errorf("action filter matched %d, want 1", got)
	}
	if got := len(r.query(QueryOpts{Search: "alice"})); got != 1 {
		t.Errorf("search filter matched %d, want 1", got)
	}
	if got := len(r.query(QueryOpts{Search: "request"})); got != 2 {
		t.Errorf("search filter matched %d, want 2", got)
	}
}

func TestQueryLimitKeepsNewest(t *testing.T) {
	r := newRing(100)

	for i := 0; i < 50; i++ {
		r.add(Event{
			Timestamp: time.Now(),
			Message:   "m",
			Details:   map[string]any{"index": i},
		})
	}

	limited := r.query(QueryOpts{Limit: 10})
	if len(limited) != 10 {
		t.Fatalf("limited query returned %d, want 10", len(limited))
	}
	if limited[0].Details["index"] != 49 {
		t.Errorf("limit kept index %v first, want 49", limited[0].Details["index"])
	}
}

func TestLoggerPersistsAndReloads(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.log")

	logger := NewLoggerWithPath(logPath)
	logger.Log(Event{Level: LevelInfo, Action: ActionDaemonStarted, Message: "started"})
	logger.Log(Event{Level: LevelInfo, Action: ActionExchangeRequested, Message: "request sent", Peer: "05aa"})
	logger.Close()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("log file is empty")
	}

	reloaded := NewLoggerWithPath(logPath)
	defer reloaded.Close()
	if got := len(reloaded.Query(QueryOpts{})); got != 2 {
		t.Errorf("reloaded logger has %d events, want 2", got)
	}
}

func TestQueryFromFileChronological(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.log")

	logger := NewLoggerWithPath(logPath)
	defer logger.Close()
	for i := 0; i < 3; i++ {
		logger.Log(Event{Message: "m", Details: map[string]any{"index": i}})
	}

	events, err := logger.QueryFromFile(QueryOpts{})
	if err != nil {
		t.Fatalf("QueryFromFile: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("QueryFromFile returned %d events, want 3", len(events))
	}
	// Oldest first, unlike the ring. Details round-trip through JSON
	// as float64.
	if events[0].Details["index"] != float64(0) {
		t.Errorf("first event index = %v, want 0", events[0].Details["index"])
	}
}

func TestLogFillsDefaults(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.log")
	logger := NewLoggerWithPath(logPath)
	defer logger.Close()

	logger.SetIdentity("05ab")
	logger.Log(Event{Action: ActionExchangeAccepted, Message: "m"})

	events := logger.Query(QueryOpts{})
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	e := events[0]
	if e.Level != LevelInfo {
		t.Errorf("default level = %q, want INFO", e.Level)
	}
	if e.Category != CategoryExchange {
		t.Errorf("derived category = %q, want %q", e.Category, CategoryExchange)
	}
	if e.Actor != "05ab" {
		t.Errorf("default actor = %q, want 05ab", e.Actor)
	}
	if e.Timestamp.IsZero() {
		t.Error("timestamp was not defaulted")
	}
}
