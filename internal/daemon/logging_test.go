package daemon

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestLogBufferAdd(t *testing.T) {
	b := NewLogBuffer(10)

	b.Add(LogEntry{Timestamp: time.Now(), Level: "INFO", Message: "first"})
	b.Add(LogEntry{Timestamp: time.Now(), Level: "INFO", Message: "second"})

	if b.Count() != 2 {
		t.Errorf("Count: got %d, want 2", b.Count())
	}

	entries := b.Query(LogQueryOpts{})
	if len(entries) != 2 {
		t.Fatalf("Query: got %d entries, want 2", len(entries))
	}
	if entries[0].Message != "first" {
		t.Errorf("first entry: got %q, want %q", entries[0].Message, "first")
	}
}

func TestLogBufferWrap(t *testing.T) {
	b := NewLogBuffer(3)

	for i := 1; i <= 5; i++ {
		b.Add(LogEntry{Timestamp: time.Now(), Level: "INFO", Message: fmt.Sprintf("entry-%d", i)})
	}

	if b.Count() != 3 {
		t.Errorf("Count: got %d, want 3", b.Count())
	}

	entries := b.Query(LogQueryOpts{})
	if len(entries) != 3 {
		t.Fatalf("Query: got %d entries, want 3", len(entries))
	}

	// Oldest surviving entry first
	want := []string{"entry-3", "entry-4", "entry-5"}
	for i, w := range want {
		if entries[i].Message != w {
			t.Errorf("entry %d: got %q, want %q", i, entries[i].Message, w)
		}
	}
}

func TestLogBufferQueryLevel(t *testing.T) {
	b := NewLogBuffer(10)

	now := time.Now()
	b.Add(LogEntry{Timestamp: now, Level: "DEBUG", Message: "d"})
	b.Add(LogEntry{Timestamp: now, Level: "INFO", Message: "i"})
	b.Add(LogEntry{Timestamp: now, Level: "WARN", Message: "w"})
	b.Add(LogEntry{Timestamp: now, Level: "ERROR", Message: "e"})

	entries := b.Query(LogQueryOpts{Level: "WARN"})
	if len(entries) != 2 {
		t.Fatalf("Query WARN: got %d entries, want 2", len(entries))
	}
	if entries[0].Message != "w" || entries[1].Message != "e" {
		t.Errorf("Query WARN: got %q, %q", entries[0].Message, entries[1].Message)
	}

	entries = b.Query(LogQueryOpts{Level: "DEBUG"})
	if len(entries) != 4 {
		t.Errorf("Query DEBUG: got %d entries, want 4", len(entries))
	}
}

func TestLogBufferQuerySince(t *testing.T) {
	b := NewLogBuffer(10)

	old := time.Now().Add(-time.Hour)
	recent := time.Now()
	b.Add(LogEntry{Timestamp: old, Level: "INFO", Message: "old"})
	b.Add(LogEntry{Timestamp: recent, Level: "INFO", Message: "recent"})

	cutoff := time.Now().Add(-time.Minute)
	entries := b.Query(LogQueryOpts{Since: &cutoff})
	if len(entries) != 1 {
		t.Fatalf("Query since: got %d entries, want 1", len(entries))
	}
	if entries[0].Message != "recent" {
		t.Errorf("Query since: got %q, want %q", entries[0].Message, "recent")
	}

	entries = b.Query(LogQueryOpts{Until: &cutoff})
	if len(entries) != 1 || entries[0].Message != "old" {
		t.Errorf("Query until: got %d entries", len(entries))
	}
}

func TestLogBufferQueryLimit(t *testing.T) {
	b := NewLogBuffer(10)

	for i := 0; i < 5; i++ {
		b.Add(LogEntry{Timestamp: time.Now(), Level: "INFO", Message: fmt.Sprintf("entry-%d", i)})
	}

	entries := b.Query(LogQueryOpts{Limit: 2})
	if len(entries) != 2 {
		t.Errorf("Query limit: got %d entries, want 2", len(entries))
	}
}

func TestBufferedHandler(t *testing.T) {
	buffer := NewLogBuffer(10)
	next := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewBufferedHandler(buffer, next))

	logger.Info("hello", "peer", "abc123")
	logger.Warn("trouble")

	if buffer.Count() != 2 {
		t.Fatalf("Count: got %d, want 2", buffer.Count())
	}

	entries := buffer.Query(LogQueryOpts{})
	if entries[0].Message != "hello" {
		t.Errorf("message: got %q, want %q", entries[0].Message, "hello")
	}
	if entries[0].Level != "INFO" {
		t.Errorf("level: got %q, want INFO", entries[0].Level)
	}
	if entries[0].Fields["peer"] != "abc123" {
		t.Errorf("fields[peer]: got %v, want abc123", entries[0].Fields["peer"])
	}
	if entries[1].Level != "WARN" {
		t.Errorf("level: got %q, want WARN", entries[1].Level)
	}
}

func TestBufferedHandlerWithAttrs(t *testing.T) {
	buffer := NewLogBuffer(10)
	next := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewBufferedHandler(buffer, next)).With("component", "exchange")

	logger.Info("working")

	entries := buffer.Query(LogQueryOpts{})
	if len(entries) != 1 {
		t.Fatalf("Query: got %d entries, want 1", len(entries))
	}
	if entries[0].Fields["component"] != "exchange" {
		t.Errorf("fields[component]: got %v, want exchange", entries[0].Fields["component"])
	}
}

func TestBufferedHandlerRespectsLevel(t *testing.T) {
	buffer := NewLogBuffer(10)
	next := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn})
	logger := slog.New(NewBufferedHandler(buffer, next))

	logger.Debug("invisible")
	logger.Info("also invisible")
	logger.Error("visible")

	if buffer.Count() != 1 {
		t.Errorf("Count: got %d, want 1", buffer.Count())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q): got %v, want %v", tt.in, got, tt.want)
		}
	}
}
