package audit

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"kxctl.dev/go/kxctl/internal/config"
)

// ringCapacity bounds the in-memory view of the log. Queries that
// outrange it go through QueryFromFile.
const ringCapacity = 10000

// Logger appends events to a JSONL file and mirrors each one into a
// ring buffer and slog.
type Logger struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	ring     *ringBuffer
	identity string
}

var (
	defaultOnce sync.Once
	defaultLog  *Logger
)

// Default returns the process-wide logger, opened at the configured
// audit path on first use.
func Default() *Logger {
	defaultOnce.Do(func() {
		paths, err := config.GetPaths()
		if err != nil {
			slog.Error("resolve audit log path", "err", err)
			defaultLog = &Logger{ring: newRing(ringCapacity)}
			return
		}
		defaultLog = NewLoggerWithPath(paths.AuditLogFile)
	})
	return defaultLog
}

// NewLoggerWithPath opens (or creates) the JSONL log at path and loads
// its backlog into the ring. Open failures degrade to memory-only
// logging rather than erroring; an audit problem should never block
// the operation being audited.
func NewLoggerWithPath(path string) *Logger {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		slog.Error("create audit directory", "err", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		slog.Error("open audit log", "path", path, "err", err)
	}

	l := &Logger{file: file, path: path, ring: newRing(ringCapacity)}
	l.scanFile(func(e Event) bool {
		l.ring.add(e)
		return true
	})
	return l
}

// SetIdentity sets the session ID recorded as the actor on events
// that do not name one.
func (l *Logger) SetIdentity(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.identity = sessionID
}

// Log fills in event defaults, stores the event, and appends it to
// the file.
func (l *Logger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Level == "" {
		event.Level = LevelInfo
	}
	if event.Actor == "" {
		event.Actor = l.identity
	}
	if event.Category == "" {
		event.Category = categoryOf(event.Action)
	}

	l.ring.add(event)

	if l.file != nil {
		if line, err := json.Marshal(event); err == nil {
			l.file.Write(append(line, '\n'))
		}
	}

	l.mirror(event)
}

// mirror forwards the event to slog so the daemon console carries the
// audit trail too.
func (l *Logger) mirror(e Event) {
	attrs := make([]any, 0, 8)
	attrs = append(attrs, "action", e.Action)
	if e.Peer != "" {
		attrs = append(attrs, "peer", e.Peer)
	}
	if e.Request != "" {
		attrs = append(attrs, "request", e.Request)
	}
	if e.Error != "" {
		attrs = append(attrs, "error", e.Error)
	}

	switch e.Level {
	case LevelDebug:
		slog.Debug(e.Message, attrs...)
	case LevelWarn:
		slog.Warn(e.Message, attrs...)
	case LevelError:
		slog.Error(e.Message, attrs...)
	default:
		slog.Info(e.Message, attrs...)
	}
}

// Query returns matching in-memory events, newest first.
func (l *Logger) Query(opts QueryOpts) []Event {
	return l.ring.query(opts)
}

// QueryFromFile scans the whole file in chronological order. It sees
// events written by other processes, which the ring cannot.
func (l *Logger) QueryFromFile(opts QueryOpts) ([]Event, error) {
	var results []Event
	err := l.scanFile(func(e Event) bool {
		if !opts.matches(e) {
			return true
		}
		results = append(results, e)
		return opts.Limit <= 0 || len(results) < opts.Limit
	})
	return results, err
}

// scanFile streams the JSONL file through fn until fn returns false.
// Unparseable lines are skipped. A missing file is not an error.
func (l *Logger) scanFile(fn func(Event) bool) error {
	if l.path == "" {
		return nil
	}
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		if !fn(e) {
			break
		}
	}
	return scanner.Err()
}

// Close releases the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
