package audit

import (
	"strings"
	"time"
)

// QueryOpts filters events. Zero fields match everything. Level is a
// threshold, not an exact match: filtering at WARN keeps ERROR too.
type QueryOpts struct {
	Since    *time.Time
	Until    *time.Time
	Level    string
	Category string
	Action   string
	Peer     string
	Search   string
	Limit    int
}

func (o QueryOpts) matches(e Event) bool {
	switch {
	case o.Since != nil && e.Timestamp.Before(*o.Since):
		return false
	case o.Until != nil && e.Timestamp.After(*o.Until):
		return false
	case o.Level != "" && !o.matchesLevel(e.Level):
		return false
	case o.Category != "" && e.Category != o.Category:
		return false
	case o.Action != "" && e.Action != o.Action:
		return false
	case o.Peer != "" && e.Peer != o.Peer:
		return false
	case o.Search != "" && !searchMatch(e, o.Search):
		return false
	}
	return true
}

// matchesLevel treats unrecognized levels on either side as a match,
// so a typo in a filter surfaces everything rather than nothing.
func (o QueryOpts) matchesLevel(eventLevel string) bool {
	filter, ok := levelRank(o.Level)
	if !ok {
		return true
	}
	event, ok := levelRank(eventLevel)
	if !ok {
		return true
	}
	return event >= filter
}

func levelRank(level string) (int, bool) {
	switch strings.ToUpper(level) {
	case LevelDebug:
		return 0, true
	case LevelInfo:
		return 1, true
	case LevelWarn:
		return 2, true
	case LevelError:
		return 3, true
	}
	return 0, false
}

func searchMatch(e Event, term string) bool {
	term = strings.ToLower(term)
	for _, hay := range []string{e.Message, e.Action, e.Peer, e.Request} {
		if strings.Contains(strings.ToLower(hay), term) {
			return true
		}
	}
	return false
}
