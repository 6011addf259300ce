package notify

import (
	"fmt"
	"log/slog"
	"sync"

	"kxctl.dev/go/kxctl/internal/identity"
)

// Service manages notification sending for the daemon. Its lifecycle
// methods match what the exchange coordinator emits; delivery happens on
// a separate goroutine so callers never wait on a subprocess.
type Service struct {
	mu       sync.Mutex
	notifier Notifier
	enabled  bool
	resolve  func(peer string) string
}

// NewService creates a notification service for the current platform.
func NewService(enabled bool) *Service {
	return &Service{
		notifier: New(),
		enabled:  enabled,
	}
}

// SetEnabled enables or disables notifications
func (s *Service) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
}

// SetResolver installs a display-name lookup used in notification
// bodies. The shortened session ID is the fallback.
func (s *Service) SetResolver(fn func(peer string) string) {
	s.mu.Lock()
	s.resolve = fn
	s.mu.Unlock()
}

// Notify sends a notification if enabled
func (s *Service) Notify(title, body string) error {
	s.mu.Lock()
	enabled, notifier := s.enabled, s.notifier
	s.mu.Unlock()
	if !enabled {
		return nil
	}
	return notifier.Notify(title, body)
}

func (s *Service) post(title, body string) {
	go func() {
		if err := s.Notify(title, body); err != nil {
			slog.Debug("Notification failed", "title", title, "error", err)
		}
	}()
}

func (s *Service) displayName(peer string) string {
	s.mu.Lock()
	fn := s.resolve
	s.mu.Unlock()
	if fn != nil {
		if name := fn(peer); name != "" {
			return name
		}
	}
	return identity.ShortSessionID(peer)
}

// RequestReceived announces an incoming key exchange request.
func (s *Service) RequestReceived(peer, phrase string) {
	title := "kxctl - Key Exchange Request"
	body := fmt.Sprintf("%s wants to exchange keys: %q", s.displayName(peer), phrase)
	s.post(title, body)
}

// RequestAccepted announces that the peer accepted our request.
func (s *Service) RequestAccepted(peer string) {
	title := "kxctl - Request Accepted"
	body := fmt.Sprintf("%s accepted your key exchange request", s.displayName(peer))
	s.post(title, body)
}

// RequestDeclined announces that the peer declined our request.
func (s *Service) RequestDeclined(peer string) {
	title := "kxctl - Request Declined"
	body := fmt.Sprintf("%s declined your key exchange request", s.displayName(peer))
	s.post(title, body)
}

// RequestRevoked announces that the peer withdrew their request.
func (s *Service) RequestRevoked(peer string) {
	title := "kxctl - Request Revoked"
	body := fmt.Sprintf("%s withdrew their key exchange request", s.displayName(peer))
	s.post(title, body)
}

// KeyReady announces a completed exchange.
func (s *Service) KeyReady(peer string) {
	title := "kxctl - Secure Channel Ready"
	body := fmt.Sprintf("You can now message %s", s.displayName(peer))
	s.post(title, body)
}
