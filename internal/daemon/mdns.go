package daemon

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"

	"kxctl.dev/go/kxctl/internal/identity"
)

const (
	// MDNSServiceType is the mDNS service type for kxctl
	MDNSServiceType = "_kxctl._tcp"

	// MDNSDomain is the mDNS domain
	MDNSDomain = "local."
)

// MDNSService announces the local web API on the LAN so companion UIs
// can find the daemon. It only advertises; it never browses. Peers are
// addressed by session ID through the transport, not discovered here.
type MDNSService struct {
	instanceName string
	port         int
	sessionID    string

	mu          sync.Mutex
	displayName string
	running     bool
	server      *zeroconf.Server
}

// NewMDNSService creates a new mDNS announcer
func NewMDNSService(port int, sessionID, displayName string) *MDNSService {
	return &MDNSService{
		instanceName: getSystemHostname(),
		port:         port,
		sessionID:    sessionID,
		displayName:  displayName,
	}
}

// Start registers the service announcement
func (m *MDNSService) Start() error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.mu.Unlock()

	slog.Info("mDNS announcement starting",
		"instance", m.instanceName,
		"session", identity.ShortSessionID(m.sessionID),
		"port", m.port,
	)

	if err := m.register(); err != nil {
		slog.Warn("Failed to register mDNS announcement", "error", err)
		return err
	}
	return nil
}

// register publishes the service with current TXT records
func (m *MDNSService) register() error {
	m.mu.Lock()
	name := m.displayName
	m.mu.Unlock()

	txt := []string{
		fmt.Sprintf("sid=%s", m.sessionID),
		fmt.Sprintf("name=%s", name),
		"v=1",
	}

	// Passing nil for interfaces uses all available
	server, err := zeroconf.Register(
		m.instanceName,
		MDNSServiceType,
		MDNSDomain,
		m.port,
		txt,
		nil,
	)
	if err != nil {
		return fmt.Errorf("register mDNS service: %w", err)
	}

	m.mu.Lock()
	m.server = server
	m.mu.Unlock()

	slog.Info("mDNS announcement registered",
		"instance", m.instanceName,
		"port", m.port,
	)
	return nil
}

// UpdateDisplayName re-registers the announcement with a new name
func (m *MDNSService) UpdateDisplayName(name string) {
	m.mu.Lock()
	m.displayName = name
	server := m.server
	running := m.running
	m.mu.Unlock()

	if !running {
		return
	}
	if server != nil {
		server.Shutdown()
	}

	if err := m.register(); err != nil {
		slog.Warn("Failed to re-register mDNS announcement", "error", err)
	}
}

// Stop withdraws the announcement
func (m *MDNSService) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false

	if m.server != nil {
		m.server.Shutdown()
		m.server = nil
	}

	slog.Info("mDNS announcement stopped")
	return nil
}

// getSystemHostname gets the system hostname, sanitized for mDNS
func getSystemHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "kxctl"
	}

	// Sanitize for mDNS (alphanumeric and hyphens only)
	var sanitized strings.Builder
	for _, c := range strings.ToLower(hostname) {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' {
			sanitized.WriteRune(c)
		}
	}

	if sanitized.Len() == 0 {
		return "kxctl"
	}

	return sanitized.String()
}
