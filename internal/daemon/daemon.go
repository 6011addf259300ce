package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"kxctl.dev/go/kxctl/internal/audit"
	"kxctl.dev/go/kxctl/internal/config"
	"kxctl.dev/go/kxctl/internal/exchange"
	"kxctl.dev/go/kxctl/internal/identity"
	"kxctl.dev/go/kxctl/internal/keystore"
	"kxctl.dev/go/kxctl/internal/kv"
	"kxctl.dev/go/kxctl/internal/notify"
	"kxctl.dev/go/kxctl/internal/protocol"
)

// Daemon is the long-running kxctl host process. It owns the identity,
// the KV store, the keystore and the exchange coordinator, and exposes
// them over IPC and the localhost web API.
type Daemon struct {
	identity    *identity.Identity
	paths       *config.Paths
	store       *kv.FileStore
	requests    *exchange.RequestStore
	keys        *keystore.Keystore
	coordinator *exchange.Coordinator
	transport   protocol.Transport
	notify      *notify.Service
	audit       *audit.Logger
	limiter     *RateLimiter
	ipcServer   *IPCServer
	hub         *WSHub
	webServer   *WebServer
	mdns        *MDNSService
	wake        *WakeWatcher
	logBuffer   *LogBuffer
	metrics     *Metrics
	version     string
	webPort     int
	autoAccept  bool
	startTime   time.Time
	ctx         context.Context
	cancel      context.CancelFunc

	// lastStatus tracks the most recent status seen per request so
	// lifecycle counters only count genuine transitions, not re-emits.
	// knownPeers holds peers from completed exchanges; the coordinator
	// stores an inbound request's inline key before the listener fires,
	// so the keystore alone cannot tell old peers from new ones.
	mu         sync.Mutex
	lastStatus map[string]exchange.Status
	knownPeers map[string]bool
}

// Status represents the daemon's current status
type Status struct {
	Running       bool      `json:"running"`
	PID           int       `json:"pid"`
	Version       string    `json:"version"`
	Uptime        string    `json:"uptime"`
	StartTime     time.Time `json:"start_time"`
	SessionID     string    `json:"session_id"`
	Fingerprint   string    `json:"fingerprint"`
	DisplayName   string    `json:"display_name"`
	Connected     bool      `json:"connected"`
	SentCount     int       `json:"sent_count"`
	ReceivedCount int       `json:"received_count"`
	TrustedPeers  int       `json:"trusted_peers"`
	WebEnabled    bool      `json:"web_enabled"`
	WebPort       int       `json:"web_port,omitempty"`
}

// Options configures the daemon
type Options struct {
	Paths         *config.Paths
	Identity      *identity.Identity
	Version       string
	WebPort       int
	WebEnabled    bool
	MDNSEnabled   bool
	NotifyEnabled bool
	AutoAccept    bool
	LogLevel      string

	// Transport is the peer network link. Nil means no transport is
	// configured yet; sends fail and entries go to failed for retry.
	Transport protocol.Transport

	// RateLimits overrides the inbound event limits. Nil uses defaults.
	RateLimits *RateLimitConfig
}

// New creates a new daemon instance
func New(opts *Options) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	// Capture logs in a ring buffer alongside stderr
	logBuffer := NewLogBuffer(LogBufferSize)
	baseHandler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(opts.LogLevel),
	})
	slog.SetDefault(slog.New(NewBufferedHandler(logBuffer, baseHandler)))

	store, err := kv.OpenFile(opts.Paths.StoreFile)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open store: %w", err)
	}

	keys, err := keystore.New(store, opts.Identity)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open keystore: %w", err)
	}

	d := &Daemon{
		identity:   opts.Identity,
		paths:      opts.Paths,
		store:      store,
		requests:   exchange.NewRequestStore(store),
		keys:       keys,
		notify:     notify.NewService(opts.NotifyEnabled),
		audit:      audit.Default(),
		limiter:    NewRateLimiter(opts.RateLimits),
		logBuffer:  logBuffer,
		metrics:    NewMetrics(),
		version:    opts.Version,
		autoAccept: opts.AutoAccept,
		startTime:  time.Now(),
		ctx:        ctx,
		cancel:     cancel,
		lastStatus: make(map[string]exchange.Status),
		knownPeers: make(map[string]bool),
	}
	d.audit.SetIdentity(opts.Identity.SessionID())

	transport := opts.Transport
	if transport == nil {
		transport = protocol.NewNullTransport()
	}
	d.transport = NewBridge(transport, d.limiter, d.metrics)

	d.coordinator = exchange.NewCoordinator(opts.Identity, d.requests, keys, d.transport, &notifierFan{d: d})
	d.coordinator.SetListener(d.onRequestChange)
	d.seedTrackers()

	d.notify.SetResolver(d.peerDisplayName)

	d.ipcServer = NewIPCServer(opts.Paths.SocketPath, d)
	d.hub = NewWSHub()

	if opts.WebEnabled {
		d.webPort = opts.WebPort
		if d.webPort == 0 {
			d.webPort = 7936
		}
		d.webServer = NewWebServer(d, d.hub, d.webPort)

		// The announcement advertises the web API; without the API
		// there is nothing to announce.
		if opts.MDNSEnabled {
			d.mdns = NewMDNSService(d.webPort, opts.Identity.SessionID(), opts.Identity.DisplayName)
		}
	}

	// Register the exchange method table
	handlers := NewHandlers(d)
	handlers.RegisterHandlers()

	return d, nil
}

// seedTrackers primes the transition tracker with the requests that
// survived restart, so their first re-emit is not counted as new, and
// marks peers whose keys predate this run as known.
func (d *Daemon) seedTrackers() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.coordinator.Sent() {
		d.lastStatus[r.ID] = r.Status
	}
	for _, r := range d.coordinator.Received() {
		d.lastStatus[r.ID] = r.Status
	}
	for _, p := range d.keys.Peers() {
		d.knownPeers[p] = true
	}
}

// Start starts the daemon
func (d *Daemon) Start() error {
	slog.Info("Starting daemon",
		"session", identity.ShortSessionID(d.identity.SessionID()),
		"fingerprint", d.identity.Fingerprint(),
	)

	// Write PID file
	if d.paths.PIDFile != "" {
		if err := os.WriteFile(d.paths.PIDFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0600); err != nil {
			slog.Warn("Failed to write PID file", "error", err)
		}
	}

	if err := d.ipcServer.Start(d.ctx); err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}

	go d.hub.Run()

	if d.webServer != nil {
		if err := d.webServer.Start(d.ctx); err != nil {
			return fmt.Errorf("start web server: %w", err)
		}
	}

	if d.mdns != nil {
		if err := d.mdns.Start(); err != nil {
			slog.Warn("mDNS announcement unavailable", "error", err)
		}
	}

	// Resume completion polling for accepts interrupted by shutdown
	if resumed := d.coordinator.ResumeCompletion(); resumed > 0 {
		slog.Info("Resumed completion polling", "requests", resumed)
	}

	// Poll timers stall across system sleep; kick the stragglers on wake
	d.wake = NewWakeWatcher(func(gap time.Duration) {
		if resumed := d.coordinator.ResumeCompletion(); resumed > 0 {
			slog.Info("Resumed completion polling after wake", "requests", resumed)
		}
	})
	d.wake.Start()

	audit.LogDaemonStarted(d.version, d.webPort)
	slog.Info("Daemon started")

	return nil
}

// Run runs the daemon until interrupted
func (d *Daemon) Run() error {
	if err := d.Start(); err != nil {
		return err
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	reason := "stopped"
	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down", "signal", sig)
		reason = sig.String()
	case <-d.ctx.Done():
	}

	return d.stop(reason)
}

// Stop stops the daemon gracefully
func (d *Daemon) Stop() error {
	return d.stop("stopped")
}

func (d *Daemon) stop(reason string) error {
	slog.Info("Stopping daemon")

	d.cancel()

	if d.wake != nil {
		d.wake.Stop()
	}

	if d.mdns != nil {
		d.mdns.Stop()
	}

	if d.webServer != nil {
		d.webServer.Stop()
	}

	d.ipcServer.Stop()

	// Cancel completion polling before the transport goes away
	d.coordinator.Close()
	d.transport.Close()

	audit.LogDaemonStopped(reason)

	// Remove PID file
	if d.paths.PIDFile != "" {
		os.Remove(d.paths.PIDFile)
	}

	slog.Info("Daemon stopped")
	return nil
}

// Status returns the daemon's current status
func (d *Daemon) Status() *Status {
	uptime := time.Since(d.startTime)

	return &Status{
		Running:       true,
		PID:           os.Getpid(),
		Version:       d.version,
		Uptime:        uptime.Round(time.Second).String(),
		StartTime:     d.startTime,
		SessionID:     d.identity.SessionID(),
		Fingerprint:   d.identity.Fingerprint(),
		DisplayName:   d.identity.DisplayName,
		Connected:     d.transport.Connected(),
		SentCount:     len(d.coordinator.Sent()),
		ReceivedCount: len(d.coordinator.Received()),
		TrustedPeers:  len(d.keys.Peers()),
		WebEnabled:    d.webServer != nil,
		WebPort:       d.webPort,
	}
}

// onRequestChange fans a request list change out to IPC clients, the
// WebSocket hub, the metrics counters and the auto-accept policy. It
// runs inline with the coordinator's per-peer lock held, so anything
// that calls back into the coordinator must happen on a goroutine.
func (d *Daemon) onRequestChange(kind exchange.ChangeKind, dir exchange.Direction, req *exchange.Request) {
	d.recordTransition(kind, dir, req)

	payload, err := json.Marshal(map[string]any{
		"direction": dir,
		"request":   req,
	})
	if err != nil {
		return
	}

	event := EventRequestUpserted
	if kind == exchange.ChangeRemoved {
		event = EventRequestRemoved
	}

	d.BroadcastEvent(&Event{Event: event, Payload: payload})
	d.hub.Broadcast(&Event{Event: event, Payload: payload})

	if d.shouldAutoAccept(kind, dir, req) {
		id := req.ID
		peer := req.FromSessionID
		go func() {
			ctx, cancel := context.WithTimeout(d.ctx, opTimeout)
			defer cancel()
			if err := d.coordinator.Accept(ctx, id); err != nil {
				slog.Debug("Auto-accept failed",
					"id", id,
					"peer", identity.ShortSessionID(peer),
					"error", err,
				)
			} else {
				slog.Info("Auto-accepted request from trusted peer",
					"peer", identity.ShortSessionID(peer),
				)
			}
		}()
	}
}

// shouldAutoAccept approves fresh incoming requests from peers we have
// completed an exchange with before. Unknown peers always wait for the
// user.
func (d *Daemon) shouldAutoAccept(kind exchange.ChangeKind, dir exchange.Direction, req *exchange.Request) bool {
	if !d.autoAccept ||
		kind != exchange.ChangeUpserted ||
		dir != exchange.DirectionReceived ||
		req.Status != exchange.StatusReceived {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.knownPeers[req.FromSessionID]
}

// recordTransition bumps lifecycle counters when a request genuinely
// changes status.
func (d *Daemon) recordTransition(kind exchange.ChangeKind, dir exchange.Direction, req *exchange.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if kind == exchange.ChangeRemoved {
		delete(d.lastStatus, req.ID)
		return
	}

	prev, seen := d.lastStatus[req.ID]
	d.lastStatus[req.ID] = req.Status
	if seen && prev == req.Status {
		return
	}

	switch req.Status {
	case exchange.StatusSent:
		d.metrics.RequestsSent.Add(1)
	case exchange.StatusReceived:
		d.metrics.RequestsReceived.Add(1)
	case exchange.StatusAccepted:
		d.metrics.RequestsAccepted.Add(1)
	case exchange.StatusDeclined:
		d.metrics.RequestsDeclined.Add(1)
	case exchange.StatusRevoked:
		d.metrics.RequestsRevoked.Add(1)
	case exchange.StatusFailed:
		d.metrics.RequestsFailed.Add(1)
		d.metrics.RecordError("exchange", "request delivery failed",
			req.Peer(d.identity.SessionID()))
	}
}

// markPeerKnown records a completed exchange with the peer, making it
// eligible for auto-accept on later requests.
func (d *Daemon) markPeerKnown(peer string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.knownPeers[peer] = true
}

// peerDisplayName resolves a peer session ID to the display name
// learned during an exchange, if any.
func (d *Daemon) peerDisplayName(peer string) string {
	for _, r := range d.coordinator.Received() {
		if r.FromSessionID == peer && r.DisplayName != "" {
			return r.DisplayName
		}
	}
	for _, r := range d.coordinator.Sent() {
		if r.ToSessionID == peer && r.DisplayName != "" {
			return r.DisplayName
		}
	}
	return ""
}

// broadcastKeyReady tells every connected client the exchange with the
// peer is complete and messaging keys are in place.
func (d *Daemon) broadcastKeyReady(peer string) {
	payload, err := json.Marshal(map[string]any{"peer": peer})
	if err != nil {
		return
	}
	d.BroadcastEvent(&Event{Event: EventKeyReady, Payload: payload})
	d.hub.Broadcast(&Event{Event: EventKeyReady, Payload: payload})
}

// Identity returns the daemon's identity
func (d *Daemon) Identity() *identity.Identity {
	return d.identity
}

// Coordinator returns the exchange coordinator
func (d *Daemon) Coordinator() *exchange.Coordinator {
	return d.coordinator
}

// Keystore returns the peer key store
func (d *Daemon) Keystore() *keystore.Keystore {
	return d.keys
}

// Audit returns the audit logger
func (d *Daemon) Audit() *audit.Logger {
	return d.audit
}

// LogBuffer returns the daemon's log buffer
func (d *Daemon) LogBuffer() *LogBuffer {
	return d.logBuffer
}

// Metrics returns the metrics collector
func (d *Daemon) Metrics() *Metrics {
	return d.metrics
}

// Notifier returns the notification service
func (d *Daemon) Notifier() *notify.Service {
	return d.notify
}

// BroadcastEvent broadcasts an event to all subscribed IPC clients
func (d *Daemon) BroadcastEvent(event *Event) {
	if d.ipcServer != nil {
		d.ipcServer.BroadcastEvent(event)
	}
}

// MetricsSnapshot returns a point-in-time snapshot of all metrics
func (d *Daemon) MetricsSnapshot() *MetricsSnapshot {
	ps := d.coordinator.PollerStats()
	d.metrics.PollersStarted.Store(ps.Started)
	d.metrics.PollersSatisfied.Store(ps.Satisfied)
	d.metrics.PollersExhausted.Store(ps.Exhausted)

	return d.metrics.Snapshot(func() GaugeMetrics {
		sent := d.coordinator.Sent()
		received := d.coordinator.Received()

		active := 0
		for _, r := range sent {
			if r.Active() {
				active++
			}
		}
		for _, r := range received {
			if r.Active() {
				active++
			}
		}

		return GaugeMetrics{
			SentRequests:     len(sent),
			ReceivedRequests: len(received),
			ActiveRequests:   active,
			TrustedPeers:     len(d.keys.Peers()),
			WSClients:        d.hub.ClientCount(),
			IPCSubscribers:   d.ipcServer.SubscriberCount(),
		}
	})
}

// notifierFan receives the coordinator's lifecycle callbacks and fans
// them into desktop notifications and the event stream.
type notifierFan struct {
	d *Daemon
}

func (n *notifierFan) RequestReceived(peer, phrase string) {
	n.d.notify.RequestReceived(peer, phrase)
}

func (n *notifierFan) RequestAccepted(peer string) {
	n.d.notify.RequestAccepted(peer)
}

func (n *notifierFan) RequestDeclined(peer string) {
	n.d.notify.RequestDeclined(peer)
}

func (n *notifierFan) RequestRevoked(peer string) {
	n.d.notify.RequestRevoked(peer)
}

func (n *notifierFan) KeyReady(peer string) {
	n.d.markPeerKnown(peer)
	n.d.notify.KeyReady(peer)
	n.d.broadcastKeyReady(peer)
}
