package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"kxctl.dev/go/kxctl/internal/audit"
	"kxctl.dev/go/kxctl/internal/exchange"
)

// opTimeout bounds IPC-initiated operations that touch the transport.
const opTimeout = 30 * time.Second

// Handlers contains all IPC method handlers
type Handlers struct {
	daemon *Daemon
}

// NewHandlers creates a new handlers instance
func NewHandlers(daemon *Daemon) *Handlers {
	return &Handlers{daemon: daemon}
}

// RegisterHandlers registers all handlers with the IPC server
func (h *Handlers) RegisterHandlers() {
	// Request lifecycle handlers
	ipcHandlers["requests.list"] = h.handleRequestsList
	ipcHandlers["requests.send"] = h.handleRequestsSend
	ipcHandlers["requests.accept"] = h.handleRequestsAccept
	ipcHandlers["requests.decline"] = h.handleRequestsDecline
	ipcHandlers["requests.revoke"] = h.handleRequestsRevoke
	ipcHandlers["requests.retry"] = h.handleRequestsRetry
	ipcHandlers["requests.remove"] = h.handleRequestsRemove
	ipcHandlers["requests.migrate"] = h.handleRequestsMigrate
	ipcHandlers["requests.setname"] = h.handleRequestsSetName

	// Identity handlers
	ipcHandlers["identity.whoami"] = h.handleWhoami

	// Log handlers
	ipcHandlers["logs.query"] = h.handleLogsQuery
	ipcHandlers["logs.stats"] = h.handleLogsStats

	// Audit handlers
	ipcHandlers["audit.query"] = h.handleAuditQuery
}

// Request list handler
func (h *Handlers) handleRequestsList(ctx context.Context, d *Daemon, client *IPCClient, params json.RawMessage) (interface{}, error) {
	var req struct {
		Direction string `json:"direction,omitempty"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
	}

	result := make(map[string]interface{})
	switch exchange.Direction(req.Direction) {
	case exchange.DirectionSent:
		result["sent"] = d.coordinator.Sent()
	case exchange.DirectionReceived:
		result["received"] = d.coordinator.Received()
	case "":
		result["sent"] = d.coordinator.Sent()
		result["received"] = d.coordinator.Received()
	default:
		return nil, fmt.Errorf("invalid direction: %s", req.Direction)
	}
	return result, nil
}

// Send request handler
func (h *Handlers) handleRequestsSend(ctx context.Context, d *Daemon, client *IPCClient, params json.RawMessage) (interface{}, error) {
	var req struct {
		Peer   string `json:"peer"`
		Phrase string `json:"phrase"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := d.coordinator.SendRequest(ctx, req.Peer, req.Phrase); err != nil {
		return nil, err
	}
	return map[string]interface{}{"peer": req.Peer, "sent": true}, nil
}

// Accept handler
func (h *Handlers) handleRequestsAccept(ctx context.Context, d *Daemon, client *IPCClient, params json.RawMessage) (interface{}, error) {
	id, err := requestID(params)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := d.coordinator.Accept(ctx, id); err != nil {
		return nil, err
	}
	return map[string]interface{}{"id": id, "accepted": true}, nil
}

// Decline handler
func (h *Handlers) handleRequestsDecline(ctx context.Context, d *Daemon, client *IPCClient, params json.RawMessage) (interface{}, error) {
	id, err := requestID(params)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := d.coordinator.Decline(ctx, id); err != nil {
		return nil, err
	}
	return map[string]interface{}{"id": id, "declined": true}, nil
}

// Revoke handler
func (h *Handlers) handleRequestsRevoke(ctx context.Context, d *Daemon, client *IPCClient, params json.RawMessage) (interface{}, error) {
	id, err := requestID(params)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := d.coordinator.Revoke(ctx, id); err != nil {
		return nil, err
	}
	return map[string]interface{}{"id": id, "revoked": true}, nil
}

// Retry handler
func (h *Handlers) handleRequestsRetry(ctx context.Context, d *Daemon, client *IPCClient, params json.RawMessage) (interface{}, error) {
	id, err := requestID(params)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := d.coordinator.Retry(ctx, id); err != nil {
		return nil, err
	}
	d.metrics.RequestsRetried.Add(1)
	return map[string]interface{}{"id": id, "retried": true}, nil
}

// Remove handler
func (h *Handlers) handleRequestsRemove(ctx context.Context, d *Daemon, client *IPCClient, params json.RawMessage) (interface{}, error) {
	id, err := requestID(params)
	if err != nil {
		return nil, err
	}

	if err := d.coordinator.Delete(id); err != nil {
		return nil, err
	}
	return map[string]interface{}{"id": id, "removed": true}, nil
}

// Migrate handler. Migration normally runs once at startup; this re-runs
// it for stores modified outside the daemon.
func (h *Handlers) handleRequestsMigrate(ctx context.Context, d *Daemon, client *IPCClient, params json.RawMessage) (interface{}, error) {
	migrated, err := d.requests.MigrateLegacy(d.identity.SessionID())
	if err != nil {
		return nil, err
	}
	if migrated > 0 {
		d.coordinator.Reload()
		audit.LogExchangeMigrated(migrated)
	}
	return map[string]interface{}{"migrated": migrated}, nil
}

// Set display name handler
func (h *Handlers) handleRequestsSetName(ctx context.Context, d *Daemon, client *IPCClient, params json.RawMessage) (interface{}, error) {
	var req struct {
		Peer string `json:"peer"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if req.Peer == "" {
		return nil, fmt.Errorf("invalid params: missing peer")
	}

	d.coordinator.SetDisplayName(req.Peer, req.Name)
	return map[string]interface{}{"peer": req.Peer, "name": req.Name}, nil
}

// Whoami handler
func (h *Handlers) handleWhoami(ctx context.Context, d *Daemon, client *IPCClient, params json.RawMessage) (interface{}, error) {
	return map[string]interface{}{
		"session_id":   d.identity.SessionID(),
		"fingerprint":  d.identity.Fingerprint(),
		"display_name": d.identity.DisplayName,
	}, nil
}

// Log query handler
func (h *Handlers) handleLogsQuery(ctx context.Context, d *Daemon, client *IPCClient, params json.RawMessage) (interface{}, error) {
	var req struct {
		Since string `json:"since,omitempty"`
		Level string `json:"level,omitempty"`
		Limit int    `json:"limit,omitempty"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
	}

	opts := LogQueryOpts{Level: req.Level, Limit: req.Limit}
	if req.Since != "" {
		dur, err := time.ParseDuration(req.Since)
		if err != nil {
			return nil, fmt.Errorf("invalid since: %w", err)
		}
		since := time.Now().Add(-dur)
		opts.Since = &since
	}

	entries := d.logBuffer.Query(opts)
	return map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	}, nil
}

// Log stats handler
func (h *Handlers) handleLogsStats(ctx context.Context, d *Daemon, client *IPCClient, params json.RawMessage) (interface{}, error) {
	entries := d.logBuffer.Query(LogQueryOpts{})
	byLevel := make(map[string]int)
	for _, e := range entries {
		byLevel[e.Level]++
	}
	return map[string]interface{}{
		"total":    len(entries),
		"capacity": LogBufferSize,
		"by_level": byLevel,
	}, nil
}

// Audit query handler
func (h *Handlers) handleAuditQuery(ctx context.Context, d *Daemon, client *IPCClient, params json.RawMessage) (interface{}, error) {
	var req struct {
		Since    string `json:"since,omitempty"`
		Level    string `json:"level,omitempty"`
		Category string `json:"category,omitempty"`
		Action   string `json:"action,omitempty"`
		Peer     string `json:"peer,omitempty"`
		Search   string `json:"search,omitempty"`
		Limit    int    `json:"limit,omitempty"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
	}

	opts := audit.QueryOpts{
		Level:    req.Level,
		Category: req.Category,
		Action:   req.Action,
		Peer:     req.Peer,
		Search:   req.Search,
		Limit:    req.Limit,
	}
	if req.Since != "" {
		dur, err := time.ParseDuration(req.Since)
		if err != nil {
			return nil, fmt.Errorf("invalid since: %w", err)
		}
		since := time.Now().Add(-dur)
		opts.Since = &since
	}

	events := d.audit.Query(opts)
	return map[string]interface{}{
		"events": events,
		"count":  len(events),
	}, nil
}

// requestID extracts the id param shared by the single-request handlers.
func requestID(params json.RawMessage) (string, error) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return "", fmt.Errorf("invalid params: %w", err)
	}
	if req.ID == "" {
		return "", fmt.Errorf("invalid params: missing id")
	}
	return req.ID, nil
}

// errorCode maps coordinator errors to IPC error codes.
func errorCode(err error) int {
	switch {
	case errors.Is(err, exchange.ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, exchange.ErrCrossDirectionConflict):
		return ErrCodeConflict
	case errors.Is(err, exchange.ErrTerminalState):
		return ErrCodeTerminal
	case errors.Is(err, exchange.ErrTransportUnavailable):
		return ErrCodeUnavailable
	case errors.Is(err, exchange.ErrInvalidPayload):
		return ErrCodeInvalidParams
	default:
		return ErrCodeInternalError
	}
}
