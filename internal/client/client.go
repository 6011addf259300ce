// Package client implements the IPC client used by the CLI to talk to a
// running daemon.
package client

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"kxctl.dev/go/kxctl/internal/audit"
	"kxctl.dev/go/kxctl/internal/config"
	"kxctl.dev/go/kxctl/internal/exchange"
)

// Client is an IPC client for communicating with the daemon
type Client struct {
	conn    net.Conn
	reader  *bufio.Reader
	writer  *bufio.Writer
	decoder *json.Decoder
	mu      sync.Mutex
	reqID   uint64
	timeout time.Duration
}

// Request represents an IPC request
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response represents an IPC response
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Error represents an IPC error
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// Event represents a server-initiated event
type Event struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// RequestEvent is the payload of request.upserted and request.removed
// events.
type RequestEvent struct {
	Direction string            `json:"direction"`
	Request   *exchange.Request `json:"request"`
}

// KeyReadyEvent is the payload of exchange.key_ready events.
type KeyReadyEvent struct {
	Peer string `json:"peer"`
}

// Status mirrors the daemon's status result
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

// Whoami is the daemon's identity summary
type Whoami struct {
	SessionID   string `json:"session_id"`
	Fingerprint string `json:"fingerprint"`
	DisplayName string `json:"display_name"`
}

// RequestList holds the request partitions returned by requests.list
type RequestList struct {
	Sent     []*exchange.Request `json:"sent"`
	Received []*exchange.Request `json:"received"`
}

// LogEntry mirrors a daemon log buffer entry
type LogEntry struct {
	Timestamp time.Time      `json:"ts"`
	Level     string         `json:"level"`
	Message   string         `json:"msg"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// LogStats summarizes the daemon's log buffer
type LogStats struct {
	Total    int            `json:"total"`
	Capacity int            `json:"capacity"`
	ByLevel  map[string]int `json:"by_level"`
}

// Connect creates a new IPC client connected to the daemon
func Connect() (*Client, error) {
	paths, err := config.GetPaths()
	if err != nil {
		return nil, fmt.Errorf("get paths: %w", err)
	}
	return ConnectTo(paths.SocketPath)
}

// ConnectTo creates a new IPC client connected to a specific socket
func ConnectTo(socketPath string) (*Client, error) {
	conn, err := dialIPC(socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}

	reader := bufio.NewReader(conn)
	return &Client{
		conn:    conn,
		reader:  reader,
		writer:  bufio.NewWriter(conn),
		decoder: json.NewDecoder(reader),
		timeout: 30 * time.Second,
	}, nil
}

// Close closes the client connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// SetTimeout sets the request timeout
func (c *Client) SetTimeout(d time.Duration) {
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
}

// Call makes an IPC call and returns the raw result. Calls and event
// reads share one decoder, so issue calls before subscribing.
func (c *Client) Call(method string, params interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := fmt.Sprintf("%d", atomic.AddUint64(&c.reqID, 1))

	var paramsJSON json.RawMessage
	if params != nil {
		var err error
		paramsJSON, err = json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
	}

	req := Request{
		ID:     id,
		Method: method,
		Params: paramsJSON,
	}

	c.conn.SetDeadline(time.Now().Add(c.timeout))
	defer c.conn.SetDeadline(time.Time{})

	encoder := json.NewEncoder(c.writer)
	if err := encoder.Encode(req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if err := c.writer.Flush(); err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}

	var resp Response
	if err := c.decoder.Decode(&resp); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// CallResult makes an IPC call and unmarshals the result
func (c *Client) CallResult(method string, params interface{}, result interface{}) error {
	raw, err := c.Call(method, params)
	if err != nil {
		return err
	}
	if result != nil {
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return nil
}

// Ping checks if the daemon is responsive
func (c *Client) Ping() error {
	_, err := c.Call("ping", nil)
	return err
}

// Status gets the daemon status
func (c *Client) Status() (*Status, error) {
	var status Status
	if err := c.CallResult("status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Metrics returns the daemon's metrics snapshot as raw JSON for display
func (c *Client) Metrics() (json.RawMessage, error) {
	return c.Call("metrics", nil)
}

// Whoami returns the daemon's identity summary
func (c *Client) Whoami() (*Whoami, error) {
	var who Whoami
	if err := c.CallResult("identity.whoami", nil, &who); err != nil {
		return nil, err
	}
	return &who, nil
}

// Requests lists key exchange requests. Direction is "sent", "received"
// or empty for both.
func (c *Client) Requests(direction string) (*RequestList, error) {
	params := map[string]any{}
	if direction != "" {
		params["direction"] = direction
	}
	var list RequestList
	if err := c.CallResult("requests.list", params, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// Send sends a key exchange request to a peer
func (c *Client) Send(peer, phrase string) error {
	params := map[string]any{"peer": peer, "phrase": phrase}
	_, err := c.Call("requests.send", params)
	return err
}

// Accept accepts an incoming request
func (c *Client) Accept(id string) error {
	_, err := c.Call("requests.accept", map[string]any{"id": id})
	return err
}

// Decline declines an incoming request
func (c *Client) Decline(id string) error {
	_, err := c.Call("requests.decline", map[string]any{"id": id})
	return err
}

// Revoke withdraws a sent request
func (c *Client) Revoke(id string) error {
	_, err := c.Call("requests.revoke", map[string]any{"id": id})
	return err
}

// Retry re-sends a failed request
func (c *Client) Retry(id string) error {
	_, err := c.Call("requests.retry", map[string]any{"id": id})
	return err
}

// Remove removes an undecided incoming request
func (c *Client) Remove(id string) error {
	_, err := c.Call("requests.remove", map[string]any{"id": id})
	return err
}

// Migrate folds a legacy flat request list into the partitioned store
// and returns how many entries moved
func (c *Client) Migrate() (int, error) {
	var result struct {
		Migrated int `json:"migrated"`
	}
	if err := c.CallResult("requests.migrate", nil, &result); err != nil {
		return 0, err
	}
	return result.Migrated, nil
}

// SetName sets the display name shown for a peer
func (c *Client) SetName(peer, name string) error {
	params := map[string]any{"peer": peer, "name": name}
	_, err := c.Call("requests.setname", params)
	return err
}

// LogsQuery returns buffered daemon log entries. Since is a duration
// string like "15m"; empty means no window.
func (c *Client) LogsQuery(since, level string, limit int) ([]LogEntry, error) {
	params := map[string]any{}
	if since != "" {
		params["since"] = since
	}
	if level != "" {
		params["level"] = level
	}
	if limit > 0 {
		params["limit"] = limit
	}
	var result struct {
		Entries []LogEntry `json:"entries"`
	}
	if err := c.CallResult("logs.query", params, &result); err != nil {
		return nil, err
	}
	return result.Entries, nil
}

// LogsStats returns log buffer statistics
func (c *Client) LogsStats() (*LogStats, error) {
	var stats LogStats
	if err := c.CallResult("logs.stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// AuditOpts filters an audit query. All fields are optional.
type AuditOpts struct {
	Since    string
	Level    string
	Category string
	Action   string
	Peer     string
	Search   string
	Limit    int
}

// AuditQuery returns audit events matching the filter
func (c *Client) AuditQuery(opts AuditOpts) ([]audit.Event, error) {
	params := map[string]any{}
	if opts.Since != "" {
		params["since"] = opts.Since
	}
	if opts.Level != "" {
		params["level"] = opts.Level
	}
	if opts.Category != "" {
		params["category"] = opts.Category
	}
	if opts.Action != "" {
		params["action"] = opts.Action
	}
	if opts.Peer != "" {
		params["peer"] = opts.Peer
	}
	if opts.Search != "" {
		params["search"] = opts.Search
	}
	if opts.Limit > 0 {
		params["limit"] = opts.Limit
	}
	var result struct {
		Events []audit.Event `json:"events"`
	}
	if err := c.CallResult("audit.query", params, &result); err != nil {
		return nil, err
	}
	return result.Events, nil
}

// Subscribe subscribes to events
func (c *Client) Subscribe() error {
	_, err := c.Call("subscribe", nil)
	return err
}

// ReadEvent reads the next event (blocking)
func (c *Client) ReadEvent() (*Event, error) {
	var event Event
	if err := c.decoder.Decode(&event); err != nil {
		return nil, err
	}
	return &event, nil
}

// IsRunning checks if the daemon is running by attempting to connect
func IsRunning() bool {
	client, err := Connect()
	if err != nil {
		return false
	}
	defer client.Close()

	return client.Ping() == nil
}

// ErrDaemonNotRunning is returned when the daemon is not running
var ErrDaemonNotRunning = errors.New("daemon is not running")

// RequireDaemon returns an error if the daemon is not running
func RequireDaemon() error {
	if !IsRunning() {
		return ErrDaemonNotRunning
	}
	return nil
}
