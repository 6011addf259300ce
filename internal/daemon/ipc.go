package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
)

// Request represents an IPC request from a client
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response represents an IPC response to a client
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

// Event represents a server-initiated event
type Event struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Common error codes
const (
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
	ErrCodeNotFound       = -32000
	ErrCodeConflict       = -32001
	ErrCodeTerminal       = -32002
	ErrCodeUnavailable    = -32003
)

// IPCServer handles IPC connections from CLI clients
type IPCServer struct {
	socketPath string
	listener   net.Listener
	daemon     *Daemon
	clients    map[*IPCClient]bool
	clientsMu  sync.RWMutex
	done       chan struct{}
}

// IPCClient represents a connected IPC client
type IPCClient struct {
	conn       net.Conn
	server     *IPCServer
	writer     *bufio.Writer
	writerMu   sync.Mutex
	subscribed bool
}

// NewIPCServer creates a new IPC server
func NewIPCServer(socketPath string, daemon *Daemon) *IPCServer {
	return &IPCServer{
		socketPath: socketPath,
		daemon:     daemon,
		clients:    make(map[*IPCClient]bool),
		done:       make(chan struct{}),
	}
}

// Start starts the IPC server
func (s *IPCServer) Start(ctx context.Context) error {
	// Create platform-specific listener
	listener, err := createIPCListener(s.socketPath)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = listener

	_, address := getIPCAddress(s.socketPath)
	slog.Info("IPC server listening", "address", address)

	go s.acceptLoop(ctx)

	return nil
}

// Stop stops the IPC server
func (s *IPCServer) Stop() {
	close(s.done)

	if s.listener != nil {
		s.listener.Close()
	}

	// Close all clients
	s.clientsMu.Lock()
	for client := range s.clients {
		client.conn.Close()
	}
	s.clientsMu.Unlock()

	// Platform-specific cleanup
	cleanupIPCListener(s.socketPath)
}

func (s *IPCServer) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				slog.Error("IPC accept error", "error", err)
				continue
			}
		}

		client := &IPCClient{
			conn:   conn,
			server: s,
			writer: bufio.NewWriter(conn),
		}

		s.clientsMu.Lock()
		s.clients[client] = true
		s.clientsMu.Unlock()

		go s.handleClient(ctx, client)
	}
}

func (s *IPCServer) handleClient(ctx context.Context, client *IPCClient) {
	defer func() {
		client.conn.Close()
		s.clientsMu.Lock()
		delete(s.clients, client)
		s.clientsMu.Unlock()
	}()

	reader := bufio.NewReader(client.conn)
	decoder := json.NewDecoder(reader)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		var req Request
		if err := decoder.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Debug("IPC decode error", "error", err)
			continue
		}

		resp := s.handleRequest(ctx, client, &req)
		if err := client.SendResponse(resp); err != nil {
			slog.Debug("IPC send error", "error", err)
			return
		}
	}
}

func (s *IPCServer) handleRequest(ctx context.Context, client *IPCClient, req *Request) *Response {
	handler, ok := ipcHandlers[req.Method]
	if !ok {
		return &Response{
			ID: req.ID,
			Error: &Error{
				Code:    ErrCodeMethodNotFound,
				Message: fmt.Sprintf("method not found: %s", req.Method),
			},
		}
	}

	result, err := handler(ctx, s.daemon, client, req.Params)
	if err != nil {
		return &Response{
			ID: req.ID,
			Error: &Error{
				Code:    errorCode(err),
				Message: err.Error(),
			},
		}
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return &Response{
			ID: req.ID,
			Error: &Error{
				Code:    ErrCodeInternalError,
				Message: "failed to encode result",
			},
		}
	}

	return &Response{
		ID:     req.ID,
		Result: resultJSON,
	}
}

// SendResponse sends a response to the client
func (c *IPCClient) SendResponse(resp *Response) error {
	c.writerMu.Lock()
	defer c.writerMu.Unlock()

	encoder := json.NewEncoder(c.writer)
	if err := encoder.Encode(resp); err != nil {
		return err
	}
	return c.writer.Flush()
}

// SendEvent sends an event to the client (if subscribed)
func (c *IPCClient) SendEvent(event *Event) error {
	if !c.subscribed {
		return nil
	}

	c.writerMu.Lock()
	defer c.writerMu.Unlock()

	encoder := json.NewEncoder(c.writer)
	if err := encoder.Encode(event); err != nil {
		return err
	}
	return c.writer.Flush()
}

// BroadcastEvent broadcasts an event to all subscribed clients
func (s *IPCServer) BroadcastEvent(event *Event) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		if client.subscribed {
			go client.SendEvent(event)
		}
	}
}

// SubscriberCount returns the number of clients subscribed to events
func (s *IPCServer) SubscriberCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	n := 0
	for client := range s.clients {
		if client.subscribed {
			n++
		}
	}
	return n
}

// IPC handler function type
type IPCHandler func(ctx context.Context, d *Daemon, client *IPCClient, params json.RawMessage) (interface{}, error)

// ipcHandlers maps method names to handlers. The exchange method table is
// registered by Handlers.RegisterHandlers.
var ipcHandlers = map[string]IPCHandler{
	"status":    handleStatus,
	"metrics":   handleMetrics,
	"subscribe": handleSubscribe,
	"ping":      handlePing,
}

// Handler implementations

func handleStatus(ctx context.Context, d *Daemon, client *IPCClient, params json.RawMessage) (interface{}, error) {
	return d.Status(), nil
}

func handleMetrics(ctx context.Context, d *Daemon, client *IPCClient, params json.RawMessage) (interface{}, error) {
	return d.MetricsSnapshot(), nil
}

func handleSubscribe(ctx context.Context, d *Daemon, client *IPCClient, params json.RawMessage) (interface{}, error) {
	client.subscribed = true
	return map[string]bool{"subscribed": true}, nil
}

func handlePing(ctx context.Context, d *Daemon, client *IPCClient, params json.RawMessage) (interface{}, error) {
	return map[string]bool{"pong": true}, nil
}
