package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"kxctl.dev/go/kxctl/internal/audit"
	"kxctl.dev/go/kxctl/internal/exchange"
)

// WebServer exposes the localhost HTTP API and the WebSocket event
// stream. It binds to 127.0.0.1 only; companion UIs on the same host
// are the intended consumers.
type WebServer struct {
	daemon *Daemon
	server *http.Server
	hub    *WSHub
}

// NewWebServer creates a new web server
func NewWebServer(daemon *Daemon, hub *WSHub, port int) *WebServer {
	ws := &WebServer{
		daemon: daemon,
		hub:    hub,
	}

	mux := http.NewServeMux()

	// API routes
	mux.HandleFunc("/api/status", ws.handleStatus)
	mux.HandleFunc("/api/metrics", ws.handleMetrics)
	mux.HandleFunc("/api/requests", ws.handleRequests)
	mux.HandleFunc("/api/audit", ws.handleAudit)
	mux.HandleFunc("/api/logs", ws.handleLogs)
	mux.HandleFunc("/api/logs/stats", ws.handleLogStats)

	// WebSocket event stream
	mux.HandleFunc("/ws", hub.HandleWebSocket)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body><h1>kxctl</h1><p>API only; see /api/status</p></body></html>"))
	})

	ws.server = &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", port),
		Handler:      corsMiddleware(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	return ws
}

// Start starts the web server
func (ws *WebServer) Start(ctx context.Context) error {
	slog.Info("Web server starting", "addr", ws.server.Addr)

	go func() {
		if err := ws.server.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("Web server error", "error", err)
		}
	}()

	return nil
}

// Stop stops the web server
func (ws *WebServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws.server.Shutdown(ctx)
}

// API Handlers

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	ws.jsonResponse(w, ws.daemon.Status())
}

func (ws *WebServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	ws.jsonResponse(w, ws.daemon.MetricsSnapshot())
}

func (ws *WebServer) handleRequests(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		result := make(map[string]interface{})
		switch exchange.Direction(r.URL.Query().Get("direction")) {
		case exchange.DirectionSent:
			result["sent"] = ws.daemon.Coordinator().Sent()
		case exchange.DirectionReceived:
			result["received"] = ws.daemon.Coordinator().Received()
		case "":
			result["sent"] = ws.daemon.Coordinator().Sent()
			result["received"] = ws.daemon.Coordinator().Received()
		default:
			ws.errorResponse(w, http.StatusBadRequest, "invalid direction")
			return
		}
		ws.jsonResponse(w, result)

	case http.MethodPost:
		var body struct {
			ID     string `json:"id"`
			Action string `json:"action"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			ws.errorResponse(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.ID == "" {
			ws.errorResponse(w, http.StatusBadRequest, "id required")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), opTimeout)
		defer cancel()

		coord := ws.daemon.Coordinator()
		var err error
		switch body.Action {
		case "accept":
			err = coord.Accept(ctx, body.ID)
		case "decline":
			err = coord.Decline(ctx, body.ID)
		case "revoke":
			err = coord.Revoke(ctx, body.ID)
		case "retry":
			err = coord.Retry(ctx, body.ID)
			if err == nil {
				ws.daemon.metrics.RequestsRetried.Add(1)
			}
		case "remove":
			err = coord.Delete(body.ID)
		default:
			ws.errorResponse(w, http.StatusBadRequest, "action must be accept, decline, revoke, retry or remove")
			return
		}
		if err != nil {
			ws.errorResponse(w, httpStatus(err), err.Error())
			return
		}

		ws.jsonResponse(w, map[string]interface{}{
			"id":     body.ID,
			"status": body.Action,
		})

	default:
		ws.errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (ws *WebServer) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	opts := audit.QueryOpts{
		Limit: 500,
	}

	q := r.URL.Query()

	if level := q.Get("level"); level != "" {
		opts.Level = strings.ToUpper(level)
	}

	if category := q.Get("category"); category != "" {
		opts.Category = category
	}

	if action := q.Get("action"); action != "" {
		opts.Action = action
	}

	if peer := q.Get("peer"); peer != "" {
		opts.Peer = peer
	}

	if search := q.Get("search"); search != "" {
		opts.Search = search
	}

	if since := q.Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			opts.Since = &t
		}
	}

	if until := q.Get("until"); until != "" {
		if t, err := time.Parse(time.RFC3339, until); err == nil {
			opts.Until = &t
		}
	}

	if limit := q.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 && n <= 5000 {
			opts.Limit = n
		}
	}

	events := ws.daemon.Audit().Query(opts)
	categories := make(map[string]int)
	for _, e := range events {
		categories[e.Category]++
	}

	ws.jsonResponse(w, map[string]any{
		"events":     events,
		"count":      len(events),
		"categories": categories,
	})
}

func (ws *WebServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	opts := LogQueryOpts{
		Limit: 500, // Default limit
	}

	// Parse query parameters
	q := r.URL.Query()

	if level := q.Get("level"); level != "" {
		opts.Level = strings.ToUpper(level)
	}

	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err == nil {
			opts.Since = &t
		}
	}

	if until := q.Get("until"); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err == nil {
			opts.Until = &t
		}
	}

	if limit := q.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 && n <= 5000 {
			opts.Limit = n
		}
	}

	entries := ws.daemon.LogBuffer().Query(opts)

	ws.jsonResponse(w, map[string]any{
		"entries": entries,
		"count":   len(entries),
		"total":   ws.daemon.LogBuffer().Count(),
	})
}

func (ws *WebServer) handleLogStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// Count by level
	all := ws.daemon.LogBuffer().Query(LogQueryOpts{})

	stats := map[string]int{
		"total": len(all),
		"debug": 0,
		"info":  0,
		"warn":  0,
		"error": 0,
	}

	for _, entry := range all {
		switch entry.Level {
		case "DEBUG":
			stats["debug"]++
		case "INFO":
			stats["info"]++
		case "WARN":
			stats["warn"]++
		case "ERROR":
			stats["error"]++
		}
	}

	ws.jsonResponse(w, stats)
}

// Helper methods

func (ws *WebServer) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (ws *WebServer) errorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// httpStatus maps coordinator errors to HTTP status codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, exchange.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, exchange.ErrCrossDirectionConflict),
		errors.Is(err, exchange.ErrTerminalState):
		return http.StatusConflict
	case errors.Is(err, exchange.ErrTransportUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, exchange.ErrInvalidPayload):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// corsMiddleware adds CORS headers for localhost companion UIs
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && strings.HasPrefix(origin, "http://localhost") {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
