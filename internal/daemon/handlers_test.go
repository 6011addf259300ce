package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"kxctl.dev/go/kxctl/internal/audit"
	"kxctl.dev/go/kxctl/internal/exchange"
	"kxctl.dev/go/kxctl/internal/kv"
)

// call invokes a registered IPC method the way Server.dispatch would,
// with an empty params string standing in for an omitted params field.
func call(t *testing.T, d *Daemon, method, params string) (map[string]interface{}, error) {
	t.Helper()
	handler, ok := ipcHandlers[method]
	if !ok {
		t.Fatalf("method %s not registered", method)
	}
	var raw json.RawMessage
	if params != "" {
		raw = json.RawMessage(params)
	}
	res, err := handler(context.Background(), d, &IPCClient{}, raw)
	if err != nil {
		return nil, err
	}
	m, ok := res.(map[string]interface{})
	if !ok {
		t.Fatalf("%s result is %T, want map[string]interface{}", method, res)
	}
	return m, nil
}

func hasRequestID(list []*exchange.Request, id string) bool {
	for _, r := range list {
		if r.ID == id {
			return true
		}
	}
	return false
}

func TestHandlersRegistered(t *testing.T) {
	alice, _, ta, _ := generatePair(t)
	newTestDaemon(t, alice, ta, nil)

	methods := []string{
		"status", "metrics", "subscribe", "ping",
		"requests.list", "requests.send", "requests.accept",
		"requests.decline", "requests.revoke", "requests.retry",
		"requests.remove", "requests.migrate", "requests.setname",
		"identity.whoami", "logs.query", "logs.stats", "audit.query",
	}
	for _, m := range methods {
		if ipcHandlers[m] == nil {
			t.Errorf("method %s not registered", m)
		}
	}
}

func TestHandleRequestsSendAndList(t *testing.T) {
	alice, bobID, ta, tb := generatePair(t)
	d := newTestDaemon(t, alice, ta, nil)
	newRemotePeer(t, bobID, tb)

	res, err := call(t, d, "requests.send", fmt.Sprintf(`{"peer":%q,"phrase":"lunch on tuesday"}`, bobID.SessionID()))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res["sent"] != true || res["peer"] != bobID.SessionID() {
		t.Errorf("send result = %v", res)
	}

	res, err = call(t, d, "requests.list", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	sent, ok := res["sent"].([]*exchange.Request)
	if !ok {
		t.Fatalf("sent partition is %T", res["sent"])
	}
	if len(sent) != 1 || sent[0].Status != exchange.StatusSent {
		t.Errorf("sent = %+v", sent)
	}
	if _, ok := res["received"]; !ok {
		t.Error("unfiltered list missing received partition")
	}

	res, err = call(t, d, "requests.list", `{"direction":"sent"}`)
	if err != nil {
		t.Fatalf("filtered list: %v", err)
	}
	if _, ok := res["received"]; ok {
		t.Error("direction filter leaked the received partition")
	}

	if _, err := call(t, d, "requests.list", `{"direction":"sideways"}`); err == nil {
		t.Fatal("expected error for unknown direction")
	} else if !strings.Contains(err.Error(), "invalid direction") {
		t.Errorf("error = %v", err)
	}
}

func TestHandleRequestsAccept(t *testing.T) {
	alice, bobID, ta, tb := generatePair(t)
	d := newTestDaemon(t, alice, ta, nil)
	bob := newRemotePeer(t, bobID, tb)

	if err := bob.coord.SendRequest(context.Background(), alice.SessionID(), "ship it"); err != nil {
		t.Fatalf("peer send: %v", err)
	}
	recv := d.coordinator.Received()
	if len(recv) != 1 {
		t.Fatalf("received = %d entries, want 1", len(recv))
	}
	id := recv[0].ID

	res, err := call(t, d, "requests.accept", fmt.Sprintf(`{"id":%q}`, id))
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if res["accepted"] != true || res["id"] != id {
		t.Errorf("accept result = %v", res)
	}

	if got := d.coordinator.Received()[0].Status; got != exchange.StatusAccepted {
		t.Errorf("local status = %s, want accepted", got)
	}
	if got := bob.coord.Sent()[0].Status; got != exchange.StatusAccepted {
		t.Errorf("peer status = %s, want accepted", got)
	}
	if got := d.metrics.RequestsAccepted.Load(); got != 1 {
		t.Errorf("RequestsAccepted = %d, want 1", got)
	}
}

func TestHandleRequestsDecline(t *testing.T) {
	alice, bobID, ta, tb := generatePair(t)
	d := newTestDaemon(t, alice, ta, nil)
	bob := newRemotePeer(t, bobID, tb)

	if err := bob.coord.SendRequest(context.Background(), alice.SessionID(), "trust me"); err != nil {
		t.Fatalf("peer send: %v", err)
	}
	id := d.coordinator.Received()[0].ID

	res, err := call(t, d, "requests.decline", fmt.Sprintf(`{"id":%q}`, id))
	if err != nil {
		t.Fatalf("decline: %v", err)
	}
	if res["declined"] != true {
		t.Errorf("decline result = %v", res)
	}

	if got := d.coordinator.Received()[0].Status; got != exchange.StatusDeclined {
		t.Errorf("local status = %s, want declined", got)
	}
	if got := bob.coord.Sent()[0].Status; got != exchange.StatusDeclined {
		t.Errorf("peer status = %s, want declined", got)
	}
	if got := d.metrics.RequestsDeclined.Load(); got != 1 {
		t.Errorf("RequestsDeclined = %d, want 1", got)
	}
}

func TestHandleRequestsRevoke(t *testing.T) {
	alice, bobID, ta, tb := generatePair(t)
	d := newTestDaemon(t, alice, ta, nil)
	bob := newRemotePeer(t, bobID, tb)

	if _, err := call(t, d, "requests.send", fmt.Sprintf(`{"peer":%q,"phrase":"never mind"}`, bobID.SessionID())); err != nil {
		t.Fatalf("send: %v", err)
	}
	id := d.coordinator.Sent()[0].ID

	res, err := call(t, d, "requests.revoke", fmt.Sprintf(`{"id":%q}`, id))
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if res["revoked"] != true {
		t.Errorf("revoke result = %v", res)
	}

	// Revocation withdraws the entry on both ends rather than parking it
	// in a terminal state.
	if got := len(d.coordinator.Sent()); got != 0 {
		t.Errorf("local sent = %d entries after revoke, want 0", got)
	}
	if got := len(bob.coord.Received()); got != 0 {
		t.Errorf("peer received = %d entries after revoke, want 0", got)
	}
}

func TestHandleRequestsRetry(t *testing.T) {
	alice, bobID, ta, tb := generatePair(t)
	d := newTestDaemon(t, alice, ta, nil)
	bob := newRemotePeer(t, bobID, tb)

	ta.SetConnected(false)
	if _, err := call(t, d, "requests.send", fmt.Sprintf(`{"peer":%q,"phrase":"first try"}`, bobID.SessionID())); err == nil {
		t.Fatal("expected send failure while disconnected")
	}
	sent := d.coordinator.Sent()
	if len(sent) != 1 || sent[0].Status != exchange.StatusFailed {
		t.Fatalf("sent = %+v, want one failed entry", sent)
	}
	id := sent[0].ID

	ta.SetConnected(true)
	res, err := call(t, d, "requests.retry", fmt.Sprintf(`{"id":%q}`, id))
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res["retried"] != true {
		t.Errorf("retry result = %v", res)
	}

	if got := d.coordinator.Sent()[0].Status; got != exchange.StatusSent {
		t.Errorf("status after retry = %s, want sent", got)
	}
	if got := len(bob.coord.Received()); got != 1 {
		t.Errorf("peer received = %d entries, want 1", got)
	}
	if got := d.metrics.RequestsRetried.Load(); got != 1 {
		t.Errorf("RequestsRetried = %d, want 1", got)
	}
}

func TestHandleRequestsRemove(t *testing.T) {
	alice, bobID, ta, tb := generatePair(t)
	d := newTestDaemon(t, alice, ta, nil)
	bob := newRemotePeer(t, bobID, tb)

	if err := bob.coord.SendRequest(context.Background(), alice.SessionID(), "spam"); err != nil {
		t.Fatalf("peer send: %v", err)
	}
	id := d.coordinator.Received()[0].ID

	res, err := call(t, d, "requests.remove", fmt.Sprintf(`{"id":%q}`, id))
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if res["removed"] != true {
		t.Errorf("remove result = %v", res)
	}
	if got := len(d.coordinator.Received()); got != 0 {
		t.Errorf("received = %d entries after remove, want 0", got)
	}

	_, err = call(t, d, "requests.remove", `{"id":"no-such-id"}`)
	if !errors.Is(err, exchange.ErrNotFound) {
		t.Errorf("remove unknown id: err = %v, want ErrNotFound", err)
	}
}

func TestHandleRequestsMigrate(t *testing.T) {
	alice, bobID, ta, _ := generatePair(t)
	d := newTestDaemon(t, alice, ta, nil)

	now := time.Now().UnixMilli()
	legacy := []*exchange.Request{
		{ID: "legacy-out", FromSessionID: alice.SessionID(), ToSessionID: bobID.SessionID(), RequestPhrase: "from the flat list", Status: exchange.StatusSent, Timestamp: now},
		{ID: "legacy-in", FromSessionID: bobID.SessionID(), ToSessionID: alice.SessionID(), RequestPhrase: "inbound leftover", Status: exchange.StatusReceived, Timestamp: now - 1},
	}
	if err := kv.SetJSON(d.store, "key_exchange_requests", legacy); err != nil {
		t.Fatalf("seed legacy list: %v", err)
	}

	res, err := call(t, d, "requests.migrate", "")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if got := res["migrated"].(int); got != 2 {
		t.Errorf("migrated = %d, want 2", got)
	}

	// Migrated entries become visible without a daemon restart.
	if !hasRequestID(d.coordinator.Sent(), "legacy-out") {
		t.Error("legacy-out not in sent partition")
	}
	if !hasRequestID(d.coordinator.Received(), "legacy-in") {
		t.Error("legacy-in not in received partition")
	}

	res, err = call(t, d, "requests.migrate", "")
	if err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if got := res["migrated"].(int); got != 0 {
		t.Errorf("second migrate = %d, want 0", got)
	}
}

func TestHandleRequestsSetName(t *testing.T) {
	alice, bobID, ta, tb := generatePair(t)
	d := newTestDaemon(t, alice, ta, nil)
	bob := newRemotePeer(t, bobID, tb)

	if err := bob.coord.SendRequest(context.Background(), alice.SessionID(), "hello"); err != nil {
		t.Fatalf("peer send: %v", err)
	}

	res, err := call(t, d, "requests.setname", fmt.Sprintf(`{"peer":%q,"name":"Bobby"}`, bobID.SessionID()))
	if err != nil {
		t.Fatalf("setname: %v", err)
	}
	if res["name"] != "Bobby" {
		t.Errorf("setname result = %v", res)
	}
	if got := d.coordinator.Received()[0].DisplayName; got != "Bobby" {
		t.Errorf("display name = %q, want Bobby", got)
	}

	if _, err := call(t, d, "requests.setname", `{"name":"nobody"}`); err == nil {
		t.Fatal("expected error for missing peer")
	}
}

func TestHandleWhoami(t *testing.T) {
	alice, _, ta, _ := generatePair(t)
	d := newTestDaemon(t, alice, ta, nil)

	res, err := call(t, d, "identity.whoami", "")
	if err != nil {
		t.Fatalf("whoami: %v", err)
	}
	if res["session_id"] != alice.SessionID() {
		t.Errorf("session_id = %v", res["session_id"])
	}
	if res["fingerprint"] != alice.Fingerprint() {
		t.Errorf("fingerprint = %v", res["fingerprint"])
	}
	if res["display_name"] != alice.DisplayName {
		t.Errorf("display_name = %v", res["display_name"])
	}
}

func TestHandleLogsQuery(t *testing.T) {
	alice, _, ta, _ := generatePair(t)
	d := newTestDaemon(t, alice, ta, nil)

	now := time.Now()
	d.logBuffer.Add(LogEntry{Timestamp: now.Add(-time.Minute), Level: "INFO", Message: "transport connected"})
	d.logBuffer.Add(LogEntry{Timestamp: now, Level: "ERROR", Message: "send failed"})

	res, err := call(t, d, "logs.query", `{"level":"ERROR"}`)
	if err != nil {
		t.Fatalf("logs.query: %v", err)
	}
	if got := res["count"].(int); got != 1 {
		t.Fatalf("count = %d, want 1", got)
	}
	entries := res["entries"].([]LogEntry)
	if entries[0].Message != "send failed" {
		t.Errorf("entry = %+v", entries[0])
	}

	if _, err := call(t, d, "logs.query", `{"since":"yesterday"}`); err == nil {
		t.Fatal("expected error for unparseable since")
	}
}

func TestHandleLogsStats(t *testing.T) {
	alice, _, ta, _ := generatePair(t)
	d := newTestDaemon(t, alice, ta, nil)

	d.logBuffer.Add(LogEntry{Timestamp: time.Now(), Level: "INFO", Message: "one"})
	d.logBuffer.Add(LogEntry{Timestamp: time.Now(), Level: "INFO", Message: "two"})
	d.logBuffer.Add(LogEntry{Timestamp: time.Now(), Level: "WARN", Message: "three"})

	res, err := call(t, d, "logs.stats", "")
	if err != nil {
		t.Fatalf("logs.stats: %v", err)
	}
	if got := res["total"].(int); got != 3 {
		t.Errorf("total = %d, want 3", got)
	}
	if got := res["capacity"].(int); got != LogBufferSize {
		t.Errorf("capacity = %d, want %d", got, LogBufferSize)
	}
	byLevel := res["by_level"].(map[string]int)
	if byLevel["INFO"] != 2 || byLevel["WARN"] != 1 {
		t.Errorf("by_level = %v", byLevel)
	}
}

func TestHandleAuditQuery(t *testing.T) {
	alice, bobID, ta, tb := generatePair(t)
	d := newTestDaemon(t, alice, ta, nil)
	newRemotePeer(t, bobID, tb)

	if _, err := call(t, d, "requests.send", fmt.Sprintf(`{"peer":%q,"phrase":"for the record"}`, bobID.SessionID())); err != nil {
		t.Fatalf("send: %v", err)
	}

	// The audit log is shared across the test binary; the peer filter
	// narrows it to this exchange.
	res, err := call(t, d, "audit.query", fmt.Sprintf(`{"peer":%q}`, bobID.SessionID()))
	if err != nil {
		t.Fatalf("audit.query: %v", err)
	}
	if got := res["count"].(int); got != 1 {
		t.Fatalf("count = %d, want 1", got)
	}
	events := res["events"].([]audit.Event)
	if events[0].Action != audit.ActionExchangeRequested {
		t.Errorf("action = %s, want %s", events[0].Action, audit.ActionExchangeRequested)
	}
	if events[0].Request == "" {
		t.Error("event missing request id")
	}

	if _, err := call(t, d, "audit.query", `{"since":"fortnight"}`); err == nil {
		t.Fatal("expected error for unparseable since")
	}
}

func TestHandleRequestParamErrors(t *testing.T) {
	alice, _, ta, _ := generatePair(t)
	d := newTestDaemon(t, alice, ta, nil)

	idMethods := []string{
		"requests.accept", "requests.decline", "requests.revoke",
		"requests.retry", "requests.remove",
	}
	for _, m := range idMethods {
		if _, err := call(t, d, m, `{}`); err == nil {
			t.Errorf("%s accepted empty params", m)
		} else if !strings.Contains(err.Error(), "missing id") {
			t.Errorf("%s error = %v", m, err)
		}
	}

	if _, err := call(t, d, "requests.send", `{`); err == nil {
		t.Error("send accepted malformed params")
	}
}

func TestErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{exchange.ErrNotFound, ErrCodeNotFound},
		{exchange.ErrCrossDirectionConflict, ErrCodeConflict},
		{exchange.ErrTerminalState, ErrCodeTerminal},
		{exchange.ErrTransportUnavailable, ErrCodeUnavailable},
		{exchange.ErrInvalidPayload, ErrCodeInvalidParams},
		{errors.New("boom"), ErrCodeInternalError},
	}
	for _, tc := range cases {
		if got := errorCode(tc.err); got != tc.code {
			t.Errorf("errorCode(%v) = %d, want %d", tc.err, got, tc.code)
		}
		wrapped := fmt.Errorf("accept: %w", tc.err)
		if got := errorCode(wrapped); got != tc.code {
			t.Errorf("errorCode(wrapped %v) = %d, want %d", tc.err, got, tc.code)
		}
	}
}

func TestCoreHandlers(t *testing.T) {
	alice, _, ta, _ := generatePair(t)
	d := newTestDaemon(t, alice, ta, nil)
	ctx := context.Background()
	client := &IPCClient{}

	res, err := handlePing(ctx, d, client, nil)
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	if !res.(map[string]bool)["pong"] {
		t.Errorf("ping result = %v", res)
	}

	if _, err := handleSubscribe(ctx, d, client, nil); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if !client.subscribed {
		t.Error("subscribe did not mark the client")
	}

	st, err := handleStatus(ctx, d, client, nil)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	status := st.(*Status)
	if !status.Running || status.SessionID != alice.SessionID() {
		t.Errorf("status = %+v", status)
	}

	ms, err := handleMetrics(ctx, d, client, nil)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if ms.(*MetricsSnapshot).System.GoVersion == "" {
		t.Error("metrics snapshot missing system info")
	}
}
