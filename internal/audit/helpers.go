package audit

// Info records a successful action. Fields are alternating key/value
// pairs; the peer, request, actor and category keys land in the
// matching Event fields, everything else in Details.
func Info(action, message string, fields ...any) {
	e := Event{Level: LevelInfo, Action: action, Message: message, Success: true}
	applyFields(&e, fields)
	Default().Log(e)
}

// Error records a failed action with its error.
func Error(action, message string, err error, fields ...any) {
	e := Event{Level: LevelError, Action: action, Message: message}
	if err != nil {
		e.Error = err.Error()
	}
	applyFields(&e, fields)
	Default().Log(e)
}

func applyFields(e *Event, fields []any) {
	for ; len(fields) >= 2; fields = fields[2:] {
		key, ok := fields[0].(string)
		if !ok {
			continue
		}
		switch key {
		case "peer":
			e.Peer, _ = fields[1].(string)
		case "request":
			e.Request, _ = fields[1].(string)
		case "actor":
			e.Actor, _ = fields[1].(string)
		case "category":
			e.Category, _ = fields[1].(string)
		default:
			if e.Details == nil {
				e.Details = make(map[string]any)
			}
			e.Details[key] = fields[1]
		}
	}
}

// Per-action helpers so call sites stay one line.

func LogIdentityCreated(name, sessionID string) {
	Info(ActionIdentityCreated, "identity created", "actor", sessionID, "name", name)
}

func LogIdentityRecovered(name, sessionID string) {
	Info(ActionIdentityRecovered, "identity recovered from backup", "actor", sessionID, "name", name)
}

func LogExchangeRequested(peer, requestID string) {
	Info(ActionExchangeRequested, "key exchange requested", "peer", peer, "request", requestID)
}

func LogExchangeReceived(peer, requestID string) {
	Info(ActionExchangeReceived, "key exchange request received", "peer", peer, "request", requestID)
}

func LogExchangeAccepted(peer, requestID string) {
	Info(ActionExchangeAccepted, "key exchange accepted", "peer", peer, "request", requestID)
}

func LogExchangeDeclined(peer, requestID string) {
	Info(ActionExchangeDeclined, "key exchange declined", "peer", peer, "request", requestID)
}

func LogExchangeRevoked(peer, requestID string) {
	Info(ActionExchangeRevoked, "key exchange revoked", "peer", peer, "request", requestID)
}

func LogExchangeFailed(peer, requestID string, err error) {
	Error(ActionExchangeFailed, "key exchange failed", err, "peer", peer, "request", requestID)
}

func LogExchangeRetried(peer, requestID string) {
	Info(ActionExchangeRetried, "key exchange retried", "peer", peer, "request", requestID)
}

func LogExchangeRemoved(peer, requestID string) {
	Info(ActionExchangeRemoved, "key exchange request removed", "peer", peer, "request", requestID)
}

func LogExchangeMigrated(migrated int) {
	Info(ActionExchangeMigrated, "legacy requests migrated", "migrated", migrated)
}

func LogPeerKeyStored(peer string) {
	Info(ActionPeerKeyStored, "peer key stored", "peer", peer)
}

func LogProfileSent(peer string) {
	Info(ActionProfileSent, "encrypted profile sent", "peer", peer)
}

func LogProfileReceived(peer string) {
	Info(ActionProfileReceived, "encrypted profile received", "peer", peer)
}

func LogDaemonStarted(version string, port int) {
	Info(ActionDaemonStarted, "daemon started", "version", version, "port", port)
}

func LogDaemonStopped(reason string) {
	Info(ActionDaemonStopped, "daemon stopped", "reason", reason)
}
