package exchange

import "errors"

// Error taxonomy for key exchange operations. Callers wrap these with
// context via fmt.Errorf("...: %w", err) and match with errors.Is.
var (
	// ErrInvalidPayload indicates a missing or malformed required field.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrCrossDirectionConflict indicates the peer already has an active
	// request in the opposite direction, which must be resolved first.
	ErrCrossDirectionConflict = errors.New("active request exists in opposite direction")

	// ErrUnauthorized indicates an event referenced a request whose peer
	// does not match the event sender.
	ErrUnauthorized = errors.New("event sender does not match request peer")

	// ErrTransportUnavailable indicates a send was attempted while the
	// transport is disconnected. The operation is retryable.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrEncryptionFailure indicates the key manager could not produce
	// ciphertext for the peer.
	ErrEncryptionFailure = errors.New("encryption failed")

	// ErrStorageFailure indicates a persistence write failed. In-memory
	// state remains authoritative for the current run.
	ErrStorageFailure = errors.New("storage failure")

	// ErrNotFound indicates no request with the given id exists.
	ErrNotFound = errors.New("request not found")

	// ErrTerminalState indicates the request has already reached a
	// terminal decision and cannot change.
	ErrTerminalState = errors.New("request is in a terminal state")
)
