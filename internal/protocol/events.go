// Package protocol defines the key-exchange wire format: the signed
// envelope and the typed payloads it carries.
package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"kxctl.dev/go/kxctl/internal/crypto"
	"kxctl.dev/go/kxctl/internal/identity"
)

// ProtocolVersion is carried in request payloads. Decoders treat an
// absent version as "1".
const ProtocolVersion = "1"

// EventType identifies a key-exchange wire event
type EventType string

const (
	EventRequest EventType = "key_exchange:request"
	EventAccept  EventType = "key_exchange:accept"
	EventDecline EventType = "key_exchange:decline"
	EventRevoke  EventType = "key_exchange:revoke"
	EventError   EventType = "key_exchange:error"
	EventProfile EventType = "key_exchange:profile"
)

// Envelope is a signed key-exchange event. From is the sender's session
// ID; the Ed25519 key needed to verify the signature is embedded in it.
type Envelope struct {
	Type      EventType       `json:"type"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds
	From      string          `json:"from"`
	Payload   json.RawMessage `json:"payload"`
	Algorithm string          `json:"algorithm,omitempty"`
	Signature []byte          `json:"signature,omitempty"`
}

// NewEnvelope creates an unsigned envelope with the given payload.
func NewEnvelope(eventType EventType, from string, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		Type:      eventType,
		Timestamp: time.Now().UnixMilli(),
		From:      from,
		Payload:   data,
	}, nil
}

// ParsePayload unmarshals the envelope payload.
func (e *Envelope) ParsePayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// SigningData returns the canonical bytes covered by the signature.
// Format: Type (length-prefixed) || Timestamp (8 bytes) || From
// (length-prefixed) || Payload
func (e *Envelope) SigningData() []byte {
	var buf bytes.Buffer

	typeBytes := []byte(e.Type)
	binary.Write(&buf, binary.BigEndian, uint32(len(typeBytes)))
	buf.Write(typeBytes)

	binary.Write(&buf, binary.BigEndian, e.Timestamp)

	fromBytes := []byte(e.From)
	binary.Write(&buf, binary.BigEndian, uint32(len(fromBytes)))
	buf.Write(fromBytes)

	buf.Write(e.Payload)

	return buf.Bytes()
}

// Sign signs the envelope and records the algorithm used.
func (e *Envelope) Sign(signer crypto.Signer) error {
	sig, err := signer.Sign(e.SigningData())
	if err != nil {
		return fmt.Errorf("sign envelope: %w", err)
	}

	e.Algorithm = signer.Algorithm()
	e.Signature = sig
	return nil
}

// IsSigned returns true if the envelope carries a signature.
func (e *Envelope) IsSigned() bool {
	return len(e.Signature) > 0
}

// Verify checks the envelope signature against the key embedded in the
// From session ID. For hybrid signatures, peerMLDSAKey enables full
// verification of both components; when it is nil only the classical
// component is checked (the PQC key is not known before the first
// completed exchange).
func (e *Envelope) Verify(peerMLDSAKey []byte) error {
	if !e.IsSigned() {
		return errors.New("envelope is not signed")
	}

	edPub, err := identity.SessionPublicKey(e.From)
	if err != nil {
		return fmt.Errorf("sender session ID: %w", err)
	}

	data := e.SigningData()

	algorithm := e.Algorithm
	if algorithm == "" {
		algorithm = crypto.AlgorithmEd25519
	}

	switch algorithm {
	case crypto.AlgorithmEd25519:
		ok, err := crypto.VerifySignature(crypto.AlgorithmEd25519, edPub, data, e.Signature)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("invalid envelope signature")
		}
		return nil

	case crypto.AlgorithmHybrid:
		if peerMLDSAKey == nil {
			classicalSig, _, err := crypto.DecodeHybridSignature(e.Signature)
			if err != nil {
				return fmt.Errorf("decode hybrid signature: %w", err)
			}
			ok, err := crypto.VerifySignature(crypto.AlgorithmEd25519, edPub, data, classicalSig)
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("invalid envelope signature")
			}
			return nil
		}

		ok, err := crypto.VerifyHybridSignature(edPub, peerMLDSAKey, data, e.Signature)
		if err != nil {
			return fmt.Errorf("verify hybrid signature: %w", err)
		}
		if !ok {
			return errors.New("invalid envelope signature")
		}
		return nil

	default:
		return fmt.Errorf("unknown signature algorithm: %s", algorithm)
	}
}
