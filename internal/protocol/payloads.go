package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"kxctl.dev/go/kxctl/internal/crypto"
	"kxctl.dev/go/kxctl/internal/identity"
)

// RequestPayload initiates a key exchange.
type RequestPayload struct {
	RequestID      string `json:"requestId"`
	SenderID       string `json:"senderId"`
	RequestPhrase  string `json:"requestPhrase"`
	PublicKey      string `json:"publicKey,omitempty"`
	MLDSAPublicKey []byte `json:"mldsaPublicKey,omitempty"`
	Version        string `json:"version,omitempty"`
	Timestamp      int64  `json:"timestamp"`
}

// Validate checks the required request fields.
func (p *RequestPayload) Validate() error {
	if p.RequestID == "" {
		return errors.New("missing requestId")
	}
	if p.SenderID == "" {
		return errors.New("missing senderId")
	}
	if err := identity.ValidateSessionID(p.SenderID); err != nil {
		return fmt.Errorf("senderId: %w", err)
	}
	if p.RequestPhrase == "" {
		return errors.New("missing requestPhrase")
	}
	if p.PublicKey != "" {
		if _, err := crypto.ParseX25519Key(p.PublicKey); err != nil {
			return fmt.Errorf("publicKey: %w", err)
		}
	}
	return nil
}

// AcceptPayload is the canonical accept shape. PublicKey may be empty
// on the legacy path; the completion poller covers that case.
type AcceptPayload struct {
	RequestID         string `json:"requestId"`
	SenderID          string `json:"senderId"`
	RecipientID       string `json:"recipientId,omitempty"`
	PublicKey         string `json:"publicKey,omitempty"`
	MLDSAPublicKey    []byte `json:"mldsaPublicKey,omitempty"`
	EncryptedUserData []byte `json:"encryptedUserData,omitempty"`
	ConversationID    string `json:"conversationId,omitempty"`
	Timestamp         int64  `json:"timestamp"`
}

// Validate checks the required accept fields.
func (p *AcceptPayload) Validate() error {
	if p.RequestID == "" {
		return errors.New("missing requestId")
	}
	if p.SenderID == "" {
		return errors.New("missing senderId")
	}
	if err := identity.ValidateSessionID(p.SenderID); err != nil {
		return fmt.Errorf("senderId: %w", err)
	}
	if p.PublicKey != "" {
		if _, err := crypto.ParseX25519Key(p.PublicKey); err != nil {
			return fmt.Errorf("publicKey: %w", err)
		}
	}
	return nil
}

// HasInlineKey reports whether the counterpart's key arrived with the
// accept itself.
func (p *AcceptPayload) HasInlineKey() bool {
	return p.PublicKey != ""
}

// legacyAcceptPayload is the historical accept shape: snake_case field
// names, the key in "key" and the profile data in "userData".
type legacyAcceptPayload struct {
	RequestID string `json:"request_id"`
	SenderID  string `json:"sender_id"`
	Key       string `json:"key"`
	UserData  []byte `json:"userData,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// NormalizeAccept parses an accept payload in either historical shape
// and returns the canonical struct. from is the envelope sender; it
// fills senderId when the payload omits one. Everything downstream of
// this function sees exactly one shape.
func NormalizeAccept(raw json.RawMessage, from string) (*AcceptPayload, error) {
	var p AcceptPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse accept payload: %w", err)
	}

	if p.RequestID == "" {
		var legacy legacyAcceptPayload
		if err := json.Unmarshal(raw, &legacy); err != nil {
			return nil, fmt.Errorf("parse accept payload: %w", err)
		}
		if legacy.RequestID == "" {
			return nil, errors.New("missing requestId")
		}

		p = AcceptPayload{
			RequestID:         legacy.RequestID,
			SenderID:          legacy.SenderID,
			PublicKey:         legacy.Key,
			EncryptedUserData: legacy.UserData,
			Timestamp:         legacy.Timestamp,
		}
	}

	if p.SenderID == "" {
		p.SenderID = from
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// DeclinePayload rejects a key exchange.
type DeclinePayload struct {
	RequestID   string `json:"requestId"`
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Validate checks the required decline fields.
func (p *DeclinePayload) Validate() error {
	if p.RequestID == "" {
		return errors.New("missing requestId")
	}
	if p.SenderID == "" {
		return errors.New("missing senderId")
	}
	return nil
}

// RevokePayload withdraws a previously sent request.
type RevokePayload struct {
	RequestID   string `json:"requestId"`
	RecipientID string `json:"recipientId,omitempty"`
}

// Validate checks the required revoke fields.
func (p *RevokePayload) Validate() error {
	if p.RequestID == "" {
		return errors.New("missing requestId")
	}
	return nil
}

// ErrorPayload reports a failure to the counterpart.
type ErrorPayload struct {
	RequestID   string `json:"requestId,omitempty"`
	RecipientID string `json:"recipientId,omitempty"`
	ErrorCode   string `json:"errorCode"`
}

// Validate checks the required error fields.
func (p *ErrorPayload) Validate() error {
	if p.ErrorCode == "" {
		return errors.New("missing errorCode")
	}
	return nil
}

// ProfilePayload carries encrypted profile data after a completed
// exchange. The ciphertext opens to a Profile.
type ProfilePayload struct {
	Ciphertext []byte `json:"ciphertext"`
}

// Validate checks the required profile fields.
func (p *ProfilePayload) Validate() error {
	if len(p.Ciphertext) == 0 {
		return errors.New("missing ciphertext")
	}
	return nil
}

// Profile is the plaintext inside a profile exchange.
type Profile struct {
	DisplayName string `json:"displayName"`
	Avatar      []byte `json:"avatar,omitempty"`
}
