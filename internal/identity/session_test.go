package identity

import (
	"strings"
	"testing"
)

func TestValidateSessionID(t *testing.T) {
	id, err := Generate("validator")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	valid := id.SessionID()

	if err := ValidateSessionID(valid); err != nil {
		t.Errorf("valid session ID rejected: %v", err)
	}

	cases := []struct {
		name string
		id   string
	}{
		{"empty", ""},
		{"too short", valid[:65]},
		{"too long", valid + "ab"},
		{"wrong prefix", "07" + valid[2:]},
		{"not hex", valid[:64] + "zz"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := ValidateSessionID(tc.id); err == nil {
				t.Errorf("ValidateSessionID(%q) = nil, want error", tc.id)
			}
		})
	}
}

func TestSessionPublicKey(t *testing.T) {
	id, err := Generate("extractor")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	pub, err := SessionPublicKey(id.SessionID())
	if err != nil {
		t.Fatalf("SessionPublicKey: %v", err)
	}
	if !pub.Equal(id.VerifyKey()) {
		t.Error("extracted key does not match identity verify key")
	}

	if _, err := SessionPublicKey("garbage"); err == nil {
		t.Error("expected error for malformed session ID")
	}
}

func TestSessionIDFromPublicKey(t *testing.T) {
	id, err := Generate("round-trip")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if got := SessionIDFromPublicKey(id.VerifyKey()); got != id.SessionID() {
		t.Errorf("SessionIDFromPublicKey = %q, want %q", got, id.SessionID())
	}
}

func TestShortSessionID(t *testing.T) {
	id, err := Generate("shortener")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	short := ShortSessionID(id.SessionID())
	if len(short) >= SessionIDLength {
		t.Errorf("short form %q is not shorter than the full ID", short)
	}
	if !strings.HasPrefix(short, id.SessionID()[:6]) {
		t.Errorf("short form %q does not keep the leading characters", short)
	}

	// Malformed input passes through untouched
	if got := ShortSessionID("tiny"); got != "tiny" {
		t.Errorf("ShortSessionID(%q) = %q, want passthrough", "tiny", got)
	}
}
