package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"runtime"
)

// ZeroBytes overwrites a byte slice with zeros. The constant-time copy
// keeps the compiler from eliding the wipe as a dead store.
func ZeroBytes(b []byte) {
	subtle.ConstantTimeCopy(1, b, make([]byte, len(b)))
	runtime.KeepAlive(b)
}

// RandomBytes returns n bytes from the system CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	return b, nil
}

// SecureBytes wraps a byte slice that must be zeroed when no longer
// needed. Call Clear when done with the data.
type SecureBytes struct {
	data []byte
}

// NewSecureBytes wraps existing bytes. The wrapper takes ownership;
// the caller must not retain the slice.
func NewSecureBytes(data []byte) *SecureBytes {
	return &SecureBytes{data: data}
}

// Data returns the underlying byte slice.
func (s *SecureBytes) Data() []byte {
	return s.data
}

// Clear zeroes the underlying data and drops the reference.
func (s *SecureBytes) Clear() {
	if s.data != nil {
		ZeroBytes(s.data)
		s.data = nil
	}
}

// Len returns the length of the underlying data.
func (s *SecureBytes) Len() int {
	return len(s.data)
}
