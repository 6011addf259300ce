package crypto

import (
	"bytes"
	"testing"
)

func TestZeroBytes(t *testing.T) {
	data := []byte("sensitive material")
	ZeroBytes(data)

	for i, b := range data {
		if b != 0 {
			t.Fatalf("byte %d not zeroed: %x", i, b)
		}
	}

	// Zero-length and nil slices must not panic
	ZeroBytes(nil)
	ZeroBytes([]byte{})
}

func TestRandomBytes(t *testing.T) {
	a, err := RandomBytes(32)
	if err != nil {
		t.Fatalf("RandomBytes: %v", err)
	}
	if len(a) != 32 {
		t.Errorf("length = %d, want 32", len(a))
	}

	b, err := RandomBytes(32)
	if err != nil {
		t.Fatalf("RandomBytes: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Error("two random draws were identical")
	}
}

func TestSecureBytes(t *testing.T) {
	s := NewSecureBytes([]byte("secret"))

	if s.Len() != 6 {
		t.Errorf("Len = %d, want 6", s.Len())
	}
	if string(s.Data()) != "secret" {
		t.Errorf("Data = %q, want %q", s.Data(), "secret")
	}

	s.Clear()
	if s.Len() != 0 {
		t.Errorf("Len after Clear = %d, want 0", s.Len())
	}
	if s.Data() != nil {
		t.Error("Data after Clear should be nil")
	}

	// Clearing twice must not panic
	s.Clear()
}

func TestProtectedBuffer(t *testing.T) {
	source := []byte("identity seed bytes")
	buf := NewProtectedBufferFromBytes(source)

	// Source must be wiped after the copy
	for i, b := range source {
		if b != 0 {
			t.Fatalf("source byte %d not zeroed: %x", i, b)
		}
	}

	if buf.Size() != 19 {
		t.Errorf("Size = %d, want 19", buf.Size())
	}
	if string(buf.Copy()) != "identity seed bytes" {
		t.Error("Copy does not match original contents")
	}

	buf.Destroy()
	if buf.Copy() != nil {
		t.Error("Copy after Destroy should be nil")
	}

	// Destroying twice must not panic
	buf.Destroy()
}
