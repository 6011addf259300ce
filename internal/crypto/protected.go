package crypto

import (
	"runtime"
	"sync"
)

// ProtectedBuffer holds sensitive data in memory that is locked against
// swapping where the platform allows it.
type ProtectedBuffer struct {
	mu     sync.Mutex
	data   []byte
	locked bool
}

// NewProtectedBuffer allocates a buffer of the given size and attempts
// to lock it into memory. Lock failures are ignored; without
// CAP_IPC_LOCK the data is still protected by process isolation.
func NewProtectedBuffer(size int) *ProtectedBuffer {
	buf := &ProtectedBuffer{
		data: make([]byte, size),
	}

	_ = buf.mlock()

	runtime.SetFinalizer(buf, (*ProtectedBuffer).Destroy)

	return buf
}

// NewProtectedBufferFromBytes copies data into a protected buffer and
// zeroes the source.
func NewProtectedBufferFromBytes(data []byte) *ProtectedBuffer {
	buf := NewProtectedBuffer(len(data))
	copy(buf.data, data)
	ZeroBytes(data)
	return buf
}

// Bytes returns the underlying byte slice. The slice aliases protected
// memory and must not outlive the buffer.
func (p *ProtectedBuffer) Bytes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data
}

// Size returns the buffer size.
func (p *ProtectedBuffer) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.data)
}

// Copy returns an independent copy of the buffer contents, or nil after
// Destroy.
func (p *ProtectedBuffer) Copy() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.data == nil {
		return nil
	}

	out := make([]byte, len(p.data))
	copy(out, p.data)
	return out
}

// Destroy zeroes the memory, unlocks it and drops the reference.
// Safe to call more than once.
func (p *ProtectedBuffer) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.data == nil {
		return
	}

	ZeroBytes(p.data)

	if p.locked {
		_ = p.munlock()
	}

	p.data = nil

	runtime.SetFinalizer(p, nil)
}
