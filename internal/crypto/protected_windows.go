//go:build windows

package crypto

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// mlock pins the buffer so it cannot be swapped to disk
func (p *ProtectedBuffer) mlock() error {
	if len(p.data) == 0 {
		return nil
	}

	if err := windows.VirtualLock(uintptr(unsafe.Pointer(&p.data[0])), uintptr(len(p.data))); err != nil {
		return err
	}
	p.locked = true
	return nil
}

// munlock releases the pin
func (p *ProtectedBuffer) munlock() error {
	if len(p.data) == 0 {
		return nil
	}

	if err := windows.VirtualUnlock(uintptr(unsafe.Pointer(&p.data[0])), uintptr(len(p.data))); err != nil {
		return err
	}
	p.locked = false
	return nil
}
