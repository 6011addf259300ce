//go:build !windows

package crypto

import "golang.org/x/sys/unix"

// mlock pins the buffer so it cannot be swapped to disk
func (p *ProtectedBuffer) mlock() error {
	if len(p.data) == 0 {
		return nil
	}

	if err := unix.Mlock(p.data); err != nil {
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

	if err := unix.Munlock(p.data); err != nil {
		return err
	}
	p.locked = false
	return nil
}
