//go:build !windows

package client

import (
	"net"
	"time"
)

// dialIPC connects to the daemon's Unix domain socket.
func dialIPC(socketPath string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("unix", socketPath, timeout)
}
