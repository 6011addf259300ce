//go:build windows

package client

import (
	"net"
	"time"

	"github.com/Microsoft/go-winio"
)

// dialIPC connects to the daemon's named pipe. The socketPath is the
// pipe name computed by config.GetPaths, matching the daemon listener.
func dialIPC(socketPath string, timeout time.Duration) (net.Conn, error) {
	return winio.DialPipe(socketPath, &timeout)
}
