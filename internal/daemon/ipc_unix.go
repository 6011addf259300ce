//go:build !windows

package daemon

import (
	"net"
	"os"
)

// createIPCListener opens the daemon's Unix socket. A stale socket file
// from a crashed daemon is removed first; the CLI probes liveness via
// Ping, not via the file's existence.
func createIPCListener(socketPath string) (net.Listener, error) {
	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, err
	}

	// The socket carries key exchange decisions; owner only.
	if err := os.Chmod(socketPath, 0600); err != nil {
		listener.Close()
		return nil, err
	}

	return listener, nil
}

// getIPCAddress returns the dial network and address for the socket path.
func getIPCAddress(socketPath string) (network, address string) {
	return "unix", socketPath
}

// cleanupIPCListener removes the socket file on shutdown.
func cleanupIPCListener(socketPath string) {
	os.Remove(socketPath)
}
