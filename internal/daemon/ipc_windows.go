//go:build windows

package daemon

import (
	"net"

	"github.com/Microsoft/go-winio"
)

// createIPCListener creates a Windows named pipe listener. The socketPath is
// the pipe name (\\.\pipe\kxctl-<user>) computed by config.GetPaths.
// Named pipes provide proper security - only the user who created the pipe can connect
func createIPCListener(socketPath string) (net.Listener, error) {
	cfg := &winio.PipeConfig{
		// MessageMode is false for byte stream (compatible with our JSON protocol)
		MessageMode: false,
		// InputBufferSize and OutputBufferSize default to 64KB
		InputBufferSize:  65536,
		OutputBufferSize: 65536,
	}

	return winio.ListenPipe(socketPath, cfg)
}

// getIPCAddress returns the IPC address for the current platform
func getIPCAddress(socketPath string) (network, address string) {
	return "pipe", socketPath
}

// cleanupIPCListener cleans up the IPC listener on shutdown
// On Windows, named pipes are automatically cleaned up when closed
func cleanupIPCListener(socketPath string) {
	// Nothing to do - Windows named pipes are cleaned up automatically
}
