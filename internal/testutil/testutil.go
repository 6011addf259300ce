// Package testutil provides shared helpers for kxctl integration tests
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"kxctl.dev/go/kxctl/internal/config"
)

// TempPaths returns a config layout rooted in a fresh temp directory,
// isolated from the user's real config.
func TempPaths(t *testing.T) *config.Paths {
	t.Helper()

	dir := t.TempDir()
	paths := &config.Paths{
		ConfigDir:    dir,
		IdentityFile: filepath.Join(dir, "identity.enc"),
		ProfileFile:  filepath.Join(dir, "identity.pub"),
		ConfigFile:   filepath.Join(dir, "config.toml"),
		StoreFile:    filepath.Join(dir, "store.json"),
		AuditLogFile: filepath.Join(dir, "audit.log"),
		PIDFile:      filepath.Join(dir, "daemon.pid"),
		SocketPath:   filepath.Join(dir, "daemon.sock"),
		TempDir:      filepath.Join(dir, "tmp"),
	}
	if err := os.MkdirAll(paths.TempDir, 0700); err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	return paths
}

// WaitFor polls until the condition is true or the timeout expires.
func WaitFor(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.Fatalf("timeout waiting for: %s", msg)
		case <-ticker.C:
			if condition() {
				return
			}
		}
	}
}
