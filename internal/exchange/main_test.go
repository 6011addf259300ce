package exchange

import (
	"fmt"
	"os"
	"testing"
)

// TestMain points the audit log at a throwaway directory. The audit
// logger is a process-wide singleton, so this must happen before any
// coordinator runs.
func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "kxctl-exchange-test-")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Setenv("KXCTL_CONFIG_DIR", dir)

	code := m.Run()

	os.RemoveAll(dir)
	os.Exit(code)
}
