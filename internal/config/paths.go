package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Paths holds all platform-specific file paths for kxctl
type Paths struct {
	ConfigDir string // ~/.config/kxctl or equivalent

	IdentityFile string // ~/.config/kxctl/identity.enc
	ProfileFile  string // ~/.config/kxctl/identity.pub
	ConfigFile   string // ~/.config/kxctl/config.toml
	StoreFile    string // ~/.config/kxctl/store.json (requests + peer keys)
	AuditLogFile string // ~/.config/kxctl/audit.log
	PIDFile      string // ~/.config/kxctl/daemon.pid (Linux/macOS)

	SocketPath string // /run/user/<uid>/kxctl.sock or equivalent
	TempDir    string // /tmp/kxctl-<uid>
}

// GetPaths returns platform-specific paths for kxctl
func GetPaths() (*Paths, error) {
	var configDir string
	var socketPath string
	var tempDir string
	var pidFile string

	// Allow override via environment variable (useful for testing multiple instances)
	if envConfigDir := os.Getenv("KXCTL_CONFIG_DIR"); envConfigDir != "" {
		configDir = envConfigDir
		socketPath = filepath.Join(configDir, "daemon.sock")
		tempDir = filepath.Join(configDir, "tmp")
		pidFile = filepath.Join(configDir, "daemon.pid")
	} else {
		switch runtime.GOOS {
		case "linux":
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config", "kxctl")

			// Socket in XDG_RUNTIME_DIR or /run/user/<uid>
			runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
			if runtimeDir == "" {
				runtimeDir = fmt.Sprintf("/run/user/%d", os.Getuid())
			}
			socketPath = filepath.Join(runtimeDir, "kxctl.sock")

			tempDir = fmt.Sprintf("/tmp/kxctl-%d", os.Getuid())
			pidFile = filepath.Join(configDir, "daemon.pid")

		case "darwin":
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config", "kxctl")
			socketPath = filepath.Join(home, "Library", "Application Support", "kxctl", "daemon.sock")

			tempDir = fmt.Sprintf("/tmp/kxctl-%d", os.Getuid())
			pidFile = filepath.Join(configDir, "daemon.pid")

		case "windows":
			appData := os.Getenv("APPDATA")
			if appData == "" {
				return nil, fmt.Errorf("APPDATA environment variable not set")
			}
			configDir = filepath.Join(appData, "kxctl")

			// Named pipe on Windows
			username := os.Getenv("USERNAME")
			if username == "" {
				username = "user"
			}
			socketPath = fmt.Sprintf(`\\.\pipe\kxctl-%s`, username)

			tempDir = filepath.Join(os.TempDir(), "kxctl")
			pidFile = "" // Windows uses different mechanism

		default:
			return nil, fmt.Errorf("unsupported platform: %s", runtime.GOOS)
		}
	}

	p := &Paths{
		ConfigDir: configDir,

		IdentityFile: filepath.Join(configDir, "identity.enc"),
		ProfileFile:  filepath.Join(configDir, "identity.pub"),
		ConfigFile:   filepath.Join(configDir, "config.toml"),
		StoreFile:    filepath.Join(configDir, "store.json"),
		AuditLogFile: filepath.Join(configDir, "audit.log"),
		PIDFile:      pidFile,

		SocketPath: socketPath,
		TempDir:    tempDir,
	}

	return p, nil
}

// EnsureDirectories creates all required directories with appropriate permissions
func (p *Paths) EnsureDirectories() error {
	dirs := []string{
		p.ConfigDir,
		p.TempDir,
	}

	// On macOS, also ensure the socket parent directory
	if runtime.GOOS == "darwin" {
		socketDir := filepath.Dir(p.SocketPath)
		dirs = append(dirs, socketDir)
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// IdentityExists returns true if an identity file is present
func (p *Paths) IdentityExists() bool {
	if _, err := os.Stat(p.IdentityFile); err == nil {
		return true
	}
	if _, err := os.Stat(p.ProfileFile); err == nil {
		return true
	}
	return false
}

// LogFile returns the platform-specific log file path (Windows only)
func (p *Paths) LogFile() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(p.ConfigDir, "daemon.log")
	}
	return "" // Linux/macOS use systemd journal / unified log
}
