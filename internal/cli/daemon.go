package cli

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"kxctl.dev/go/kxctl/internal/client"
	"kxctl.dev/go/kxctl/internal/config"
	"kxctl.dev/go/kxctl/internal/crypto"
	"kxctl.dev/go/kxctl/internal/daemon"
	"kxctl.dev/go/kxctl/internal/identity"
	"kxctl.dev/go/kxctl/internal/tui"
)

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.AddCommand(daemonRunCmd)
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Daemon management commands",
	Long: `Control the kxctl background daemon.

The daemon holds the unlocked identity, tracks key exchange requests
through their lifecycle, resumes interrupted completions, and serves
the local API.`,
}

var daemonRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run daemon in foreground",
	Long: `Run the daemon in the foreground.

This is typically used by service managers (systemd, launchd).
For manual use, prefer 'kxctl daemon start'.`,
	RunE: runDaemonRun,
}

func runDaemonRun(cmd *cobra.Command, args []string) error {
	paths, err := config.GetPaths()
	if err != nil {
		return fmt.Errorf("get paths: %w", err)
	}

	if !identity.HasIdentity(paths.IdentityFile) {
		return fmt.Errorf("no identity found. Run 'kxctl init' first")
	}

	if client.IsRunning() {
		return fmt.Errorf("daemon is already running")
	}

	cfg, err := loadConfig(paths)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	id, err := unlockIdentity(paths)
	if err != nil {
		return err
	}

	if err := paths.EnsureDirectories(); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}

	logLevel := cfg.Logging.Level
	if verboseLog {
		logLevel = "debug"
	}

	d, err := daemon.New(&daemon.Options{
		Paths:         paths,
		Identity:      id,
		Version:       version,
		WebPort:       cfg.Daemon.WebPort,
		WebEnabled:    cfg.Daemon.WebEnabled,
		MDNSEnabled:   cfg.Discovery.MDNS,
		NotifyEnabled: cfg.Notifications.Enabled,
		AutoAccept:    cfg.Exchange.AutoAccept,
		LogLevel:      logLevel,
	})
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}

	fmt.Println("Daemon starting...")
	return d.Run()
}

func loadConfig(paths *config.Paths) (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadFrom(cfgFile)
	}
	return config.LoadFrom(paths.ConfigFile)
}

// unlockIdentity loads the identity from its custody location. The
// keychain needs no interaction; the encrypted file fallback prompts
// for the passphrase or card PIN, with three attempts before giving up.
func unlockIdentity(paths *config.Paths) (*identity.Identity, error) {
	id, err := identity.LoadIdentity(paths.IdentityFile, paths.ProfileFile, nil)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, identity.ErrPassphraseRequired) {
		return nil, fmt.Errorf("load identity: %w", err)
	}

	prompt := "Passphrase: "
	retry := "Invalid passphrase. Try again."
	if identity.FileCustody(paths.IdentityFile) == identity.CustodyPIV {
		prompt = "YubiKey PIN: "
		retry = "Invalid PIN. Try again."
	}

	for attempt := 0; attempt < 3; attempt++ {
		passphrase, err := tui.ReadPassword(prompt)
		if err != nil {
			return nil, fmt.Errorf("read passphrase: %w", err)
		}

		id, err = identity.LoadIdentity(paths.IdentityFile, paths.ProfileFile, passphrase)
		crypto.ZeroBytes(passphrase)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, identity.ErrBadPassphrase) {
			return nil, fmt.Errorf("load identity: %w", err)
		}
		if attempt < 2 {
			fmt.Println(retry)
		}
	}

	return nil, fmt.Errorf("failed to unlock identity after 3 attempts")
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start daemon in background",
	Long: `Start the daemon in the background.

The daemon will continue running after this command exits.
Use 'kxctl daemon status' to check if it's running.`,
	RunE: runDaemonStart,
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	paths, err := config.GetPaths()
	if err != nil {
		return fmt.Errorf("get paths: %w", err)
	}

	if client.IsRunning() {
		fmt.Println("Daemon is already running.")
		return nil
	}

	if !identity.HasIdentity(paths.IdentityFile) {
		return fmt.Errorf("no identity found. Run 'kxctl init' first")
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("get executable: %w", err)
	}

	// Keep stdio attached so a passphrase prompt reaches the user
	runArgs := []string{"daemon", "run"}
	if cfgFile != "" {
		runArgs = append(runArgs, "--config", cfgFile)
	}
	daemonProc := exec.Command(exe, runArgs...)
	daemonProc.Stdin = os.Stdin
	daemonProc.Stdout = os.Stdout
	daemonProc.Stderr = os.Stderr

	if err := daemonProc.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- daemonProc.Wait()
	}()

	// Wait for the IPC socket to come up or the process to exit.
	// Generous timeout, passphrase entry may take a while.
	timeout := time.After(60 * time.Second)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("daemon failed to start: %w", err)
			}
			return fmt.Errorf("daemon exited unexpectedly")

		case <-ticker.C:
			if client.IsRunning() {
				fmt.Printf("Daemon started (PID %d).\n", daemonProc.Process.Pid)
				fmt.Println("Use 'kxctl daemon status' for details.")
				return nil
			}

		case <-timeout:
			fmt.Println("Timeout waiting for daemon to start.")
			fmt.Println("The daemon process may still be running in the background.")
			return nil
		}
	}
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	RunE:  runDaemonStop,
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	paths, err := config.GetPaths()
	if err != nil {
		return fmt.Errorf("get paths: %w", err)
	}

	if paths.PIDFile == "" {
		return fmt.Errorf("no PID file path configured on this platform")
	}

	data, err := os.ReadFile(paths.PIDFile)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("Daemon is not running (no PID file).")
			return nil
		}
		return fmt.Errorf("read PID file: %w", err)
	}

	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return fmt.Errorf("parse PID: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process: %w", err)
	}

	fmt.Printf("Sending SIGTERM to daemon (PID %d)...\n", pid)
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("send signal: %w", err)
	}

	for i := 0; i < 30; i++ {
		if !client.IsRunning() {
			fmt.Println("Daemon stopped.")
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	fmt.Println("Daemon did not stop gracefully. Consider 'kill -9'.")
	return nil
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE:  runDaemonStatus,
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	c, err := client.Connect()
	if err != nil {
		fmt.Println("Daemon is not running.")
		return nil
	}
	defer c.Close()

	status, err := c.Status()
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}

	fmt.Println("Daemon Status")
	fmt.Println()
	fmt.Printf("  Running:     yes\n")
	fmt.Printf("  PID:         %d\n", status.PID)
	fmt.Printf("  Version:     %s\n", status.Version)
	fmt.Printf("  Uptime:      %s\n", status.Uptime)
	fmt.Printf("  Session ID:  %s\n", status.SessionID)
	fmt.Printf("  Fingerprint: %s\n", status.Fingerprint)
	fmt.Printf("  Requests:    %d sent, %d received\n", status.SentCount, status.ReceivedCount)
	fmt.Printf("  Peer keys:   %d stored\n", status.TrustedPeers)
	if status.WebEnabled {
		fmt.Printf("  Web API:     http://localhost:%d\n", status.WebPort)
	}

	return nil
}
