package cli

import (
	"fmt"
	"os/user"
	"strings"

	"github.com/spf13/cobra"

	"kxctl.dev/go/kxctl/internal/audit"
	"kxctl.dev/go/kxctl/internal/config"
	"kxctl.dev/go/kxctl/internal/crypto"
	"kxctl.dev/go/kxctl/internal/identity"
	"kxctl.dev/go/kxctl/internal/keychain"
	"kxctl.dev/go/kxctl/internal/tui"
)

var (
	initName  string
	initForce bool
)

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().StringVar(&initName, "name", "", "display name shown to peers (default: username)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "replace an existing identity")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a new identity",
	Long: `Create a new kxctl identity on this device.

The identity is a seed from which the session keys are derived: an
Ed25519 signing key, an X25519 key exchange key, and an ML-DSA-65
post-quantum signing key. The session ID peers use to reach you is
derived from the signing key.

The seed is stored in the system keychain when one is available.
Without a keychain it is written to an encrypted file protected by a
passphrase, which the daemon will prompt for on start.

Examples:
  kxctl init
  kxctl init --name alice
  kxctl init --force`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	paths, err := config.GetPaths()
	if err != nil {
		return fmt.Errorf("get paths: %w", err)
	}

	if paths.IdentityExists() {
		if !initForce {
			fmt.Println("Identity already exists.")
			fmt.Printf("  Profile: %s\n", paths.ProfileFile)
			fmt.Println()
			fmt.Println("To view your identity, run: kxctl whoami")
			fmt.Println("To replace it, run: kxctl init --force")
			return nil
		}

		ok, err := tui.Confirm("Replace the existing identity? Contacts keyed to it will have to re-exchange.", false)
		if err != nil {
			return fmt.Errorf("confirmation: %w", err)
		}
		if !ok {
			fmt.Println("Cancelled.")
			return nil
		}
		if err := identity.DeleteIdentity(paths.IdentityFile, paths.ProfileFile); err != nil {
			return fmt.Errorf("delete identity: %w", err)
		}
		audit.Info(audit.ActionIdentityDeleted, "existing identity deleted")
	}

	name := initName
	if name == "" {
		name = defaultDisplayName()
		name, err = tui.ReadLineDefault("Display name: ", name)
		if err != nil {
			return fmt.Errorf("read name: %w", err)
		}
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("display name cannot be empty")
	}
	if len(name) > 64 {
		return fmt.Errorf("display name too long (max 64 characters)")
	}

	if err := paths.EnsureDirectories(); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}

	// Keychain custody needs no passphrase; the file fallbacks do
	var passphrase []byte
	useKeychain := keychain.IsAvailable()
	usePIV := !useKeychain && crypto.PIVAvailable()
	switch {
	case usePIV:
		fmt.Println()
		fmt.Println("No system keychain available. A YubiKey was detected, so your")
		fmt.Println("identity will be wrapped by a key on the card. The daemon will")
		fmt.Println("need the card and its PIN on start.")
		fmt.Println()

		passphrase, err = tui.ReadPassword("YubiKey PIN: ")
		if err != nil {
			return fmt.Errorf("read PIN: %w", err)
		}
		defer crypto.ZeroBytes(passphrase)
	case !useKeychain:
		fmt.Println()
		fmt.Println("No system keychain available. Your identity will be encrypted")
		fmt.Println("with a passphrase, required whenever the daemon starts.")
		fmt.Println()

		passphrase, err = tui.ReadPasswordConfirm("Passphrase: ", "Confirm passphrase: ")
		if err != nil {
			return fmt.Errorf("read passphrase: %w", err)
		}
		defer crypto.ZeroBytes(passphrase)

		if len(passphrase) < 8 {
			return fmt.Errorf("passphrase must be at least 8 characters")
		}
	}

	fmt.Println()
	fmt.Print("Generating identity...")

	id, err := identity.Generate(name)
	if err != nil {
		fmt.Println(" failed")
		return fmt.Errorf("generate identity: %w", err)
	}
	defer id.Destroy()

	fmt.Println(" done")

	fmt.Print("Saving identity...")

	if err := identity.SaveIdentity(id, paths.IdentityFile, paths.ProfileFile, passphrase); err != nil {
		fmt.Println(" failed")
		return fmt.Errorf("save identity: %w", err)
	}

	fmt.Println(" done")

	audit.LogIdentityCreated(name, id.SessionID())

	storage := "Encrypted file (passphrase-protected)"
	switch {
	case useKeychain:
		storage = "System keychain"
	case usePIV:
		storage = "Encrypted file (YubiKey-wrapped)"
	}

	fmt.Println()
	fmt.Println("Identity created successfully!")
	fmt.Println()
	fmt.Printf("  Display name: %s\n", name)
	fmt.Printf("  Session ID:   %s\n", id.SessionID())
	fmt.Printf("  Fingerprint:  %s\n", id.Fingerprint())
	fmt.Printf("  Storage:      %s\n", storage)
	fmt.Printf("  Profile:      %s\n", paths.ProfileFile)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Back up your identity: kxctl backup")
	fmt.Println("  2. Start the daemon:      kxctl daemon start")
	fmt.Println("  3. Share your session ID: kxctl whoami --qr")

	return nil
}

func defaultDisplayName() string {
	u, err := user.Current()
	if err != nil {
		return "anonymous"
	}
	return u.Username
}
