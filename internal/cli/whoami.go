package cli

import (
	"encoding/hex"
	"fmt"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"kxctl.dev/go/kxctl/internal/config"
	"kxctl.dev/go/kxctl/internal/identity"
)

var (
	whoamiQR      bool
	whoamiVerbose bool
)

func init() {
	rootCmd.AddCommand(whoamiCmd)

	whoamiCmd.Flags().BoolVar(&whoamiQR, "qr", false, "display session ID as QR code")
	whoamiCmd.Flags().BoolVar(&whoamiVerbose, "verbose", false, "show full public keys")
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show identity information",
	Long: `Display your kxctl identity information.

Shows the session ID, display name, and fingerprint. Peers need your
session ID to send you a key exchange request; share it with --qr for
easy scanning. Does not require the daemon to be running.

Examples:
  kxctl whoami
  kxctl whoami --qr
  kxctl whoami --verbose`,
	RunE: runWhoami,
}

func runWhoami(cmd *cobra.Command, args []string) error {
	paths, err := config.GetPaths()
	if err != nil {
		return fmt.Errorf("get paths: %w", err)
	}

	if !paths.IdentityExists() {
		fmt.Println("No identity found.")
		fmt.Println()
		fmt.Println("To create an identity, run: kxctl init")
		return nil
	}

	// The public profile is stored unencrypted, no passphrase needed
	pub, err := identity.LoadPublic(paths.ProfileFile)
	if err != nil {
		return fmt.Errorf("load public identity: %w", err)
	}

	fmt.Printf("Session ID:   %s\n", pub.SessionID)
	fmt.Printf("Display name: %s\n", pub.DisplayName)
	fmt.Printf("Fingerprint:  %s\n", pub.Fingerprint())
	fmt.Printf("Created:      %s\n", pub.CreatedAt.Format("2006-01-02 15:04:05 UTC"))

	if whoamiQR {
		qr, err := qrcode.New(pub.SessionID, qrcode.Medium)
		if err != nil {
			return fmt.Errorf("generate QR code: %w", err)
		}
		fmt.Println()
		fmt.Print(qr.ToSmallString(false))
	}

	if whoamiVerbose {
		fmt.Println()
		fmt.Println("X25519 Public Key (key exchange):")
		fmt.Printf("  %s\n", pub.EncryptionKey)
		if len(pub.MLDSAPub) > 0 {
			fmt.Println()
			fmt.Println("ML-DSA-65 Public Key (signing):")
			fmt.Printf("  %s\n", hex.EncodeToString(pub.MLDSAPub))
		}
	}

	return nil
}
