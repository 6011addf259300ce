package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"kxctl.dev/go/kxctl/internal/audit"
	"kxctl.dev/go/kxctl/internal/config"
	"kxctl.dev/go/kxctl/internal/crypto"
	"kxctl.dev/go/kxctl/internal/identity"
	"kxctl.dev/go/kxctl/internal/keychain"
	"kxctl.dev/go/kxctl/internal/tui"
)

var (
	backupPlain  bool
	backupQR     bool
	backupOutput string
)

func init() {
	rootCmd.AddCommand(backupCmd)

	backupCmd.Flags().BoolVar(&backupPlain, "plain", false, "plain text output (no box)")
	backupCmd.Flags().BoolVar(&backupQR, "qr", false, "display as QR code")
	backupCmd.Flags().StringVar(&backupOutput, "output", "", "write to file instead of stdout")
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Export identity as recovery phrase",
	Long: `Export your identity as a 24-word recovery phrase.

The phrase encodes the identity seed; 'kxctl restore' rebuilds the same
session keys from it on any device. Store it securely, anyone with
these words can become you.

Examples:
  kxctl backup
  kxctl backup --plain
  kxctl backup --qr
  kxctl backup --output backup.txt`,
	RunE: runBackup,
}

func runBackup(cmd *cobra.Command, args []string) error {
	paths, err := config.GetPaths()
	if err != nil {
		return fmt.Errorf("get paths: %w", err)
	}

	if !identity.HasIdentity(paths.IdentityFile) {
		return fmt.Errorf("no identity found. Create one with: kxctl init")
	}

	id, err := unlockIdentity(paths)
	if err != nil {
		return err
	}
	defer id.Destroy()

	mnemonic, err := id.Mnemonic()
	if err != nil {
		return fmt.Errorf("encode recovery phrase: %w", err)
	}

	var result string

	if backupQR {
		qr, err := qrcode.New(mnemonic, qrcode.Medium)
		if err != nil {
			return fmt.Errorf("generate QR code: %w", err)
		}
		result = qr.ToSmallString(false)
	} else if backupPlain {
		result = fmt.Sprintf("Recovery phrase: %s\n", mnemonic)
	} else {
		result = formatPaperBackup(id, strings.Fields(mnemonic))
	}

	if backupOutput != "" {
		if err := os.WriteFile(backupOutput, []byte(result), 0600); err != nil {
			return fmt.Errorf("write file: %w", err)
		}
		fmt.Printf("Backup written to %s\n", backupOutput)
		fmt.Println("Store this file securely and delete after printing.")
	} else {
		fmt.Print(result)
	}

	return nil
}

func formatPaperBackup(id *identity.Identity, words []string) string {
	var sb strings.Builder

	sb.WriteString("\n")
	sb.WriteString("+==============================================================+\n")
	sb.WriteString("|                     KXCTL IDENTITY BACKUP                    |\n")
	sb.WriteString("|                                                              |\n")
	sb.WriteString(fmt.Sprintf("|  Name:        %-43s |\n", id.DisplayName))
	sb.WriteString(fmt.Sprintf("|  Fingerprint: %-43s |\n", id.Fingerprint()))
	sb.WriteString(fmt.Sprintf("|  Created:     %-43s |\n", id.CreatedAt.Format("2006-01-02")))
	sb.WriteString("|                                                              |\n")
	sb.WriteString("|  Recovery Words (24):                                        |\n")
	sb.WriteString("|                                                              |\n")

	// Four columns of six words each
	for row := 0; row < 6; row++ {
		sb.WriteString("|  ")
		for col := 0; col < 4; col++ {
			idx := row + (col * 6)
			if idx < len(words) {
				sb.WriteString(fmt.Sprintf("%2d. %-10s", idx+1, words[idx]))
			}
		}
		sb.WriteString(" |\n")
	}

	sb.WriteString("|                                                              |\n")
	sb.WriteString("|  WARNING: Store this in a secure location.                   |\n")
	sb.WriteString("|  Anyone with these words can recover your identity.          |\n")
	sb.WriteString("+==============================================================+\n")
	sb.WriteString("\nPrint this page and store securely.\n")

	return sb.String()
}

// Restore command

var (
	restoreWords string
	restoreName  string
)

func init() {
	rootCmd.AddCommand(restoreCmd)

	restoreCmd.Flags().StringVar(&restoreWords, "words", "", "recovery phrase (space-separated)")
	restoreCmd.Flags().StringVar(&restoreName, "name", "", "display name shown to peers")
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Recover identity from recovery phrase",
	Long: `Recover your identity using the 24-word recovery phrase from a backup.

The restored identity has the same session ID and keys as the original.
Request history and peer keys are not part of the backup; accepted
exchanges must be redone.

Examples:
  kxctl restore
  kxctl restore --words "apple banana cherry ..."
  kxctl restore --name alice --words "..."`,
	RunE: runRestore,
}

func runRestore(cmd *cobra.Command, args []string) error {
	paths, err := config.GetPaths()
	if err != nil {
		return fmt.Errorf("get paths: %w", err)
	}

	if paths.IdentityExists() {
		return fmt.Errorf("identity already exists at %s\nDelete it first if you want to restore a different identity", paths.ProfileFile)
	}

	mnemonic := restoreWords
	if mnemonic == "" {
		fmt.Println("Enter recovery phrase (24 words, space-separated):")
		line, err := tui.ReadLine("> ")
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		mnemonic = strings.TrimSpace(line)
	}

	if err := crypto.ValidateMnemonic(mnemonic); err != nil {
		return fmt.Errorf("invalid recovery phrase: %w", err)
	}

	name := restoreName
	if name == "" {
		name, err = tui.ReadLine("Display name: ")
		if err != nil {
			return fmt.Errorf("read name: %w", err)
		}
		name = strings.TrimSpace(name)
	}
	if name == "" {
		return fmt.Errorf("display name is required")
	}
	if len(name) > 64 {
		return fmt.Errorf("display name too long (max 64 characters)")
	}

	id, err := identity.FromMnemonic(mnemonic, name)
	if err != nil {
		return fmt.Errorf("reconstruct identity: %w", err)
	}
	defer id.Destroy()

	fmt.Println()
	fmt.Println("Recovered identity:")
	fmt.Printf("  Session ID:  %s\n", id.SessionID())
	fmt.Printf("  Fingerprint: %s\n", id.Fingerprint())
	fmt.Println()

	var passphrase []byte
	switch {
	case keychain.IsAvailable():
	case crypto.PIVAvailable():
		fmt.Println("A YubiKey was detected. Your recovered identity will be wrapped")
		fmt.Println("by a key on the card.")
		passphrase, err = tui.ReadPassword("YubiKey PIN: ")
		if err != nil {
			return err
		}
		defer crypto.ZeroBytes(passphrase)
	default:
		fmt.Println("Set a passphrase to encrypt your recovered identity.")
		passphrase, err = tui.ReadPasswordConfirm("Passphrase: ", "Confirm passphrase: ")
		if err != nil {
			return err
		}
		defer crypto.ZeroBytes(passphrase)

		if len(passphrase) < 8 {
			return fmt.Errorf("passphrase must be at least 8 characters")
		}
	}

	if err := paths.EnsureDirectories(); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}

	fmt.Print("Saving identity...")

	if err := identity.SaveIdentity(id, paths.IdentityFile, paths.ProfileFile, passphrase); err != nil {
		fmt.Println(" failed")
		return fmt.Errorf("save identity: %w", err)
	}

	fmt.Println(" done")

	audit.LogIdentityRecovered(name, id.SessionID())

	fmt.Println()
	fmt.Println("Identity restored successfully!")
	fmt.Printf("  Profile: %s\n", paths.ProfileFile)
	fmt.Println()
	fmt.Println("Start the daemon with: kxctl daemon start")

	return nil
}
