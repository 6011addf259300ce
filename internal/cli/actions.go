package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"kxctl.dev/go/kxctl/internal/client"
	"kxctl.dev/go/kxctl/internal/exchange"
	"kxctl.dev/go/kxctl/internal/identity"
	"kxctl.dev/go/kxctl/internal/tui"
)

var (
	revokeSilent bool
	removeSilent bool
)

func init() {
	rootCmd.AddCommand(acceptCmd)
	rootCmd.AddCommand(declineCmd)
	rootCmd.AddCommand(revokeCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(nameCmd)

	revokeCmd.Flags().BoolVar(&revokeSilent, "silent", false, "revoke without confirmation prompt")
	removeCmd.Flags().BoolVar(&removeSilent, "silent", false, "remove without confirmation prompt")
}

var acceptCmd = &cobra.Command{
	Use:   "accept <id>",
	Short: "Accept a received key exchange request",
	Long: `Accept a received key exchange request.

Acceptance stores the sender's encryption key, sends yours back, and
exchanges profiles. The sender becomes a contact you can message.

The ID may be abbreviated to any unique prefix.`,
	Args: cobra.ExactArgs(1),
	RunE: runAccept,
}

func runAccept(cmd *cobra.Command, args []string) error {
	c, err := connectDaemon()
	if err != nil {
		return err
	}
	defer c.Close()

	id, err := resolveRequestID(c, args[0])
	if err != nil {
		return err
	}

	if err := c.Accept(id); err != nil {
		return err
	}

	fmt.Printf("Accepted %s. Keys exchanged; you can now message this contact.\n", shortID(id))
	return nil
}

var declineCmd = &cobra.Command{
	Use:   "decline <id>",
	Short: "Decline a received key exchange request",
	Long: `Decline a received key exchange request.

The sender is notified. Declined requests stay in the list until
removed with 'kxctl remove'.`,
	Args: cobra.ExactArgs(1),
	RunE: runDecline,
}

func runDecline(cmd *cobra.Command, args []string) error {
	c, err := connectDaemon()
	if err != nil {
		return err
	}
	defer c.Close()

	id, err := resolveRequestID(c, args[0])
	if err != nil {
		return err
	}

	if err := c.Decline(id); err != nil {
		return err
	}

	fmt.Printf("Declined %s.\n", shortID(id))
	return nil
}

var revokeCmd = &cobra.Command{
	Use:   "revoke <id>",
	Short: "Withdraw a sent key exchange request",
	Long: `Withdraw a key exchange request you sent.

The request disappears from both your list and the peer's, whether or
not the peer has seen it yet. Works even when the peer link is offline;
the peer's copy goes away when the notice reaches them.`,
	Args: cobra.ExactArgs(1),
	RunE: runRevoke,
}

func runRevoke(cmd *cobra.Command, args []string) error {
	c, err := connectDaemon()
	if err != nil {
		return err
	}
	defer c.Close()

	id, err := resolveRequestID(c, args[0])
	if err != nil {
		return err
	}

	if !revokeSilent {
		ok, err := tui.Confirm(fmt.Sprintf("Withdraw request %s on both ends?", shortID(id)), false)
		if err != nil {
			return fmt.Errorf("confirmation: %w", err)
		}
		if !ok {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	if err := c.Revoke(id); err != nil {
		return err
	}

	fmt.Printf("Revoked %s. The request was withdrawn on both ends.\n", shortID(id))
	return nil
}

var retryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Re-send a failed key exchange request",
	Long: `Re-send a key exchange request that failed to deliver.

The request keeps its ID and greeting phrase; only the timestamp is
refreshed. If delivery fails again the request stays failed and can be
retried later.`,
	Args: cobra.ExactArgs(1),
	RunE: runRetry,
}

func runRetry(cmd *cobra.Command, args []string) error {
	c, err := connectDaemon()
	if err != nil {
		return err
	}
	defer c.Close()

	id, err := resolveRequestID(c, args[0])
	if err != nil {
		return err
	}

	if err := c.Retry(id); err != nil {
		return err
	}

	fmt.Printf("Re-sent %s.\n", shortID(id))
	return nil
}

var removeCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a received request from the list",
	Long: `Remove a received key exchange request without answering it.

The sender is not notified and keeps seeing the request as sent. Only
unanswered received requests can be removed; answered ones are already
settled and sent ones are withdrawn with 'kxctl revoke'.`,
	Args: cobra.ExactArgs(1),
	RunE: runRemove,
}

func runRemove(cmd *cobra.Command, args []string) error {
	c, err := connectDaemon()
	if err != nil {
		return err
	}
	defer c.Close()

	id, err := resolveRequestID(c, args[0])
	if err != nil {
		return err
	}

	if !removeSilent {
		ok, err := tui.Confirm(fmt.Sprintf("Remove request %s without answering?", shortID(id)), false)
		if err != nil {
			return fmt.Errorf("confirmation: %w", err)
		}
		if !ok {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	if err := c.Remove(id); err != nil {
		return err
	}

	fmt.Printf("Removed %s.\n", shortID(id))
	return nil
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate a legacy request store",
	Long: `Migrate key exchange requests from the legacy single-list store
into the partitioned store.

Entries are sorted into sent and received by comparing their session
IDs against yours. Safe to run repeatedly; already-migrated requests
are left alone.`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	c, err := connectDaemon()
	if err != nil {
		return err
	}
	defer c.Close()

	migrated, err := c.Migrate()
	if err != nil {
		return err
	}

	if migrated == 0 {
		fmt.Println("No legacy requests found.")
		return nil
	}

	fmt.Printf("Migrated %d legacy request(s) into the partitioned store.\n", migrated)
	return nil
}

var nameCmd = &cobra.Command{
	Use:   "name <session-id> <display-name>",
	Short: "Set a display name for a peer",
	Long: `Set the display name shown for a peer's requests.

Overrides the name the peer announced in their profile, on every
request from that session.

Examples:
  kxctl name 05a1b2c3... "Alice (work)"`,
	Args: cobra.ExactArgs(2),
	RunE: runName,
}

func runName(cmd *cobra.Command, args []string) error {
	peer := strings.TrimSpace(args[0])
	if err := identity.ValidateSessionID(peer); err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}

	displayName := strings.TrimSpace(args[1])
	if displayName == "" {
		return fmt.Errorf("display name cannot be empty")
	}
	if len(displayName) > 64 {
		return fmt.Errorf("display name too long (max 64 characters)")
	}

	c, err := connectDaemon()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.SetName(peer, displayName); err != nil {
		return err
	}

	fmt.Printf("Saved. %s will show as %q.\n", identity.ShortSessionID(peer), displayName)
	return nil
}

// resolveRequestID expands a unique ID prefix to the full request ID.
// Unknown IDs pass through so the daemon can report not found.
func resolveRequestID(c *client.Client, arg string) (string, error) {
	list, err := c.Requests("")
	if err != nil {
		return "", err
	}

	all := make([]*exchange.Request, 0, len(list.Sent)+len(list.Received))
	all = append(all, list.Sent...)
	all = append(all, list.Received...)

	var matches []string
	for _, req := range all {
		if req.ID == arg {
			return arg, nil
		}
		if strings.HasPrefix(req.ID, arg) {
			matches = append(matches, req.ID)
		}
	}

	switch len(matches) {
	case 0:
		return arg, nil
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("request ID %q is ambiguous (%d matches); use more characters", arg, len(matches))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
