package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"kxctl.dev/go/kxctl/internal/client"
	"kxctl.dev/go/kxctl/internal/daemon"
	"kxctl.dev/go/kxctl/internal/identity"
)

var sendPhrase string

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVar(&sendPhrase, "phrase", "", "greeting shown to the peer (default: a generic request phrase)")
}

var sendCmd = &cobra.Command{
	Use:   "send <session-id>",
	Short: "Send a key exchange request",
	Long: `Send a key exchange request to a peer session.

The peer sees the request with your greeting phrase and answers it with
accept or decline. On accept, encryption keys are swapped and the peer
becomes a contact you can message.

A request to a peer you already have an active request with replaces
the earlier one. A request to a peer who has an open request TO you is
rejected; answer theirs instead.

Examples:
  kxctl send 05a1b2c3...
  kxctl send 05a1b2c3... --phrase "Hi, it's Alice from the conference"`,
	Args: cobra.ExactArgs(1),
	RunE: runSend,
}

func runSend(cmd *cobra.Command, args []string) error {
	peer := strings.TrimSpace(args[0])
	if err := identity.ValidateSessionID(peer); err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}

	phrase := sendPhrase
	if phrase == "" {
		phrase = "I'd like to exchange encryption keys with you."
	}

	c, err := connectDaemon()
	if err != nil {
		return err
	}
	defer c.Close()

	short := identity.ShortSessionID(peer)

	if err := c.Send(peer, phrase); err != nil {
		var apiErr *client.Error
		if errors.As(err, &apiErr) {
			switch apiErr.Code {
			case daemon.ErrCodeUnavailable:
				fmt.Printf("Peer link is offline. The request to %s is parked as failed.\n", short)
				fmt.Println("Retry it with 'kxctl retry <id>' once the link is back.")
				return nil
			case daemon.ErrCodeConflict:
				return fmt.Errorf("%s already has an open request to you; answer it with 'kxctl requests'", short)
			}
		}
		return err
	}

	fmt.Printf("Key exchange request sent to %s.\n", short)
	fmt.Println("Track it with 'kxctl requests'.")
	return nil
}
