package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"kxctl.dev/go/kxctl/internal/client"
	"kxctl.dev/go/kxctl/internal/config"
	"kxctl.dev/go/kxctl/internal/exchange"
	"kxctl.dev/go/kxctl/internal/identity"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show identity and exchange status",
	Long: `Display your identity, daemon state, and a summary of key
exchange requests that need attention.

Examples:
  kxctl status`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	paths, err := config.GetPaths()
	if err != nil {
		return fmt.Errorf("get paths: %w", err)
	}

	if !paths.IdentityExists() {
		fmt.Println("No identity configured. Run 'kxctl init' first.")
		return nil
	}

	pub, err := identity.LoadPublic(paths.ProfileFile)
	if err != nil {
		return fmt.Errorf("load public identity: %w", err)
	}

	fmt.Printf("Identity:     %s\n", pub.DisplayName)
	fmt.Printf("Session ID:   %s\n", pub.SessionID)
	fmt.Printf("Fingerprint:  %s\n", pub.Fingerprint())
	fmt.Println()

	c, err := client.Connect()
	if err != nil {
		fmt.Println("Daemon:       not running")
		fmt.Println()
		fmt.Println("Start it with: kxctl daemon start")
		return nil
	}
	defer c.Close()

	status, err := c.Status()
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}

	fmt.Printf("Daemon:       running (PID %d, up %s)\n", status.PID, status.Uptime)
	fmt.Printf("Requests:     %d sent, %d received\n", status.SentCount, status.ReceivedCount)
	fmt.Printf("Peer keys:    %d stored\n", status.TrustedPeers)

	list, err := c.Requests("")
	if err != nil {
		return fmt.Errorf("list requests: %w", err)
	}

	var awaiting, failed int
	for _, req := range list.Received {
		if req.Status == exchange.StatusReceived {
			awaiting++
		}
	}
	for _, req := range list.Sent {
		if req.Status == exchange.StatusFailed {
			failed++
		}
	}

	if awaiting > 0 || failed > 0 {
		fmt.Println()
		if awaiting > 0 {
			fmt.Printf("Attention:    %d received request(s) awaiting an answer\n", awaiting)
			fmt.Println("              Review with: kxctl requests")
		}
		if failed > 0 {
			fmt.Printf("Attention:    %d failed send(s)\n", failed)
			fmt.Println("              Retry with: kxctl retry <id>")
		}
	}

	return nil
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		return "0s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		if mins > 0 {
			return fmt.Sprintf("%dh %dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}
