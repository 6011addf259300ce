package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"kxctl.dev/go/kxctl/internal/client"
	"kxctl.dev/go/kxctl/internal/exchange"
	"kxctl.dev/go/kxctl/internal/identity"
	"kxctl.dev/go/kxctl/internal/tui"
)

var (
	requestsDirection string
	requestsFormat    string
)

func init() {
	rootCmd.AddCommand(requestsCmd)

	requestsCmd.Flags().StringVar(&requestsDirection, "direction", "", "filter by direction (sent, received)")
	requestsCmd.Flags().StringVar(&requestsFormat, "format", "", "output format: table, json, tui (default: tui on a terminal)")
}

var requestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "List key exchange requests",
	Long: `List key exchange requests, sent and received.

The default on a terminal is the interactive inbox: navigate with the
arrow keys and answer requests with a (accept), d (decline) and
r (revoke). Pipe the output or pass --format to get a plain table or
JSON instead.

Examples:
  kxctl requests
  kxctl requests --direction received
  kxctl requests --format json`,
	RunE: runRequests,
}

func runRequests(cmd *cobra.Command, args []string) error {
	switch requestsDirection {
	case "", "sent", "received":
	default:
		return fmt.Errorf("invalid direction %q (want sent or received)", requestsDirection)
	}

	format := requestsFormat
	if format == "" {
		if tui.IsStdoutTerminal() {
			format = "tui"
		} else {
			format = "table"
		}
	}

	c, err := connectDaemon()
	if err != nil {
		return err
	}
	defer c.Close()

	if format == "tui" {
		return runInbox(c, requestsDirection)
	}

	list, err := c.Requests(requestsDirection)
	if err != nil {
		return err
	}

	switch format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	case "table":
		outputRequestsTable(list)
		return nil
	default:
		return fmt.Errorf("invalid format %q (want table, json, or tui)", format)
	}
}

// requestRow pairs a request with the partition it came from, for
// rendering the two directions in one list.
type requestRow struct {
	dir string
	req *exchange.Request
}

func flattenRequests(list *client.RequestList) []requestRow {
	rows := make([]requestRow, 0, len(list.Sent)+len(list.Received))
	for _, req := range list.Sent {
		rows = append(rows, requestRow{dir: "sent", req: req})
	}
	for _, req := range list.Received {
		rows = append(rows, requestRow{dir: "received", req: req})
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].req.Timestamp > rows[j].req.Timestamp
	})
	return rows
}

func (r requestRow) peer() string {
	if r.dir == "sent" {
		return r.req.ToSessionID
	}
	return r.req.FromSessionID
}

func (r requestRow) peerLabel() string {
	if r.req.DisplayName != "" {
		return r.req.DisplayName
	}
	return identity.ShortSessionID(r.peer())
}

func (r requestRow) age() string {
	return formatDuration(time.Since(time.UnixMilli(r.req.Timestamp)))
}

func outputRequestsTable(list *client.RequestList) {
	rows := flattenRequests(list)
	if len(rows) == 0 {
		fmt.Println("No key exchange requests.")
		return
	}

	fmt.Printf("%-9s %-9s %-10s %-18s %-7s %s\n", "ID", "DIR", "STATUS", "PEER", "AGE", "PHRASE")
	fmt.Println(strings.Repeat("-", 84))

	for _, row := range rows {
		phrase := row.req.RequestPhrase
		if len(phrase) > 36 {
			phrase = phrase[:33] + "..."
		}
		fmt.Printf("%-9s %-9s %-10s %-18s %-7s %s\n",
			shortID(row.req.ID), row.dir, row.req.Status, row.peerLabel(), row.age(), phrase)
	}
}
