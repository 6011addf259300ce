package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"kxctl.dev/go/kxctl/internal/audit"
	"kxctl.dev/go/kxctl/internal/identity"
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "View the audit log",
	Long: `View and filter the audit log.

Every identity, exchange, peer and daemon action is recorded locally.
Reads the log file directly, so it works with or without the daemon.

Examples:
  kxctl log
  kxctl log --level error
  kxctl log --category exchange --since 1h
  kxctl log --peer 05a1b2c3...
  kxctl log --follow
  kxctl log --format json`,
	RunE: runLog,
}

func init() {
	logCmd.Flags().String("level", "", "filter by level (debug, info, warn, error)")
	logCmd.Flags().String("since", "24h", "show events since (e.g., 5m, 1h, 24h, 2025-01-15)")
	logCmd.Flags().String("until", "", "show events until")
	logCmd.Flags().String("category", "", "filter by category (identity, exchange, peer, profile, daemon)")
	logCmd.Flags().String("peer", "", "filter by peer session ID")
	logCmd.Flags().String("search", "", "search text")
	logCmd.Flags().String("format", "table", "output format (table, json)")
	logCmd.Flags().Bool("follow", false, "follow new events (like tail -f)")
	logCmd.Flags().Int("limit", 1000, "maximum events to show")
	rootCmd.AddCommand(logCmd)
}

func runLog(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	follow, _ := cmd.Flags().GetBool("follow")

	opts, err := buildLogQueryOpts(cmd)
	if err != nil {
		return err
	}

	if follow {
		return runLogFollowMode(opts)
	}

	switch format {
	case "json":
		return outputLogJSON(opts)
	case "table":
		return outputLogTable(opts)
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

func buildLogQueryOpts(cmd *cobra.Command) (audit.QueryOpts, error) {
	opts := audit.QueryOpts{}

	if level, _ := cmd.Flags().GetString("level"); level != "" {
		opts.Level = strings.ToUpper(level)
	}

	if since, _ := cmd.Flags().GetString("since"); since != "" {
		t, err := parseLogTimeArg(since)
		if err != nil {
			return opts, err
		}
		opts.Since = &t
	}

	if until, _ := cmd.Flags().GetString("until"); until != "" {
		t, err := parseLogTimeArg(until)
		if err != nil {
			return opts, err
		}
		opts.Until = &t
	}

	if category, _ := cmd.Flags().GetString("category"); category != "" {
		if !validLogCategory(category) {
			return opts, fmt.Errorf("unknown category %q (valid: %s)", category, strings.Join(audit.AllCategories(), ", "))
		}
		opts.Category = category
	}

	opts.Peer, _ = cmd.Flags().GetString("peer")
	opts.Search, _ = cmd.Flags().GetString("search")
	opts.Limit, _ = cmd.Flags().GetInt("limit")

	return opts, nil
}

func validLogCategory(category string) bool {
	for _, c := range audit.AllCategories() {
		if c == category {
			return true
		}
	}
	return false
}

func parseLogTimeArg(s string) (time.Time, error) {
	// Try duration format (e.g., "1h", "5m", "24h")
	if d, err := time.ParseDuration(s); err == nil {
		return time.Now().Add(-d), nil
	}

	// Try date formats
	formats := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
	}

	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("invalid time format: %s", s)
}

// --- JSON Output ---

func outputLogJSON(opts audit.QueryOpts) error {
	events := audit.Default().Query(opts)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(events)
}

// --- Table Output ---

func outputLogTable(opts audit.QueryOpts) error {
	events := audit.Default().Query(opts)

	fmt.Printf("%-10s %-5s %-20s %s\n", "TIME", "LEVEL", "ACTION", "DETAILS")
	fmt.Println(strings.Repeat("-", 80))

	for _, e := range events {
		timeStr := e.Timestamp.Format("15:04:05")
		fmt.Printf("%-10s %-5s %-20s %s\n", timeStr, e.Level, e.Action, formatLogTableDetails(e))
	}

	return nil
}

func formatLogTableDetails(e audit.Event) string {
	parts := []string{}
	if e.Peer != "" {
		parts = append(parts, "peer="+identity.ShortSessionID(e.Peer))
	}
	if e.Request != "" {
		parts = append(parts, "request="+shortID(e.Request))
	}
	if name, ok := e.Details["name"]; ok {
		parts = append(parts, fmt.Sprintf("name=%v", name))
	}
	if migrated, ok := e.Details["migrated"]; ok {
		parts = append(parts, fmt.Sprintf("migrated=%v", migrated))
	}
	if e.Error != "" {
		parts = append(parts, "error="+e.Error)
	}
	if len(parts) == 0 {
		return e.Message
	}
	return strings.Join(parts, " ")
}

// --- Follow Mode ---

func runLogFollowMode(opts audit.QueryOpts) error {
	// Initial load, oldest first so the tail reads top to bottom
	events := audit.Default().Query(opts)
	for i := len(events) - 1; i >= 0; i-- {
		printLogFollowEvent(events[i])
	}

	fmt.Println("--- Following audit log (Ctrl+C to stop) ---")

	// Poll the file rather than the in-memory buffer: new events are
	// written by the daemon process, not this one.
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	lastTime := time.Now()

	for range ticker.C {
		since := lastTime
		queryOpts := opts
		queryOpts.Since = &since
		queryOpts.Limit = 100

		newEvents, err := audit.Default().QueryFromFile(queryOpts)
		if err != nil {
			continue
		}
		for _, e := range newEvents {
			if e.Timestamp.After(lastTime) {
				printLogFollowEvent(e)
				lastTime = e.Timestamp
			}
		}
	}

	return nil
}

func printLogFollowEvent(e audit.Event) {
	timeStr := e.Timestamp.Format("15:04:05")

	// Color level
	levelColor := ""
	switch e.Level {
	case audit.LevelDebug:
		levelColor = "\033[90m" // gray
	case audit.LevelInfo:
		levelColor = "\033[34m" // blue
	case audit.LevelWarn:
		levelColor = "\033[33m" // yellow
	case audit.LevelError:
		levelColor = "\033[31m" // red
	}
	resetColor := "\033[0m"

	fmt.Printf("%s  %s%-5s%s  %-20s  %s\n",
		timeStr, levelColor, e.Level, resetColor, e.Action, formatLogTableDetails(e))
}
