package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"kxctl.dev/go/kxctl/internal/client"
)

var (
	version    = "dev"
	cfgFile    string
	verboseLog bool
)

func SetVersion(v string) {
	version = v
}

// RootCmd is the root command, exported for documentation generation
var RootCmd = &cobra.Command{
	Use:   "kxctl",
	Short: "Key exchange manager for encrypted messaging",
	Long: `kxctl - Key exchange manager for encrypted messaging

Create and answer key exchange requests between messenger sessions.
Requests are tracked through their full lifecycle, peer encryption keys
are stored on acceptance, and interrupted exchanges are resumed by a
background daemon.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// For internal use, keep an alias
var rootCmd = RootCmd

func Execute() error {
	return RootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.config/kxctl/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verboseLog, "verbose", "v", false, "verbose output")
}

func connectDaemon() (*client.Client, error) {
	c, err := client.Connect()
	if err != nil {
		return nil, fmt.Errorf("daemon is not running (start it with 'kxctl daemon start')")
	}
	return c, nil
}
