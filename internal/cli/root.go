// Package cli wires the btcexd commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	debug      bool
	quiet      bool
)

var rootCmd = &cobra.Command{
	Use:   "btcexd",
	Short: "btcexd - futures exchange daemon",
	Long: `btcexd runs a futures exchange: a transactional matching engine over
an append-only balance ledger, exposed through a JSON-RPC API and a
websocket trade feed. All state lives in PostgreSQL; the daemon itself
is stateless between requests.`,
	Version: "0.1.0-dev",
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "conf", "", "configuration file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable normally suppressed debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output to console after startup")
}
