package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set at build time via ldflags)
var (
	version = "dev"
	commit  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "mcp-bridge",
	Short: "MCP connection aggregator and bridge",
	Long: `mcp-bridge connects to multiple MCP servers and aggregates their tools
into a single interface.

Running without a subcommand starts the interactive dashboard.
Use 'mcp-bridge serve' to run as an MCP server (spawned by an MCP client).`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default to the dashboard when no subcommand is given
		return runDashboard(cmd, args)
	},
}

func init() {
	// Disable automatic completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Suppress errors from being printed twice
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
