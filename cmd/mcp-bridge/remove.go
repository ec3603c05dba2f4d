package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/jarvishq/mcp-bridge/internal/config"
	"github.com/spf13/cobra"
)

var (
	removeYes        bool
	removeConfigPath string
)

var removeCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove an MCP connection",
	Long: `Remove an MCP connection from the configuration.

By default, prompts for confirmation. Use --yes to skip the prompt.

Examples:
  mcp-bridge remove my-server
  mcp-bridge remove my-server --yes`,
	Args: cobra.ExactArgs(1),
	RunE: runRemove,
}

func init() {
	removeCmd.Flags().BoolVarP(&removeYes, "yes", "y", false, "Skip confirmation prompt")
	removeCmd.Flags().StringVarP(&removeConfigPath, "config", "c", "", "Path to config file (default: ~/.config/mcp-bridge/config.json)")

	rootCmd.AddCommand(removeCmd)
}

func runRemove(cmd *cobra.Command, args []string) error {
	name := args[0]

	var cfg *config.Config
	var err error
	if removeConfigPath != "" {
		cfg, err = config.LoadFrom(removeConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if _, exists := cfg.Connections[name]; !exists {
		return fmt.Errorf("connection %q not found", name)
	}

	if !removeYes {
		fmt.Printf("Remove connection %q? [y/N] ", name)
		reader := bufio.NewReader(os.Stdin)
		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Println("Cancelled")
			return nil
		}
	}

	delete(cfg.Connections, name)

	if removeConfigPath != "" {
		err = config.SaveTo(cfg, removeConfigPath)
	} else {
		err = config.Save(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("Removed connection %q\n", name)
	return nil
}
