package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sort"

	"github.com/jarvishq/mcp-bridge/internal/events"
	"github.com/jarvishq/mcp-bridge/internal/manager"
	"github.com/jarvishq/mcp-bridge/internal/tools"
	"github.com/spf13/cobra"
)

var (
	toolsJSON       bool
	toolsConfigPath string
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List aggregated tools from all connections",
	Long: `Connect to every enabled connection and list the aggregated tools,
including the built-in ones.

Tool names are prefixed with the connection name (e.g., filesystem.read_file).

Examples:
  mcp-bridge tools
  mcp-bridge tools --json`,
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "Output as JSON")
	toolsCmd.Flags().StringVarP(&toolsConfigPath, "config", "c", "", "Path to config file (default: ~/.config/mcp-bridge/config.json)")

	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	log.SetOutput(io.Discard)

	cfg, err := loadConfigFlag(toolsConfigPath)
	if err != nil {
		return err
	}

	bus := events.NewBus()
	defer bus.Close()

	mgr := manager.New(cfg, bus)
	defer mgr.DisconnectAll()

	report := mgr.ConnectAll(context.Background())
	for name, connErr := range report.Failed {
		fmt.Printf("warning: connection %s failed: %v\n", name, connErr)
	}

	catalog := tools.Union{Catalogs: []tools.Catalog{tools.Builtin(), mgr.Catalog()}}
	all := catalog.ListTools()
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	if toolsJSON {
		data, err := json.MarshalIndent(tools.Descriptors(all), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if len(all) == 0 {
		fmt.Println("No tools available")
		return nil
	}

	nameWidth := 4 // "NAME"
	for _, t := range all {
		if len(t.Name) > nameWidth {
			nameWidth = len(t.Name)
		}
	}

	fmt.Printf("%-*s  %s\n", nameWidth, "NAME", "DESCRIPTION")
	for _, t := range all {
		desc := t.Description
		if len(desc) > 70 {
			desc = desc[:67] + "..."
		}
		fmt.Printf("%-*s  %s\n", nameWidth, t.Name, desc)
	}
	return nil
}
