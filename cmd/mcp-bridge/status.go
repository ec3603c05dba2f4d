package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/charmbracelet/lipgloss"
	"github.com/jarvishq/mcp-bridge/internal/config"
	"github.com/jarvishq/mcp-bridge/internal/events"
	"github.com/jarvishq/mcp-bridge/internal/manager"
	"github.com/spf13/cobra"
)

var (
	statusJSON       bool
	statusConfigPath string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Probe configured connections and report their status",
	Long: `Connect to every enabled connection, report its status and tool count,
then disconnect.

By default, outputs a human-readable table. Use --json for machine-readable
output.

Examples:
  mcp-bridge status
  mcp-bridge status --json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
	statusCmd.Flags().StringVarP(&statusConfigPath, "config", "c", "", "Path to config file (default: ~/.config/mcp-bridge/config.json)")

	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	log.SetOutput(io.Discard)

	cfg, err := loadConfigFlag(statusConfigPath)
	if err != nil {
		return err
	}

	bus := events.NewBus()
	defer bus.Close()

	mgr := manager.New(cfg, bus)
	defer mgr.DisconnectAll()

	mgr.ConnectAll(context.Background())
	status := mgr.GetStatus()

	if statusJSON {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	printStatusTable(cmd.OutOrStdout(), status)
	return nil
}

func loadConfigFlag(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFrom(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func printStatusTable(w io.Writer, status []manager.ConnStatus) {
	if len(status) == 0 {
		fmt.Fprintln(w, "No connections configured")
		return
	}

	header := lipgloss.NewStyle().Bold(true)
	okStyle := lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#0F7B0F", Dark: "#9ECE6A"})
	errStyle := lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#B00020", Dark: "#F7768E"})
	muted := lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#A9B1D6"})

	nameWidth := 4 // "NAME"
	for _, st := range status {
		if len(st.Name) > nameWidth {
			nameWidth = len(st.Name)
		}
	}

	// Pad before styling: ANSI escapes are invisible but count toward
	// fmt's %-Ns width, so styled cells must already be fixed-width.
	fmt.Fprintf(w, "%s  %s  %s  %s\n",
		header.Render(fmt.Sprintf("%-*s", nameWidth, "NAME")),
		header.Render(fmt.Sprintf("%-8s", "STATE")),
		header.Render(fmt.Sprintf("%-6s", "TOOLS")),
		header.Render("SERVER"))
	for _, st := range status {
		label := st.State
		style := lipgloss.NewStyle()
		switch {
		case !st.Enabled:
			label = "disabled"
			style = muted
		case st.State == "ready":
			style = okStyle
		case st.State == "failed":
			style = errStyle
		}
		state := style.Render(fmt.Sprintf("%-8s", label))

		serverCol := "-"
		if st.ServerName != "" {
			serverCol = fmt.Sprintf("%s %s", st.ServerName, st.ServerVersion)
		}
		if st.Error != "" {
			serverCol = errStyle.Render(st.Error)
		}

		fmt.Fprintf(w, "%-*s  %s  %-6d  %s\n", nameWidth, st.Name, state, st.Tools, serverCol)
	}
}
