package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jarvishq/mcp-bridge/internal/events"
	"github.com/jarvishq/mcp-bridge/internal/manager"
	"github.com/jarvishq/mcp-bridge/internal/tui"
	"github.com/spf13/cobra"
)

var (
	dashboardDebug      bool
	dashboardConfigPath string
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Run the interactive connection dashboard",
	Long: `Run mcp-bridge in interactive dashboard mode.

Use this for:
  - Watching connection states as they come up
  - Viewing aggregated tool counts per connection
  - Following child process log output`,
	RunE: runDashboard,
}

func init() {
	dashboardCmd.Flags().BoolVar(&dashboardDebug, "debug", false, "Enable debug logging to /tmp/mcp-bridge-debug.log")
	dashboardCmd.Flags().StringVarP(&dashboardConfigPath, "config", "c", "", "Path to config file (default: ~/.config/mcp-bridge/config.json)")
	rootCmd.AddCommand(dashboardCmd)
}

func runDashboard(cmd *cobra.Command, args []string) error {
	// Log to file in debug mode, otherwise discard: the terminal belongs to
	// Bubble Tea.
	if dashboardDebug {
		logFile, err := os.OpenFile("/tmp/mcp-bridge-debug.log", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err == nil {
			log.SetOutput(logFile)
			log.SetFlags(log.LstdFlags | log.Lshortfile)
			defer logFile.Close()
			log.Println("=== mcp-bridge dashboard starting (debug mode) ===")
		}
	} else {
		log.SetOutput(io.Discard)
	}

	cfg, err := loadConfigFlag(dashboardConfigPath)
	if err != nil {
		return err
	}
	log.Printf("Loaded %d connection(s) from config", len(cfg.Connections))

	bus := events.NewBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr := manager.New(cfg, bus)

	// Connect in the background so the dashboard comes up immediately.
	go func() {
		report := mgr.ConnectAll(ctx)
		log.Printf("Connected %d, failed %d", len(report.Connected), len(report.Failed))
	}()

	model := tui.NewModel(mgr, bus)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	p := tea.NewProgram(model, tea.WithAltScreen())

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, initiating graceful shutdown", sig)
		p.Quit()
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("dashboard error: %w", err)
	}

	signal.Stop(sigCh)

	log.Println("Disconnecting all connections...")
	mgr.DisconnectAll()

	log.Println("=== mcp-bridge dashboard exiting ===")
	return nil
}
