package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jarvishq/mcp-bridge/internal/config"
	"github.com/jarvishq/mcp-bridge/internal/events"
	"github.com/jarvishq/mcp-bridge/internal/manager"
	"github.com/jarvishq/mcp-bridge/internal/server"
	"github.com/jarvishq/mcp-bridge/internal/tools"
	"github.com/spf13/cobra"
)

var (
	serveConfigPath string
	serveQuiet      bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run as an MCP server",
	Long: `Run mcp-bridge as an MCP server that aggregates tools from the configured
upstream connections.

This mode is intended to be spawned by an MCP client over stdio. Configure
in the client's mcp_servers.json:

  {
    "bridge": {
      "command": "mcp-bridge",
      "args": ["serve"]
    }
  }

Tool names are prefixed with the connection name (e.g., filesystem.read_file).
The configuration file is watched for changes and applied without a restart.`,
	RunE: runServe,
}

func init() {
	// --stdio is a no-op flag for compatibility (stdio is the only transport)
	serveCmd.Flags().Bool("stdio", false, "Use stdio transport (default, always enabled)")
	_ = serveCmd.Flags().MarkHidden("stdio")

	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "Path to config file (default: ~/.config/mcp-bridge/config.json)")
	serveCmd.Flags().BoolVarP(&serveQuiet, "quiet", "q", false, "Suppress diagnostic logging")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// In stdio mode all output must go to stderr except the protocol itself.
	if serveQuiet {
		log.SetOutput(io.Discard)
	} else {
		log.SetOutput(os.Stderr)
		log.SetFlags(log.LstdFlags)
	}

	log.Printf("mcp-bridge serve starting (version=%s)", version)

	configPath, err := resolveConfigPath(serveConfigPath)
	if err != nil {
		return err
	}

	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log.Printf("Loaded config with %d connection(s)", len(cfg.Connections))

	bus := events.NewBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down", sig)
		cancel()
	}()

	mgr := manager.New(cfg, bus)
	defer mgr.DisconnectAll()

	report := mgr.ConnectAll(ctx)
	log.Printf("Connected %d connection(s)", len(report.Connected))
	for name, connErr := range report.Failed {
		log.Printf("Connection %s failed: %v", name, connErr)
	}

	go watchConfig(ctx, configPath, func(newCfg *config.Config) {
		mgr.ApplyConfig(ctx, newCfg)
	})

	catalog := tools.Union{Catalogs: []tools.Catalog{tools.Builtin(), mgr.Catalog()}}
	srv := server.New(server.Options{
		Catalog:       catalog,
		Stdin:         os.Stdin,
		Stdout:        os.Stdout,
		ServerName:    "mcp-bridge",
		ServerVersion: version,
	})

	if err := srv.Run(ctx); err != nil && err != context.Canceled {
		return fmt.Errorf("server error: %w", err)
	}

	log.Println("mcp-bridge serve exiting")
	return nil
}

// resolveConfigPath expands a user-provided config path, falling back to the
// default location.
func resolveConfigPath(path string) (string, error) {
	if path == "" {
		p, err := config.Path()
		if err != nil {
			return "", fmt.Errorf("failed to get config path: %w", err)
		}
		return p, nil
	}
	return path, nil
}

// watchConfig watches the config file for changes and calls onReload with the
// freshly loaded config. It watches the parent directory (not the file) to
// handle atomic renames.
func watchConfig(ctx context.Context, configPath string, onReload func(*config.Config)) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("Failed to create config watcher: %v", err)
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(configPath)
	filename := filepath.Base(configPath)
	if err := watcher.Add(dir); err != nil {
		log.Printf("Failed to watch config directory %s: %v", dir, err)
		return
	}

	log.Printf("Watching config file: %s", configPath)

	const debounceDelay = 150 * time.Millisecond
	var debounceTimer *time.Timer
	var debounceMu sync.Mutex

	triggerReload := func() {
		debounceMu.Lock()
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		debounceTimer = time.AfterFunc(debounceDelay, func() {
			log.Printf("Config file changed, loading new config")

			newCfg, err := config.LoadFrom(configPath)
			if err != nil {
				log.Printf("Failed to load config after change: %v (keeping current config)", err)
				return
			}
			onReload(newCfg)
		})
		debounceMu.Unlock()
	}

	for {
		select {
		case <-ctx.Done():
			debounceMu.Lock()
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceMu.Unlock()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			// Atomic writes show up as rename/create depending on OS/editor
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				log.Printf("Config file event: %s (%s)", event.Name, event.Op)
				triggerReload()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("Config watcher error: %v", err)
		}
	}
}
