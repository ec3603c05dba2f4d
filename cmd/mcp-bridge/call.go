package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/jarvishq/mcp-bridge/internal/config"
	"github.com/jarvishq/mcp-bridge/internal/events"
	"github.com/jarvishq/mcp-bridge/internal/manager"
	"github.com/jarvishq/mcp-bridge/internal/tools"
	"github.com/spf13/cobra"
)

var (
	callArgFlags   []string
	callJSONArgs   string
	callTimeout    time.Duration
	callConfigPath string
)

var callCmd = &cobra.Command{
	Use:   "call <tool>",
	Short: "Invoke a tool by its aggregated name",
	Long: `Invoke a tool by its prefixed name (e.g., filesystem.read_file) or a
built-in name (e.g., echo).

Arguments can be given as repeated --arg KEY=VALUE pairs or as a single
--json-args object. --json-args values keep their JSON types; --arg values
are strings.

Examples:
  mcp-bridge call echo --arg text=hello
  mcp-bridge call filesystem.read_file --json-args '{"path":"/etc/hosts"}'`,
	Args: cobra.ExactArgs(1),
	RunE: runCall,
}

func init() {
	callCmd.Flags().StringArrayVarP(&callArgFlags, "arg", "a", nil, "Tool argument (KEY=VALUE), can be repeated")
	callCmd.Flags().StringVar(&callJSONArgs, "json-args", "", "Tool arguments as a JSON object")
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 30*time.Second, "Call timeout")
	callCmd.Flags().StringVarP(&callConfigPath, "config", "c", "", "Path to config file (default: ~/.config/mcp-bridge/config.json)")

	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	log.SetOutput(io.Discard)

	toolName := args[0]

	callArgs, err := parseCallArgs(callArgFlags, callJSONArgs)
	if err != nil {
		return err
	}

	cfg, err := loadConfigFlag(callConfigPath)
	if err != nil {
		return err
	}

	// A built-in tool needs no connections at all.
	builtin := tools.Builtin()
	if _, ok := builtin.GetTool(toolName); ok {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		return printResult(builtin.Invoke(ctx, toolName, callArgs))
	}

	// Only the connection owning the prefix needs to come up.
	if prefix, _, found := strings.Cut(toolName, manager.ToolNameSeparator); found {
		trimmed := config.NewConfig()
		trimmed.ReconnectIntervalSeconds = cfg.ReconnectIntervalSeconds
		for name, cc := range cfg.Connections {
			if cc.ToolPrefix() == prefix {
				trimmed.Connections[name] = cc
			}
		}
		if len(trimmed.Connections) > 0 {
			cfg = trimmed
		}
	}

	bus := events.NewBus()
	defer bus.Close()

	mgr := manager.New(cfg, bus)
	defer mgr.DisconnectAll()

	report := mgr.ConnectAll(context.Background())
	for name, connErr := range report.Failed {
		fmt.Printf("warning: connection %s failed: %v\n", name, connErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	return printResult(mgr.CallTool(ctx, toolName, callArgs))
}

// parseCallArgs merges --json-args and --arg flags, --arg winning on key
// collisions.
func parseCallArgs(flags []string, jsonArgs string) (map[string]any, error) {
	out := make(map[string]any)

	if jsonArgs != "" {
		if err := json.Unmarshal([]byte(jsonArgs), &out); err != nil {
			return nil, fmt.Errorf("invalid --json-args: %w", err)
		}
	}

	for _, kv := range flags {
		key, value, found := strings.Cut(kv, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid --arg format %q: expected KEY=VALUE", kv)
		}
		out[key] = value
	}
	return out, nil
}

func printResult(result tools.Result) error {
	if !result.Success {
		return fmt.Errorf("tool call failed: %s", result.Error)
	}

	switch data := result.Data.(type) {
	case string:
		fmt.Println(data)
	case nil:
		fmt.Println("(no output)")
	default:
		encoded, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			fmt.Printf("%v\n", data)
			return nil
		}
		fmt.Println(string(encoded))
	}
	return nil
}
