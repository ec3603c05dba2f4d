package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/jarvishq/mcp-bridge/internal/config"
	"github.com/spf13/cobra"
)

var (
	addEnvFlags    []string
	addCwd         string
	addPrefix      string
	addDisabled    bool
	addInteractive bool
	addConfigPath  string
)

var addCmd = &cobra.Command{
	Use:   "add <name> -- <command> [args...]",
	Short: "Add a new MCP connection",
	Long: `Add a new MCP connection to the configuration.

The command and arguments follow the -- separator. With --interactive, a
form prompts for the fields instead.

Examples:
  mcp-bridge add context7 -- npx -y @upstash/context7-mcp
  mcp-bridge add my-server --env FOO=bar --env BAZ=qux -- ./server --flag
  mcp-bridge add filesystem --cwd /home/user --prefix fs -- npx -y @anthropics/mcp-fs
  mcp-bridge add --interactive`,
	RunE: runAdd,
}

func init() {
	addCmd.Flags().StringArrayVarP(&addEnvFlags, "env", "e", nil, "Environment variable (KEY=VALUE), can be repeated")
	addCmd.Flags().StringVar(&addCwd, "cwd", "", "Working directory for the child process")
	addCmd.Flags().StringVar(&addPrefix, "prefix", "", "Tool name prefix (default: connection name)")
	addCmd.Flags().BoolVar(&addDisabled, "disabled", false, "Add the connection in a disabled state")
	addCmd.Flags().BoolVarP(&addInteractive, "interactive", "i", false, "Prompt for fields interactively")
	addCmd.Flags().StringVarP(&addConfigPath, "config", "c", "", "Path to config file (default: ~/.config/mcp-bridge/config.json)")

	rootCmd.AddCommand(addCmd)
}

func runAdd(cmd *cobra.Command, args []string) error {
	if addInteractive {
		return runAddInteractive()
	}

	// Find the -- separator
	dashIdx := cmd.ArgsLenAtDash()
	if dashIdx == -1 {
		return fmt.Errorf("missing -- separator\n\nUsage: mcp-bridge add <name> -- <command> [args...]")
	}
	if dashIdx < 1 {
		return fmt.Errorf("missing connection name\n\nUsage: mcp-bridge add <name> -- <command> [args...]")
	}
	name := args[0]

	cmdArgs := args[dashIdx:]
	if len(cmdArgs) < 1 {
		return fmt.Errorf("missing command after --\n\nUsage: mcp-bridge add <name> -- <command> [args...]")
	}

	env, err := parseEnvFlags(addEnvFlags)
	if err != nil {
		return err
	}

	conn := config.ConnectionConfig{
		Name:    name,
		Command: cmdArgs[0],
		Args:    cmdArgs[1:],
		Cwd:     addCwd,
		Env:     env,
		Prefix:  addPrefix,
	}
	if addDisabled {
		conn.SetEnabled(false)
	}

	return saveConnection(conn, addConfigPath)
}

func runAddInteractive() error {
	var (
		name    string
		command string
		argsStr string
		cwd     string
		prefix  string
		envText string
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Name").
				Description("Connection name, also the default tool prefix").
				Value(&name).
				Validate(huh.ValidateNotEmpty()),

			huh.NewInput().
				Title("Command").
				Description("Executable that speaks MCP over stdio").
				Value(&command).
				Validate(huh.ValidateNotEmpty()),

			huh.NewInput().
				Title("Arguments").
				Description("Space-separated args").
				Value(&argsStr),

			huh.NewInput().
				Title("Working Directory").
				Description("Directory to run the command in").
				Value(&cwd),

			huh.NewInput().
				Title("Tool Prefix").
				Description("Prefix for aggregated tool names (optional)").
				Value(&prefix),

			huh.NewText().
				Title("Environment Variables").
				Description("One per line: KEY=value").
				Value(&envText).
				Lines(2),
		),
	).WithWidth(60).WithShowHelp(true)

	if err := form.Run(); err != nil {
		return err
	}

	env, err := parseEnvFlags(splitNonEmptyLines(envText))
	if err != nil {
		return err
	}

	conn := config.ConnectionConfig{
		Name:    name,
		Command: command,
		Args:    strings.Fields(argsStr),
		Cwd:     cwd,
		Env:     env,
		Prefix:  prefix,
	}

	return saveConnection(conn, addConfigPath)
}

func saveConnection(conn config.ConnectionConfig, configPath string) error {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFrom(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if _, exists := cfg.Connections[conn.Name]; exists {
		return fmt.Errorf("connection %q already exists", conn.Name)
	}
	cfg.Connections[conn.Name] = conn

	if configPath != "" {
		err = config.SaveTo(cfg, configPath)
	} else {
		err = config.Save(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("Added connection %q\n", conn.Name)
	return nil
}

func splitNonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// parseEnvFlags parses KEY=VALUE pairs from --env flags.
func parseEnvFlags(flags []string) (map[string]string, error) {
	if len(flags) == 0 {
		return nil, nil
	}

	env := make(map[string]string)
	for _, kv := range flags {
		key, value, found := strings.Cut(kv, "=")
		if !found {
			return nil, fmt.Errorf("invalid --env format %q: expected KEY=VALUE", kv)
		}
		if key == "" {
			return nil, fmt.Errorf("invalid --env format %q: key cannot be empty", kv)
		}
		env[key] = value
	}
	return env, nil
}
