package main

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/jarvishq/mcp-bridge/internal/config"
	"github.com/jarvishq/mcp-bridge/internal/manager"
	"github.com/jarvishq/mcp-bridge/internal/testutil"
	"github.com/muesli/termenv"
)

// buildBinary builds the mcp-bridge binary for testing.
// Returns the path to the binary.
func buildBinary(t *testing.T) string {
	t.Helper()

	binary := filepath.Join(t.TempDir(), "mcp-bridge")
	cmd := exec.Command("go", "build", "-o", binary, ".")
	cmd.Dir = filepath.Join(getModuleRoot(t), "cmd", "mcp-bridge")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to build binary: %v\n%s", err, out)
	}
	return binary
}

// getModuleRoot returns the root of the Go module.
func getModuleRoot(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find module root")
		}
		dir = parent
	}
}

// setupTestConfig creates an empty config file and returns its path.
func setupTestConfig(t *testing.T) string {
	t.Helper()

	configPath := filepath.Join(t.TempDir(), "config.json")
	contents := `{"schemaVersion": 1, "connections": {}}`
	if err := os.WriteFile(configPath, []byte(contents), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

// runCLI runs the mcp-bridge binary with the given args, pointing it at the
// given config file. The --config flag goes right after the subcommand so it
// never lands behind a -- separator.
func runCLI(binary, configPath string, args ...string) (string, string, error) {
	fullArgs := append([]string{args[0], "--config", configPath}, args[1:]...)
	cmd := exec.Command(binary, fullArgs...)
	// Isolate $HOME so PID tracking state never touches the real one.
	cmd.Env = append(os.Environ(), "HOME="+filepath.Dir(configPath))

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func TestParseEnvFlags(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		want    map[string]string
		wantErr bool
	}{
		{name: "nil input", input: nil, want: nil},
		{name: "single valid", input: []string{"FOO=bar"}, want: map[string]string{"FOO": "bar"}},
		{name: "multiple valid", input: []string{"FOO=bar", "BAZ=qux"}, want: map[string]string{"FOO": "bar", "BAZ": "qux"}},
		{name: "empty value", input: []string{"FOO="}, want: map[string]string{"FOO": ""}},
		{name: "value with equals", input: []string{"FOO=bar=baz"}, want: map[string]string{"FOO": "bar=baz"}},
		{name: "missing equals", input: []string{"INVALID"}, wantErr: true},
		{name: "empty key", input: []string{"=value"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseEnvFlags(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseEnvFlags() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Errorf("parseEnvFlags() got %v, want %v", got, tt.want)
				return
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("parseEnvFlags()[%q] = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestParseCallArgs(t *testing.T) {
	got, err := parseCallArgs([]string{"text=hello"}, `{"count": 3, "text": "overridden"}`)
	if err != nil {
		t.Fatalf("parseCallArgs: %v", err)
	}
	if got["text"] != "hello" {
		t.Errorf("expected --arg to win over --json-args, got %v", got["text"])
	}
	if got["count"] != float64(3) {
		t.Errorf("expected JSON number preserved, got %v (%T)", got["count"], got["count"])
	}

	if _, err := parseCallArgs(nil, `{not json`); err == nil {
		t.Error("expected error for invalid --json-args")
	}
	if _, err := parseCallArgs([]string{"novalue"}, ""); err == nil {
		t.Error("expected error for malformed --arg")
	}
}

func TestCLI_Add(t *testing.T) {
	binary := buildBinary(t)
	configPath := setupTestConfig(t)

	stdout, stderr, err := runCLI(binary, configPath, "add", "my-server", "--env", "FOO=bar", "--prefix", "mine", "--", "echo", "hello")
	if err != nil {
		t.Fatalf("add failed: %v\nstdout: %s\nstderr: %s", err, stdout, stderr)
	}
	if !strings.Contains(stdout, `Added connection "my-server"`) {
		t.Errorf("expected success message, got: %s", stdout)
	}

	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	conn, ok := cfg.Connections["my-server"]
	if !ok {
		t.Fatal("connection not persisted")
	}
	if conn.Command != "echo" || len(conn.Args) != 1 || conn.Args[0] != "hello" {
		t.Errorf("unexpected command: %s %v", conn.Command, conn.Args)
	}
	if conn.Env["FOO"] != "bar" {
		t.Errorf("env not persisted: %v", conn.Env)
	}
	if conn.ToolPrefix() != "mine" {
		t.Errorf("prefix not persisted: %s", conn.Prefix)
	}
}

func TestCLI_AddDuplicateRejected(t *testing.T) {
	binary := buildBinary(t)
	configPath := setupTestConfig(t)

	if _, _, err := runCLI(binary, configPath, "add", "dup", "--", "true"); err != nil {
		t.Fatalf("first add failed: %v", err)
	}
	stdout, stderr, err := runCLI(binary, configPath, "add", "dup", "--", "true")
	if err == nil {
		t.Fatalf("expected duplicate add to fail\nstdout: %s\nstderr: %s", stdout, stderr)
	}
}

func TestCLI_Remove(t *testing.T) {
	binary := buildBinary(t)
	configPath := setupTestConfig(t)

	if _, _, err := runCLI(binary, configPath, "add", "gone", "--", "true"); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	stdout, _, err := runCLI(binary, configPath, "remove", "gone", "--yes")
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if !strings.Contains(stdout, `Removed connection "gone"`) {
		t.Errorf("expected success message, got: %s", stdout)
	}

	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if _, ok := cfg.Connections["gone"]; ok {
		t.Error("connection still in config after remove")
	}

	if _, _, err := runCLI(binary, configPath, "remove", "never-existed", "--yes"); err == nil {
		t.Error("expected removing a missing connection to fail")
	}
}

func TestCLI_StatusEmpty(t *testing.T) {
	binary := buildBinary(t)
	configPath := setupTestConfig(t)

	stdout, stderr, err := runCLI(binary, configPath, "status")
	if err != nil {
		t.Fatalf("status failed: %v\nstderr: %s", err, stderr)
	}
	if !strings.Contains(stdout, "No connections configured") {
		t.Errorf("expected empty placeholder, got: %s", stdout)
	}
}

func TestCLI_CallBuiltinEcho(t *testing.T) {
	binary := buildBinary(t)
	configPath := setupTestConfig(t)

	stdout, stderr, err := runCLI(binary, configPath, "call", "echo", "--arg", "text=hello world")
	if err != nil {
		t.Fatalf("call failed: %v\nstderr: %s", err, stderr)
	}
	if !strings.Contains(stdout, "hello world") {
		t.Errorf("expected echoed text, got: %s", stdout)
	}
}

func TestCLI_ToolsListsBuiltins(t *testing.T) {
	binary := buildBinary(t)
	configPath := setupTestConfig(t)

	stdout, stderr, err := runCLI(binary, configPath, "tools")
	if err != nil {
		t.Fatalf("tools failed: %v\nstderr: %s", err, stderr)
	}
	if !strings.Contains(stdout, "echo") || !strings.Contains(stdout, "current_time") {
		t.Errorf("expected built-in tools in listing, got: %s", stdout)
	}
}

func TestPrintStatusTable_AlignedWhenColored(t *testing.T) {
	// Force escape sequences regardless of the test terminal.
	prev := lipgloss.ColorProfile()
	lipgloss.SetColorProfile(termenv.TrueColor)
	t.Cleanup(func() { lipgloss.SetColorProfile(prev) })

	status := []manager.ConnStatus{
		{Name: "alpha", State: "ready", Enabled: true, Tools: 3, ServerName: "alpha-server", ServerVersion: "1.0.0"},
		{Name: "broken-one", State: "failed", Enabled: true, Error: "spawn failed"},
		{Name: "off", State: "disconnected"},
	}

	var buf bytes.Buffer
	printStatusTable(&buf, status)

	if !strings.Contains(buf.String(), "\x1b[") {
		t.Fatal("expected styled output to carry escape sequences")
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header + 3 rows, got %d lines:\n%s", len(lines), buf.String())
	}

	// Visible columns must line up once the escapes are stripped.
	nameWidth := len("broken-one")
	stateCol := nameWidth + 2
	toolsCol := stateCol + 8 + 2
	serverCol := toolsCol + 6 + 2
	for i, line := range lines {
		plain := testutil.StripANSI(line)
		if len(plain) < serverCol {
			t.Fatalf("line %d too short after stripping: %q", i, plain)
		}
		if plain[stateCol-2:stateCol] != "  " || plain[toolsCol-2:toolsCol] != "  " || plain[serverCol-2:serverCol] != "  " {
			t.Errorf("line %d misaligned: %q", i, plain)
		}
	}

	plainRow := testutil.StripANSI(lines[1])
	if plainRow[stateCol:stateCol+5] != "ready" {
		t.Errorf("expected state column at offset %d, got %q", stateCol, plainRow)
	}
	if plainRow[toolsCol] != '3' {
		t.Errorf("expected tools column at offset %d, got %q", toolsCol, plainRow)
	}
}
