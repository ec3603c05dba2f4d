// Package mcptest provides test infrastructure for exercising the client
// and manager against real spawned MCP server subprocesses.
package mcptest

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/jarvishq/mcp-bridge/internal/config"
	"github.com/jarvishq/mcp-bridge/internal/mcptest/fakeserver"
)

// FakeServerConfig is an alias for fakeserver.Config for convenience.
type FakeServerConfig = fakeserver.Config

// Tool is an alias for fakeserver.Tool for convenience.
type Tool = fakeserver.Tool

// JSONRPCError is an alias for fakeserver.JSONRPCError for convenience.
type JSONRPCError = fakeserver.JSONRPCError

// ToolCallResult is an alias for fakeserver.ToolCallResult for convenience.
type ToolCallResult = fakeserver.ToolCallResult

// ContentBlock is an alias for fakeserver.ContentBlock for convenience.
type ContentBlock = fakeserver.ContentBlock

// ConnectionConfig builds a connection config whose command re-executes the
// test binary as a fake MCP server. The helper process pattern uses
// os.Args[0] with -test.run=TestHelperProcess so integration tests exercise
// real subprocess spawning without external dependencies.
//
// Packages using this must define:
//
//	func TestHelperProcess(t *testing.T) {
//	    mcptest.RunHelperProcess(t)
//	}
func ConnectionConfig(t *testing.T, name string, cfg FakeServerConfig) config.ConnectionConfig {
	t.Helper()

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal fake server config: %v", err)
	}

	return config.ConnectionConfig{
		Name:    name,
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperProcess", "--"},
		Env: map[string]string{
			"GO_WANT_HELPER_PROCESS": "1",
			"FAKE_MCP_CFG":           string(cfgJSON),
		},
		// Tests should fail fast rather than sit out the full default.
		ConnectTimeoutSeconds: 5,
	}
}

// EchoTool returns a one-tool catalog with a canned "echo" result, matching
// the common happy-path fixture.
func EchoTool(text string) FakeServerConfig {
	return FakeServerConfig{
		Tools: []Tool{
			{
				Name:        "echo",
				Description: "Echo text back",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"text": map[string]any{"type": "string", "description": "Text to echo"},
					},
					"required": []string{"text"},
				},
			},
		},
		ToolResults: map[string]ToolCallResult{
			"echo": {Content: []ContentBlock{{Type: "text", Text: text}}},
		},
	}
}

// RunHelperProcess implements the fake MCP server when invoked as a subprocess.
func RunHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	cfgJSON := os.Getenv("FAKE_MCP_CFG")
	if cfgJSON == "" {
		os.Exit(2)
	}

	var cfg fakeserver.Config
	if err := json.Unmarshal([]byte(cfgJSON), &cfg); err != nil {
		os.Exit(2)
	}

	if err := fakeserver.Serve(context.Background(), os.Stdin, os.Stdout, cfg); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

// WaitFor polls cond until it returns true or the timeout elapses.
func WaitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
