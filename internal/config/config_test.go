package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFrom_MissingFileReturnsEmpty(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.SchemaVersion != SchemaVersion {
		t.Errorf("expected schema version %d, got %d", SchemaVersion, cfg.SchemaVersion)
	}
	if len(cfg.Connections) != 0 {
		t.Errorf("expected no connections, got %d", len(cfg.Connections))
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := NewConfig()
	cfg.ReconnectIntervalSeconds = 30
	cfg.Connections["filesystem"] = ConnectionConfig{
		Name:    "filesystem",
		Command: "npx",
		Args:    []string{"-y", "@anthropics/mcp-fs"},
		Env:     map[string]string{"MCP_DEBUG": "1"},
		Prefix:  "fs",
	}

	if err := SaveTo(cfg, path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	conn := loaded.GetConnection("filesystem")
	if conn == nil {
		t.Fatal("expected connection to survive round trip")
	}
	if conn.Command != "npx" || len(conn.Args) != 2 {
		t.Errorf("unexpected connection: %+v", conn)
	}
	if conn.ToolPrefix() != "fs" {
		t.Errorf("expected prefix 'fs', got %q", conn.ToolPrefix())
	}
	if loaded.ReconnectInterval() != 30*time.Second {
		t.Errorf("expected 30s reconnect interval, got %v", loaded.ReconnectInterval())
	}
}

func TestLoadFrom_BackfillsNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{"schemaVersion":1,"connections":{"github":{"command":"gh-mcp"}}}`
	if err := os.WriteFile(path, []byte(raw), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	conn := cfg.GetConnection("github")
	if conn == nil || conn.Name != "github" {
		t.Errorf("expected name backfilled from key, got %+v", conn)
	}
}

func TestConnectionConfig_Defaults(t *testing.T) {
	conn := ConnectionConfig{Name: "x", Command: "x-server"}

	if !conn.IsEnabled() {
		t.Error("expected nil enabled to mean enabled")
	}
	conn.SetEnabled(false)
	if conn.IsEnabled() {
		t.Error("expected SetEnabled(false) to disable")
	}

	if conn.ToolPrefix() != "x" {
		t.Errorf("expected default prefix to be the name, got %q", conn.ToolPrefix())
	}
	if conn.ConnectTimeout() != DefaultConnectTimeout {
		t.Errorf("expected default timeout, got %v", conn.ConnectTimeout())
	}

	conn.ConnectTimeoutSeconds = 3
	if conn.ConnectTimeout() != 3*time.Second {
		t.Errorf("expected 3s timeout, got %v", conn.ConnectTimeout())
	}
}

func TestSaveTo_Atomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := SaveTo(NewConfig(), path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("expected temp file to be renamed away")
	}
}
