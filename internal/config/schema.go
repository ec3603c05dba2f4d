// Package config provides configuration schema and persistence for mcp-bridge.
package config

import (
	"time"
)

// SchemaVersion is the current config schema version.
const SchemaVersion = 1

// DefaultConnectTimeout guards the whole connect sequence (spawn, handshake,
// tool discovery) for one connection.
const DefaultConnectTimeout = 10 * time.Second

// ConnectionConfig describes one upstream MCP server connection.
// Field names are compatible with mcpServers format for easy copy/paste.
type ConnectionConfig struct {
	Name    string            `json:"name"`
	Enabled *bool             `json:"enabled,omitempty"` // nil treated as true (enabled by default)
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	// Prefix prepended to upstream tool names (default: connection name).
	Prefix string `json:"prefix,omitempty"`

	// ConnectTimeoutSeconds bounds the whole connect sequence (0 = default).
	ConnectTimeoutSeconds int `json:"connectTimeoutSeconds,omitempty"`
}

// IsEnabled returns whether the connection is enabled (nil defaults to true).
func (c ConnectionConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// SetEnabled sets the enabled state.
func (c *ConnectionConfig) SetEnabled(enabled bool) {
	c.Enabled = &enabled
}

// ToolPrefix returns the effective tool-name prefix.
func (c ConnectionConfig) ToolPrefix() string {
	if c.Prefix != "" {
		return c.Prefix
	}
	return c.Name
}

// ConnectTimeout returns the effective connect timeout.
func (c ConnectionConfig) ConnectTimeout() time.Duration {
	if c.ConnectTimeoutSeconds > 0 {
		return time.Duration(c.ConnectTimeoutSeconds) * time.Second
	}
	return DefaultConnectTimeout
}

// Config is the root configuration structure.
type Config struct {
	SchemaVersion int                         `json:"schemaVersion"`
	Connections   map[string]ConnectionConfig `json:"connections"`

	// ReconnectIntervalSeconds arms the manager's fixed-interval reconnect
	// loop (0 = disabled).
	ReconnectIntervalSeconds int `json:"reconnectIntervalSeconds,omitempty"`

	LastModified time.Time `json:"lastModified"`
}

// NewConfig creates a new empty configuration with default values.
func NewConfig() *Config {
	return &Config{
		SchemaVersion: SchemaVersion,
		Connections:   make(map[string]ConnectionConfig),
		LastModified:  time.Now(),
	}
}

// ReconnectInterval returns the configured reconnect interval (0 = disabled).
func (c *Config) ReconnectInterval() time.Duration {
	if c.ReconnectIntervalSeconds <= 0 {
		return 0
	}
	return time.Duration(c.ReconnectIntervalSeconds) * time.Second
}

// GetConnection returns a connection by name, or nil if not found.
func (c *Config) GetConnection(name string) *ConnectionConfig {
	if conn, ok := c.Connections[name]; ok {
		return &conn
	}
	return nil
}

// ConnectionList returns the connections as a slice.
func (c *Config) ConnectionList() []ConnectionConfig {
	conns := make([]ConnectionConfig, 0, len(c.Connections))
	for _, conn := range c.Connections {
		conns = append(conns, conn)
	}
	return conns
}
