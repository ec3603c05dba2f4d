// Package tools defines the internal tool model and the catalog contract
// between tool owners and the MCP endpoints.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jarvishq/mcp-bridge/internal/protocol"
)

// Param describes one tool parameter.
type Param struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Handler executes a tool call. Failures are reported through the Result,
// not as a returned error, so callers always get a deterministic outcome.
type Handler func(ctx context.Context, args map[string]any) Result

// Tool is an internally-registered callable capability.
type Tool struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Category    string           `json:"category,omitempty"`
	Params      map[string]Param `json:"params,omitempty"`
	Handler     Handler          `json:"-"`
}

// Result is the outcome of a tool invocation.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Ok builds a success result.
func Ok(data any) Result {
	return Result{Success: true, Data: data}
}

// Fail builds a failure result.
func Fail(format string, args ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Catalog is the read/execute contract the provider endpoint is backed by.
type Catalog interface {
	// ListTools returns every registered tool.
	ListTools() []Tool
	// GetTool returns a tool by name.
	GetTool(name string) (Tool, bool)
	// Invoke executes a tool by name.
	Invoke(ctx context.Context, name string, args map[string]any) Result
}

// Registry is a goroutine-safe Catalog backed by a name-keyed map.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Tool
	order  []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Tool)}
}

// Register adds a tool. Duplicate names are rejected.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %s has no handler", t.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[t.Name]; exists {
		return fmt.Errorf("tool already registered: %s", t.Name)
	}
	r.byName[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// ListTools returns all tools in registration order.
func (r *Registry) ListTools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// GetTool returns a tool by name.
func (r *Registry) GetTool(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	return t, ok
}

// Invoke executes a tool by name.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) Result {
	t, ok := r.GetTool(name)
	if !ok {
		return Fail("tool not found: %s", name)
	}
	return t.Handler(ctx, args)
}

// Descriptor converts a tool's parameter map to its protocol-level form.
// Required names are sorted so the schema is deterministic.
func Descriptor(t Tool) protocol.ToolDescriptor {
	props := make(map[string]protocol.PropertySchema, len(t.Params))
	var required []string
	for name, p := range t.Params {
		props[name] = protocol.PropertySchema{
			Type:        p.Type,
			Description: p.Description,
		}
		if p.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)

	return protocol.ToolDescriptor{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: protocol.InputSchema{
			Type:       "object",
			Properties: props,
			Required:   required,
		},
	}
}

// Descriptors converts a full tool list.
func Descriptors(ts []Tool) []protocol.ToolDescriptor {
	out := make([]protocol.ToolDescriptor, len(ts))
	for i, t := range ts {
		out[i] = Descriptor(t)
	}
	return out
}

// Union is a Catalog over several catalogs, consulted in order. The first
// catalog owning a name wins for lookups and invocation.
type Union struct {
	Catalogs []Catalog
}

// ListTools returns the concatenation of all member catalogs.
func (u Union) ListTools() []Tool {
	var out []Tool
	seen := make(map[string]bool)
	for _, c := range u.Catalogs {
		for _, t := range c.ListTools() {
			if seen[t.Name] {
				continue
			}
			seen[t.Name] = true
			out = append(out, t)
		}
	}
	return out
}

// GetTool returns the first tool matching name.
func (u Union) GetTool(name string) (Tool, bool) {
	for _, c := range u.Catalogs {
		if t, ok := c.GetTool(name); ok {
			return t, true
		}
	}
	return Tool{}, false
}

// Invoke executes name against the first catalog that owns it.
func (u Union) Invoke(ctx context.Context, name string, args map[string]any) Result {
	for _, c := range u.Catalogs {
		if _, ok := c.GetTool(name); ok {
			return c.Invoke(ctx, name, args)
		}
	}
	return Fail("tool not found: %s", name)
}
