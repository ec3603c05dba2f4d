// Package manager owns the fleet of upstream MCP connections: it connects
// them, aggregates their tools under per-connection prefixes, and retries
// failed connections on a fixed interval.
package manager

import (
	"context"
	"log"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/jarvishq/mcp-bridge/internal/client"
	"github.com/jarvishq/mcp-bridge/internal/config"
	"github.com/jarvishq/mcp-bridge/internal/events"
	"github.com/jarvishq/mcp-bridge/internal/tools"
)

// ToolNameSeparator joins a connection's prefix and an upstream tool name.
const ToolNameSeparator = "."

// Manager supervises the set of configured connections.
type Manager struct {
	bus        *events.Bus
	pidTracker *PIDTracker

	mu      sync.RWMutex
	cfg     *config.Config
	clients map[string]*client.Client
	closed  bool

	reconnectStop chan struct{}
	wg            sync.WaitGroup
}

// New creates a manager for the given configuration. Nothing is connected
// until ConnectAll is called. Orphan processes from a previous run are
// cleaned up here.
func New(cfg *config.Config, bus *events.Bus) *Manager {
	pidTracker, err := NewPIDTracker()
	if err != nil {
		log.Printf("Warning: failed to create PID tracker: %v", err)
	} else {
		if killed := pidTracker.CleanupOrphans(); killed > 0 {
			log.Printf("Cleaned up %d orphan process(es)", killed)
		}
	}

	return &Manager{
		bus:        bus,
		pidTracker: pidTracker,
		cfg:        cfg,
		clients:    make(map[string]*client.Client),
	}
}

// trackPID records a connected client's child PID for orphan cleanup.
func (m *Manager) trackPID(c *client.Client) {
	if m.pidTracker == nil {
		return
	}
	if pid := c.PID(); pid > 0 {
		if err := m.pidTracker.Add(c.Name(), pid); err != nil {
			log.Printf("Warning: failed to track PID: %v", err)
		}
	}
}

// untrackPID drops a connection's PID record.
func (m *Manager) untrackPID(name string) {
	if m.pidTracker == nil {
		return
	}
	if err := m.pidTracker.Remove(name); err != nil {
		log.Printf("Warning: failed to remove PID tracking: %v", err)
	}
}

// ConnectReport partitions a ConnectAll run into the connections that came
// up and the ones that failed, with their errors.
type ConnectReport struct {
	Connected []string
	Failed    map[string]error
}

// ConnectAll connects every enabled connection concurrently. A failure on
// one connection never blocks or aborts the others. If the configuration
// enables reconnection, the retry loop is armed after the first pass.
func (m *Manager) ConnectAll(ctx context.Context) ConnectReport {
	m.mu.RLock()
	var pending []config.ConnectionConfig
	for _, cc := range m.cfg.Connections {
		if cc.IsEnabled() {
			pending = append(pending, cc)
		}
	}
	interval := m.cfg.ReconnectInterval()
	m.mu.RUnlock()

	report := ConnectReport{Failed: make(map[string]error)}
	var reportMu sync.Mutex

	var wg sync.WaitGroup
	for _, cc := range pending {
		wg.Add(1)
		go func(cc config.ConnectionConfig) {
			defer wg.Done()
			c := client.New(cc, m.bus)
			err := c.Connect(ctx)

			m.mu.Lock()
			if m.closed {
				m.mu.Unlock()
				c.Disconnect()
				return
			}
			m.clients[cc.Name] = c
			m.mu.Unlock()

			reportMu.Lock()
			if err != nil {
				report.Failed[cc.Name] = err
			} else {
				report.Connected = append(report.Connected, cc.Name)
				m.trackPID(c)
			}
			reportMu.Unlock()
		}(cc)
	}
	wg.Wait()

	sort.Strings(report.Connected)

	if interval > 0 {
		m.armReconnect(interval)
	}
	return report
}

// DisconnectAll stops the reconnect loop first, then tears down every
// connection concurrently. Disconnect errors are logged, not returned: a
// shutdown must not be blocked by an unhealthy child.
func (m *Manager) DisconnectAll() {
	m.stopReconnect()

	m.mu.Lock()
	m.closed = true
	clients := make([]*client.Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.clients = make(map[string]*client.Client)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *client.Client) {
			defer wg.Done()
			if err := c.Disconnect(); err != nil {
				log.Printf("Disconnect %s: %v", c.Name(), err)
			}
			m.untrackPID(c.Name())
		}(c)
	}
	wg.Wait()
}

// Client returns the client for a connection, or nil if it was never
// connected.
func (m *Manager) Client(name string) *client.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clients[name]
}

// GetAllTools aggregates every ready connection's tools under prefixed
// names ("<prefix>.<tool>"). Prefixes keep names unique across connections;
// a residual collision drops the later tool with a diagnostic.
func (m *Manager) GetAllTools() []tools.Tool {
	m.mu.RLock()
	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	byName := make(map[string]*client.Client, len(m.clients))
	for name, c := range m.clients {
		byName[name] = c
	}
	prefixes := make(map[string]string, len(m.cfg.Connections))
	for name, cc := range m.cfg.Connections {
		prefixes[name] = cc.ToolPrefix()
	}
	m.mu.RUnlock()

	var out []tools.Tool
	seen := make(map[string]bool)
	for _, name := range names {
		c := byName[name]
		if c.State() != client.StateReady {
			continue
		}
		prefix, ok := prefixes[name]
		if !ok {
			prefix = name
		}
		for _, t := range c.Tools() {
			t.Name = prefix + ToolNameSeparator + t.Name
			if seen[t.Name] {
				log.Printf("Duplicate tool name %s, dropping", t.Name)
				continue
			}
			seen[t.Name] = true
			out = append(out, t)
		}
	}
	return out
}

// Catalog returns a live tools.Catalog view over the fleet. Lookups always
// reflect the current connection states, so a provider endpoint backed by it
// serves tools as connections come and go.
func (m *Manager) Catalog() tools.Catalog {
	return fleetCatalog{m}
}

type fleetCatalog struct {
	m *Manager
}

func (f fleetCatalog) ListTools() []tools.Tool {
	return f.m.GetAllTools()
}

func (f fleetCatalog) GetTool(name string) (tools.Tool, bool) {
	for _, t := range f.m.GetAllTools() {
		if t.Name == name {
			return t, true
		}
	}
	return tools.Tool{}, false
}

func (f fleetCatalog) Invoke(ctx context.Context, name string, args map[string]any) tools.Result {
	t, ok := f.GetTool(name)
	if !ok {
		return tools.Fail("tool not found: %s", name)
	}
	return t.Handler(ctx, args)
}

// CallTool invokes a prefixed tool against whichever connection owns it.
func (m *Manager) CallTool(ctx context.Context, name string, args map[string]any) tools.Result {
	return m.Catalog().Invoke(ctx, name, args)
}

// ConnStatus is a point-in-time snapshot of one configured connection.
type ConnStatus struct {
	Name          string `json:"name"`
	State         string `json:"state"`
	Enabled       bool   `json:"enabled"`
	Tools         int    `json:"tools"`
	Error         string `json:"error,omitempty"`
	ServerName    string `json:"serverName,omitempty"`
	ServerVersion string `json:"serverVersion,omitempty"`
}

// GetStatus reports every configured connection, including ones that were
// never connected, sorted by name.
func (m *Manager) GetStatus() []ConnStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conns := m.cfg.ConnectionList()
	out := make([]ConnStatus, 0, len(conns))
	for _, cc := range conns {
		st := ConnStatus{
			Name:    cc.Name,
			State:   "disconnected",
			Enabled: cc.IsEnabled(),
		}
		if c, ok := m.clients[cc.Name]; ok {
			st.State = c.State().String()
			st.Tools = len(c.Tools())
			if err := c.LastError(); err != nil {
				st.Error = err.Error()
			}
			info := c.ServerInfo()
			st.ServerName = info.Name
			st.ServerVersion = info.Version
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ApplyConfig transitions the fleet to a new configuration: removed or
// disabled connections are torn down, new ones connect, and changed ones
// are restarted. The reconnect loop is re-armed for the new interval.
func (m *Manager) ApplyConfig(ctx context.Context, newCfg *config.Config) {
	m.stopReconnect()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	oldCfg := m.cfg
	m.cfg = newCfg

	var drop []*client.Client
	var add []config.ConnectionConfig
	for name, c := range m.clients {
		cc, exists := newCfg.Connections[name]
		if exists && cc.IsEnabled() && reflect.DeepEqual(oldCfg.Connections[name], cc) {
			continue
		}
		drop = append(drop, c)
		delete(m.clients, name)
	}
	for name, cc := range newCfg.Connections {
		if !cc.IsEnabled() {
			continue
		}
		if _, running := m.clients[name]; !running {
			add = append(add, cc)
		}
	}
	m.mu.Unlock()

	for _, c := range drop {
		log.Printf("Config change: stopping %s", c.Name())
		c.Disconnect()
		m.untrackPID(c.Name())
	}

	var wg sync.WaitGroup
	for _, cc := range add {
		wg.Add(1)
		go func(cc config.ConnectionConfig) {
			defer wg.Done()
			m.connectFresh(ctx, cc)
		}(cc)
	}
	wg.Wait()

	if interval := newCfg.ReconnectInterval(); interval > 0 {
		m.armReconnect(interval)
	}
}

// connectFresh builds a new client for cc and stores it whatever the
// outcome, so GetStatus reflects the latest attempt.
func (m *Manager) connectFresh(ctx context.Context, cc config.ConnectionConfig) {
	c := client.New(cc, m.bus)
	err := c.Connect(ctx)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		c.Disconnect()
		return
	}
	old := m.clients[cc.Name]
	m.clients[cc.Name] = c
	m.mu.Unlock()

	if old != nil {
		old.Disconnect()
	}
	if err != nil {
		log.Printf("Connect %s failed: %v", cc.Name, err)
	} else {
		log.Printf("Connected %s (%d tools)", cc.Name, len(c.Tools()))
		m.trackPID(c)
	}
}

// armReconnect starts the fixed-interval retry loop. A running loop is
// restarted so a new interval takes effect.
func (m *Manager) armReconnect(interval time.Duration) {
	m.stopReconnect()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	m.reconnectStop = stop
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.retryFailed()
			}
		}
	}()
}

// stopReconnect halts the retry loop and waits for it to exit.
func (m *Manager) stopReconnect() {
	m.mu.Lock()
	stop := m.reconnectStop
	m.reconnectStop = nil
	m.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	m.wg.Wait()
}

// retryFailed makes one reconnect attempt for every enabled connection that
// is failed or was never connected. Attempts run concurrently and each one
// uses a fresh client: a failed client is not reusable.
func (m *Manager) retryFailed() {
	m.mu.RLock()
	var retry []config.ConnectionConfig
	for name, cc := range m.cfg.Connections {
		if !cc.IsEnabled() {
			continue
		}
		c := m.clients[name]
		if c == nil || c.State() == client.StateFailed {
			retry = append(retry, cc)
		}
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, cc := range retry {
		wg.Add(1)
		go func(cc config.ConnectionConfig) {
			defer wg.Done()
			log.Printf("Reconnecting %s", cc.Name)
			ctx, cancel := context.WithTimeout(context.Background(), cc.ConnectTimeout())
			defer cancel()
			m.connectFresh(ctx, cc)
		}(cc)
	}
	wg.Wait()
}
