// Package client implements the consumer side of the MCP stdio protocol:
// it spawns one upstream server process, drives the initialize handshake,
// and correlates concurrent tool calls against asynchronous responses.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jarvishq/mcp-bridge/internal/config"
	"github.com/jarvishq/mcp-bridge/internal/events"
	"github.com/jarvishq/mcp-bridge/internal/protocol"
	"github.com/jarvishq/mcp-bridge/internal/tools"
)

// DefaultCallTimeout bounds a tools/call round trip when the caller's
// context carries no deadline.
const DefaultCallTimeout = 30 * time.Second

// readBufferSize is the chunk size for the stdout read loop.
const readBufferSize = 4096

// State is the connection lifecycle state.
type State int

const (
	StateIdle State = iota
	StateLaunching
	StateHandshaking
	StateReady
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLaunching:
		return "launching"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	// ErrNotConnected is returned when an operation needs a Ready connection.
	ErrNotConnected = errors.New("not connected")
	// ErrConnectionClosed rejects requests pending at teardown.
	ErrConnectionClosed = errors.New("connection closed")
)

// callOutcome is the resolution of one pending request.
type callOutcome struct {
	msg *protocol.Message
	err error
}

// Client owns one spawned upstream MCP server process. A Client handles a
// single connection lifetime; reconnection means a fresh Client.
type Client struct {
	cfg config.ConnectionConfig
	bus *events.Bus

	mu         sync.Mutex
	state      State
	proc       *proc
	remote     []protocol.ToolDescriptor
	serverInfo protocol.PeerInfo
	lastErr    error

	nextID    atomic.Int64
	pendingMu sync.Mutex
	pending   map[int64]chan callOutcome

	writeMu sync.Mutex
}

// New creates a client for the given connection config. The bus may be nil.
func New(cfg config.ConnectionConfig, bus *events.Bus) *Client {
	return &Client{
		cfg:     cfg,
		bus:     bus,
		pending: make(map[int64]chan callOutcome),
	}
}

// Name returns the connection name.
func (c *Client) Name() string {
	return c.cfg.Name
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the error that failed the connection, if any.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// ServerInfo returns the remote peer's advertised name and version.
func (c *Client) ServerInfo() protocol.PeerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// PID returns the child process ID, or 0 if no process is running.
func (c *Client) PID() int {
	c.mu.Lock()
	p := c.proc
	c.mu.Unlock()
	if p == nil || p.exited() {
		return 0
	}
	return p.pid()
}

// Logs returns the child's retained stderr lines.
func (c *Client) Logs() []string {
	c.mu.Lock()
	p := c.proc
	c.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.logLines()
}

// Connect spawns the upstream process and drives the handshake to Ready:
// initialize, the initialized notification, then tools/list. The whole
// sequence is guarded by the connection's connect timeout. A client can
// only be connected once.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return fmt.Errorf("connection %s: already used (state %s)", c.cfg.Name, c.state)
	}
	c.state = StateLaunching
	c.mu.Unlock()

	c.publishState(events.StateConnecting, "")

	p, err := spawn(c.cfg.Name, c.cfg.Command, c.cfg.Args, c.cfg.Cwd, c.cfg.Env, c.bus)
	if err != nil {
		return c.fail(fmt.Errorf("spawn %s: %w", c.cfg.Command, err))
	}

	c.mu.Lock()
	c.proc = p
	c.state = StateHandshaking
	c.mu.Unlock()

	go c.readLoop(p)

	hsCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout())
	defer cancel()

	if err := c.handshake(hsCtx); err != nil {
		return c.fail(err)
	}

	c.mu.Lock()
	c.state = StateReady
	toolCount := len(c.remote)
	c.mu.Unlock()

	c.publishState(events.StateConnected, "")
	if c.bus != nil {
		c.bus.Publish(events.NewToolsUpdated(c.cfg.Name, toolCount))
	}
	return nil
}

// handshake runs initialize -> initialized -> tools/list under one deadline.
func (c *Client) handshake(ctx context.Context) error {
	initMsg, err := c.roundTrip(ctx, protocol.MethodInitialize, protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo: protocol.PeerInfo{
			Name:    "mcp-bridge",
			Version: "0.1.0",
		},
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if initMsg.Error != nil {
		return fmt.Errorf("initialize: %w", initMsg.Error)
	}

	var initResult protocol.InitializeResult
	if err := json.Unmarshal(initMsg.Result, &initResult); err != nil {
		return fmt.Errorf("initialize: unmarshal result: %w", err)
	}

	if err := c.notify(protocol.MethodInitialized, nil); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}

	listMsg, err := c.roundTrip(ctx, protocol.MethodToolsList, nil)
	if err != nil {
		return fmt.Errorf("tools/list: %w", err)
	}
	if listMsg.Error != nil {
		return fmt.Errorf("tools/list: %w", listMsg.Error)
	}

	var listResult protocol.ToolsListResult
	if err := json.Unmarshal(listMsg.Result, &listResult); err != nil {
		return fmt.Errorf("tools/list: unmarshal result: %w", err)
	}

	c.mu.Lock()
	c.serverInfo = initResult.ServerInfo
	c.remote = listResult.Tools
	c.mu.Unlock()
	return nil
}

// CallTool invokes a remote tool and returns a deterministic value outcome.
// Failures of any kind (not connected, remote error, timeout, teardown)
// surface through the Result, never as a fault.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) tools.Result {
	c.mu.Lock()
	if c.state != StateReady {
		state := c.state
		c.mu.Unlock()
		return tools.Fail("connection %s is %s: %s", c.cfg.Name, state, ErrNotConnected)
	}
	c.mu.Unlock()

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultCallTimeout)
		defer cancel()
	}

	params := protocol.ToolCallParams{Name: name}
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return tools.Fail("marshal arguments: %v", err)
		}
		params.Arguments = data
	}

	msg, err := c.roundTrip(ctx, protocol.MethodToolsCall, params)
	if err != nil {
		return tools.Fail("call %s on %s: %v", name, c.cfg.Name, err)
	}
	if msg.Error != nil {
		return tools.Fail("call %s on %s: %v", name, c.cfg.Name, msg.Error)
	}

	var result protocol.ToolCallResult
	if err := json.Unmarshal(msg.Result, &result); err != nil {
		return tools.Fail("call %s on %s: unmarshal result: %v", name, c.cfg.Name, err)
	}

	return unwrapToolResult(result)
}

// unwrapToolResult flattens a tools/call result into an internal Result.
// Text blocks are concatenated; parseable JSON is delivered as structured
// data, otherwise the raw text is delivered.
func unwrapToolResult(result protocol.ToolCallResult) tools.Result {
	var sb strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := sb.String()

	if result.IsError {
		return tools.Result{Success: false, Error: text}
	}

	var structured any
	if err := json.Unmarshal([]byte(text), &structured); err == nil {
		return tools.Ok(structured)
	}
	return tools.Ok(text)
}

// Tools republishes the remote catalog as locally callable tools whose
// handlers route through CallTool.
func (c *Client) Tools() []tools.Tool {
	c.mu.Lock()
	remote := c.remote
	c.mu.Unlock()

	out := make([]tools.Tool, 0, len(remote))
	for _, desc := range remote {
		desc := desc
		params := make(map[string]tools.Param, len(desc.InputSchema.Properties))
		required := make(map[string]bool, len(desc.InputSchema.Required))
		for _, name := range desc.InputSchema.Required {
			required[name] = true
		}
		for name, prop := range desc.InputSchema.Properties {
			params[name] = tools.Param{
				Type:        prop.Type,
				Description: prop.Description,
				Required:    required[name],
			}
		}
		out = append(out, tools.Tool{
			Name:        desc.Name,
			Description: desc.Description,
			Category:    c.cfg.Name,
			Params:      params,
			Handler: func(ctx context.Context, args map[string]any) tools.Result {
				return c.CallTool(ctx, desc.Name, args)
			},
		})
	}
	return out
}

// Disconnect terminates the child process and rejects every pending request.
// It does not return until the process has been signaled and reaped and no
// caller is left waiting.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	p := c.proc
	c.remote = nil
	c.mu.Unlock()

	if p != nil {
		p.terminate()
	}
	c.failPending(ErrConnectionClosed)

	c.publishState(events.StateDisconnected, "")
	return nil
}

// fail records a connect failure: the child is torn down, pending requests
// from the attempt are rejected, and the error is returned for the caller.
func (c *Client) fail(err error) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return err
	}
	c.state = StateFailed
	c.lastErr = err
	p := c.proc
	c.mu.Unlock()

	if p != nil {
		p.terminate()
	}
	c.failPending(err)

	c.publishState(events.StateFailed, err.Error())
	return err
}

// roundTrip sends a request and awaits its correlated response. The pending
// entry is registered before the write so a fast response cannot race it,
// and is removed on every exit path.
func (c *Client) roundTrip(ctx context.Context, method string, params any) (*protocol.Message, error) {
	id := c.nextID.Add(1)

	msg, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	ch := make(chan callOutcome, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	if err := c.write(msg); err != nil {
		c.removePending(id)
		return nil, err
	}

	c.mu.Lock()
	p := c.proc
	c.mu.Unlock()

	select {
	case outcome := <-ch:
		if outcome.err != nil {
			return nil, outcome.err
		}
		return outcome.msg, nil
	case <-ctx.Done():
		c.removePending(id)
		return nil, ctx.Err()
	case <-p.done:
		c.removePending(id)
		return nil, fmt.Errorf("process exited (%s)", p.exitStatus())
	}
}

// notify sends a notification; no reply is expected or awaited.
func (c *Client) notify(method string, params any) error {
	msg, err := protocol.NewNotification(method, params)
	if err != nil {
		return err
	}
	return c.write(msg)
}

// write serializes one message onto the child's stdin.
func (c *Client) write(msg *protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	c.mu.Lock()
	p := c.proc
	c.mu.Unlock()
	if p == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := p.stdin.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// readLoop is the single ordered reader over the child's stdout. Bytes are
// framed strictly in arrival order; responses resolve pending requests and
// everything else is logged and dropped.
func (c *Client) readLoop(p *proc) {
	var framer protocol.Framer
	buf := make([]byte, readBufferSize)

	for {
		n, err := p.stdout.Read(buf)
		if n > 0 {
			for _, msg := range framer.Feed(buf[:n]) {
				c.dispatch(msg)
			}
		}
		if err != nil {
			break
		}
	}

	// Stream ended. If this was not a deliberate close or an already
	// recorded failure, the connection is lost: fail in-flight calls so
	// no caller waits for a dead process.
	c.mu.Lock()
	lost := c.state != StateClosed && c.state != StateFailed
	if lost {
		c.state = StateFailed
		c.lastErr = fmt.Errorf("connection lost: process exited")
	}
	c.mu.Unlock()

	if lost {
		c.failPending(fmt.Errorf("connection lost: process exited"))
		c.publishState(events.StateFailed, "process exited")
	}
}

// dispatch routes one inbound message from the child.
func (c *Client) dispatch(msg protocol.Message) {
	switch msg.Kind() {
	case protocol.KindResponse:
		id, ok := msg.IDInt64()
		if !ok {
			log.Printf("[%s] Discarding response with unusable id", c.cfg.Name)
			return
		}
		c.pendingMu.Lock()
		ch, found := c.pending[id]
		if found {
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()

		if !found {
			log.Printf("[%s] Discarding response for unknown request id %d", c.cfg.Name, id)
			return
		}
		m := msg
		ch <- callOutcome{msg: &m}

	case protocol.KindNotification:
		log.Printf("[%s] Ignoring notification: %s", c.cfg.Name, msg.Method)

	case protocol.KindRequest:
		// Server-to-client requests are not supported; drop them rather
		// than stall the peer's read loop with silence on our side.
		log.Printf("[%s] Ignoring server request: %s", c.cfg.Name, msg.Method)
	}
}

// removePending drops one pending entry, if still present.
func (c *Client) removePending(id int64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// failPending rejects every pending request with the given error.
func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	pending := c.pending
	c.pending = make(map[int64]chan callOutcome)
	c.pendingMu.Unlock()

	for _, ch := range pending {
		ch <- callOutcome{err: err}
	}
}

func (c *Client) publishState(state events.ConnState, errMsg string) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(events.NewStateChanged(c.cfg.Name, state, errMsg))
}
