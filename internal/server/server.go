// Package server implements the provider side of the MCP stdio protocol:
// it answers initialize, tools/list, and tools/call over standard input and
// output, backed by a tool catalog owned by the hosting process.
package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/jarvishq/mcp-bridge/internal/protocol"
	"github.com/jarvishq/mcp-bridge/internal/tools"
)

// Options configures the MCP server.
type Options struct {
	Catalog tools.Catalog

	Stdin  io.Reader
	Stdout io.Writer

	ServerName    string
	ServerVersion string
}

// Server is an MCP server exposing a tool catalog over stdio. All
// diagnostics go through the log package (stderr); only protocol frames
// are ever written to Stdout, since any stray byte there corrupts framing
// for the peer.
type Server struct {
	opts    Options
	catalog tools.Catalog

	// Protocol state
	initialized bool
	mu          sync.RWMutex

	// IO
	reader  *bufio.Reader
	writer  io.Writer
	writeMu sync.Mutex
}

// New creates a new MCP server.
func New(opts Options) *Server {
	return &Server{
		opts:    opts,
		catalog: opts.Catalog,
		reader:  bufio.NewReader(opts.Stdin),
		writer:  opts.Stdout,
	}
}

// readResult holds a line read from stdin and any error.
type readResult struct {
	line []byte
	err  error
}

// Run processes requests until the context is cancelled or stdin closes.
func (s *Server) Run(ctx context.Context) error {
	// Read lines from stdin in a goroutine so the loop can observe ctx.
	lines := make(chan readResult)
	go func() {
		defer close(lines)
		for {
			line, err := s.reader.ReadBytes('\n')
			if len(line) > 0 {
				// ReadBytes buffer is only valid until the next read, so clone it.
				line = append([]byte(nil), line...)
			}
			select {
			case lines <- readResult{line, err}:
				if err != nil {
					return // Stop reading on error (including EOF)
				}
			case <-ctx.Done():
				return // Stop reading when context is cancelled
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case r, ok := <-lines:
			if !ok {
				// Channel closed, reader goroutine exited
				return nil
			}

			// Process any data we got, even if there's an error (e.g., EOF without newline)
			line := bytes.TrimSpace(r.line)
			if len(line) > 0 {
				s.handleLine(ctx, line)
			}

			// Handle the read error
			if r.err != nil {
				if r.err == io.EOF {
					log.Println("Client closed connection (EOF)")
					return nil
				}
				return fmt.Errorf("read request: %w", r.err)
			}
		}
	}
}

// handleLine parses and routes one JSON-RPC line. Malformed input is
// answered with an error or skipped, never fatal.
func (s *Server) handleLine(ctx context.Context, data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		// Parse error - no request id can be recovered
		log.Printf("Parse error: %v (%.80s)", err, data)
		s.send(protocol.NewErrorResponse(nil, protocol.ErrParseError(err.Error())))
		return
	}

	switch msg.Kind() {
	case protocol.KindNotification:
		s.handleNotification(msg.Method, msg.Params)

	case protocol.KindRequest:
		result, rpcErr := s.handleRequest(ctx, msg.Method, msg.Params)
		if rpcErr != nil {
			s.send(protocol.NewErrorResponse(msg.ID, rpcErr))
			return
		}
		resp, err := protocol.NewResponse(msg.ID, result)
		if err != nil {
			s.send(protocol.NewErrorResponse(msg.ID, protocol.ErrInternalError(err.Error())))
			return
		}
		s.send(resp)

	case protocol.KindResponse:
		// We never send requests on this stream, so any response is stray.
		log.Printf("Discarding unexpected response message")
	}
}

// handleRequest processes a JSON-RPC request and returns a result or error.
func (s *Server) handleRequest(ctx context.Context, method string, params json.RawMessage) (any, *protocol.RPCError) {
	switch method {
	case protocol.MethodInitialize:
		return s.handleInitialize(params)
	case protocol.MethodPing:
		return struct{}{}, nil
	case protocol.MethodToolsList:
		return s.handleToolsList()
	case protocol.MethodToolsCall:
		return s.handleToolsCall(ctx, params)
	default:
		return nil, protocol.ErrMethodNotFound(method)
	}
}

// handleNotification processes a JSON-RPC notification.
func (s *Server) handleNotification(method string, params json.RawMessage) {
	switch method {
	case protocol.MethodInitialized:
		s.mu.Lock()
		s.initialized = true
		s.mu.Unlock()
		log.Println("Client sent initialized notification")
	default:
		log.Printf("Unknown notification: %s", method)
	}
}

// handleInitialize handles the initialize request. A repeated initialize is
// logged and answered again rather than rejected.
func (s *Server) handleInitialize(params json.RawMessage) (any, *protocol.RPCError) {
	var req protocol.InitializeParams
	if params != nil {
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, protocol.ErrInvalidParams(err.Error())
		}
	}

	s.mu.RLock()
	already := s.initialized
	s.mu.RUnlock()
	if already {
		log.Printf("Repeated initialize from %s %s", req.ClientInfo.Name, req.ClientInfo.Version)
	} else {
		log.Printf("Initialize request from %s %s (protocol: %s)",
			req.ClientInfo.Name, req.ClientInfo.Version, req.ProtocolVersion)
	}

	return protocol.InitializeResult{
		ProtocolVersion: protocol.ProtocolVersion,
		ServerInfo: protocol.PeerInfo{
			Name:    s.opts.ServerName,
			Version: s.opts.ServerVersion,
		},
		Capabilities: protocol.Capabilities{
			Tools: &protocol.ToolsCapability{ListChanged: true},
		},
	}, nil
}

// handleToolsList handles the tools/list request.
func (s *Server) handleToolsList() (any, *protocol.RPCError) {
	return protocol.ToolsListResult{
		Tools: tools.Descriptors(s.catalog.ListTools()),
	}, nil
}

// handleToolsCall handles the tools/call request.
func (s *Server) handleToolsCall(ctx context.Context, params json.RawMessage) (any, *protocol.RPCError) {
	var req protocol.ToolCallParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, protocol.ErrInvalidParams(err.Error())
	}

	if _, ok := s.catalog.GetTool(req.Name); !ok {
		return nil, protocol.ErrToolNotFound(req.Name)
	}

	var args map[string]any
	if len(req.Arguments) > 0 {
		if err := json.Unmarshal(req.Arguments, &args); err != nil {
			return nil, protocol.ErrInvalidParams("arguments: " + err.Error())
		}
	}

	result, err := s.invoke(ctx, req.Name, args)
	if err != nil {
		return nil, protocol.ErrInternalError(err.Error())
	}
	if !result.Success {
		return protocol.ToolCallResult{
			Content: protocol.TextContent(result.Error),
			IsError: true,
		}, nil
	}
	return protocol.ToolCallResult{
		Content: protocol.TextContent(tools.Stringify(result.Data)),
	}, nil
}

// invoke executes a tool, converting a panic into an internal error so a
// misbehaving handler can never take the protocol loop down.
func (s *Server) invoke(ctx context.Context, name string, args map[string]any) (result tools.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Tool %s panicked: %v", name, r)
			err = fmt.Errorf("invoking %s", name)
		}
	}()
	return s.catalog.Invoke(ctx, name, args), nil
}

// send writes one protocol frame to stdout.
func (s *Server) send(msg *protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		log.Printf("Failed to encode response: %v", err)
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, _ = s.writer.Write(data)
}
