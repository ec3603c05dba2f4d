package fakeserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Serve runs the fake MCP server, reading requests from in and writing responses to out.
// It handles the initialize handshake, tools/list, and tools/call, with
// configurable delays, errors, crashes, and stream noise.
func Serve(ctx context.Context, in io.Reader, out io.Writer, cfg Config) error {
	for _, line := range cfg.StderrLines {
		fmt.Fprintln(os.Stderr, line)
	}

	reader := bufio.NewReader(in)
	requestCount := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Read JSON-RPC request (NDJSON framing - read until newline)
		line, err := reader.ReadBytes('\n')
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		var req rpcRequest
		if err := json.Unmarshal(bytes.TrimSpace(line), &req); err != nil {
			return err
		}

		requestCount++

		// Check crash conditions
		if cfg.CrashOnNthRequest > 0 && requestCount >= cfg.CrashOnNthRequest {
			os.Exit(cfg.CrashExitCode)
		}
		if cfg.CrashOnMethod != "" && req.Method == cfg.CrashOnMethod {
			os.Exit(cfg.CrashExitCode)
		}

		// Apply delay if configured
		if d := cfg.delay(req.Method); d > 0 {
			time.Sleep(d)
		}

		// Check for forced error
		if rpcErr, ok := cfg.Errors[req.Method]; ok {
			writeErrorResponse(out, req.ID, rpcErr, cfg)
			continue
		}

		// Handle methods
		switch req.Method {
		case "initialize":
			writeResponse(out, req.ID, InitializeResult{
				ProtocolVersion: "2024-11-05",
				ServerInfo:      ServerInfo{Name: "fake-server", Version: "1.0.0"},
				Capabilities:    Capabilities{Tools: &ToolsCapability{ListChanged: true}},
			}, cfg)

		case "tools/list":
			tools := cfg.Tools
			if tools == nil {
				tools = []Tool{}
			}
			writeResponse(out, req.ID, ToolsListResult{Tools: tools}, cfg)

		case "tools/call":
			writeResponse(out, req.ID, handleToolCall(req.Params, cfg), cfg)

		case "ping":
			writeResponse(out, req.ID, struct{}{}, cfg)

		case "notifications/initialized":
			// No response needed for notifications

		default:
			writeErrorResponse(out, req.ID, JSONRPCError{
				Code: -32601, Message: "Method not found",
			}, cfg)
		}
	}
}

// handleToolCall resolves a tools/call against the configured results.
// Tools without a canned result echo their arguments back as text.
func handleToolCall(params json.RawMessage, cfg Config) ToolCallResult {
	var call ToolCallParams
	if err := json.Unmarshal(params, &call); err != nil {
		return ToolCallResult{
			Content: []ContentBlock{{Type: "text", Text: "bad params: " + err.Error()}},
			IsError: true,
		}
	}

	if result, ok := cfg.ToolResults[call.Name]; ok {
		return result
	}

	known := false
	for _, t := range cfg.Tools {
		if t.Name == call.Name {
			known = true
			break
		}
	}
	if !known {
		return ToolCallResult{
			Content: []ContentBlock{{Type: "text", Text: "unknown tool: " + call.Name}},
			IsError: true,
		}
	}

	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: string(call.Arguments)}},
	}
}
