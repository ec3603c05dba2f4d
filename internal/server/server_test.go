package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/jarvishq/mcp-bridge/internal/protocol"
	"github.com/jarvishq/mcp-bridge/internal/tools"
)

// testHarness drives a Server over in-process pipes, writing raw request
// lines and decoding response lines.
type testHarness struct {
	t      *testing.T
	stdin  io.WriteCloser
	out    *bufio.Reader
	cancel context.CancelFunc
	done   chan error
}

func newHarness(t *testing.T, catalog tools.Catalog) *testHarness {
	t.Helper()

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	srv := New(Options{
		Catalog:       catalog,
		Stdin:         inR,
		Stdout:        outW,
		ServerName:    "test-server",
		ServerVersion: "0.0.1",
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	h := &testHarness{
		t:      t,
		stdin:  inW,
		out:    bufio.NewReader(outR),
		cancel: cancel,
		done:   done,
	}
	t.Cleanup(func() {
		cancel()
		inW.Close()
		outW.Close()
	})
	return h
}

func (h *testHarness) sendLine(line string) {
	h.t.Helper()
	if _, err := io.WriteString(h.stdin, line+"\n"); err != nil {
		h.t.Fatalf("write request: %v", err)
	}
}

func (h *testHarness) readResponse() protocol.Message {
	h.t.Helper()

	type lineResult struct {
		line []byte
		err  error
	}
	ch := make(chan lineResult, 1)
	go func() {
		line, err := h.out.ReadBytes('\n')
		ch <- lineResult{line, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			h.t.Fatalf("read response: %v", r.err)
		}
		var msg protocol.Message
		if err := json.Unmarshal(r.line, &msg); err != nil {
			h.t.Fatalf("unmarshal response: %v (%s)", err, r.line)
		}
		return msg
	case <-time.After(5 * time.Second):
		h.t.Fatal("timed out waiting for response")
		return protocol.Message{}
	}
}

func echoCatalog() *tools.Registry {
	r := tools.NewRegistry()
	_ = r.Register(tools.Tool{
		Name:        "echo",
		Description: "Echo text",
		Params: map[string]tools.Param{
			"text": {Type: "string", Description: "Text to echo", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any) tools.Result {
			text, ok := args["text"].(string)
			if !ok {
				return tools.Fail("missing required argument: text")
			}
			return tools.Ok(text)
		},
	})
	return r
}

func TestServer_HandshakeAndToolsList(t *testing.T) {
	h := newHarness(t, echoCatalog())

	h.sendLine(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"t","version":"1"}}}`)
	resp := h.readResponse()
	var initResult protocol.InitializeResult
	if err := json.Unmarshal(resp.Result, &initResult); err != nil {
		t.Fatalf("unmarshal initialize result: %v", err)
	}
	if initResult.ServerInfo.Name != "test-server" {
		t.Errorf("expected serverInfo name 'test-server', got %q", initResult.ServerInfo.Name)
	}
	if initResult.Capabilities.Tools == nil || !initResult.Capabilities.Tools.ListChanged {
		t.Error("expected tools capability with listChanged:true")
	}

	h.sendLine(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)

	h.sendLine(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	resp = h.readResponse()
	var listResult protocol.ToolsListResult
	if err := json.Unmarshal(resp.Result, &listResult); err != nil {
		t.Fatalf("unmarshal tools/list result: %v", err)
	}
	if len(listResult.Tools) != 1 || listResult.Tools[0].Name != "echo" {
		t.Fatalf("expected exactly one tool 'echo', got %+v", listResult.Tools)
	}
	if listResult.Tools[0].InputSchema.Type != "object" {
		t.Errorf("expected object input schema, got %q", listResult.Tools[0].InputSchema.Type)
	}
}

func TestServer_RepeatedInitializeAnswered(t *testing.T) {
	h := newHarness(t, echoCatalog())

	h.sendLine(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	h.readResponse()
	h.sendLine(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)

	// A second initialize is logged, not rejected.
	h.sendLine(`{"jsonrpc":"2.0","id":2,"method":"initialize","params":{}}`)
	resp := h.readResponse()
	if resp.Error != nil {
		t.Fatalf("expected repeated initialize to succeed, got %+v", resp.Error)
	}
}

func TestServer_Ping(t *testing.T) {
	h := newHarness(t, echoCatalog())

	h.sendLine(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	resp := h.readResponse()
	if resp.Error != nil {
		t.Fatalf("expected ping to succeed, got %+v", resp.Error)
	}
}

func TestServer_UnknownMethod(t *testing.T) {
	h := newHarness(t, echoCatalog())

	h.sendLine(`{"jsonrpc":"2.0","id":1,"method":"resources/list"}`)
	resp := h.readResponse()
	if resp.Error == nil || resp.Error.Code != protocol.ErrCodeMethodNotFound {
		t.Fatalf("expected method-not-found error, got %+v", resp.Error)
	}
}

func TestServer_ToolsCallSuccess(t *testing.T) {
	h := newHarness(t, echoCatalog())

	h.sendLine(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hi"}}}`)
	resp := h.readResponse()
	if resp.Error != nil {
		t.Fatalf("expected success, got %+v", resp.Error)
	}

	var result protocol.ToolCallResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.IsError {
		t.Fatal("expected isError to be unset")
	}
	if len(result.Content) != 1 || result.Content[0].Text != "hi" {
		t.Errorf("expected text content 'hi', got %+v", result.Content)
	}
}

func TestServer_ToolsCallFailureResult(t *testing.T) {
	h := newHarness(t, echoCatalog())

	// Missing the required argument makes the handler fail.
	h.sendLine(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo","arguments":{}}}`)
	resp := h.readResponse()
	if resp.Error != nil {
		t.Fatalf("expected a result, not a protocol error: %+v", resp.Error)
	}

	var result protocol.ToolCallResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if !result.IsError {
		t.Error("expected isError:true")
	}
	if len(result.Content) == 0 || result.Content[0].Text == "" {
		t.Error("expected the error text in content")
	}
}

func TestServer_ToolsCallUnknownTool(t *testing.T) {
	h := newHarness(t, echoCatalog())

	h.sendLine(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"missing","arguments":{}}}`)
	resp := h.readResponse()
	if resp.Error == nil || resp.Error.Code != protocol.ErrCodeToolNotFound {
		t.Fatalf("expected tool-not-found error, got %+v", resp.Error)
	}
}

func TestServer_PanickingToolBecomesInternalError(t *testing.T) {
	r := echoCatalog()
	_ = r.Register(tools.Tool{
		Name: "boom",
		Handler: func(ctx context.Context, args map[string]any) tools.Result {
			panic("kaboom")
		},
	})
	h := newHarness(t, r)

	h.sendLine(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"boom"}}`)
	resp := h.readResponse()
	if resp.Error == nil || resp.Error.Code != protocol.ErrCodeInternalError {
		t.Fatalf("expected internal error, got %+v", resp.Error)
	}

	// The loop must survive the panic.
	h.sendLine(`{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	resp = h.readResponse()
	if resp.Error != nil {
		t.Errorf("expected server to keep serving after a panic, got %+v", resp.Error)
	}
}

func TestServer_MalformedLineAnsweredNotFatal(t *testing.T) {
	h := newHarness(t, echoCatalog())

	h.sendLine(`{not json`)
	resp := h.readResponse()
	if resp.Error == nil || resp.Error.Code != protocol.ErrCodeParseError {
		t.Fatalf("expected parse error, got %+v", resp.Error)
	}

	h.sendLine(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	resp = h.readResponse()
	if resp.Error != nil {
		t.Errorf("expected server to survive malformed input, got %+v", resp.Error)
	}
}

func TestServer_RequestIDsEchoedBack(t *testing.T) {
	h := newHarness(t, echoCatalog())

	for i := 1; i <= 3; i++ {
		h.sendLine(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"ping"}`, i*7))
		resp := h.readResponse()
		if id, ok := resp.IDInt64(); !ok || id != int64(i*7) {
			t.Errorf("expected response id %d, got %s", i*7, resp.ID)
		}
	}
}

func TestServer_EOFShutsDownCleanly(t *testing.T) {
	h := newHarness(t, echoCatalog())

	h.stdin.Close()

	select {
	case err := <-h.done:
		if err != nil {
			t.Errorf("expected clean shutdown on EOF, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down on EOF")
	}
}
