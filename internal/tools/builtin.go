package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Builtin returns the registry of tools that execute in-process, so a bare
// serve run exposes a working catalog before any upstream connects.
func Builtin() *Registry {
	r := NewRegistry()

	// Registration of static tools cannot fail.
	_ = r.Register(Tool{
		Name:        "echo",
		Description: "Echo the provided text back to the caller",
		Category:    "diagnostics",
		Params: map[string]Param{
			"text": {Type: "string", Description: "Text to echo", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any) Result {
			text, ok := args["text"].(string)
			if !ok {
				return Fail("missing required argument: text")
			}
			return Ok(text)
		},
	})

	_ = r.Register(Tool{
		Name:        "current_time",
		Description: "Return the current time in RFC 3339 format",
		Category:    "diagnostics",
		Params:      map[string]Param{},
		Handler: func(ctx context.Context, args map[string]any) Result {
			return Ok(time.Now().Format(time.RFC3339))
		},
	})

	return r
}

// Stringify renders a tool result payload as text for protocol transport.
// Structured payloads are serialized as JSON so the consuming side can
// recover them with a best-effort parse.
func Stringify(data any) string {
	switch v := data.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
		return fmt.Sprintf("%v", v)
	}
}
