// Package protocol implements JSON-RPC 2.0 message framing and the shared
// MCP wire types used by both the client and server endpoints.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Version is the JSON-RPC protocol version string.
const Version = "2.0"

// MessageKind classifies a decoded message.
type MessageKind int

const (
	KindRequest MessageKind = iota
	KindNotification
	KindResponse
)

// Message is a decoded JSON-RPC 2.0 message. It covers all three shapes:
// requests (method + id), notifications (method, no id), and responses
// (result or error + id).
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Kind returns the message classification.
func (m *Message) Kind() MessageKind {
	if m.Method != "" {
		if len(m.ID) == 0 {
			return KindNotification
		}
		return KindRequest
	}
	return KindResponse
}

// IDInt64 returns the message ID as an int64 for response correlation.
// Returns false if the ID is absent or not an integer.
func (m *Message) IDInt64() (int64, bool) {
	if len(m.ID) == 0 {
		return 0, false
	}
	var id int64
	if err := json.Unmarshal(m.ID, &id); err != nil {
		return 0, false
	}
	return id, true
}

// NewRequest builds a request message with the given integer id.
func NewRequest(id int64, method string, params any) (*Message, error) {
	msg := &Message{
		JSONRPC: Version,
		ID:      json.RawMessage(fmt.Sprintf("%d", id)),
		Method:  method,
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		msg.Params = data
	}
	return msg, nil
}

// NewNotification builds a notification message (no id, no reply expected).
func NewNotification(method string, params any) (*Message, error) {
	msg := &Message{
		JSONRPC: Version,
		Method:  method,
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		msg.Params = data
	}
	return msg, nil
}

// NewResponse builds a successful response echoing the request id.
func NewResponse(id json.RawMessage, result any) (*Message, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Message{
		JSONRPC: Version,
		ID:      id,
		Result:  data,
	}, nil
}

// NewErrorResponse builds an error response echoing the request id.
// A nil id yields an id-less error, used for parse errors where no
// request id could be recovered.
func NewErrorResponse(id json.RawMessage, rpcErr *RPCError) *Message {
	return &Message{
		JSONRPC: Version,
		ID:      id,
		Error:   rpcErr,
	}
}

// JSON-RPC error codes.
const (
	// Standard JSON-RPC errors.
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603

	// Implementation-defined errors (-32000 to -32099).
	ErrCodeToolNotFound     = -32000
	ErrCodeCallTimeout      = -32001
	ErrCodeConnectionClosed = -32002
)

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NewRPCError creates an RPC error with optional structured data.
func NewRPCError(code int, message string, data any) *RPCError {
	err := &RPCError{
		Code:    code,
		Message: message,
	}
	if data != nil {
		if dataBytes, jsonErr := json.Marshal(data); jsonErr == nil {
			err.Data = dataBytes
		}
	}
	return err
}

// Error constructors for common cases

func ErrParseError(detail string) *RPCError {
	return NewRPCError(ErrCodeParseError, "Parse error: "+detail, nil)
}

func ErrInvalidRequest(detail string) *RPCError {
	return NewRPCError(ErrCodeInvalidRequest, "Invalid Request: "+detail, nil)
}

func ErrMethodNotFound(method string) *RPCError {
	return NewRPCError(ErrCodeMethodNotFound, fmt.Sprintf("Method not found: %s", method), nil)
}

func ErrInvalidParams(detail string) *RPCError {
	return NewRPCError(ErrCodeInvalidParams, "Invalid params: "+detail, nil)
}

func ErrInternalError(detail string) *RPCError {
	return NewRPCError(ErrCodeInternalError, "Internal error: "+detail, nil)
}

func ErrToolNotFound(toolName string) *RPCError {
	return NewRPCError(ErrCodeToolNotFound, fmt.Sprintf("Tool not found: %s", toolName), map[string]string{"toolName": toolName})
}
