// Package events provides a goroutine-safe pub/sub bus for connection
// lifecycle and diagnostics events.
package events

import "time"

// EventType identifies the kind of event.
type EventType string

const (
	TypeStateChanged EventType = "state_changed"
	TypeLogReceived  EventType = "log_received"
	TypeToolsUpdated EventType = "tools_updated"
)

// ConnState is the lifecycle state of a managed connection.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateFailed       ConnState = "failed"
)

// Event is a single bus event.
type Event struct {
	Type       EventType
	Connection string
	Timestamp  time.Time

	// TypeStateChanged
	State ConnState
	Error string

	// TypeLogReceived
	Line string

	// TypeToolsUpdated
	ToolCount int
}

// NewStateChanged builds a state transition event.
func NewStateChanged(conn string, state ConnState, errMsg string) Event {
	return Event{
		Type:       TypeStateChanged,
		Connection: conn,
		Timestamp:  time.Now(),
		State:      state,
		Error:      errMsg,
	}
}

// NewLogReceived builds a child stderr log event.
func NewLogReceived(conn, line string) Event {
	return Event{
		Type:       TypeLogReceived,
		Connection: conn,
		Timestamp:  time.Now(),
		Line:       line,
	}
}

// NewToolsUpdated builds a tool discovery event.
func NewToolsUpdated(conn string, count int) Event {
	return Event{
		Type:       TypeToolsUpdated,
		Connection: conn,
		Timestamp:  time.Now(),
		ToolCount:  count,
	}
}
