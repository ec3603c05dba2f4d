// Package testutil provides common test utilities.
package testutil

import (
	"sync"
	"time"

	"github.com/jarvishq/mcp-bridge/internal/events"
)

// EventCollector is a thread-safe event collector for test assertions.
// Subscribe it to an event bus and then query collected events.
type EventCollector struct {
	mu     sync.Mutex
	events []events.Event
	states map[string][]events.ConnState
	cond   *sync.Cond
}

// NewEventCollector creates a new EventCollector.
func NewEventCollector() *EventCollector {
	ec := &EventCollector{
		states: make(map[string][]events.ConnState),
	}
	ec.cond = sync.NewCond(&ec.mu)
	return ec
}

// Handler returns a function suitable for bus.Subscribe().
func (c *EventCollector) Handler(e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.events = append(c.events, e)
	if e.Type == events.TypeStateChanged {
		c.states[e.Connection] = append(c.states[e.Connection], e.State)
	}

	c.cond.Broadcast()
}

// Events returns all collected events.
func (c *EventCollector) Events() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]events.Event, len(c.events))
	copy(result, c.events)
	return result
}

// StatesFor returns all states observed for a connection.
func (c *EventCollector) StatesFor(conn string) []events.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]events.ConnState, len(c.states[conn]))
	copy(result, c.states[conn])
	return result
}

// LastStateFor returns the most recent state for a connection.
// Returns StateDisconnected if no states have been observed.
func (c *EventCollector) LastStateFor(conn string) events.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	states := c.states[conn]
	if len(states) == 0 {
		return events.StateDisconnected
	}
	return states[len(states)-1]
}

// WaitForState blocks until the specified state is observed or timeout expires.
// Returns true if the state was observed, false on timeout.
func (c *EventCollector) WaitForState(conn string, state events.ConnState, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		for _, s := range c.states[conn] {
			if s == state {
				return true
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}

		// cond.Wait has no timeout, so arm a wakeup goroutine.
		done := make(chan struct{})
		go func() {
			time.Sleep(remaining)
			c.cond.Broadcast()
			close(done)
		}()

		c.cond.Wait()

		select {
		case <-done:
			for _, s := range c.states[conn] {
				if s == state {
					return true
				}
			}
			return false
		default:
		}
	}
}

// Clear resets the collector's state.
func (c *EventCollector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
	c.states = make(map[string][]events.ConnState)
}

// StatesContainSequence checks if the observed states contain the expected
// sequence in order. The expected sequence doesn't need to be contiguous.
func StatesContainSequence(observed, expected []events.ConnState) bool {
	if len(expected) == 0 {
		return true
	}

	idx := 0
	for _, state := range observed {
		if state == expected[idx] {
			idx++
			if idx == len(expected) {
				return true
			}
		}
	}
	return false
}
