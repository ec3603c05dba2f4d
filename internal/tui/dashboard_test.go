package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jarvishq/mcp-bridge/internal/config"
	"github.com/jarvishq/mcp-bridge/internal/events"
	"github.com/jarvishq/mcp-bridge/internal/manager"
	"github.com/jarvishq/mcp-bridge/internal/testutil"
)

func newTestModel(t *testing.T) Model {
	t.Helper()
	testutil.SetupTestHome(t)
	cfg := config.NewConfig()
	cfg.Connections["alpha"] = config.ConnectionConfig{Name: "alpha", Command: "true"}
	cfg.Connections["beta"] = config.ConnectionConfig{Name: "beta", Command: "true"}

	bus := events.NewBus()
	t.Cleanup(bus.Close)

	m := NewModel(manager.New(cfg, bus), bus)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return updated.(Model)
}

func TestView_ListsConnections(t *testing.T) {
	m := newTestModel(t)

	view := testutil.StripANSI(m.View())
	if !strings.Contains(view, "alpha") || !strings.Contains(view, "beta") {
		t.Errorf("expected both connections in view, got:\n%s", view)
	}
	if !strings.Contains(view, "2 connection(s)") {
		t.Errorf("expected connection count in header, got:\n%s", view)
	}
}

func TestView_EmptyConfig(t *testing.T) {
	testutil.SetupTestHome(t)
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	m := NewModel(manager.New(config.NewConfig(), bus), bus)

	view := testutil.StripANSI(m.View())
	if !strings.Contains(view, "No connections configured") {
		t.Errorf("expected empty placeholder, got:\n%s", view)
	}
}

func TestUpdate_QuitKeys(t *testing.T) {
	m := newTestModel(t)

	for _, k := range []string{"q", "ctrl+c"} {
		var msg tea.KeyMsg
		if k == "ctrl+c" {
			msg = tea.KeyMsg{Type: tea.KeyCtrlC}
		} else {
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
		}
		_, cmd := m.Update(msg)
		if cmd == nil {
			t.Fatalf("key %q: expected quit command", k)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("key %q: expected tea.Quit, got %T", k, cmd())
		}
	}
}

func TestUpdate_SelectionStaysInBounds(t *testing.T) {
	m := newTestModel(t)

	up := tea.KeyMsg{Type: tea.KeyUp}
	down := tea.KeyMsg{Type: tea.KeyDown}

	updated, _ := m.Update(up)
	m = updated.(Model)
	if m.selected != 0 {
		t.Errorf("expected selection clamped at 0, got %d", m.selected)
	}

	for i := 0; i < 5; i++ {
		updated, _ = m.Update(down)
		m = updated.(Model)
	}
	if m.selected != 1 {
		t.Errorf("expected selection clamped at last row, got %d", m.selected)
	}
}

func TestUpdate_LogEventAppendsToPanel(t *testing.T) {
	m := newTestModel(t)

	updated, cmd := m.Update(events.NewLogReceived("alpha", "server booting"))
	m = updated.(Model)
	if cmd == nil {
		t.Error("expected the model to keep waiting for events")
	}

	view := testutil.StripANSI(m.View())
	if !strings.Contains(view, "[alpha] server booting") {
		t.Errorf("expected log line in panel, got:\n%s", view)
	}
}

func TestUpdate_LogsToggle(t *testing.T) {
	m := newTestModel(t)

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("l")})
	m = updated.(Model)

	view := testutil.StripANSI(m.View())
	if strings.Contains(view, "no output yet") {
		t.Errorf("expected log panel hidden after toggle, got:\n%s", view)
	}
}

func TestUpdate_LogBufferBounded(t *testing.T) {
	m := newTestModel(t)

	for i := 0; i < maxLogLines+50; i++ {
		updated, _ := m.Update(events.NewLogReceived("alpha", "line"))
		m = updated.(Model)
	}
	if len(m.logs) != maxLogLines {
		t.Errorf("expected log buffer capped at %d, got %d", maxLogLines, len(m.logs))
	}
}
