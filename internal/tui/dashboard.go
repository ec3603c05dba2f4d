// Package tui provides the interactive connection dashboard.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/jarvishq/mcp-bridge/internal/events"
	"github.com/jarvishq/mcp-bridge/internal/manager"
)

// maxLogLines bounds the dashboard's log panel buffer.
const maxLogLines = 200

// refreshInterval drives the periodic status poll.
const refreshInterval = 2 * time.Second

type tickMsg time.Time

// Model is the dashboard's Bubble Tea model.
type Model struct {
	mgr *manager.Manager
	bus *events.Bus

	theme Theme
	keys  KeyBindings
	spin  spinner.Model

	width    int
	height   int
	selected int
	showLogs bool

	rows []manager.ConnStatus
	logs []string

	eventCh chan events.Event
}

// NewModel creates the dashboard model and subscribes it to the event bus.
func NewModel(mgr *manager.Manager, bus *events.Bus) Model {
	th := NewTheme()
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = th.Primary

	m := Model{
		mgr:      mgr,
		bus:      bus,
		theme:    th,
		keys:     NewKeyBindings(),
		spin:     sp,
		showLogs: true,
		rows:     mgr.GetStatus(),
		eventCh:  make(chan events.Event, 100),
	}

	bus.Subscribe(func(e events.Event) {
		select {
		case m.eventCh <- e:
		default:
			// Channel full, drop event
		}
	})

	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.waitForEvent(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitForEvent returns a command that waits for the next bus event.
func (m Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		return <-m.eventCh
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit), key.Matches(msg, m.keys.CtrlC):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Up):
			if m.selected > 0 {
				m.selected--
			}
		case key.Matches(msg, m.keys.Down):
			if m.selected < len(m.rows)-1 {
				m.selected++
			}
		case key.Matches(msg, m.keys.Refresh):
			m.rows = m.mgr.GetStatus()
		case key.Matches(msg, m.keys.Logs):
			m.showLogs = !m.showLogs
			if m.showLogs && len(m.logs) == 0 {
				m.logs = m.stderrHistory()
			}
		}
		return m, nil

	case tickMsg:
		m.rows = m.mgr.GetStatus()
		return m, tick()

	case events.Event:
		switch msg.Type {
		case events.TypeStateChanged, events.TypeToolsUpdated:
			m.rows = m.mgr.GetStatus()
		case events.TypeLogReceived:
			m.logs = append(m.logs, fmt.Sprintf("[%s] %s", msg.Connection, msg.Line))
			if len(m.logs) > maxLogLines {
				m.logs = m.logs[len(m.logs)-maxLogLines:]
			}
		}
		return m, m.waitForEvent()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.theme.Title.Render("mcp-bridge"))
	b.WriteString("  ")
	b.WriteString(m.theme.Muted.Render(fmt.Sprintf("%d connection(s)", len(m.rows))))
	b.WriteString("\n\n")

	if len(m.rows) == 0 {
		b.WriteString(m.theme.Faint.Render("  No connections configured."))
		b.WriteString("\n")
	}

	for i, row := range m.rows {
		style := m.theme.Item
		if i == m.selected {
			style = m.theme.ItemSelected
		}

		icon := m.theme.StateIcon(row.State)
		if row.State == "launching" || row.State == "handshaking" {
			icon = m.spin.View()
		}

		line := fmt.Sprintf("%s %-20s %s  %s", icon, row.Name, m.theme.StatePill(row.State), m.describeRow(row))
		b.WriteString(style.Render(line))
		b.WriteString("\n")
	}

	if m.showLogs {
		b.WriteString("\n")
		b.WriteString(m.renderLogs())
	}

	b.WriteString("\n")
	b.WriteString(m.renderHelp())

	return m.theme.App.Render(b.String())
}

func (m Model) describeRow(row manager.ConnStatus) string {
	if !row.Enabled {
		return m.theme.Faint.Render("disabled")
	}
	if row.Error != "" {
		return m.theme.Danger.Render(row.Error)
	}
	if row.State == "ready" {
		desc := fmt.Sprintf("%d tool(s)", row.Tools)
		if row.ServerName != "" {
			desc += m.theme.Muted.Render(fmt.Sprintf("  %s %s", row.ServerName, row.ServerVersion))
		}
		return desc
	}
	return ""
}

// stderrHistory backfills the log panel from each client's retained stderr
// buffer, covering output captured before this view subscribed to the bus.
func (m Model) stderrHistory() []string {
	var out []string
	for _, row := range m.rows {
		c := m.mgr.Client(row.Name)
		if c == nil {
			continue
		}
		for _, line := range c.Logs() {
			out = append(out, fmt.Sprintf("[%s] %s", row.Name, line))
		}
	}
	if len(out) > maxLogLines {
		out = out[len(out)-maxLogLines:]
	}
	return out
}

func (m Model) renderLogs() string {
	visible := 8
	logs := m.logs
	if len(logs) > visible {
		logs = logs[len(logs)-visible:]
	}
	content := strings.Join(logs, "\n")
	if content == "" {
		content = m.theme.Faint.Render("no output yet")
	}
	width := m.width - 4
	if width < 20 {
		width = 60
	}
	return m.theme.Pane.Width(width).Render(content)
}

func (m Model) renderHelp() string {
	var parts []string
	for _, b := range m.keys.ShortHelp() {
		parts = append(parts, fmt.Sprintf("%s %s", b.Help().Key, m.theme.Faint.Render(b.Help().Desc)))
	}
	return m.theme.StatusBar.Render(strings.Join(parts, "  "))
}
