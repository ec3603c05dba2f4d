package tui

import (
	"github.com/charmbracelet/bubbles/key"
)

// KeyBindings holds the dashboard keybindings.
type KeyBindings struct {
	Up      key.Binding
	Down    key.Binding
	Refresh key.Binding
	Logs    key.Binding
	Quit    key.Binding
	CtrlC   key.Binding
}

// NewKeyBindings creates the default keybindings.
func NewKeyBindings() KeyBindings {
	return KeyBindings{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Logs: key.NewBinding(
			key.WithKeys("l"),
			key.WithHelp("l", "logs"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q"),
			key.WithHelp("q", "quit"),
		),
		CtrlC: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "force quit"),
		),
	}
}

// ShortHelp returns keybindings for the help line.
func (k KeyBindings) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Refresh, k.Logs, k.Quit}
}
