package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Theme holds the styles used by the dashboard.
type Theme struct {
	Base  lipgloss.Style
	Muted lipgloss.Style
	Faint lipgloss.Style
	Title lipgloss.Style

	Primary lipgloss.Style
	Success lipgloss.Style
	Warn    lipgloss.Style
	Danger  lipgloss.Style

	App          lipgloss.Style
	Pane         lipgloss.Style
	Item         lipgloss.Style
	ItemSelected lipgloss.Style
	StatusBar    lipgloss.Style
}

// NewTheme creates the default theme (orange accent).
func NewTheme() Theme {
	primary := lipgloss.AdaptiveColor{Light: "#EA580C", Dark: "#FB923C"}
	success := lipgloss.AdaptiveColor{Light: "#0F7B0F", Dark: "#9ECE6A"}
	warn := lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#FBBF24"}
	danger := lipgloss.AdaptiveColor{Light: "#B00020", Dark: "#F7768E"}
	border := lipgloss.AdaptiveColor{Light: "#D0D7DE", Dark: "#3B4261"}
	muted := lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#A9B1D6"}
	faint := lipgloss.AdaptiveColor{Light: "#9CA3AF", Dark: "#565F89"}

	return Theme{
		Base:  lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#111827", Dark: "#C0CAF5"}),
		Muted: lipgloss.NewStyle().Foreground(muted),
		Faint: lipgloss.NewStyle().Foreground(faint),
		Title: lipgloss.NewStyle().Bold(true),

		Primary: lipgloss.NewStyle().Foreground(primary),
		Success: lipgloss.NewStyle().Foreground(success),
		Warn:    lipgloss.NewStyle().Foreground(warn),
		Danger:  lipgloss.NewStyle().Foreground(danger),

		App: lipgloss.NewStyle().Padding(0, 1),

		Pane: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(border).
			Padding(0, 1),

		Item:         lipgloss.NewStyle().Padding(0, 1),
		ItemSelected: lipgloss.NewStyle().Padding(0, 1).Bold(true).Foreground(primary),

		StatusBar: lipgloss.NewStyle().
			Padding(0, 1).
			Foreground(muted),
	}
}

// StateIcon returns the icon for a connection state.
func (t Theme) StateIcon(state string) string {
	switch state {
	case "ready":
		return t.Success.Render("●")
	case "launching", "handshaking":
		return t.Warn.Render("◐")
	case "failed":
		return t.Danger.Render("✖")
	default:
		return t.Faint.Render("○")
	}
}

// StatePill renders a connection state pill with background color.
func (t Theme) StatePill(state string) string {
	pill := lipgloss.NewStyle().Padding(0, 1).Bold(true)
	switch state {
	case "ready":
		return pill.Background(lipgloss.Color("#14532D")).
			Foreground(lipgloss.Color("#DCFCE7")).Render("● UP")
	case "launching", "handshaking":
		return pill.Background(lipgloss.Color("#713F12")).
			Foreground(lipgloss.Color("#FEF3C7")).Render("◐ ...")
	case "failed":
		return pill.Background(lipgloss.Color("#7F1D1D")).
			Foreground(lipgloss.Color("#FEE2E2")).Render("✖ ERR")
	default:
		return pill.Background(lipgloss.Color("#374151")).
			Foreground(lipgloss.Color("#E5E7EB")).Render("○ DOWN")
	}
}
