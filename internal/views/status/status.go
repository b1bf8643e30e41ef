package status

import (
	"github.com/attendance-app/client/internal/theme"
	"github.com/charmbracelet/lipgloss"
)

// Model holds the status bar state.
type Model struct {
	Connected bool
	Live      bool // a view holds a realtime subscription
	User      string
	Route     string
	Width     int
}

// New creates a status bar model.
func New() Model {
	return Model{}
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	var connStr string
	switch {
	case m.Connected && m.Live:
		connStr = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● Live")
	case m.Connected:
		connStr = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● Connected")
	default:
		connStr = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ Connecting...")
	}

	user := theme.StyleDimmed.Render("signed out")
	if m.User != "" {
		user = m.User
	}

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := connStr + sep + user
	if m.Route != "" {
		content += sep + theme.StyleTitle.Render(m.Route)
	}

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}
