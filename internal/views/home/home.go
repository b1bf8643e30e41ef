// Package home renders the dashboard summary.
package home

import (
	"fmt"

	"github.com/attendance-app/client/internal/client"
	"github.com/attendance-app/client/internal/theme"
	"github.com/charmbracelet/lipgloss"
)

// Model holds the dashboard state.
type Model struct {
	Dashboard *client.Dashboard
	Err       error
	Width     int
}

// New creates an empty dashboard.
func New() Model {
	return Model{}
}

// View renders the dashboard.
func (m Model) View() string {
	title := theme.StyleTitle.Render("Dashboard")
	if m.Err != nil {
		return lipgloss.JoinVertical(lipgloss.Left, title, "", theme.StyleError.Render("Could not load dashboard: "+m.Err.Error()))
	}
	if m.Dashboard == nil {
		return lipgloss.JoinVertical(lipgloss.Left, title, "", theme.StyleDimmed.Render("Loading..."))
	}

	d := m.Dashboard
	active := theme.StyleDimmed.Render("No session is open.")
	if s := d.ActiveSession; s != nil {
		active = fmt.Sprintf("%s %s (%s) since %s",
			lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("●"),
			theme.StyleHeader.Render(s.Name), s.ClassName, s.StartedAt.Local().Format("15:04"))
	}

	card := func(label string, n int) string {
		return theme.StyleBorder.Padding(0, 2).Render(
			lipgloss.JoinVertical(lipgloss.Center, theme.StyleHeader.Render(fmt.Sprint(n)), theme.StyleDimmed.Render(label)))
	}
	cards := lipgloss.JoinHorizontal(lipgloss.Top, card("students", d.StudentCount), " ", card("sessions", d.TotalSessionCount))

	return lipgloss.JoinVertical(lipgloss.Left, title, "", active, "", cards)
}
