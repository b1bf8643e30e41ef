// Package students lists students with their attendance stats.
package students

import (
	"fmt"
	"strings"

	"github.com/attendance-app/client/internal/client"
	"github.com/attendance-app/client/internal/theme"
	"github.com/charmbracelet/lipgloss"
)

// Model holds the student list.
type Model struct {
	Rows     []client.StudentSummary
	Err      error
	Loading  bool
	Width    int
	Height   int
	selected int
	class    int // 0 is all classes, else index+1 into client.PredefinedClasses
}

// New creates an empty list.
func New() Model {
	return Model{Loading: true}
}

// SetRows replaces the rows and keeps the selection in range.
func (m *Model) SetRows(rows []client.StudentSummary, err error) {
	m.Rows, m.Err, m.Loading = rows, err, false
	if m.selected >= len(m.Rows) {
		m.selected = max(len(m.Rows)-1, 0)
	}
}

func (m *Model) Up() {
	if m.selected > 0 {
		m.selected--
	}
}

func (m *Model) Down() {
	if m.selected < len(m.Rows)-1 {
		m.selected++
	}
}

// Selected returns the highlighted student.
func (m Model) Selected() (client.StudentSummary, bool) {
	if m.selected < 0 || m.selected >= len(m.Rows) {
		return client.StudentSummary{}, false
	}
	return m.Rows[m.selected], true
}

// NextClass cycles the class filter and returns the new filter.
func (m *Model) NextClass() client.StudentFilter {
	m.class = (m.class + 1) % (len(client.PredefinedClasses) + 1)
	m.selected = 0
	return m.Filter()
}

// Filter is the filter the rows were fetched with.
func (m Model) Filter() client.StudentFilter {
	if m.class == 0 {
		return client.StudentFilter{}
	}
	return client.StudentFilter{ClassName: client.PredefinedClasses[m.class-1]}
}

// View renders the list.
func (m Model) View() string {
	class := "all classes"
	if f := m.Filter(); f.ClassName != "" {
		class = f.ClassName
	}
	title := theme.StyleTitle.Render("Students") + theme.StyleDimmed.Render("  "+class)

	switch {
	case m.Err != nil:
		return title + "\n\n" + theme.StyleError.Render("Could not load students: "+m.Err.Error())
	case m.Loading:
		return title + "\n\n" + theme.StyleDimmed.Render("Loading...")
	case len(m.Rows) == 0:
		return title + "\n\n" + theme.StyleDimmed.Render("No students.")
	}

	lines := []string{title, ""}
	for i, s := range m.Rows {
		prefix := "  "
		name := s.FullName
		if i == m.selected {
			prefix = "> "
			name = theme.StyleSelected.Render(name)
		}
		rate := lipgloss.NewStyle().Foreground(theme.RateColor(s.AttendanceRate)).Render(fmt.Sprintf("%3.0f%%", s.AttendanceRate))
		lines = append(lines, fmt.Sprintf("%s%-28s %-6s %-12s %3d/%-3d %s",
			prefix, name, s.ClassName, s.TagUID, s.AttendedSessions, s.TotalSessions, rate))
	}
	if sel, ok := m.Selected(); ok && sel.FaceImageURL != "" {
		lines = append(lines, "", theme.StyleDimmed.Render("Face: "+sel.FaceImageURL))
	}
	return strings.Join(lines, "\n")
}
