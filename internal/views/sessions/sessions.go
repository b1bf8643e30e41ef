// Package sessions lists attendance sessions and holds the form that
// starts a new one.
package sessions

import (
	"fmt"
	"strings"

	"github.com/attendance-app/client/internal/client"
	"github.com/attendance-app/client/internal/theme"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// StartMsg asks the app to start a session.
type StartMsg struct {
	Name      string
	ClassName string
}

// Model holds the session list.
type Model struct {
	Rows     []client.Session
	Err      error
	Loading  bool
	Notice   string
	Width    int
	selected int

	// New session form.
	Creating bool
	name     textinput.Model
	class    int
}

// New creates an empty list.
func New() Model {
	name := textinput.New()
	name.Prompt = "Name:  "
	name.Placeholder = "Morning lecture"
	name.CharLimit = 120
	return Model{Loading: true, name: name}
}

// SetRows replaces the rows and keeps the selection in range.
func (m *Model) SetRows(rows []client.Session, err error) {
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

// Selected returns the highlighted session.
func (m Model) Selected() (client.Session, bool) {
	if m.selected < 0 || m.selected >= len(m.Rows) {
		return client.Session{}, false
	}
	return m.Rows[m.selected], true
}

// HasOpen reports whether any listed session is still open.
func (m Model) HasOpen() bool {
	for _, s := range m.Rows {
		if s.Active() {
			return true
		}
	}
	return false
}

// OpenForm shows the new session form.
func (m *Model) OpenForm() tea.Cmd {
	m.Creating = true
	m.Notice = ""
	m.name.SetValue("")
	return m.name.Focus()
}

// CloseForm hides the form.
func (m *Model) CloseForm() {
	m.Creating = false
	m.name.Blur()
}

// UpdateForm handles keys while the form is open. Tab cycles the class,
// enter submits and esc cancels.
func (m Model) UpdateForm(msg tea.Msg) (Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "esc":
			m.CloseForm()
			return m, nil
		case "tab":
			m.class = (m.class + 1) % len(client.PredefinedClasses)
			return m, nil
		case "shift+tab":
			m.class = (m.class - 1 + len(client.PredefinedClasses)) % len(client.PredefinedClasses)
			return m, nil
		case "enter":
			name := strings.TrimSpace(m.name.Value())
			if name == "" {
				m.Notice = "A session needs a name."
				return m, nil
			}
			start := StartMsg{Name: name, ClassName: client.PredefinedClasses[m.class]}
			m.CloseForm()
			return m, func() tea.Msg { return start }
		}
	}
	var cmd tea.Cmd
	m.name, cmd = m.name.Update(msg)
	return m, cmd
}

// View renders the list and the form.
func (m Model) View() string {
	title := theme.StyleTitle.Render("Sessions")
	var body string
	switch {
	case m.Err != nil:
		body = theme.StyleError.Render("Could not load sessions: " + m.Err.Error())
	case m.Loading:
		body = theme.StyleDimmed.Render("Loading...")
	case len(m.Rows) == 0:
		body = theme.StyleDimmed.Render("No sessions yet.")
	default:
		lines := make([]string, 0, len(m.Rows))
		for i, s := range m.Rows {
			prefix := "  "
			name := s.Name
			if i == m.selected {
				prefix = "> "
				name = theme.StyleSelected.Render(name)
			}
			state := theme.StyleDimmed.Render("ended")
			if s.Active() {
				state = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("open")
			}
			lines = append(lines, fmt.Sprintf("%s%-30s %-6s %s  %s",
				prefix, name, s.ClassName, s.StartedAt.Local().Format("2006-01-02 15:04"), state))
		}
		body = strings.Join(lines, "\n")
	}

	sections := []string{title, "", body}
	if m.Creating {
		form := lipgloss.JoinVertical(lipgloss.Left,
			theme.StyleHeader.Render("New session"),
			m.name.View(),
			"Class: "+theme.StyleSelected.Render(client.PredefinedClasses[m.class])+theme.StyleDimmed.Render("  (tab to change)"),
			theme.StyleDimmed.Render("enter:start  esc:cancel"),
		)
		sections = append(sections, "", theme.StyleBorder.Padding(0, 1).Render(form))
	}
	if m.Notice != "" {
		sections = append(sections, "", theme.StyleError.Render(m.Notice))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}
