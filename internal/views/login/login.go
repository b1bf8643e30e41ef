// Package login is the sign-in form.
package login

import (
	"strings"

	"github.com/attendance-app/client/internal/theme"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// SubmitMsg asks the app to sign in with the entered credentials.
type SubmitMsg struct {
	Email    string
	Password string
}

// Model is the form state.
type Model struct {
	email    textinput.Model
	password textinput.Model
	focus    int

	Busy  bool
	Err   string
	Width int
}

// New creates an empty form with the email field focused.
func New() Model {
	email := textinput.New()
	email.Placeholder = "teacher@example.com"
	email.Prompt = "Email:    "
	email.CharLimit = 254
	email.Focus()

	password := textinput.New()
	password.Prompt = "Password: "
	password.EchoMode = textinput.EchoPassword
	password.EchoCharacter = '•'

	return Model{email: email, password: password}
}

// Reset clears the password and error and focuses the email field.
func (m *Model) Reset() {
	m.password.SetValue("")
	m.Err = ""
	m.Busy = false
	m.setFocus(0)
}

func (m *Model) setFocus(i int) {
	m.focus = i
	if i == 0 {
		m.email.Focus()
		m.password.Blur()
		return
	}
	m.email.Blur()
	m.password.Focus()
}

// Update handles keys. Enter on the password field submits.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok && !m.Busy {
		switch key.String() {
		case "tab", "shift+tab", "up", "down":
			m.setFocus(1 - m.focus)
			return m, nil
		case "enter":
			if m.focus == 0 {
				m.setFocus(1)
				return m, nil
			}
			email := strings.TrimSpace(m.email.Value())
			if email == "" || m.password.Value() == "" {
				m.Err = "Email and password are required."
				return m, nil
			}
			m.Busy = true
			m.Err = ""
			submit := SubmitMsg{Email: email, Password: m.password.Value()}
			return m, func() tea.Msg { return submit }
		}
	}

	var cmd tea.Cmd
	if m.focus == 0 {
		m.email, cmd = m.email.Update(msg)
	} else {
		m.password, cmd = m.password.Update(msg)
	}
	return m, cmd
}

// View renders the form.
func (m Model) View() string {
	lines := []string{
		theme.StyleTitle.Render("Sign in"),
		"",
		m.email.View(),
		m.password.View(),
		"",
	}
	switch {
	case m.Busy:
		lines = append(lines, theme.StyleDimmed.Render("Signing in..."))
	case m.Err != "":
		lines = append(lines, theme.StyleError.Render(m.Err))
	default:
		lines = append(lines, theme.StyleDimmed.Render("tab:switch field  enter:sign in  ctrl+c:quit"))
	}
	return theme.StyleBorder.Padding(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}
