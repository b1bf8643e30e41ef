// Package attendance lists attendance logs for review. New logs arrive
// live; pending scans can be approved or rejected with a reason.
package attendance

import (
	"fmt"
	"strings"

	"github.com/attendance-app/client/internal/client"
	"github.com/attendance-app/client/internal/theme"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ReviewMsg asks the app to set the status of a log.
type ReviewMsg struct {
	LogID  int64
	Status client.ScanStatus
	Reason string
}

var statusFilters = []client.ScanStatus{"", client.StatusPending, client.StatusApproved, client.StatusRejected}

// Model holds the log list.
type Model struct {
	Rows     []client.AttendanceLog
	Err      error
	Loading  bool
	Notice   string
	Width    int
	Height   int
	selected int
	status   int // index into statusFilters

	// Rejection reason prompt.
	Rejecting bool
	reason    textinput.Model
}

// New creates an empty list.
func New() Model {
	reason := textinput.New()
	reason.Prompt = "Reason: "
	reason.Placeholder = "optional"
	reason.CharLimit = 200
	return Model{Loading: true, reason: reason}
}

// Filter is the filter the rows were fetched with.
func (m Model) Filter() client.LogFilter {
	return client.LogFilter{Status: statusFilters[m.status]}
}

// NextStatus cycles the status filter and returns the new filter.
func (m *Model) NextStatus() client.LogFilter {
	m.status = (m.status + 1) % len(statusFilters)
	m.selected = 0
	return m.Filter()
}

// SetRows replaces the rows and keeps the selection in range.
func (m *Model) SetRows(rows []client.AttendanceLog, err error) {
	m.Rows, m.Err, m.Loading = rows, err, false
	if m.selected >= len(m.Rows) {
		m.selected = max(len(m.Rows)-1, 0)
	}
}

// Prepend adds a new log at the top unless it is already listed or does
// not match the status filter.
func (m *Model) Prepend(log client.AttendanceLog) bool {
	if f := m.Filter(); f.Status != "" && log.Status != f.Status {
		return false
	}
	for _, r := range m.Rows {
		if r.ID == log.ID {
			return false
		}
	}
	m.Rows = append([]client.AttendanceLog{log}, m.Rows...)
	if len(m.Rows) > 1 {
		m.selected++
	}
	return true
}

// SetStatus updates a listed log after a review.
func (m *Model) SetStatus(id int64, status client.ScanStatus, reason string) {
	for i := range m.Rows {
		if m.Rows[i].ID != id {
			continue
		}
		m.Rows[i].Status = status
		m.Rows[i].RejectionReason = nil
		if reason != "" {
			m.Rows[i].RejectionReason = &reason
		}
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

// Selected returns the highlighted log.
func (m Model) Selected() (client.AttendanceLog, bool) {
	if m.selected < 0 || m.selected >= len(m.Rows) {
		return client.AttendanceLog{}, false
	}
	return m.Rows[m.selected], true
}

// Approve returns the command approving the selected log.
func (m Model) Approve() tea.Cmd {
	log, ok := m.Selected()
	if !ok {
		return nil
	}
	review := ReviewMsg{LogID: log.ID, Status: client.StatusApproved}
	return func() tea.Msg { return review }
}

// StartReject opens the reason prompt for the selected log.
func (m *Model) StartReject() tea.Cmd {
	if _, ok := m.Selected(); !ok {
		return nil
	}
	m.Rejecting = true
	m.reason.SetValue("")
	return m.reason.Focus()
}

// UpdateReject handles keys while the reason prompt is open.
func (m Model) UpdateReject(msg tea.Msg) (Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "esc":
			m.Rejecting = false
			m.reason.Blur()
			return m, nil
		case "enter":
			m.Rejecting = false
			m.reason.Blur()
			log, ok := m.Selected()
			if !ok {
				return m, nil
			}
			review := ReviewMsg{LogID: log.ID, Status: client.StatusRejected, Reason: strings.TrimSpace(m.reason.Value())}
			return m, func() tea.Msg { return review }
		}
	}
	var cmd tea.Cmd
	m.reason, cmd = m.reason.Update(msg)
	return m, cmd
}

// View renders the list.
func (m Model) View() string {
	filter := "all"
	if f := m.Filter(); f.Status != "" {
		filter = string(f.Status)
	}
	title := theme.StyleTitle.Render("Attendance") + theme.StyleDimmed.Render("  status: "+filter)

	var body string
	switch {
	case m.Err != nil:
		body = theme.StyleError.Render("Could not load attendance logs: " + m.Err.Error())
	case m.Loading:
		body = theme.StyleDimmed.Render("Loading...")
	case len(m.Rows) == 0:
		body = theme.StyleDimmed.Render("No scans yet.")
	default:
		visible := m.Rows
		if m.Height > 8 && len(visible) > m.Height-8 {
			visible = visible[:m.Height-8]
		}
		lines := make([]string, 0, len(visible))
		for i, r := range visible {
			prefix := "  "
			name := r.FullName
			if name == "" {
				name = r.TagUID
			}
			if i == m.selected {
				prefix = "> "
				name = theme.StyleSelected.Render(name)
			}
			line := fmt.Sprintf("%s%s  %-26s %-6s %-20s %s", prefix,
				r.ScannedAt.Local().Format("15:04:05"), name, r.ClassName, r.SessionName, theme.Status(string(r.Status)))
			if r.RejectionReason != nil && *r.RejectionReason != "" {
				line += theme.StyleDimmed.Render("  " + *r.RejectionReason)
			}
			lines = append(lines, line)
		}
		body = strings.Join(lines, "\n")
	}

	sections := []string{title, "", body}
	if m.Rejecting {
		sections = append(sections, "", theme.StyleBorder.Padding(0, 1).Render(
			lipgloss.JoinVertical(lipgloss.Left, m.reason.View(), theme.StyleDimmed.Render("enter:reject  esc:cancel"))))
	}
	if m.Notice != "" {
		sections = append(sections, "", theme.StyleError.Render(m.Notice))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}
