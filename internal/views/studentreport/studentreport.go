// Package studentreport shows one student's attendance per session,
// rendered as markdown.
package studentreport

import (
	"fmt"
	"strings"

	"github.com/attendance-app/client/internal/client"
	"github.com/attendance-app/client/internal/theme"
	"github.com/charmbracelet/glamour"
)

// Model holds the report of one student.
type Model struct {
	StudentID int64
	Name      string
	Rows      []client.StudentAttendanceRow
	Err       error
	Loading   bool
	Width     int
	// Style is the glamour style name; empty means "dark".
	Style string
}

// New creates a report for a student.
func New(id int64, name string) Model {
	if name == "" {
		name = fmt.Sprintf("Student %d", id)
	}
	return Model{StudentID: id, Name: name, Loading: true}
}

// Attended counts the sessions the student was scanned in.
func (m Model) Attended() int {
	n := 0
	for _, r := range m.Rows {
		if r.ScannedAt != nil && !r.ScannedAt.IsZero() {
			n++
		}
	}
	return n
}

// Markdown returns the report as a markdown document.
func (m Model) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", m.Name)
	if len(m.Rows) == 0 {
		b.WriteString("No sessions recorded for this student.\n")
		return b.String()
	}
	fmt.Fprintf(&b, "Attended **%d** of **%d** sessions.\n\n", m.Attended(), len(m.Rows))
	b.WriteString("| Session | Started | Status | Scanned |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, r := range m.Rows {
		scanned := "-"
		if r.ScannedAt != nil && !r.ScannedAt.IsZero() {
			scanned = r.ScannedAt.Local().Format("15:04")
		}
		status := r.Status
		if status == "" {
			status = "-"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
			escapeCell(r.SessionName), r.StartedAt.Local().Format("2006-01-02 15:04"), status, scanned)
	}
	return b.String()
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// View renders the report.
func (m Model) View() string {
	switch {
	case m.Err != nil:
		return theme.StyleTitle.Render(m.Name) + "\n\n" + theme.StyleError.Render("Could not load report: "+m.Err.Error())
	case m.Loading:
		return theme.StyleTitle.Render(m.Name) + "\n\n" + theme.StyleDimmed.Render("Loading...")
	}

	style := m.Style
	if style == "" {
		style = "dark"
	}
	width := m.Width
	if width <= 0 {
		width = 80
	}
	r, err := glamour.NewTermRenderer(glamour.WithStandardStyle(style), glamour.WithWordWrap(width))
	if err != nil {
		return m.Markdown()
	}
	out, err := r.Render(m.Markdown())
	if err != nil {
		return m.Markdown()
	}
	return out
}
