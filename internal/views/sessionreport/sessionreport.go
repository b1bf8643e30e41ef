// Package sessionreport shows who attended a session, updated live as
// scans arrive.
package sessionreport

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/attendance-app/client/internal/client"
	"github.com/attendance-app/client/internal/theme"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"
)

const fps = 60

// FrameMsg advances the attendance bar animation of a session.
type FrameMsg struct{ SessionID int64 }

// Model holds one session's report.
type Model struct {
	SessionID int64
	ClassName string
	Rows      []client.SessionReportRow
	Err       error
	Loading   bool
	Width     int

	bar       progress.Model
	spring    harmonica.Spring
	pos, vel  float64
	animating bool
}

// New creates a report for a session.
func New(sessionID int64) Model {
	return Model{
		SessionID: sessionID,
		Loading:   true,
		bar:       progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		spring:    harmonica.NewSpring(harmonica.FPS(fps), 6.0, 0.8),
	}
}

func present(r client.SessionReportRow) bool {
	return r.ScannedAt != nil && !r.ScannedAt.IsZero()
}

// Counts returns attended and total students.
func (m Model) Counts() (attended, total int) {
	for _, r := range m.Rows {
		if present(r) {
			attended++
		}
	}
	return attended, len(m.Rows)
}

// Rate is the attended fraction, 0 with no students.
func (m Model) Rate() float64 {
	attended, total := m.Counts()
	if total == 0 {
		return 0
	}
	return float64(attended) / float64(total)
}

// SetRows replaces the report and starts animating the bar toward the new
// rate.
func (m *Model) SetRows(rows []client.SessionReportRow, err error) tea.Cmd {
	m.Loading = false
	m.Err = err
	if err != nil {
		return nil
	}
	m.Rows = rows
	return m.animate()
}

// ApplyLog marks the student of a new attendance log as scanned. It
// reports false when the student is not part of the report, in which case
// the report should be reloaded.
func (m *Model) ApplyLog(log client.AttendanceLog) (bool, tea.Cmd) {
	if log.SessionID == nil || *log.SessionID != m.SessionID || log.StudentID == nil {
		return true, nil
	}
	for i := range m.Rows {
		r := &m.Rows[i]
		if r.StudentID != *log.StudentID {
			continue
		}
		if !present(*r) {
			ts := log.ScannedAt
			r.ScannedAt = &ts
		}
		r.Status = string(log.Status)
		return true, m.animate()
	}
	return false, nil
}

func (m *Model) animate() tea.Cmd {
	if m.animating {
		return nil
	}
	m.animating = true
	return m.frame()
}

func (m Model) frame() tea.Cmd {
	id := m.SessionID
	return tea.Tick(time.Second/fps, func(time.Time) tea.Msg { return FrameMsg{SessionID: id} })
}

// Update advances the animation.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	frame, ok := msg.(FrameMsg)
	if !ok || frame.SessionID != m.SessionID {
		return m, nil
	}
	target := m.Rate()
	m.pos, m.vel = m.spring.Update(m.pos, m.vel, target)
	if math.Abs(m.pos-target) < 0.001 && math.Abs(m.vel) < 0.001 {
		m.pos, m.vel = target, 0
		m.animating = false
		return m, nil
	}
	return m, m.frame()
}

// Animating reports whether the bar is still moving.
func (m Model) Animating() bool { return m.animating }

// View renders the report.
func (m Model) View() string {
	title := theme.StyleTitle.Render(fmt.Sprintf("Session %d", m.SessionID))
	if m.ClassName != "" {
		title += theme.StyleDimmed.Render("  " + m.ClassName)
	}
	switch {
	case m.Err != nil:
		return title + "\n\n" + theme.StyleError.Render("Could not load report: "+m.Err.Error())
	case m.Loading:
		return title + "\n\n" + theme.StyleDimmed.Render("Loading...")
	}

	attended, total := m.Counts()
	bar := m.bar
	bar.Width = max(min(m.Width-24, 60), 10)
	pct := math.Max(0, math.Min(1, m.pos))
	summary := fmt.Sprintf("%s %d/%d present", bar.ViewAs(pct), attended, total)

	if total == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, title, "", theme.StyleDimmed.Render("No students in this session's class."))
	}
	lines := make([]string, 0, len(m.Rows))
	for _, r := range m.Rows {
		scanned := "-"
		if present(r) {
			scanned = r.ScannedAt.Local().Format("15:04:05")
		}
		status := r.Status
		if status == "" {
			status = "absent"
			if present(r) {
				status = "present"
			}
		}
		lines = append(lines, fmt.Sprintf("  %-28s %-12s %-8s %s", r.FullName, r.TagUID, scanned, theme.Status(status)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, title, "", summary, "", strings.Join(lines, "\n"))
}
