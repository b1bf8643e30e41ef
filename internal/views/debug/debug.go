// Package debug provides a scrollable event log overlay. The log also
// captures the program's slog records.
package debug

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/attendance-app/client/internal/theme"
	"github.com/charmbracelet/lipgloss"
)

const maxEntries = 200

// Entry is a single event log line.
type Entry struct {
	Time    time.Time
	Kind    string // "rt", "nav", "auth", "api", "err"
	Message string
}

// Log is a bounded event log safe for use from any goroutine.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	now     func() time.Time
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{now: time.Now}
}

// Add appends an entry and caps the buffer.
func (l *Log) Add(kind, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{Time: l.now(), Kind: kind, Message: message})
	if len(l.entries) > maxEntries {
		l.entries = l.entries[len(l.entries)-maxEntries:]
	}
}

// Entries returns a copy of the entries, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Handler returns a slog.Handler that records into the log and passes
// every record on to next.
func (l *Log) Handler(next slog.Handler) slog.Handler {
	return &handler{log: l, next: next}
}

type handler struct {
	log   *Log
	next  slog.Handler
	attrs string
}

func (h *handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Message)
	b.WriteString(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
		return true
	})
	h.log.Add(kindOf(r), b.String())
	return h.next.Handle(ctx, r)
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var b strings.Builder
	b.WriteString(h.attrs)
	for _, a := range attrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
	}
	return &handler{log: h.log, next: h.next.WithAttrs(attrs), attrs: b.String()}
}

func (h *handler) WithGroup(name string) slog.Handler {
	return &handler{log: h.log, next: h.next.WithGroup(name), attrs: h.attrs}
}

// kindOf maps a record to an entry kind by level and message prefix.
func kindOf(r slog.Record) string {
	if r.Level >= slog.LevelError {
		return "err"
	}
	prefix, _, ok := strings.Cut(r.Message, ":")
	if !ok {
		return "log"
	}
	switch prefix {
	case "realtime":
		return "rt"
	case "router":
		return "nav"
	case "auth":
		return "auth"
	case "client":
		return "api"
	}
	return "log"
}

// Model holds the overlay's scroll state over a Log.
type Model struct {
	Log    *Log
	Offset int // scroll offset (from bottom)
}

// New creates an overlay over log.
func New(log *Log) Model {
	return Model{Log: log}
}

// Add appends a log entry and scrolls back to the bottom.
func (m *Model) Add(kind, message string) {
	m.Log.Add(kind, message)
	m.Offset = 0
}

// ScrollUp moves the viewport up.
func (m *Model) ScrollUp(n int) {
	m.Offset += n
	max := m.Log.Len() - 1
	if max < 0 {
		max = 0
	}
	if m.Offset > max {
		m.Offset = max
	}
}

// ScrollDown moves the viewport down.
func (m *Model) ScrollDown(n int) {
	m.Offset -= n
	if m.Offset < 0 {
		m.Offset = 0
	}
}

func panelStyle(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Width(width).
		Padding(1, 2).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder)
}

// View renders the log as an overlay panel.
func (m Model) View(width, height int) string {
	innerW := width - 4
	if innerW < 20 {
		innerW = 20
	}
	visibleLines := height - 6
	if visibleLines < 3 {
		visibleLines = 3
	}

	entries := m.Log.Entries()
	title := theme.StyleHeader.Render(" DEBUG LOG ")
	help := theme.StyleDimmed.Render(fmt.Sprintf("j/k:scroll  esc:close  %d entries", len(entries)))

	if len(entries) == 0 {
		body := theme.StyleDimmed.Render("  No events recorded yet.")
		content := lipgloss.JoinVertical(lipgloss.Left, title, "", body, "", help)
		return panelStyle(innerW).Render(content)
	}

	end := len(entries) - m.Offset
	if end < 0 {
		end = 0
	}
	start := max(end-visibleLines, 0)

	var lines []string
	for _, e := range entries[start:end] {
		tsStr := theme.StyleDimmed.Render(e.Time.Format("15:04:05.000"))
		kindStr := lipgloss.NewStyle().Foreground(kindToColor(e.Kind)).Width(4).Render(e.Kind)
		msgStr := e.Message
		if len(msgStr) > innerW-20 && innerW > 20 {
			msgStr = msgStr[:innerW-23] + "..."
		}
		lines = append(lines, fmt.Sprintf("%s %s %s", tsStr, kindStr, msgStr))
	}

	scrollIndicator := ""
	if m.Offset > 0 {
		scrollIndicator = theme.StyleDimmed.Render(fmt.Sprintf(" ↓ %d more", m.Offset))
	}

	content := lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(lines, "\n"), scrollIndicator, help)
	return panelStyle(innerW).Render(content)
}

func kindToColor(kind string) lipgloss.Color {
	switch kind {
	case "rt":
		return theme.ColorAccent
	case "err":
		return theme.ColorDanger
	case "nav":
		return theme.ColorApproved
	case "auth":
		return theme.ColorWarning
	default:
		return theme.ColorDimmed
	}
}
