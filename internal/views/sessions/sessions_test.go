package sessions

import (
	"strings"
	"testing"
	"time"

	"github.com/attendance-app/client/internal/client"
	tea "github.com/charmbracelet/bubbletea"
)

func TestSelectionAndOpen(t *testing.T) {
	ended := client.Timestamp{Time: time.Now()}
	m := New()
	m.SetRows([]client.Session{
		{ID: 2, Name: "B", ClassName: "SE"},
		{ID: 1, Name: "A", ClassName: "SE", EndedAt: &ended},
	}, nil)

	if !m.HasOpen() {
		t.Error("HasOpen() = false with an open session")
	}
	m.Down()
	if s, _ := m.Selected(); s.ID != 1 {
		t.Errorf("Selected().ID = %d, want 1", s.ID)
	}
	v := m.View()
	if !strings.Contains(v, "open") || !strings.Contains(v, "ended") {
		t.Errorf("View() =\n%s", v)
	}
}

func TestForm(t *testing.T) {
	m := New()
	m.SetRows(nil, nil)
	m.OpenForm()
	if !m.Creating {
		t.Fatal("OpenForm did not open the form")
	}

	m, cmd := m.UpdateForm(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil || m.Notice == "" {
		t.Fatal("empty name should not submit")
	}

	for _, r := range "Lab 1" {
		m, _ = m.UpdateForm(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	m, _ = m.UpdateForm(tea.KeyMsg{Type: tea.KeyTab})
	m, cmd = m.UpdateForm(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("form did not submit")
	}
	start, ok := cmd().(StartMsg)
	if !ok {
		t.Fatalf("cmd() = %T, want StartMsg", cmd())
	}
	if start.Name != "Lab 1" || start.ClassName != client.PredefinedClasses[1] {
		t.Errorf("StartMsg = %+v", start)
	}
	if m.Creating {
		t.Error("form still open after submit")
	}
}

func TestFormCancel(t *testing.T) {
	m := New()
	m.OpenForm()
	m, cmd := m.UpdateForm(tea.KeyMsg{Type: tea.KeyEsc})
	if cmd != nil || m.Creating {
		t.Error("esc should close the form without submitting")
	}
}
