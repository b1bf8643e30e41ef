package attendance

import (
	"strings"
	"testing"

	"github.com/attendance-app/client/internal/client"
	tea "github.com/charmbracelet/bubbletea"
)

func logs(ids ...int64) []client.AttendanceLog {
	out := make([]client.AttendanceLog, len(ids))
	for i, id := range ids {
		out[i] = client.AttendanceLog{ID: id, TagUID: "AA", FullName: "Student", Status: client.StatusPending}
	}
	return out
}

func TestPrepend(t *testing.T) {
	m := New()
	m.SetRows(logs(2, 1), nil)
	m.Down() // select log 1

	if !m.Prepend(client.AttendanceLog{ID: 3, Status: client.StatusPending}) {
		t.Fatal("Prepend() = false for a new log")
	}
	if m.Rows[0].ID != 3 || len(m.Rows) != 3 {
		t.Errorf("rows = %+v", m.Rows)
	}
	if s, _ := m.Selected(); s.ID != 1 {
		t.Errorf("selection moved to %d, want it to stay on 1", s.ID)
	}
	if m.Prepend(client.AttendanceLog{ID: 3}) {
		t.Error("Prepend() accepted a duplicate")
	}
}

func TestPrependRespectsFilter(t *testing.T) {
	m := New()
	m.SetRows(nil, nil)
	m.NextStatus() // pending
	m.NextStatus() // approved
	if m.Prepend(client.AttendanceLog{ID: 1, Status: client.StatusPending}) {
		t.Error("pending log added under the approved filter")
	}
	if !m.Prepend(client.AttendanceLog{ID: 2, Status: client.StatusApproved}) {
		t.Error("approved log rejected under the approved filter")
	}
}

func TestApprove(t *testing.T) {
	m := New()
	if m.Approve() != nil {
		t.Error("Approve() with nothing selected returned a command")
	}
	m.SetRows(logs(5), nil)
	msg := m.Approve()().(ReviewMsg)
	if msg.LogID != 5 || msg.Status != client.StatusApproved || msg.Reason != "" {
		t.Errorf("ReviewMsg = %+v", msg)
	}
}

func TestReject(t *testing.T) {
	m := New()
	m.SetRows(logs(5), nil)
	m.StartReject()
	if !m.Rejecting {
		t.Fatal("StartReject did not open the prompt")
	}
	for _, r := range "late" {
		m, _ = m.UpdateReject(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	m, cmd := m.UpdateReject(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("enter did not submit")
	}
	msg := cmd().(ReviewMsg)
	if msg.LogID != 5 || msg.Status != client.StatusRejected || msg.Reason != "late" {
		t.Errorf("ReviewMsg = %+v", msg)
	}
	if m.Rejecting {
		t.Error("prompt still open")
	}

	m.SetStatus(5, client.StatusRejected, "late")
	if v := m.View(); !strings.Contains(v, "rejected") || !strings.Contains(v, "late") {
		t.Errorf("View() =\n%s", v)
	}
}
