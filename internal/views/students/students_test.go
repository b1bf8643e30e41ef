package students

import (
	"errors"
	"strings"
	"testing"

	"github.com/attendance-app/client/internal/client"
)

func rows(names ...string) []client.StudentSummary {
	out := make([]client.StudentSummary, len(names))
	for i, n := range names {
		out[i] = client.StudentSummary{Student: client.Student{ID: int64(i + 1), FullName: n, ClassName: "SE"}}
	}
	return out
}

func TestSelection(t *testing.T) {
	m := New()
	if _, ok := m.Selected(); ok {
		t.Error("empty list has a selection")
	}
	m.SetRows(rows("Ana", "Bo", "Cy"), nil)
	m.Down()
	m.Down()
	m.Down()
	if s, _ := m.Selected(); s.FullName != "Cy" {
		t.Errorf("Selected() = %q, want Cy", s.FullName)
	}
	m.Up()
	if s, _ := m.Selected(); s.FullName != "Bo" {
		t.Errorf("Selected() = %q, want Bo", s.FullName)
	}

	m.Down()
	m.SetRows(rows("Ana"), nil)
	if s, ok := m.Selected(); !ok || s.FullName != "Ana" {
		t.Errorf("Selected() after shrink = %q, %v", s.FullName, ok)
	}
}

func TestNextClass(t *testing.T) {
	m := New()
	if f := m.Filter(); f.ClassName != "" {
		t.Errorf("initial filter = %+v", f)
	}
	if f := m.NextClass(); f.ClassName != client.PredefinedClasses[0] {
		t.Errorf("NextClass() = %+v", f)
	}
	for range client.PredefinedClasses {
		m.NextClass()
	}
	if f := m.Filter(); f.ClassName != "" {
		t.Errorf("filter after a full cycle = %+v", f)
	}
}

func TestView(t *testing.T) {
	m := New()
	if !strings.Contains(m.View(), "Loading") {
		t.Error("new list should show loading")
	}
	m.SetRows(rows("Ana", "Bo"), nil)
	v := m.View()
	if !strings.Contains(v, "> Ana") || !strings.Contains(v, "Bo") {
		t.Errorf("View() =\n%s", v)
	}
	if strings.Contains(v, "Face:") {
		t.Errorf("View() shows a face line without an image:\n%s", v)
	}

	withFace := rows("Ana")
	withFace[0].FaceImageURL = "https://project.example.co/storage/v1/object/public/student-faces/ana.png"
	m.SetRows(withFace, nil)
	if v := m.View(); !strings.Contains(v, "Face: "+withFace[0].FaceImageURL) {
		t.Errorf("View() missing face URL:\n%s", v)
	}

	m.SetRows(nil, errors.New("boom"))
	if !strings.Contains(m.View(), "boom") {
		t.Error("view should show the error")
	}
}
