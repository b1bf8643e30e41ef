package router

import (
	"net/url"
	"testing"
)

func TestMatch(t *testing.T) {
	table := DefaultTable()
	tests := []struct {
		path   string
		name   string
		params Params
	}{
		{"/", Home, Params{}},
		{"", Home, Params{}},
		{"/login", Login, Params{}},
		{"/login?redirect=%2Fstudents", Login, Params{}},
		{"/students", Students, Params{}},
		{"/students/", Students, Params{}},
		{"/students/17/report", StudentReport, Params{"studentId": "17"}},
		{"/sessions/5/report", SessionReport, Params{"sessionId": "5"}},
		{"/sessions/a%20b/report", SessionReport, Params{"sessionId": "a b"}},
		{"/attendance", Attendance, Params{}},
		{"/nope", "", Params{}},
		{"/students/17", "", Params{}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			loc, ok := table.Match(tt.path)
			if !ok {
				t.Fatalf("Match(%q) found nothing", tt.path)
			}
			if loc.Name() != tt.name {
				t.Errorf("Match(%q) route = %q, want %q", tt.path, loc.Name(), tt.name)
			}
			if len(loc.Params) != len(tt.params) {
				t.Errorf("Match(%q) params = %v, want %v", tt.path, loc.Params, tt.params)
			}
			for k, v := range tt.params {
				if loc.Params[k] != v {
					t.Errorf("Match(%q) param %s = %q, want %q", tt.path, k, loc.Params[k], v)
				}
			}
		})
	}
}

func TestMatchCatchAllRedirects(t *testing.T) {
	loc, ok := DefaultTable().Match("/does/not/exist")
	if !ok || loc.Route.Path != CatchAll || loc.Route.Redirect != "/" {
		t.Errorf("Match() = %+v, want the catch-all route", loc.Route)
	}
}

func TestFullPath(t *testing.T) {
	loc, _ := DefaultTable().Match("/sessions/5/report?tab=live")
	if got := loc.FullPath(); got != "/sessions/5/report?tab=live" {
		t.Errorf("FullPath() = %q", got)
	}
	loc, _ = DefaultTable().Match("/students")
	if got := loc.FullPath(); got != "/students" {
		t.Errorf("FullPath() = %q", got)
	}
	loc, _ = DefaultTable().Match("/attendance?status=pending&class=SE")
	if got := loc.FullPath(); got != "/attendance?status=pending&class=SE" {
		t.Errorf("FullPath() = %q, want the query as written", got)
	}
}

func TestHref(t *testing.T) {
	table := DefaultTable()
	got, err := table.Href(StudentReport, Params{"studentId": "42"}, nil)
	if err != nil || got != "/students/42/report" {
		t.Errorf("Href(student-report) = %q, %v", got, err)
	}
	got, err = table.Href(Login, nil, url.Values{RedirectParam: {"/sessions/5/report"}})
	if err != nil || got != "/login?redirect=%2Fsessions%2F5%2Freport" {
		t.Errorf("Href(login) = %q, %v", got, err)
	}
	if _, err := table.Href(SessionReport, nil, nil); err == nil {
		t.Error("Href without params error = nil")
	}
	if _, err := table.Href("missing", nil, nil); err == nil {
		t.Error("Href(missing) error = nil")
	}
}

func TestRequiresAuthFollowsParents(t *testing.T) {
	table, err := NewTable(
		Route{Name: "admin", Path: "/admin", RequiresAuth: true},
		Route{Name: "admin-users", Path: "/admin/users", Parent: "admin"},
		Route{Name: "about", Path: "/about"},
	)
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}
	child, _ := table.Lookup("admin-users")
	if !table.RequiresAuth(child) {
		t.Error("RequiresAuth(admin-users) = false, want inherited true")
	}
	about, _ := table.Lookup("about")
	if table.RequiresAuth(about) {
		t.Error("RequiresAuth(about) = true")
	}
	if chain := table.Chain(child); len(chain) != 2 || chain[1].Name != "admin" {
		t.Errorf("Chain(admin-users) = %v", chain)
	}
}

func TestNewTableValidation(t *testing.T) {
	tests := []struct {
		name   string
		routes []Route
	}{
		{"empty path", []Route{{Name: "a"}}},
		{"relative path", []Route{{Name: "a", Path: "a"}}},
		{"duplicate name", []Route{{Name: "a", Path: "/a"}, {Name: "a", Path: "/b"}}},
		{"unknown parent", []Route{{Name: "a", Path: "/a", Parent: "b"}}},
		{"unnamed without redirect", []Route{{Path: "/a"}}},
		{"parent cycle", []Route{{Name: "a", Path: "/a", Parent: "b"}, {Name: "b", Path: "/b", Parent: "a"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTable(tt.routes...); err == nil {
				t.Errorf("NewTable() error = nil")
			}
		})
	}
}
