package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"testing"

	"github.com/attendance-app/client/internal/auth"
)

type fakeSession struct {
	user     *auth.User
	loading  bool
	resolved *auth.User
	err      error
	calls    int
}

func (f *fakeSession) Snapshot() auth.Snapshot {
	return auth.Snapshot{User: f.user, Loading: f.loading}
}

func (f *fakeSession) Resolve(context.Context) error {
	f.calls++
	f.loading = false
	if f.err == nil {
		f.user = f.resolved
	}
	return f.err
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func check(t *testing.T, s SessionSource, path string) Decision {
	t.Helper()
	table := DefaultTable()
	loc, ok := table.Match(path)
	if !ok {
		t.Fatalf("Match(%q) found nothing", path)
	}
	return NewGuard(table, s, quiet()).Check(context.Background(), loc)
}

func TestGuardRedirectsAnonymousToLogin(t *testing.T) {
	for _, path := range []string{"/", "/students", "/students/3/report", "/sessions", "/sessions/9/report", "/attendance", "/attendance?status=pending", "/attendance?status=pending&class=SE"} {
		d := check(t, &fakeSession{}, path)
		want := "/login?" + url.Values{RedirectParam: {path}}.Encode()
		if d.Redirect != want {
			t.Errorf("Check(%q) redirect = %q, want %q", path, d.Redirect, want)
		}
	}
}

func TestGuardPassesPublicRoutes(t *testing.T) {
	table, err := NewTable(
		Route{Name: Login, Path: "/login"},
		Route{Name: Home, Path: "/", RequiresAuth: true},
		Route{Name: "about", Path: "/about"},
		Route{Name: "help", Path: "/help/:topic"},
	)
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}
	for _, user := range []*auth.User{nil, {ID: "u1"}} {
		g := NewGuard(table, &fakeSession{user: user}, quiet())
		for _, path := range []string{"/about", "/help/scanning"} {
			loc, _ := table.Match(path)
			if d := g.Check(context.Background(), loc); !d.Proceed() {
				t.Errorf("Check(%q) with user %v = %+v, want proceed", path, user, d)
			}
		}
	}
}

func TestGuardLoginBounce(t *testing.T) {
	d := check(t, &fakeSession{user: &auth.User{ID: "u1"}}, "/login?redirect=%2Fstudents")
	if d.Redirect != "/" {
		t.Errorf("Check(/login) redirect = %q, want /", d.Redirect)
	}
	if d := check(t, &fakeSession{}, "/login"); !d.Proceed() {
		t.Errorf("Check(/login) anonymous = %+v, want proceed", d)
	}
}

func TestGuardAuthenticatedProceeds(t *testing.T) {
	s := &fakeSession{user: &auth.User{ID: "u1"}}
	for _, path := range []string{"/", "/students/3/report", "/sessions/9/report"} {
		if d := check(t, s, path); !d.Proceed() {
			t.Errorf("Check(%q) = %+v, want proceed", path, d)
		}
	}
}

func TestGuardResolvesOnce(t *testing.T) {
	s := &fakeSession{loading: true, resolved: &auth.User{ID: "u1"}}
	table := DefaultTable()
	g := NewGuard(table, s, quiet())

	for _, path := range []string{"/", "/students", "/login", "/attendance"} {
		loc, _ := table.Match(path)
		g.Check(context.Background(), loc)
	}
	if s.calls != 1 {
		t.Errorf("Resolve() calls = %d, want 1", s.calls)
	}
}

func TestGuardResolutionFailureIsSignedOut(t *testing.T) {
	s := &fakeSession{loading: true, resolved: &auth.User{ID: "u1"}, err: errors.New("offline")}
	d := check(t, s, "/students")
	if d.Redirect != "/login?redirect=%2Fstudents" {
		t.Errorf("Check() redirect = %q", d.Redirect)
	}
}
