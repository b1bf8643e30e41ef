package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type authServer struct {
	mu      sync.Mutex
	logouts []string
	grants  []string
}

func (a *authServer) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != "anon" {
			t.Errorf("%s %s: apikey = %q", r.Method, r.URL.Path, r.Header.Get("apikey"))
		}
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/token":
			grant := r.URL.Query().Get("grant_type")
			a.mu.Lock()
			a.grants = append(a.grants, grant)
			a.mu.Unlock()

			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			switch {
			case grant == "password" && body["password"] == "secret":
				json.NewEncoder(w).Encode(map[string]any{
					"access_token":  "a1",
					"refresh_token": "r1",
					"token_type":    "bearer",
					"expires_in":    3600,
					"user":          map[string]string{"id": "u1", "email": body["email"]},
				})
			case grant == "refresh_token" && body["refresh_token"] == "r1":
				json.NewEncoder(w).Encode(map[string]any{
					"access_token":  "a2",
					"refresh_token": "r2",
					"token_type":    "bearer",
					"expires_in":    3600,
				})
			default:
				w.WriteHeader(http.StatusBadRequest)
				io.WriteString(w, `{"error":"invalid_grant","error_description":"Invalid login credentials"}`)
			}

		case "/logout":
			a.mu.Lock()
			a.logouts = append(a.logouts, r.Header.Get("Authorization"))
			a.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)

		default:
			http.NotFound(w, r)
		}
	})
}

func (a *authServer) logoutCalls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.logouts...)
}

func (a *authServer) grantCalls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.grants...)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []ChangeEvent
}

func (e *eventRecorder) record(ev ChangeEvent, _ *Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *eventRecorder) list() []ChangeEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ChangeEvent(nil), e.events...)
}

var testNow = time.Unix(1_700_000_000, 0)

func newTestGoTrue(t *testing.T, store SessionStore) (*GoTrue, *authServer, *eventRecorder) {
	t.Helper()
	as := &authServer{}
	srv := httptest.NewServer(as.handler(t))
	t.Cleanup(srv.Close)

	g := NewGoTrue(srv.URL, "anon", GoTrueOptions{
		Store:  store,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    func() time.Time { return testNow },
	})
	rec := &eventRecorder{}
	g.OnAuthStateChange(rec.record)
	return g, as, rec
}

func TestGoTrueSignIn(t *testing.T) {
	store := &MemoryStore{}
	g, _, rec := newTestGoTrue(t, store)

	sess, err := g.SignIn(context.Background(), "a@example.com", "secret")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if sess.User.Email != "a@example.com" || sess.AccessToken != "a1" {
		t.Errorf("SignIn() = %+v", sess)
	}
	if want := testNow.Unix() + 3600; sess.ExpiresAt != want {
		t.Errorf("ExpiresAt = %d, want %d", sess.ExpiresAt, want)
	}
	if g.AccessToken() != "a1" {
		t.Errorf("AccessToken() = %q", g.AccessToken())
	}
	if stored, _ := store.Load(context.Background()); stored == nil || stored.AccessToken != "a1" {
		t.Errorf("stored session = %+v", stored)
	}
	if ev := rec.list(); len(ev) != 1 || ev[0] != EventSignedIn {
		t.Errorf("events = %v, want [SIGNED_IN]", ev)
	}
}

func TestGoTrueSignInRejected(t *testing.T) {
	g, _, rec := newTestGoTrue(t, nil)

	_, err := g.SignIn(context.Background(), "a@example.com", "wrong")
	var authErr *Error
	if !errors.As(err, &authErr) {
		t.Fatalf("SignIn() error = %v, want *Error", err)
	}
	if authErr.Status != http.StatusBadRequest || authErr.Code != "invalid_grant" || authErr.Message != "Invalid login credentials" {
		t.Errorf("error = %+v", authErr)
	}
	if g.AccessToken() != "" {
		t.Error("AccessToken() set after failed sign in")
	}
	if len(rec.list()) != 0 {
		t.Errorf("events = %v, want none", rec.list())
	}
}

func TestGoTrueSessionRestoresFromStore(t *testing.T) {
	store := &MemoryStore{}
	store.Save(context.Background(), &Session{
		AccessToken:  "stored",
		RefreshToken: "r1",
		ExpiresAt:    testNow.Unix() + 600,
		User:         &User{ID: "u1"},
	})
	g, as, rec := newTestGoTrue(t, store)

	for i := 0; i < 2; i++ {
		sess, err := g.Session(context.Background())
		if err != nil || sess == nil || sess.AccessToken != "stored" {
			t.Fatalf("Session() = %+v, %v", sess, err)
		}
	}
	if ev := rec.list(); len(ev) != 1 || ev[0] != EventInitialSession {
		t.Errorf("events = %v, want [INITIAL_SESSION]", ev)
	}
	if grants := as.grantCalls(); len(grants) != 0 {
		t.Errorf("grants = %v, want none", grants)
	}
}

func TestGoTrueSessionEmptyStore(t *testing.T) {
	g, _, rec := newTestGoTrue(t, nil)
	sess, err := g.Session(context.Background())
	if err != nil || sess != nil {
		t.Errorf("Session() = %+v, %v, want nil, nil", sess, err)
	}
	if ev := rec.list(); len(ev) != 1 || ev[0] != EventInitialSession {
		t.Errorf("events = %v, want [INITIAL_SESSION]", ev)
	}
}

func TestGoTrueSessionRefreshesExpired(t *testing.T) {
	store := &MemoryStore{}
	store.Save(context.Background(), &Session{
		AccessToken:  "old",
		RefreshToken: "r1",
		ExpiresAt:    testNow.Unix() - 10,
		User:         &User{ID: "u1", Email: "a@example.com"},
	})
	g, _, rec := newTestGoTrue(t, store)

	sess, err := g.Session(context.Background())
	if err != nil {
		t.Fatalf("Session() error = %v", err)
	}
	if sess.AccessToken != "a2" || sess.RefreshToken != "r2" {
		t.Errorf("Session() = %+v, want refreshed tokens", sess)
	}
	if sess.User == nil || sess.User.Email != "a@example.com" {
		t.Errorf("refreshed session lost its user: %+v", sess.User)
	}
	if stored, _ := store.Load(context.Background()); stored.AccessToken != "a2" {
		t.Errorf("stored access token = %q, want a2", stored.AccessToken)
	}
	ev := rec.list()
	if len(ev) != 2 || ev[0] != EventTokenRefreshed || ev[1] != EventInitialSession {
		t.Errorf("events = %v, want [TOKEN_REFRESHED INITIAL_SESSION]", ev)
	}
}

func TestGoTrueRefreshRejectedSignsOut(t *testing.T) {
	store := &MemoryStore{}
	store.Save(context.Background(), &Session{
		AccessToken:  "old",
		RefreshToken: "revoked",
		ExpiresAt:    testNow.Unix() - 10,
		User:         &User{ID: "u1"},
	})
	g, _, rec := newTestGoTrue(t, store)

	if _, err := g.Session(context.Background()); err == nil {
		t.Fatal("Session() error = nil, want refresh error")
	}
	if g.AccessToken() != "" {
		t.Error("session kept after rejected refresh")
	}
	if stored, _ := store.Load(context.Background()); stored != nil {
		t.Errorf("stored session = %+v, want none", stored)
	}
	ev := rec.list()
	if len(ev) == 0 || ev[0] != EventSignedOut {
		t.Errorf("events = %v, want SIGNED_OUT first", ev)
	}
}

func TestGoTrueSignOut(t *testing.T) {
	store := &MemoryStore{}
	g, as, rec := newTestGoTrue(t, store)
	if _, err := g.SignIn(context.Background(), "a@example.com", "secret"); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}

	if err := g.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	if logouts := as.logoutCalls(); len(logouts) != 1 || logouts[0] != "Bearer a1" {
		t.Errorf("logout calls = %v", logouts)
	}
	if stored, _ := store.Load(context.Background()); stored != nil {
		t.Errorf("stored session = %+v after sign out", stored)
	}
	if sess, err := g.Session(context.Background()); sess != nil || err != nil {
		t.Errorf("Session() after sign out = %+v, %v", sess, err)
	}
	ev := rec.list()
	if len(ev) != 2 || ev[1] != EventSignedOut {
		t.Errorf("events = %v, want [SIGNED_IN SIGNED_OUT]", ev)
	}
}

func TestGoTrueAutoRefreshRejectsNonPositiveInterval(t *testing.T) {
	g, as, _ := newTestGoTrue(t, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		g.AutoRefresh(context.Background(), 0)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("AutoRefresh(0) did not return")
	}
	if calls := as.grantCalls(); len(calls) != 0 {
		t.Errorf("grant calls = %v, want none", calls)
	}
}
