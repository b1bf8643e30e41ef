package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Error is a failure reported by the identity provider.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("auth: %s (%d %s)", e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("auth: %s (%d)", e.Message, e.Status)
}

// GoTrueOptions configures a GoTrue provider. Zero values use defaults.
type GoTrueOptions struct {
	HTTPClient *http.Client
	// Store persists the session across restarts. Defaults to a MemoryStore.
	Store  SessionStore
	Logger *slog.Logger
	Now    func() time.Time
}

// GoTrue is a Provider backed by a GoTrue compatible auth server, e.g.
// "https://project.example.co/auth/v1".
type GoTrue struct {
	baseURL string
	apiKey  string
	http    *http.Client
	store   SessionStore
	log     *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	session   *Session
	loaded    bool
	listeners map[int]ChangeFunc
	nextID    int

	refreshMu sync.Mutex
}

// NewGoTrue creates a provider for the auth server at baseURL.
func NewGoTrue(baseURL, apiKey string, opts GoTrueOptions) *GoTrue {
	g := &GoTrue{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		http:      opts.HTTPClient,
		store:     opts.Store,
		log:       opts.Logger,
		now:       opts.Now,
		listeners: make(map[int]ChangeFunc),
	}
	if g.http == nil {
		g.http = &http.Client{Timeout: 10 * time.Second}
	}
	if g.store == nil {
		g.store = &MemoryStore{}
	}
	if g.log == nil {
		g.log = slog.Default()
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

// SignIn exchanges email and password for a session.
func (g *GoTrue) SignIn(ctx context.Context, email, password string) (*Session, error) {
	sess, err := g.token(ctx, "password", map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}
	if sess.User == nil {
		return nil, errors.New("auth: sign in returned no user")
	}
	g.setSession(ctx, sess)
	g.log.Info("auth: signed in", "user", sess.User.ID)
	g.emit(EventSignedIn, sess)
	return sess, nil
}

// SignOut revokes the session on the server and forgets it locally. The
// local session is dropped even when the server call fails.
func (g *GoTrue) SignOut(ctx context.Context) error {
	g.mu.Lock()
	sess := g.session
	g.session = nil
	g.loaded = true
	g.mu.Unlock()

	var err error
	if sess != nil {
		err = g.do(ctx, http.MethodPost, "/logout", sess.AccessToken, nil, nil)
		if err != nil {
			err = fmt.Errorf("sign out: %w", err)
		}
	}
	if derr := g.store.Delete(ctx); derr != nil {
		g.log.Warn("auth: failed to delete stored session", "err", derr)
	}
	g.emit(EventSignedOut, nil)
	return err
}

// Session returns the current session. The first call loads it from the
// store; an expired session is refreshed before it is returned.
func (g *GoTrue) Session(ctx context.Context) (*Session, error) {
	g.mu.Lock()
	loaded, sess := g.loaded, g.session
	g.mu.Unlock()

	if !loaded {
		stored, err := g.store.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load session: %w", err)
		}
		fillFromToken(stored)

		g.mu.Lock()
		first := !g.loaded
		if first {
			g.session = stored
			g.loaded = true
		}
		sess = g.session
		g.mu.Unlock()
		if first {
			defer func() { g.emit(EventInitialSession, g.current()) }()
		}
	}

	if sess == nil || !sess.Expired(g.now()) {
		return sess, nil
	}
	return g.Refresh(ctx)
}

// Refresh trades the refresh token for a new session. A refresh token the
// server rejects signs the user out.
func (g *GoTrue) Refresh(ctx context.Context) (*Session, error) {
	before := g.current()
	g.refreshMu.Lock()
	defer g.refreshMu.Unlock()

	sess := g.current()
	if sess == nil {
		return nil, ErrNoSession
	}
	if before != nil && sess != before {
		// Refreshed by a concurrent caller.
		return sess, nil
	}
	if sess.RefreshToken == "" {
		g.drop(ctx)
		return nil, ErrNoSession
	}

	next, err := g.token(ctx, "refresh_token", map[string]string{"refresh_token": sess.RefreshToken})
	if err != nil {
		var authErr *Error
		if errors.As(err, &authErr) && authErr.Status >= 400 && authErr.Status < 500 {
			g.log.Warn("auth: refresh token rejected, signing out", "err", err)
			g.drop(ctx)
		}
		return nil, err
	}
	if next.User == nil {
		next.User = sess.User
	}
	g.setSession(ctx, next)
	g.log.Debug("auth: token refreshed", "expires_at", time.Unix(next.ExpiresAt, 0))
	g.emit(EventTokenRefreshed, next)
	return next, nil
}

// AutoRefresh refreshes the session shortly before it expires until ctx is
// done. It returns at once when every is not positive.
func (g *GoTrue) AutoRefresh(ctx context.Context, every time.Duration) {
	if every <= 0 {
		g.log.Warn("auth: auto refresh disabled", "interval", every)
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sess := g.current()
			if sess == nil || !sess.Expired(g.now().Add(every)) {
				continue
			}
			if _, err := g.Refresh(ctx); err != nil && ctx.Err() == nil {
				g.log.Warn("auth: background refresh failed", "err", err)
			}
		}
	}
}

// AccessToken returns the current access token, or "" when signed out.
func (g *GoTrue) AccessToken() string {
	if sess := g.current(); sess != nil {
		return sess.AccessToken
	}
	return ""
}

// OnAuthStateChange registers fn for every auth transition. fn runs on the
// goroutine causing the transition.
func (g *GoTrue) OnAuthStateChange(fn ChangeFunc) (unsubscribe func()) {
	g.mu.Lock()
	id := g.nextID
	g.nextID++
	g.listeners[id] = fn
	g.mu.Unlock()
	return func() {
		g.mu.Lock()
		delete(g.listeners, id)
		g.mu.Unlock()
	}
}

func (g *GoTrue) current() *Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session
}

func (g *GoTrue) setSession(ctx context.Context, sess *Session) {
	g.mu.Lock()
	g.session = sess
	g.loaded = true
	g.mu.Unlock()
	if err := g.store.Save(ctx, sess); err != nil {
		g.log.Warn("auth: failed to persist session", "err", err)
	}
}

func (g *GoTrue) drop(ctx context.Context) {
	g.mu.Lock()
	g.session = nil
	g.mu.Unlock()
	if err := g.store.Delete(ctx); err != nil {
		g.log.Warn("auth: failed to delete stored session", "err", err)
	}
	g.emit(EventSignedOut, nil)
}

func (g *GoTrue) emit(event ChangeEvent, sess *Session) {
	g.mu.Lock()
	fns := make([]ChangeFunc, 0, len(g.listeners))
	for _, fn := range g.listeners {
		fns = append(fns, fn)
	}
	g.mu.Unlock()
	for _, fn := range fns {
		fn(event, sess)
	}
}

func (g *GoTrue) token(ctx context.Context, grant string, body any) (*Session, error) {
	var sess Session
	path := "/token?grant_type=" + url.QueryEscape(grant)
	if err := g.do(ctx, http.MethodPost, path, "", body, &sess); err != nil {
		return nil, err
	}
	if sess.AccessToken == "" {
		return nil, fmt.Errorf("auth: %s grant returned no access token", grant)
	}
	if sess.ExpiresAt == 0 && sess.ExpiresIn > 0 {
		sess.ExpiresAt = g.now().Unix() + sess.ExpiresIn
	}
	fillFromToken(&sess)
	return &sess, nil
}

func (g *GoTrue) do(ctx context.Context, method, path, bearer string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer == "" {
		bearer = g.apiKey
	}
	req.Header.Set("apikey", g.apiKey)
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := g.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
		ErrorCode   string `json:"error_code"`
		Msg         string `json:"msg"`
		Message     string `json:"message"`
	}
	_ = json.Unmarshal(data, &body)

	e := &Error{Status: resp.StatusCode, Code: body.ErrorCode}
	if e.Code == "" {
		e.Code = body.Error
	}
	for _, m := range []string{body.Description, body.Msg, body.Message, body.Error, strings.TrimSpace(string(data))} {
		if m != "" {
			e.Message = m
			break
		}
	}
	if e.Message == "" {
		e.Message = http.StatusText(resp.StatusCode)
	}
	return e
}
