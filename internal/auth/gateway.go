package auth

import (
	"context"
	"log/slog"
	"sync"
)

// Gateway wraps a Provider and keeps the State in step with it.
type Gateway struct {
	provider    Provider
	state       *State
	log         *slog.Logger
	unsubscribe func()

	mu        sync.Mutex
	resolved  bool
	resolving chan struct{}
}

// NewGateway wires p to state. A nil logger uses slog.Default().
func NewGateway(p Provider, state *State, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{provider: p, state: state, log: logger}
	g.unsubscribe = p.OnAuthStateChange(g.onChange)
	return g
}

func (g *Gateway) onChange(event ChangeEvent, sess *Session) {
	g.log.Debug("auth: state change", "event", string(event))
	g.state.setUser(userOf(sess))
}

// SignIn signs in and returns the user.
func (g *Gateway) SignIn(ctx context.Context, email, password string) (*User, error) {
	sess, err := g.provider.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	g.state.setUser(sess.User)
	return sess.User, nil
}

// SignOut signs out. The local user is cleared even when the provider fails.
func (g *Gateway) SignOut(ctx context.Context) error {
	err := g.provider.SignOut(ctx)
	g.state.setUser(nil)
	return err
}

// CurrentSession returns the provider's session, or nil when there is none
// or it could not be fetched.
func (g *Gateway) CurrentSession(ctx context.Context) *Session {
	sess, err := g.provider.Session(ctx)
	if err != nil {
		g.log.Error("auth: error getting current session", "err", err)
		return nil
	}
	return sess
}

// Resolve fetches the session on the first call and records the result in
// the state, turning off Loading. Later calls return at once; concurrent
// callers wait for the first resolution or their ctx. A failed fetch counts
// as signed out.
func (g *Gateway) Resolve(ctx context.Context) error {
	g.mu.Lock()
	if g.resolved {
		g.mu.Unlock()
		return nil
	}
	if ch := g.resolving; ch != nil {
		g.mu.Unlock()
		select {
		case <-ch:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	ch := make(chan struct{})
	g.resolving = ch
	g.mu.Unlock()

	sess := g.CurrentSession(ctx)
	g.state.resolve(userOf(sess))

	g.mu.Lock()
	g.resolved = true
	g.resolving = nil
	g.mu.Unlock()
	close(ch)
	return nil
}

// Snapshot returns the current session state.
func (g *Gateway) Snapshot() Snapshot { return g.state.Snapshot() }

// State returns the cell the gateway writes.
func (g *Gateway) State() *State { return g.state }

// Close stops listening to the provider.
func (g *Gateway) Close() {
	if g.unsubscribe != nil {
		g.unsubscribe()
	}
}

func userOf(sess *Session) *User {
	if sess == nil {
		return nil
	}
	return sess.User
}
