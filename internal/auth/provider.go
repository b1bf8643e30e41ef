package auth

import "context"

// ChangeEvent names an auth state transition reported by a Provider.
type ChangeEvent string

const (
	EventInitialSession ChangeEvent = "INITIAL_SESSION"
	EventSignedIn       ChangeEvent = "SIGNED_IN"
	EventSignedOut      ChangeEvent = "SIGNED_OUT"
	EventTokenRefreshed ChangeEvent = "TOKEN_REFRESHED"
)

// ChangeFunc receives auth state transitions. session is nil after sign-out.
type ChangeFunc func(event ChangeEvent, session *Session)

// Provider is the identity provider the Gateway wraps.
type Provider interface {
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context) error
	// Session returns the current session, or nil when signed out.
	Session(ctx context.Context) (*Session, error)
	OnAuthStateChange(fn ChangeFunc) (unsubscribe func())
}
