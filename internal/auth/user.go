// Package auth holds the signed-in user state and talks to the identity
// provider.
package auth

import (
	"errors"
	"time"
)

// ErrNoSession is returned when an operation needs a signed-in user.
var ErrNoSession = errors.New("no active session")

// expiryMargin refreshes tokens slightly before the server would reject them.
const expiryMargin = 30 * time.Second

// User is the identity the provider reports for a session.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

// Session is one authenticated session. ExpiresAt is in Unix seconds.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	User         *User  `json:"user"`
}

// Expired reports whether the access token is at or past its expiry at now.
// A session without an expiry never expires.
func (s *Session) Expired(now time.Time) bool {
	if s == nil || s.ExpiresAt == 0 {
		return false
	}
	return !now.Add(expiryMargin).Before(time.Unix(s.ExpiresAt, 0))
}
