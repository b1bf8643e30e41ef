package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the access token claims the client reads. The token is never
// verified locally; the server does that on every request.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// ParseAccessToken decodes the claims of an access token without checking
// its signature.
func ParseAccessToken(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}
	return claims, nil
}

// User returns the identity carried by the claims.
func (c *Claims) User() *User {
	return &User{ID: c.Subject, Email: c.Email, Role: c.Role}
}

// fillFromToken completes a session whose user or expiry the server left out.
func fillFromToken(s *Session) {
	if s == nil || s.AccessToken == "" || (s.User != nil && s.ExpiresAt != 0) {
		return
	}
	claims, err := ParseAccessToken(s.AccessToken)
	if err != nil {
		return
	}
	if s.User == nil && claims.Subject != "" {
		s.User = claims.User()
	}
	if s.ExpiresAt == 0 && claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Unix()
	}
}
