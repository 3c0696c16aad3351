package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session is an authenticated identity on the messaging server.
type Session struct {
	Identity  string
	UserID    string
	Token     string
	ExpiresAt time.Time
}

// Expired reports whether the session token has passed its expiry. Sessions
// without an expiry claim never report expired.
func (s *Session) Expired(now time.Time) bool {
	if s == nil || s.ExpiresAt.IsZero() {
		return s == nil
	}
	return now.After(s.ExpiresAt)
}

// AuthenticationError means the identity was rejected. It is fatal for that
// identity's session and is never retried automatically.
type AuthenticationError struct {
	Identity string
	Err      error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authenticate %s: %v", e.Identity, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// Authenticator exchanges a stable identity for a server session. Repeated
// calls for the same identity must not create duplicate server-side accounts.
type Authenticator interface {
	Authenticate(ctx context.Context, identity string) (*Session, error)
}

// tokenExpiry reads the exp claim of a session token without verifying the
// signature. The client never holds the server's signing key; it only needs
// the expiry to decide whether a cached session is worth reusing.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
