package auth

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSession is the client-side view of a signed-in user. Claims are read
// without verifying the signature; the push server does the verification.
type TokenSession struct {
	mu      sync.RWMutex
	token   string
	subject string
	expires time.Time
	now     func() time.Time
}

func NewTokenSession(token string) *TokenSession {
	s := &TokenSession{now: time.Now}
	s.SetToken(token)
	return s
}

// SetToken replaces the session token, e.g. after sign-in or refresh. An
// unparseable token leaves the session unauthenticated.
func (s *TokenSession) SetToken(token string) {
	var subject string
	var expires time.Time

	if token != "" {
		claims := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
			subject, _ = claims.GetSubject()
			if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
				expires = exp.Time
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.subject = subject
	s.expires = expires
}

// Clear signs the session out.
func (s *TokenSession) Clear() {
	s.SetToken("")
}

func (s *TokenSession) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" || s.subject == "" {
		return false
	}
	return s.expires.IsZero() || s.now().Before(s.expires)
}

// ExpiresAt returns the token's exp claim, zero when it has none.
func (s *TokenSession) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expires
}

func (s *TokenSession) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subject
}

func (s *TokenSession) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}
