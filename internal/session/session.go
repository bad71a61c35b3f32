// Package session holds the current API session token behind explicit
// mutation entry points, instead of module-level mutable state, so tests
// and multi-stream scenarios stay deterministic.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// Session is the current authentication state against the orchestration
// backend. Safe for concurrent use.
type Session struct {
	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// New returns an unauthenticated session.
func New() *Session {
	return &Session{}
}

// Login stores a freshly issued token. If the token is a JWT its expiry
// claim is recorded; opaque tokens are accepted with no expiry.
func (s *Session) Login(token string) error {
	if token == "" {
		return fmt.Errorf("empty token")
	}

	expiresAt := parseExpiry(token)

	s.mu.Lock()
	s.token = token
	s.expiresAt = expiresAt
	s.mu.Unlock()

	log.Info().
		Time("expires_at", expiresAt).
		Msg("Session established")
	return nil
}

// Logout clears the session.
func (s *Session) Logout() {
	s.mu.Lock()
	s.token = ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()

	log.Info().Msg("Session cleared")
}

// Token returns the current token, empty if not authenticated.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Authenticated reports whether a non-expired token is held.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return false
	}
	if s.expiresAt.IsZero() {
		return true
	}
	return time.Now().Before(s.expiresAt)
}

// ExpiresWithin reports whether the token expires inside d. Callers use it
// to decide when to refresh before a long stream. Tokens without an expiry
// never report true.
func (s *Session) ExpiresWithin(d time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" || s.expiresAt.IsZero() {
		return false
	}
	return time.Now().Add(d).After(s.expiresAt)
}

// parseExpiry reads the exp claim of a JWT without verifying the signature;
// verification is the backend's job, the client only schedules refreshes.
func parseExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
