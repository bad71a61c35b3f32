package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": expiresAt.Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestSession_LoginLogout(t *testing.T) {
	s := New()

	if s.Authenticated() {
		t.Error("new session must not be authenticated")
	}

	if err := s.Login("opaque-token"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if !s.Authenticated() {
		t.Error("expected authenticated after login")
	}
	if s.Token() != "opaque-token" {
		t.Errorf("Token() = %q", s.Token())
	}

	s.Logout()
	if s.Authenticated() || s.Token() != "" {
		t.Error("expected cleared session after logout")
	}
}

func TestSession_RejectsEmptyToken(t *testing.T) {
	s := New()
	if err := s.Login(""); err == nil {
		t.Error("expected error for empty token")
	}
}

func TestSession_JWTExpiry(t *testing.T) {
	s := New()

	if err := s.Login(signedToken(t, time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if !s.Authenticated() {
		t.Error("token valid for an hour must authenticate")
	}
	if s.ExpiresWithin(time.Minute) {
		t.Error("token must not report expiry within a minute")
	}
	if !s.ExpiresWithin(2 * time.Hour) {
		t.Error("token must report expiry within two hours")
	}
}

func TestSession_ExpiredJWT(t *testing.T) {
	s := New()

	if err := s.Login(signedToken(t, time.Now().Add(-time.Minute))); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if s.Authenticated() {
		t.Error("expired token must not authenticate")
	}
}

func TestSession_OpaqueTokenHasNoExpiry(t *testing.T) {
	s := New()
	if err := s.Login("not-a-jwt"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if s.ExpiresWithin(24 * time.Hour) {
		t.Error("opaque token must never report an expiry")
	}
}
