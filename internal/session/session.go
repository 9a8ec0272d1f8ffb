package session

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoClaims = errors.New("token carries no readable claims")

// Session holds the bearer credential a workflow client sends to the backend.
// It is passed explicitly to whoever needs it; there is no package-level store.
type Session struct {
	token string
}

// New accepts a raw token or a full "Bearer <token>" header value.
func New(token string) *Session {
	token = strings.TrimSpace(token)
	if parts := strings.SplitN(token, " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		token = strings.TrimSpace(parts[1])
	}
	return &Session{token: token}
}

// LoadFile reads the token from path, trimming surrounding whitespace.
func LoadFile(path string) (*Session, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}
	return New(string(b)), nil
}

func (s *Session) Token() string {
	if s == nil {
		return ""
	}
	return s.token
}

func (s *Session) Valid() bool {
	return s.Token() != ""
}

// Authorization returns the header value, or "" when there is no token.
func (s *Session) Authorization() string {
	if !s.Valid() {
		return ""
	}
	return "Bearer " + s.token
}

// Claims decodes the JWT payload without checking the signature. The backend
// is the only party that verifies the credential.
func (s *Session) Claims() (jwt.MapClaims, error) {
	if !s.Valid() {
		return nil, ErrNoClaims
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoClaims, err)
	}
	return claims, nil
}

// ExpiresAt reports the exp claim. ok is false for opaque tokens or tokens
// without an expiry.
func (s *Session) ExpiresAt() (time.Time, bool) {
	claims, err := s.Claims()
	if err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Expired is a hint for logging only, never a gate on requests.
func (s *Session) Expired(now time.Time) bool {
	exp, ok := s.ExpiresAt()
	return ok && !now.Before(exp)
}

func (s *Session) Subject() string {
	claims, err := s.Claims()
	if err != nil {
		return ""
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub
	}
	if email, ok := claims["email"].(string); ok {
		return email
	}
	if id, ok := claims["user_id"].(string); ok {
		return id
	}
	return ""
}
