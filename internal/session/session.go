package session

import (
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Info describes the current session for display. Token text is never exposed.
type Info struct {
	Authenticated bool       `json:"authenticated"`
	Subject       string     `json:"subject,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	Expired       bool       `json:"expired"`
}

// Session holds the bearer token supplied by the surrounding context.
// The token is issued elsewhere; signatures are not verified here.
type Session struct {
	mu    sync.RWMutex
	token string
	now   func() time.Time
}

// New creates a session with an optional initial token
func New(token string) *Session {
	return &Session{
		token: strings.TrimSpace(token),
		now:   time.Now,
	}
}

// Token returns the current token or an empty string
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetToken replaces the token. A "Bearer " prefix is stripped.
func (s *Session) SetToken(token string) {
	token = strings.TrimSpace(token)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}

	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Clear removes the token
func (s *Session) Clear() {
	s.SetToken("")
}

// Info returns display information about the token. Opaque (non-JWT)
// tokens report only that a session exists.
func (s *Session) Info() Info {
	token := s.Token()
	if token == "" {
		return Info{}
	}

	info := Info{Authenticated: true}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return info
	}

	if sub, err := claims.GetSubject(); err == nil {
		info.Subject = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		t := exp.Time
		info.ExpiresAt = &t
		info.Expired = !s.now().Before(t)
	}
	return info
}
