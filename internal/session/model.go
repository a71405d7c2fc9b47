package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TokenLength is the length of a hex-encoded anti-forgery token.
const TokenLength = 64

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrCorruptSession  = errors.New("session payload is corrupt")
	ErrInvalidToken    = errors.New("session csrf token is missing or malformed")
)

// Session is the server-side state bound to the session cookie.
type Session struct {
	ID         string    `json:"id"`
	CSRFToken  string    `json:"csrf_token"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// New starts a session with a fresh anti-forgery token.
func New(now time.Time, lifetime time.Duration) (*Session, error) {
	token, err := GenerateToken()
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:         uuid.NewString(),
		CSRFToken:  token,
		CreatedAt:  now,
		LastSeenAt: now,
		ExpiresAt:  now.Add(lifetime),
	}, nil
}

// Expired reports whether the session lifetime has passed.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Touch slides the expiry forward.
func (s *Session) Touch(now time.Time, lifetime time.Duration) {
	s.LastSeenAt = now
	s.ExpiresAt = now.Add(lifetime)
}

// RegenerateToken replaces the session's anti-forgery token.
func (s *Session) RegenerateToken() (string, error) {
	token, err := GenerateToken()
	if err != nil {
		return "", err
	}
	s.CSRFToken = token
	return token, nil
}

// Validate checks the invariants a loaded session must satisfy.
func (s *Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: empty id", ErrCorruptSession)
	}
	if s.ExpiresAt.IsZero() {
		return fmt.Errorf("%w: missing expiry", ErrCorruptSession)
	}
	if !ValidToken(s.CSRFToken) {
		return ErrInvalidToken
	}
	return nil
}

// GenerateToken returns 32 random bytes, hex encoded.
func GenerateToken() (string, error) {
	b := make([]byte, TokenLength/2)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate csrf token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ValidToken reports whether token has the shape GenerateToken produces.
func ValidToken(token string) bool {
	if len(token) != TokenLength {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}
