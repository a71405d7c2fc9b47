package session

import (
	"context"
	"fmt"

	gjson "github.com/goccy/go-json"
)

// Store defines the interface for session storage
// Implementations can use Redis, MySQL, or other backends
type Store interface {
	// Get loads a session.
	// Returns ErrSessionNotFound if it does not exist and ErrCorruptSession
	// if the stored payload cannot be decoded.
	Get(ctx context.Context, id string) (*Session, error)

	// Save creates or replaces a session.
	Save(ctx context.Context, s *Session) error

	// Delete removes a session. Deleting a missing session is not an error.
	Delete(ctx context.Context, id string) error

	// IDs lists every stored session id.
	IDs(ctx context.Context) ([]string, error)
}

func encode(s *Session) ([]byte, error) {
	payload, err := gjson.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	return payload, nil
}

func decode(payload []byte) (*Session, error) {
	var s Session
	if err := gjson.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSession, err)
	}
	if s.ID == "" || s.ExpiresAt.IsZero() {
		return nil, fmt.Errorf("%w: missing required fields", ErrCorruptSession)
	}
	return &s, nil
}
