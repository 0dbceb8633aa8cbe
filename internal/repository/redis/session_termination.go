package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/CharbellTrad/biometric-service/internal/core/port"
)

const defaultSessionEndPrefix = "biometric:session_ended"

// SessionTerminationStore keeps ended-session markers so other services can
// check a session id without querying the authentication log.
type SessionTerminationStore struct {
	client *red.Client
	prefix string
}

// NewSessionTerminationStore constructs a Redis-backed marker store.
func NewSessionTerminationStore(client *red.Client, keyPrefix string) *SessionTerminationStore {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultSessionEndPrefix
	}

	return &SessionTerminationStore{client: client, prefix: prefix}
}

var _ port.SessionTerminationStore = (*SessionTerminationStore)(nil)

// MarkSessionEnded stores the session id with the end reason for ttl.
func (s *SessionTerminationStore) MarkSessionEnded(ctx context.Context, sessionID string, reason string, ttl time.Duration) error {
	key := s.key(sessionID)
	if key == "" {
		return fmt.Errorf("session id is required")
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	value := strings.TrimSpace(reason)
	if value == "" {
		value = "session_end"
	}

	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set session end: %w", err)
	}

	return nil
}

// IsSessionEnded reports whether the session was ended and the stored reason.
func (s *SessionTerminationStore) IsSessionEnded(ctx context.Context, sessionID string) (bool, string, error) {
	key := s.key(sessionID)
	if key == "" {
		return false, "", fmt.Errorf("session id is required")
	}

	value, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return false, "", nil
		}
		return false, "", fmt.Errorf("redis get session end: %w", err)
	}

	return true, value, nil
}

func (s *SessionTerminationStore) key(sessionID string) string {
	trimmed := strings.TrimSpace(sessionID)
	if trimmed == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", s.prefix, trimmed)
}
