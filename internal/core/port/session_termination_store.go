package port

import (
	"context"
	"time"
)

// SessionTerminationStore caches ended-session markers so other services can
// check a session id without reading the authentication log.
type SessionTerminationStore interface {
	MarkSessionEnded(ctx context.Context, sessionID string, reason string, ttl time.Duration) error
	IsSessionEnded(ctx context.Context, sessionID string) (bool, string, error)
}
