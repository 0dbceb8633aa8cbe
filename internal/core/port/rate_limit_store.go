package port

import (
	"context"
	"time"

	"github.com/CharbellTrad/biometric-service/internal/core/domain"
)

// RateLimitStore keeps the sliding-window attempt log of each rule and subject.
type RateLimitStore interface {
	// Window drops attempts that fell out of the window ending at now and
	// reports what is left.
	Window(ctx context.Context, rule string, subject domain.RateLimitSubject, window time.Duration, now time.Time) (domain.RateLimitWindow, error)
	Record(ctx context.Context, rule string, subject domain.RateLimitSubject, at time.Time) error
}
