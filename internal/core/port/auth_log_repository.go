package port

import (
	"context"
	"time"

	"github.com/CharbellTrad/biometric-service/internal/core/domain"
)

// AuthLogRepository persists the append-only authentication log. Entries are
// never updated except through EndSessions.
type AuthLogRepository interface {
	Create(ctx context.Context, entry domain.AuthLogEntry) error
	Count(ctx context.Context, filter domain.AuthLogFilter) (int, error)
	List(ctx context.Context, filter domain.AuthLogFilter, limit, offset int) ([]domain.AuthLogEntry, error)
	EndSessions(ctx context.Context, filter domain.AuthLogFilter, at time.Time) (int, []string, error)
	StatsForDevice(ctx context.Context, deviceID string) (domain.AuthStats, error)
	StatsForDevices(ctx context.Context, deviceIDs []string) (map[string]domain.AuthStats, error)
}
