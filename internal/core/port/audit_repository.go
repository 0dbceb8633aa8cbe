package port

import (
	"context"

	"github.com/CharbellTrad/biometric-service/internal/core/domain"
)

// DeviceAuditRepository appends device audit events keyed by device id.
type DeviceAuditRepository interface {
	Append(ctx context.Context, event domain.DeviceAuditEvent) error
	ListByDevice(ctx context.Context, deviceID string) ([]domain.DeviceAuditEvent, error)
}
