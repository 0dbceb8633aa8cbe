package port

import (
	"context"
	"time"

	"github.com/CharbellTrad/biometric-service/internal/core/domain"
)

// DeviceLookup narrows an active-device search for a single owner.
type DeviceLookup struct {
	DeviceUUID string
	Platform   string
}

// DeviceRepository deals with device storage. Upsert relies on the store's
// unique (owner_id, device_uuid) constraint so concurrent enrolments of the
// same pair resolve to a single row.
type DeviceRepository interface {
	Upsert(ctx context.Context, device domain.Device) (*domain.Device, bool, error)
	GetByID(ctx context.Context, id string) (*domain.Device, error)
	GetByUUID(ctx context.Context, ownerID, deviceUUID string) (*domain.Device, error)
	FindActive(ctx context.Context, ownerID string, lookup DeviceLookup) (*domain.Device, error)
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Device, error)
	UpdateState(ctx context.Context, device domain.Device) error
	MarkUsed(ctx context.Context, id string, at time.Time) (bool, error)
	SetArchived(ctx context.Context, id string, archived bool) error
	Delete(ctx context.Context, id string) error
	DeleteByOwner(ctx context.Context, ownerID string) ([]domain.Device, error)
}
