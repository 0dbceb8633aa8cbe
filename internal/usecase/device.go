package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/CharbellTrad/biometric-service/internal/core/domain"
	"github.com/CharbellTrad/biometric-service/internal/core/port"
	"github.com/CharbellTrad/biometric-service/internal/repository"
)

var (
	// ErrDeviceNotFound indicates the device does not exist or is not owned by the caller.
	ErrDeviceNotFound = fmt.Errorf("device %w", domain.ErrNotFound)
	// ErrOwnerRequired indicates an operation was invoked without an owner.
	ErrOwnerRequired = fmt.Errorf("%w: owner id is required", domain.ErrValidation)
)

// DeviceService is the device registry: enrolment, lookup and lifecycle.
type DeviceService struct {
	devices port.DeviceRepository
	logs    port.AuthLogRepository
	audit   port.DeviceAuditRepository
	events  port.EventPublisher
	logger  *zap.Logger
	policy  domain.UsagePolicy
	now     func() time.Time
	newID   func() string
}

// NewDeviceService constructs a DeviceService.
func NewDeviceService(devices port.DeviceRepository, logs port.AuthLogRepository, audit port.DeviceAuditRepository, events port.EventPublisher, logger *zap.Logger) *DeviceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeviceService{
		devices: devices,
		logs:    logs,
		audit:   audit,
		events:  events,
		logger:  logger,
		policy:  domain.DefaultUsagePolicy(),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (s *DeviceService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// WithUsagePolicy overrides the recency and staleness thresholds.
func (s *DeviceService) WithUsagePolicy(policy domain.UsagePolicy) *DeviceService {
	if policy.RecentWindow > 0 {
		s.policy.RecentWindow = policy.RecentWindow
	}
	if policy.StaleAfter > 0 {
		s.policy.StaleAfter = policy.StaleAfter
	}
	return s
}

// RegisterDevice enrols a device or, when (owner, device uuid) already exists,
// refreshes it in place and forces it back to active.
func (s *DeviceService) RegisterDevice(ctx context.Context, reg domain.DeviceRegistration) (*DeviceView, error) {
	if err := reg.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	candidate := reg.NewDevice(s.newID(), now)

	stored, created, err := s.devices.Upsert(ctx, candidate)
	if err != nil {
		return nil, storeError("upsert device", err)
	}

	kind := domain.DeviceAuditReenrolled
	if created {
		kind = domain.DeviceAuditRegistered
	}
	s.recordAudit(ctx, *stored, kind, reg.OwnerID, map[string]any{
		"device_name": stored.DeviceName,
		"platform":    string(stored.Platform),
	})

	s.logger.Info("biometric device registered",
		zap.String("device_id", stored.ID),
		zap.String("owner_id", stored.OwnerID),
		zap.String("platform", string(stored.Platform)),
		zap.Bool("created", created),
	)

	details, err := s.details(ctx, *stored, "")
	if err != nil {
		return nil, err
	}
	view := NewDeviceView(details)
	return &view, nil
}

// ListDevices returns the owner's non-revoked devices, most recently used first,
// flagging the one matching currentDeviceUUID.
func (s *DeviceService) ListDevices(ctx context.Context, ownerID, currentDeviceUUID string) ([]DeviceView, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, ErrOwnerRequired
	}

	devices, err := s.devices.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, storeError("list devices", err)
	}

	ids := make([]string, 0, len(devices))
	for _, d := range devices {
		ids = append(ids, d.ID)
	}

	stats := map[string]domain.AuthStats{}
	if len(ids) > 0 {
		stats, err = s.logs.StatsForDevices(ctx, ids)
		if err != nil {
			return nil, storeError("device auth stats", err)
		}
	}

	now := s.now()
	current := strings.TrimSpace(currentDeviceUUID)
	views := make([]DeviceView, 0, len(devices))
	for _, d := range devices {
		st := stats[d.ID]
		views = append(views, NewDeviceView(DeviceDetails{
			Device:    d,
			Usage:     domain.ComputeUsage(d, st.Successful, st.LastSuccess, now, s.policy),
			IsCurrent: current != "" && d.DeviceUUID == current,
		}))
	}

	return views, nil
}

// GetDevice returns a single device owned by the caller.
func (s *DeviceService) GetDevice(ctx context.Context, caller domain.Caller, deviceID string) (*DeviceView, error) {
	device, err := s.ownedDevice(ctx, caller, deviceID)
	if err != nil {
		return nil, err
	}
	details, err := s.details(ctx, *device, "")
	if err != nil {
		return nil, err
	}
	view := NewDeviceView(details)
	return &view, nil
}

// RevokeDevice disables a device. Revoking twice fails with a state error.
func (s *DeviceService) RevokeDevice(ctx context.Context, caller domain.Caller, deviceID string) error {
	device, err := s.ownedDevice(ctx, caller, deviceID)
	if err != nil {
		return err
	}

	if err := device.Revoke(s.now(), caller.UserID); err != nil {
		return err
	}
	if err := s.devices.UpdateState(ctx, *device); err != nil {
		return storeError("revoke device", err)
	}

	s.recordAudit(ctx, *device, domain.DeviceAuditRevoked, caller.UserID, nil)
	s.logger.Info("biometric device revoked",
		zap.String("device_id", device.ID),
		zap.String("device_name", device.DeviceName),
		zap.String("revoked_by", caller.UserID),
	)
	return nil
}

// ActivateDevice re-enables a device that is inactive or revoked.
func (s *DeviceService) ActivateDevice(ctx context.Context, caller domain.Caller, deviceID string) error {
	device, err := s.ownedDevice(ctx, caller, deviceID)
	if err != nil {
		return err
	}

	if err := device.Activate(); err != nil {
		return err
	}
	if err := s.devices.UpdateState(ctx, *device); err != nil {
		return storeError("activate device", err)
	}

	s.recordAudit(ctx, *device, domain.DeviceAuditActivated, caller.UserID, nil)
	s.logger.Info("biometric device activated",
		zap.String("device_id", device.ID),
		zap.String("activated_by", caller.UserID),
	)
	return nil
}

// UpdateLastUsed stamps a successful use and forces the device active. It runs
// in system scope and is idempotent, so callers may retry it safely.
func (s *DeviceService) UpdateLastUsed(ctx context.Context, deviceID string) error {
	if strings.TrimSpace(deviceID) == "" {
		return fmt.Errorf("%w: device id is required", domain.ErrValidation)
	}

	updated, err := s.devices.MarkUsed(ctx, deviceID, s.now())
	if err != nil {
		return storeError("mark device used", err)
	}
	if updated {
		s.logger.Debug("device last use updated", zap.String("device_id", deviceID))
		return nil
	}

	device, err := s.devices.GetByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrDeviceNotFound
		}
		return storeError("load device", err)
	}
	if device.IsRevoked() {
		return fmt.Errorf("%w: device %s is revoked", domain.ErrState, deviceID)
	}
	return nil
}

// ArchiveDevice hides or restores a device without changing its lifecycle state.
func (s *DeviceService) ArchiveDevice(ctx context.Context, caller domain.Caller, deviceID string, archived bool) error {
	device, err := s.ownedDevice(ctx, caller, deviceID)
	if err != nil {
		return err
	}
	if device.Archived == archived {
		return nil
	}

	if err := s.devices.SetArchived(ctx, device.ID, archived); err != nil {
		return storeError("archive device", err)
	}

	s.recordAudit(ctx, *device, domain.DeviceAuditArchived, caller.UserID, map[string]any{"archived": archived})
	return nil
}

// DeleteDevice removes a device. Its authentication history is kept: entries
// lose the reference but retain their device name and platform snapshot.
func (s *DeviceService) DeleteDevice(ctx context.Context, caller domain.Caller, deviceID string) error {
	device, err := s.ownedDevice(ctx, caller, deviceID)
	if err != nil {
		return err
	}

	if err := s.devices.Delete(ctx, device.ID); err != nil {
		return storeError("delete device", err)
	}

	s.recordAudit(ctx, *device, domain.DeviceAuditDeleted, caller.UserID, map[string]any{
		"device_name": device.DeviceName,
		"device_uuid": device.DeviceUUID,
	})
	s.logger.Warn("biometric device deleted",
		zap.String("device_id", device.ID),
		zap.String("device_name", device.DeviceName),
		zap.String("owner_id", device.OwnerID),
	)
	return nil
}

// DeleteDevicesForOwner removes every device of a user that left the identity directory.
func (s *DeviceService) DeleteDevicesForOwner(ctx context.Context, ownerID, actor string) (int, error) {
	if strings.TrimSpace(ownerID) == "" {
		return 0, ErrOwnerRequired
	}

	deleted, err := s.devices.DeleteByOwner(ctx, ownerID)
	if err != nil {
		return 0, storeError("delete owner devices", err)
	}

	for _, device := range deleted {
		s.recordAudit(ctx, device, domain.DeviceAuditDeleted, actor, map[string]any{
			"device_name": device.DeviceName,
			"device_uuid": device.DeviceUUID,
			"reason":      "owner_deleted",
		})
	}

	if len(deleted) > 0 {
		s.logger.Warn("deleted devices of removed user",
			zap.String("owner_id", ownerID),
			zap.Int("count", len(deleted)),
		)
	}
	return len(deleted), nil
}

// AuditTrail returns the audit events recorded for a device owned by the caller.
func (s *DeviceService) AuditTrail(ctx context.Context, caller domain.Caller, deviceID string) ([]domain.DeviceAuditEvent, error) {
	device, err := s.ownedDevice(ctx, caller, deviceID)
	if err != nil {
		return nil, err
	}
	events, err := s.audit.ListByDevice(ctx, device.ID)
	if err != nil {
		return nil, storeError("list device audit", err)
	}
	return events, nil
}

func (s *DeviceService) ownedDevice(ctx context.Context, caller domain.Caller, deviceID string) (*domain.Device, error) {
	if strings.TrimSpace(deviceID) == "" {
		return nil, fmt.Errorf("%w: device id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(caller.UserID) == "" {
		return nil, ErrOwnerRequired
	}

	device, err := s.devices.GetByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, storeError("load device", err)
	}
	if device.OwnerID != caller.UserID {
		return nil, ErrDeviceNotFound
	}
	return device, nil
}

func (s *DeviceService) details(ctx context.Context, device domain.Device, currentUUID string) (DeviceDetails, error) {
	stats, err := s.logs.StatsForDevice(ctx, device.ID)
	if err != nil {
		return DeviceDetails{}, storeError("device auth stats", err)
	}
	return DeviceDetails{
		Device:    device,
		Usage:     domain.ComputeUsage(device, stats.Successful, stats.LastSuccess, s.now(), s.policy),
		IsCurrent: currentUUID != "" && device.DeviceUUID == currentUUID,
	}, nil
}

// recordAudit appends the audit event and publishes the lifecycle event. Both
// are side channels: failures are logged and never undo the mutation.
func (s *DeviceService) recordAudit(ctx context.Context, device domain.Device, kind domain.DeviceAuditKind, actor string, details map[string]any) {
	at := s.now()
	if s.audit != nil {
		event := domain.DeviceAuditEvent{
			ID:       s.newID(),
			DeviceID: device.ID,
			OwnerID:  device.OwnerID,
			Kind:     kind,
			Actor:    actor,
			At:       at,
			Details:  details,
		}
		if err := s.audit.Append(ctx, event); err != nil {
			s.logger.Error("append device audit event failed",
				zap.String("device_id", device.ID),
				zap.String("kind", string(kind)),
				zap.Error(err),
			)
		}
	}

	if s.events != nil {
		event := domain.DeviceLifecycleEvent{
			EventID:    s.newID(),
			DeviceID:   device.ID,
			OwnerID:    device.OwnerID,
			DeviceUUID: device.DeviceUUID,
			DeviceName: device.DeviceName,
			Platform:   device.Platform,
			Kind:       kind,
			Actor:      actor,
			OccurredAt: at,
			Metadata:   details,
		}
		if err := s.events.PublishDeviceLifecycle(ctx, event); err != nil {
			s.logger.Warn("publish device lifecycle event failed",
				zap.String("device_id", device.ID),
				zap.String("kind", string(kind)),
				zap.Error(err),
			)
		}
	}
}

func storeError(op string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrStorage, op, err)
}
