package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/CharbellTrad/biometric-service/internal/core/domain"
	"github.com/CharbellTrad/biometric-service/internal/core/port"
)

// DeviceAuditRepository stores the append-only device audit trail.
type DeviceAuditRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewDeviceAuditRepository constructs a DeviceAuditRepository.
func NewDeviceAuditRepository(exec pgExecutor) *DeviceAuditRepository {
	return &DeviceAuditRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

var _ port.DeviceAuditRepository = (*DeviceAuditRepository)(nil)

// Append persists an audit event. device_id carries no foreign key so the
// trail outlives deleted devices.
func (r *DeviceAuditRepository) Append(ctx context.Context, event domain.DeviceAuditEvent) error {
	details, err := marshalDetails(event.Details)
	if err != nil {
		return err
	}

	stmt, args, err := r.builder.Insert("biometric.device_audit_events").
		Columns("id", "device_id", "owner_id", "kind", "actor", "at", "details").
		Values(event.ID, event.DeviceID, event.OwnerID, string(event.Kind), event.Actor, event.At.UTC(), details).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert device audit sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert device audit event: %w", err)
	}
	return nil
}

// ListByDevice returns the audit trail of a device, oldest first.
func (r *DeviceAuditRepository) ListByDevice(ctx context.Context, deviceID string) ([]domain.DeviceAuditEvent, error) {
	stmt, args, err := r.builder.Select("id", "device_id", "owner_id", "kind", "actor", "at", "details").
		From("biometric.device_audit_events").
		Where(squirrel.Eq{"device_id": deviceID}).
		OrderBy("at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list device audit sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query device audit: %w", err)
	}
	defer rows.Close()

	events := make([]domain.DeviceAuditEvent, 0)
	for rows.Next() {
		var (
			event   domain.DeviceAuditEvent
			kind    string
			details []byte
		)
		if err := rows.Scan(&event.ID, &event.DeviceID, &event.OwnerID, &kind, &event.Actor, &event.At, &details); err != nil {
			return nil, fmt.Errorf("scan device audit event: %w", err)
		}
		event.Kind = domain.DeviceAuditKind(kind)
		event.At = event.At.UTC()
		if len(details) > 0 {
			if err := json.Unmarshal(details, &event.Details); err != nil {
				return nil, fmt.Errorf("decode device audit details: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate device audit: %w", err)
	}
	return events, nil
}
