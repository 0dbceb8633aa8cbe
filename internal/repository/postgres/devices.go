package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CharbellTrad/biometric-service/internal/core/domain"
	"github.com/CharbellTrad/biometric-service/internal/core/port"
	"github.com/CharbellTrad/biometric-service/internal/repository"
)

const devicesTable = "biometric.devices"

var deviceColumns = []string{
	"id",
	"owner_id",
	"device_uuid",
	"device_name",
	"platform",
	"os_version",
	"model_name",
	"brand",
	"is_physical",
	"biometric_type",
	"biometric_label",
	"encrypted_credentials",
	"device_info",
	"notes",
	"state",
	"is_enabled",
	"archived",
	"enrolled_at",
	"last_used_at",
	"revoked_at",
	"revoked_by",
}

// DeviceRepository implements port.DeviceRepository backed by PostgreSQL.
type DeviceRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewDeviceRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewDeviceRepository(exec pgExecutor) *DeviceRepository {
	repo := &DeviceRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// WithTx returns a repository instance that executes statements within the supplied transaction.
func (r *DeviceRepository) WithTx(tx pgx.Tx) *DeviceRepository {
	if tx == nil {
		return r
	}
	return &DeviceRepository{
		pool:    r.pool,
		exec:    tx,
		builder: r.builder,
	}
}

var _ port.DeviceRepository = (*DeviceRepository)(nil)

// Upsert inserts the device or refreshes the existing (owner_id, device_uuid)
// row in a single statement. The boolean reports whether a row was created.
func (r *DeviceRepository) Upsert(ctx context.Context, device domain.Device) (*domain.Device, bool, error) {
	stmt, args, err := r.builder.Insert(devicesTable).
		Columns(deviceColumns...).
		Values(
			device.ID,
			device.OwnerID,
			device.DeviceUUID,
			device.DeviceName,
			string(device.Platform),
			optionalString(device.OSVersion),
			optionalString(device.ModelName),
			optionalString(device.Brand),
			device.IsPhysical,
			string(device.BiometricType),
			optionalString(device.BiometricLabel),
			optionalString(device.EncryptedCredentials),
			optionalJSON(device.DeviceInfo),
			optionalString(device.Notes),
			string(domain.DeviceStateActive),
			true,
			false,
			device.EnrolledAt.UTC(),
			optionalTime(device.LastUsedAt),
			nil,
			nil,
		).
		Suffix(`ON CONFLICT (owner_id, device_uuid) DO UPDATE SET
            device_name = EXCLUDED.device_name,
            os_version = COALESCE(EXCLUDED.os_version, devices.os_version),
            biometric_type = EXCLUDED.biometric_type,
            biometric_label = EXCLUDED.biometric_label,
            last_used_at = EXCLUDED.enrolled_at,
            state = 'active',
            is_enabled = TRUE,
            archived = FALSE
        RETURNING ` + strings.Join(deviceColumns, ", ") + `, (xmax = 0) AS inserted`).
		ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("build upsert device sql: %w", err)
	}

	var inserted bool
	stored, err := scanDevice(r.exec.QueryRow(ctx, stmt, args...), &inserted)
	if err != nil {
		return nil, false, fmt.Errorf("upsert device: %w", err)
	}
	return stored, inserted, nil
}

// GetByID fetches a device by its identifier.
func (r *DeviceRepository) GetByID(ctx context.Context, id string) (*domain.Device, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id})
}

// GetByUUID fetches the device an owner enrolled under the client supplied uuid.
func (r *DeviceRepository) GetByUUID(ctx context.Context, ownerID, deviceUUID string) (*domain.Device, error) {
	return r.getOne(ctx, squirrel.Eq{"owner_id": ownerID, "device_uuid": deviceUUID})
}

// FindActive returns the most recently used active device of the owner matching the lookup.
func (r *DeviceRepository) FindActive(ctx context.Context, ownerID string, lookup port.DeviceLookup) (*domain.Device, error) {
	where := squirrel.And{
		squirrel.Eq{"owner_id": ownerID},
		squirrel.Eq{"state": string(domain.DeviceStateActive)},
		squirrel.Eq{"archived": false},
	}
	if uuid := strings.TrimSpace(lookup.DeviceUUID); uuid != "" {
		where = append(where, squirrel.Eq{"device_uuid": uuid})
	}
	if platform := strings.TrimSpace(lookup.Platform); platform != "" {
		where = append(where, squirrel.Eq{"platform": platform})
	}

	stmt, args, err := r.builder.Select(deviceColumns...).
		From(devicesTable).
		Where(where).
		OrderBy("last_used_at DESC NULLS LAST", "enrolled_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build find active device sql: %w", err)
	}

	device, err := scanDevice(r.exec.QueryRow(ctx, stmt, args...), nil)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("find active device: %w", err)
	}
	return device, nil
}

// ListByOwner lists the owner's non-revoked, non-archived devices, most recently used first.
func (r *DeviceRepository) ListByOwner(ctx context.Context, ownerID string) ([]domain.Device, error) {
	stmt, args, err := r.builder.Select(deviceColumns...).
		From(devicesTable).
		Where(squirrel.Eq{"owner_id": ownerID, "archived": false}).
		Where(squirrel.NotEq{"state": string(domain.DeviceStateRevoked)}).
		OrderBy("last_used_at DESC NULLS LAST", "enrolled_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list devices sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	devices := make([]domain.Device, 0)
	for rows.Next() {
		device, err := scanDevice(rows, nil)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, *device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %w", err)
	}
	return devices, nil
}

// UpdateState persists the lifecycle fields of a device.
func (r *DeviceRepository) UpdateState(ctx context.Context, device domain.Device) error {
	stmt, args, err := r.builder.Update(devicesTable).
		Set("state", string(device.State)).
		Set("is_enabled", device.IsEnabled).
		Set("revoked_at", optionalTime(device.RevokedAt)).
		Set("revoked_by", optionalString(device.RevokedBy)).
		Where(squirrel.Eq{"id": device.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update device state sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update device state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// MarkUsed stamps last use and forces the device active. Revoked devices are
// left untouched and last_used_at never moves backwards.
func (r *DeviceRepository) MarkUsed(ctx context.Context, id string, at time.Time) (bool, error) {
	stamp := at.UTC()
	stmt, args, err := r.builder.Update(devicesTable).
		Set("last_used_at", squirrel.Expr("GREATEST(COALESCE(last_used_at, ?), ?)", stamp, stamp)).
		Set("state", string(domain.DeviceStateActive)).
		Where(squirrel.Eq{"id": id}).
		Where(squirrel.NotEq{"state": string(domain.DeviceStateRevoked)}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build mark device used sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("mark device used: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetArchived toggles the archived flag.
func (r *DeviceRepository) SetArchived(ctx context.Context, id string, archived bool) error {
	stmt, args, err := r.builder.Update(devicesTable).
		Set("archived", archived).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build archive device sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("archive device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Delete removes a device. auth_logs.device_id is cleared by the foreign key.
func (r *DeviceRepository) Delete(ctx context.Context, id string) error {
	stmt, args, err := r.builder.Delete(devicesTable).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete device sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteByOwner removes every device of the owner and returns the removed rows.
func (r *DeviceRepository) DeleteByOwner(ctx context.Context, ownerID string) ([]domain.Device, error) {
	stmt, args, err := r.builder.Delete(devicesTable).
		Where(squirrel.Eq{"owner_id": ownerID}).
		Suffix("RETURNING " + strings.Join(deviceColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build delete owner devices sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("delete owner devices: %w", err)
	}
	defer rows.Close()

	deleted := make([]domain.Device, 0)
	for rows.Next() {
		device, err := scanDevice(rows, nil)
		if err != nil {
			return nil, fmt.Errorf("scan deleted device: %w", err)
		}
		deleted = append(deleted, *device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deleted devices: %w", err)
	}
	return deleted, nil
}

func (r *DeviceRepository) getOne(ctx context.Context, where squirrel.Eq) (*domain.Device, error) {
	stmt, args, err := r.builder.Select(deviceColumns...).
		From(devicesTable).
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select device sql: %w", err)
	}

	device, err := scanDevice(r.exec.QueryRow(ctx, stmt, args...), nil)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("scan device: %w", err)
	}
	return device, nil
}

// scanDevice reads deviceColumns in order, plus the inserted flag when requested.
func scanDevice(row pgx.Row, inserted *bool) (*domain.Device, error) {
	var (
		device         domain.Device
		platform       string
		biometricType  string
		state          string
		osVersion      sql.NullString
		modelName      sql.NullString
		brand          sql.NullString
		biometricLabel sql.NullString
		credentials    sql.NullString
		deviceInfo     []byte
		notes          sql.NullString
		lastUsedAt     sql.NullTime
		revokedAt      sql.NullTime
		revokedBy      sql.NullString
	)

	dest := []any{
		&device.ID,
		&device.OwnerID,
		&device.DeviceUUID,
		&device.DeviceName,
		&platform,
		&osVersion,
		&modelName,
		&brand,
		&device.IsPhysical,
		&biometricType,
		&biometricLabel,
		&credentials,
		&deviceInfo,
		&notes,
		&state,
		&device.IsEnabled,
		&device.Archived,
		&device.EnrolledAt,
		&lastUsedAt,
		&revokedAt,
		&revokedBy,
	}
	if inserted != nil {
		dest = append(dest, inserted)
	}

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	device.Platform = domain.Platform(platform)
	device.BiometricType = domain.BiometricType(biometricType)
	device.State = domain.DeviceState(state)
	device.OSVersion = nullableStringPtr(osVersion)
	device.ModelName = nullableStringPtr(modelName)
	device.Brand = nullableStringPtr(brand)
	device.BiometricLabel = nullableStringPtr(biometricLabel)
	device.EncryptedCredentials = nullableStringPtr(credentials)
	if len(deviceInfo) > 0 {
		device.DeviceInfo = deviceInfo
	}
	device.Notes = nullableStringPtr(notes)
	device.EnrolledAt = device.EnrolledAt.UTC()
	device.LastUsedAt = nullableTimePtr(lastUsedAt)
	device.RevokedAt = nullableTimePtr(revokedAt)
	device.RevokedBy = nullableStringPtr(revokedBy)

	return &device, nil
}
