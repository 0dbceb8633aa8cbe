package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CharbellTrad/biometric-service/internal/core/domain"
	"github.com/CharbellTrad/biometric-service/internal/core/port"
)

const authLogsTable = "biometric.auth_logs"

var authLogColumns = []string{
	"id",
	"user_id",
	"device_id",
	"device_name",
	"device_platform",
	"auth_date",
	"success",
	"auth_type",
	"error_code",
	"error_message",
	"session_id",
	"session_active",
	"session_ended_at",
	"ip_address",
	"user_agent",
	"duration_ms",
	"notes",
}

// AuthLogRepository implements port.AuthLogRepository backed by PostgreSQL.
type AuthLogRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewAuthLogRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewAuthLogRepository(exec pgExecutor) *AuthLogRepository {
	repo := &AuthLogRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

var _ port.AuthLogRepository = (*AuthLogRepository)(nil)

// Create appends an entry to the log.
func (r *AuthLogRepository) Create(ctx context.Context, entry domain.AuthLogEntry) error {
	stmt, args, err := r.builder.Insert(authLogsTable).
		Columns(authLogColumns...).
		Values(
			entry.ID,
			entry.UserID,
			optionalString(entry.DeviceID),
			entry.DeviceName,
			entry.DevicePlatform,
			entry.AuthDate.UTC(),
			entry.Success,
			string(entry.AuthType),
			optionalString(entry.ErrorCode),
			optionalString(entry.ErrorMessage),
			optionalString(entry.SessionID),
			entry.SessionActive,
			optionalTime(entry.SessionEndedAt),
			optionalString(entry.IPAddress),
			optionalString(entry.UserAgent),
			optionalInt(entry.DurationMS),
			optionalString(entry.Notes),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert auth log sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert auth log: %w", err)
	}
	return nil
}

// Count returns the number of entries matching the filter.
func (r *AuthLogRepository) Count(ctx context.Context, filter domain.AuthLogFilter) (int, error) {
	stmt, args, err := r.builder.Select("COUNT(*)").
		From(authLogsTable).
		Where(filterPredicate(filter)).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count auth logs sql: %w", err)
	}

	var count int
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count auth logs: %w", err)
	}
	return count, nil
}

// List returns entries matching the filter newest first. A non-positive limit returns everything.
func (r *AuthLogRepository) List(ctx context.Context, filter domain.AuthLogFilter, limit, offset int) ([]domain.AuthLogEntry, error) {
	query := r.builder.Select(authLogColumns...).
		From(authLogsTable).
		Where(filterPredicate(filter)).
		OrderBy("auth_date DESC", "id DESC")
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}
	if offset > 0 {
		query = query.Offset(uint64(offset))
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list auth logs sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query auth logs: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.AuthLogEntry, 0)
	for rows.Next() {
		entry, err := scanAuthLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan auth log: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate auth logs: %w", err)
	}
	return entries, nil
}

// EndSessions closes every still-active matching entry in one statement and
// returns how many were closed plus the distinct session ids involved.
func (r *AuthLogRepository) EndSessions(ctx context.Context, filter domain.AuthLogFilter, at time.Time) (int, []string, error) {
	stmt, args, err := r.builder.Update(authLogsTable).
		Set("session_active", false).
		Set("session_ended_at", at.UTC()).
		Where(filterPredicate(filter)).
		Where(squirrel.Eq{"session_active": true}).
		Suffix("RETURNING session_id").
		ToSql()
	if err != nil {
		return 0, nil, fmt.Errorf("build end sessions sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return 0, nil, fmt.Errorf("end sessions: %w", err)
	}
	defer rows.Close()

	count := 0
	seen := make(map[string]struct{})
	sessionIDs := make([]string, 0)
	for rows.Next() {
		var sessionID sql.NullString
		if err := rows.Scan(&sessionID); err != nil {
			return 0, nil, fmt.Errorf("scan ended session: %w", err)
		}
		count++
		id := strings.TrimSpace(sessionID.String)
		if !sessionID.Valid || id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		sessionIDs = append(sessionIDs, id)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("iterate ended sessions: %w", err)
	}
	return count, sessionIDs, nil
}

// StatsForDevice aggregates every attempt recorded against a device.
func (r *AuthLogRepository) StatsForDevice(ctx context.Context, deviceID string) (domain.AuthStats, error) {
	stats, err := r.StatsForDevices(ctx, []string{deviceID})
	if err != nil {
		return domain.AuthStats{}, err
	}
	return stats[deviceID], nil
}

// StatsForDevices aggregates attempts for several devices in one query.
// Devices without entries are absent from the result.
func (r *AuthLogRepository) StatsForDevices(ctx context.Context, deviceIDs []string) (map[string]domain.AuthStats, error) {
	result := make(map[string]domain.AuthStats, len(deviceIDs))
	if len(deviceIDs) == 0 {
		return result, nil
	}

	stmt, args, err := r.builder.Select(
		"device_id",
		"COUNT(*)",
		"COUNT(*) FILTER (WHERE success)",
		"MAX(auth_date)",
		"MAX(auth_date) FILTER (WHERE success)",
	).
		From(authLogsTable).
		Where(squirrel.Eq{"device_id": deviceIDs}).
		GroupBy("device_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build device stats sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query device stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			deviceID    string
			stats       domain.AuthStats
			lastAuth    sql.NullTime
			lastSuccess sql.NullTime
		)
		if err := rows.Scan(&deviceID, &stats.Total, &stats.Successful, &lastAuth, &lastSuccess); err != nil {
			return nil, fmt.Errorf("scan device stats: %w", err)
		}
		stats.LastAuth = nullableTimePtr(lastAuth)
		stats.LastSuccess = nullableTimePtr(lastSuccess)
		result[deviceID] = stats
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate device stats: %w", err)
	}
	return result, nil
}

func filterPredicate(filter domain.AuthLogFilter) squirrel.And {
	where := squirrel.And{squirrel.Eq{"user_id": filter.UserID}}
	if filter.DeviceID != nil {
		where = append(where, squirrel.Eq{"device_id": *filter.DeviceID})
	}
	if filter.SessionID != nil {
		where = append(where, squirrel.Eq{"session_id": *filter.SessionID})
	}
	if filter.SessionActive != nil {
		where = append(where, squirrel.Eq{"session_active": *filter.SessionActive})
	}
	if filter.Success != nil {
		where = append(where, squirrel.Eq{"success": *filter.Success})
	}
	return where
}

func scanAuthLog(row pgx.Row) (*domain.AuthLogEntry, error) {
	var (
		entry          domain.AuthLogEntry
		authType       string
		deviceID       sql.NullString
		deviceName     sql.NullString
		devicePlatform sql.NullString
		errorCode      sql.NullString
		errorMessage   sql.NullString
		sessionID      sql.NullString
		sessionEndedAt sql.NullTime
		ipAddress      sql.NullString
		userAgent      sql.NullString
		durationMS     sql.NullInt64
		notes          sql.NullString
	)

	if err := row.Scan(
		&entry.ID,
		&entry.UserID,
		&deviceID,
		&deviceName,
		&devicePlatform,
		&entry.AuthDate,
		&entry.Success,
		&authType,
		&errorCode,
		&errorMessage,
		&sessionID,
		&entry.SessionActive,
		&sessionEndedAt,
		&ipAddress,
		&userAgent,
		&durationMS,
		&notes,
	); err != nil {
		return nil, err
	}

	entry.AuthType = domain.AuthType(authType)
	entry.AuthDate = entry.AuthDate.UTC()
	entry.DeviceID = nullableStringPtr(deviceID)
	entry.DeviceName = deviceName.String
	entry.DevicePlatform = devicePlatform.String
	entry.ErrorCode = nullableStringPtr(errorCode)
	entry.ErrorMessage = nullableStringPtr(errorMessage)
	entry.SessionID = nullableStringPtr(sessionID)
	entry.SessionEndedAt = nullableTimePtr(sessionEndedAt)
	entry.IPAddress = nullableStringPtr(ipAddress)
	entry.UserAgent = nullableStringPtr(userAgent)
	entry.DurationMS = nullableIntPtr(durationMS)
	entry.Notes = nullableStringPtr(notes)

	return &entry, nil
}
