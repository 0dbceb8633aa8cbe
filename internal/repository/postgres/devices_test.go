package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/CharbellTrad/biometric-service/internal/core/domain"
	"github.com/CharbellTrad/biometric-service/internal/core/port"
	"github.com/CharbellTrad/biometric-service/internal/repository"
)

func deviceRow(rows *pgxmock.Rows, id, state string, lastUsed any) *pgxmock.Rows {
	enrolled := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	return rows.AddRow(
		id, "user-1", "uuid-"+id, "Pixel 7", "android", "14", nil, nil, true,
		"fingerprint", nil, nil, nil, nil, state, state != "revoked", false,
		enrolled, lastUsed, nil, nil,
	)
}

func TestDeviceRepository_UpsertReportsReenrolment(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewDeviceRepository(mock)
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows(append(append([]string{}, deviceColumns...), "inserted"))
	rows.AddRow(
		"existing-id", "user-1", "abc", "Pixel 7", "android", "14", nil, nil, true,
		"fingerprint", nil, nil, nil, nil, "active", true, false,
		now.Add(-24*time.Hour), now, nil, nil, false,
	)
	mock.ExpectQuery(`(?s)INSERT INTO biometric\.devices .* ON CONFLICT \(owner_id, device_uuid\) DO UPDATE SET.*os_version = COALESCE\(EXCLUDED\.os_version, devices\.os_version\).*\(xmax = 0\) AS inserted`).
		WithArgs(
			"new-id", "user-1", "abc", "Pixel 7", "android", nil, nil, nil, true,
			"fingerprint", nil, nil, nil, nil, "active", true, false,
			now, nil, nil, nil,
		).
		WillReturnRows(rows)

	device := domain.Device{
		ID:            "new-id",
		OwnerID:       "user-1",
		DeviceUUID:    "abc",
		DeviceName:    "Pixel 7",
		Platform:      domain.PlatformAndroid,
		BiometricType: domain.BiometricFingerprint,
		IsPhysical:    true,
		EnrolledAt:    now,
	}

	stored, created, err := repo.Upsert(context.Background(), device)
	if err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}
	if created {
		t.Fatalf("expected existing row to be reported as re-enrolment")
	}
	if stored.ID != "existing-id" || stored.State != domain.DeviceStateActive {
		t.Fatalf("unexpected stored device: %+v", stored)
	}
	if stored.OSVersion == nil || *stored.OSVersion != "14" {
		t.Fatalf("expected the stored os version to survive an upsert without one, got %v", stored.OSVersion)
	}
	if stored.LastUsedAt == nil || !stored.LastUsedAt.Equal(now) {
		t.Fatalf("expected last use stamped, got %v", stored.LastUsedAt)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeviceRepository_GetByIDNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewDeviceRepository(mock)
	mock.ExpectQuery(`SELECT .* FROM biometric\.devices WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	if _, err := repo.GetByID(context.Background(), "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeviceRepository_ListByOwner(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewDeviceRepository(mock)
	used := time.Date(2024, 5, 9, 8, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows(deviceColumns)
	deviceRow(rows, "d1", "active", used)
	deviceRow(rows, "d2", "inactive", nil)

	mock.ExpectQuery(`SELECT .* FROM biometric\.devices WHERE archived = \$1 AND owner_id = \$2 AND state <> \$3 ORDER BY last_used_at DESC NULLS LAST, enrolled_at DESC`).
		WithArgs(false, "user-1", "revoked").
		WillReturnRows(rows)

	devices, err := repo.ListByOwner(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ListByOwner returned error: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devices))
	}
	if devices[0].LastUsedAt == nil || devices[1].LastUsedAt != nil {
		t.Fatalf("unexpected last use values: %+v", devices)
	}
	if devices[1].State != domain.DeviceStateInactive {
		t.Fatalf("expected inactive state, got %s", devices[1].State)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeviceRepository_FindActiveNarrowsLookup(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewDeviceRepository(mock)

	rows := pgxmock.NewRows(deviceColumns)
	deviceRow(rows, "d1", "active", nil)
	mock.ExpectQuery(`SELECT .* FROM biometric\.devices WHERE \(owner_id = \$1 AND state = \$2 AND archived = \$3 AND platform = \$4\) ORDER BY .* LIMIT 1`).
		WithArgs("user-1", "active", false, "android").
		WillReturnRows(rows)

	device, err := repo.FindActive(context.Background(), "user-1", port.DeviceLookup{Platform: "android"})
	if err != nil {
		t.Fatalf("FindActive returned error: %v", err)
	}
	if device.ID != "d1" {
		t.Fatalf("unexpected device %s", device.ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeviceRepository_MarkUsedSkipsRevoked(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewDeviceRepository(mock)
	at := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE biometric\.devices SET last_used_at = GREATEST\(COALESCE\(last_used_at, \$1\), \$2\), state = \$3 WHERE id = \$4 AND state <> \$5`).
		WithArgs(at, at, "active", "d1", "revoked").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	updated, err := repo.MarkUsed(context.Background(), "d1", at)
	if err != nil {
		t.Fatalf("MarkUsed returned error: %v", err)
	}
	if updated {
		t.Fatalf("expected no update for revoked device")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeviceRepository_UpdateStateMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewDeviceRepository(mock)
	mock.ExpectExec(`UPDATE biometric\.devices SET state = \$1, is_enabled = \$2, revoked_at = \$3, revoked_by = \$4 WHERE id = \$5`).
		WithArgs("revoked", false, nil, nil, "d1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = repo.UpdateState(context.Background(), domain.Device{ID: "d1", State: domain.DeviceStateRevoked})
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeviceRepository_DeleteByOwnerReturnsRows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewDeviceRepository(mock)
	rows := pgxmock.NewRows(deviceColumns)
	deviceRow(rows, "d1", "active", nil)
	deviceRow(rows, "d2", "revoked", nil)

	mock.ExpectQuery(`DELETE FROM biometric\.devices WHERE owner_id = \$1 RETURNING`).
		WithArgs("user-1").
		WillReturnRows(rows)

	deleted, err := repo.DeleteByOwner(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("DeleteByOwner returned error: %v", err)
	}
	if len(deleted) != 2 {
		t.Fatalf("expected 2 deleted devices, got %d", len(deleted))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
