package postgres

import (
	"context"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/CharbellTrad/biometric-service/internal/core/domain"
)

func TestAuthLogRepository_CreateOmitsEmptyOptionals(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewAuthLogRepository(mock)
	at := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	deviceID := "d1"
	blank := "  "

	mock.ExpectExec(`INSERT INTO biometric\.auth_logs`).
		WithArgs(
			"l1", "user-1", "d1", "Pixel 7", "android", at, true, "biometric",
			nil, nil, nil, true, nil, nil, nil, nil, nil,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = repo.Create(context.Background(), domain.AuthLogEntry{
		ID:             "l1",
		UserID:         "user-1",
		DeviceID:       &deviceID,
		DeviceName:     "Pixel 7",
		DevicePlatform: "android",
		AuthDate:       at,
		Success:        true,
		AuthType:       domain.AuthTypeBiometric,
		SessionID:      &blank,
		SessionActive:  true,
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAuthLogRepository_ListAppliesFilterAndPaging(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewAuthLogRepository(mock)
	at := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows(authLogColumns).
		AddRow("l2", "user-1", nil, "Browser", "web", at, true, "traditional", nil, nil, "s2", true, nil, "203.0.113.9", "UA", nil, nil).
		AddRow("l1", "user-1", "d1", "Pixel 7", "android", at.Add(-time.Minute), false, "biometric", "E1", "no match", nil, false, nil, nil, nil, int64(850), nil)

	active := true
	mock.ExpectQuery(`SELECT .* FROM biometric\.auth_logs WHERE \(user_id = \$1 AND session_active = \$2\) ORDER BY auth_date DESC, id DESC LIMIT 10 OFFSET 10`).
		WithArgs("user-1", true).
		WillReturnRows(rows)

	entries, err := repo.List(context.Background(), domain.AuthLogFilter{UserID: "user-1", SessionActive: &active}, 10, 10)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].DeviceID != nil || entries[0].SessionID == nil || *entries[0].SessionID != "s2" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].ErrorCode == nil || *entries[1].ErrorCode != "E1" || entries[1].DurationMS == nil || *entries[1].DurationMS != 850 {
		t.Fatalf("unexpected second entry: %+v", entries[1])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAuthLogRepository_EndSessionsCollectsDistinctIDs(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewAuthLogRepository(mock)
	at := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	active := true

	rows := pgxmock.NewRows([]string{"session_id"}).
		AddRow("s1").
		AddRow("s1").
		AddRow(nil)

	mock.ExpectQuery(`UPDATE biometric\.auth_logs SET session_active = \$1, session_ended_at = \$2 WHERE \(user_id = \$3 AND session_active = \$4\) AND session_active = \$5 RETURNING session_id`).
		WithArgs(false, at, "user-1", true, true).
		WillReturnRows(rows)

	count, sessions, err := repo.EndSessions(context.Background(), domain.AuthLogFilter{UserID: "user-1", SessionActive: &active}, at)
	if err != nil {
		t.Fatalf("EndSessions returned error: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 entries ended, got %d", count)
	}
	if len(sessions) != 1 || sessions[0] != "s1" {
		t.Fatalf("expected distinct session ids [s1], got %v", sessions)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAuthLogRepository_StatsForDevices(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewAuthLogRepository(mock)
	last := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{"device_id", "count", "successful", "last_auth", "last_success"}).
		AddRow("d1", 4, 3, last, last.Add(-time.Minute))

	mock.ExpectQuery(`SELECT device_id, COUNT\(\*\), COUNT\(\*\) FILTER \(WHERE success\), MAX\(auth_date\), MAX\(auth_date\) FILTER \(WHERE success\) FROM biometric\.auth_logs WHERE device_id IN \(\$1,\$2\) GROUP BY device_id`).
		WithArgs("d1", "d2").
		WillReturnRows(rows)

	stats, err := repo.StatsForDevices(context.Background(), []string{"d1", "d2"})
	if err != nil {
		t.Fatalf("StatsForDevices returned error: %v", err)
	}
	d1 := stats["d1"]
	if d1.Total != 4 || d1.Successful != 3 || d1.LastAuth == nil || !d1.LastAuth.Equal(last) {
		t.Fatalf("unexpected d1 stats: %+v", d1)
	}
	if _, ok := stats["d2"]; ok {
		t.Fatalf("expected no stats for device without entries")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAuthLogRepository_StatsForNoDevicesSkipsQuery(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	stats, err := NewAuthLogRepository(mock).StatsForDevices(context.Background(), nil)
	if err != nil || len(stats) != 0 {
		t.Fatalf("expected empty stats, got %v err=%v", stats, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
