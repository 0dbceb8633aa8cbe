package database

import (
	"testing"
	"time"

	"github.com/CharbellTrad/biometric-service/internal/infra/config"
)

func TestPoolConfigFromSettings(t *testing.T) {
	cfg, err := PoolConfig(config.PostgresSettings{
		Host:            "db.internal",
		Port:            5433,
		User:            "biometric",
		Password:        "p@ss:w/rd",
		Database:        "biometric",
		SSLMode:         "disable",
		MaxConns:        12,
		MinConns:        1,
		MaxConnIdleTime: 10 * time.Minute,
		ConnectTimeout:  3 * time.Second,
	})
	if err != nil {
		t.Fatalf("PoolConfig returned error: %v", err)
	}

	conn := cfg.ConnConfig
	if conn.Host != "db.internal" || conn.Port != 5433 || conn.Database != "biometric" {
		t.Fatalf("unexpected connection target %s:%d/%s", conn.Host, conn.Port, conn.Database)
	}
	if conn.Password != "p@ss:w/rd" {
		t.Fatalf("password must survive escaping, got %q", conn.Password)
	}
	if conn.ConnectTimeout != 3*time.Second {
		t.Fatalf("unexpected connect timeout %s", conn.ConnectTimeout)
	}
	if cfg.MaxConns != 12 || cfg.MinConns != 1 || cfg.MaxConnIdleTime != 10*time.Minute {
		t.Fatalf("pool settings not applied: max=%d min=%d idle=%s", cfg.MaxConns, cfg.MinConns, cfg.MaxConnIdleTime)
	}
	if got := conn.RuntimeParams["search_path"]; got != "biometric,public" {
		t.Fatalf("unexpected search_path %q", got)
	}
	if got := conn.RuntimeParams["application_name"]; got != "biometric-service" {
		t.Fatalf("unexpected application_name %q", got)
	}
}

func TestPoolConfigKeepsDefaultsForZeroSettings(t *testing.T) {
	cfg, err := PoolConfig(config.PostgresSettings{Host: "localhost", Port: 5432, User: "u", Database: "d"})
	if err != nil {
		t.Fatalf("PoolConfig returned error: %v", err)
	}
	if cfg.MaxConns <= 0 {
		t.Fatalf("expected pgx default max conns, got %d", cfg.MaxConns)
	}
}
