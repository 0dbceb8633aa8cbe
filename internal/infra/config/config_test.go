package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.App.DisplayTZOffset != "-04:00" {
		t.Fatalf("unexpected display offset %q", cfg.App.DisplayTZOffset)
	}
	if cfg.Registry.HistoryDefaultLimit != 20 || cfg.Registry.HistoryMaxLimit != 100 {
		t.Fatalf("unexpected history limits %+v", cfg.Registry)
	}
	if cfg.Registry.StaleAfter != 30*24*time.Hour {
		t.Fatalf("unexpected stale threshold %s", cfg.Registry.StaleAfter)
	}
	if cfg.Redis.SessionEndPolicy != "lenient" {
		t.Fatalf("unexpected session end policy %q", cfg.Redis.SessionEndPolicy)
	}
	if cfg.Redis.PoolSize != 10 || cfg.Redis.DialTimeout != 5*time.Second {
		t.Fatalf("unexpected redis pool settings %+v", cfg.Redis)
	}
	if cfg.Postgres.ConnectTimeout != 5*time.Second {
		t.Fatalf("unexpected postgres connect timeout %s", cfg.Postgres.ConnectTimeout)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BIOMETRIC_APP_DISPLAY_TZ_OFFSET", "+02:00")
	t.Setenv("BIOMETRIC_RATE_LIMIT_LOG_MAX_ATTEMPTS", "7")
	t.Setenv("REDIS_SESSION_END_POLICY", "strict")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.App.DisplayTZOffset != "+02:00" {
		t.Fatalf("expected prefixed env override, got %q", cfg.App.DisplayTZOffset)
	}
	if cfg.RateLimit.LogMaxAttempts != 7 {
		t.Fatalf("expected log limit 7, got %d", cfg.RateLimit.LogMaxAttempts)
	}
	if cfg.Redis.SessionEndPolicy != "strict" {
		t.Fatalf("expected unprefixed env override, got %q", cfg.Redis.SessionEndPolicy)
	}
}

func TestLoadRejectsInvertedHistoryLimits(t *testing.T) {
	t.Setenv("BIOMETRIC_REGISTRY_HISTORY_DEFAULT_LIMIT", "50")
	t.Setenv("BIOMETRIC_REGISTRY_HISTORY_MAX_LIMIT", "10")

	if _, err := Load(); err == nil {
		t.Fatal("expected validation error")
	}
}
