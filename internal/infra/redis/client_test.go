package redis

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/CharbellTrad/biometric-service/internal/infra/config"
)

func settingsFor(t *testing.T, server *miniredis.Miniredis) config.RedisSettings {
	t.Helper()
	host, port, err := net.SplitHostPort(server.Addr())
	if err != nil {
		t.Fatalf("split miniredis addr: %v", err)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		t.Fatalf("parse miniredis port: %v", err)
	}
	return config.RedisSettings{Host: host, Port: p, PoolSize: 4, DialTimeout: time.Second}
}

func TestOptionsFromSettings(t *testing.T) {
	opts := Options(config.RedisSettings{
		Host:         "cache.internal",
		Port:         6380,
		DB:           2,
		TLSEnabled:   true,
		PoolSize:     25,
		MinIdleConns: 3,
		MaxRetries:   1,
		ReadTimeout:  2 * time.Second,
	})

	if opts.Addr != "cache.internal:6380" || opts.DB != 2 {
		t.Fatalf("unexpected address %s db %d", opts.Addr, opts.DB)
	}
	if opts.PoolSize != 25 || opts.MinIdleConns != 3 || opts.MaxRetries != 1 {
		t.Fatalf("pool settings not carried over: %+v", opts)
	}
	if opts.ReadTimeout != 2*time.Second {
		t.Fatalf("unexpected read timeout %s", opts.ReadTimeout)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.ServerName != "cache.internal" {
		t.Fatalf("expected tls config for cache.internal, got %+v", opts.TLSConfig)
	}
}

func TestNewClientHealthCheck(t *testing.T) {
	server := miniredis.RunT(t)

	client, err := NewClient(context.Background(), settingsFor(t, server), nil)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("expected healthy redis, got %v", err)
	}
	if client.Client().Options().PoolSize != 4 {
		t.Fatalf("expected configured pool size, got %d", client.Client().Options().PoolSize)
	}

	server.Close()
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Fatalf("expected health check to fail once redis is gone")
	}
}

func TestNewClientFailsWhenUnreachable(t *testing.T) {
	server := miniredis.RunT(t)
	settings := settingsFor(t, server)
	server.Close()

	if _, err := NewClient(context.Background(), settings, nil); err == nil {
		t.Fatalf("expected error for unreachable redis")
	}
}
