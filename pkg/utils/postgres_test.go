package utils

import (
	"testing"
	"time"
)

func TestPostgresPoolDefaults(t *testing.T) {
	cfg := PostgresPoolConfig{}.withDefaults()
	if cfg.MaxOpenConns != 10 || cfg.MaxIdleConns != 5 {
		t.Fatalf("pool sizes = %d/%d", cfg.MaxOpenConns, cfg.MaxIdleConns)
	}
	if cfg.PingTimeout != 5*time.Second {
		t.Fatalf("ping timeout = %v", cfg.PingTimeout)
	}
}

func TestPostgresPoolDefaultsRespectOverrides(t *testing.T) {
	cfg := PostgresPoolConfig{MaxOpenConns: 5, PingTimeout: time.Second}.withDefaults()
	if cfg.MaxOpenConns != 5 {
		t.Fatalf("MaxOpenConns = %d", cfg.MaxOpenConns)
	}
	if cfg.PingTimeout != time.Second {
		t.Fatalf("PingTimeout = %v", cfg.PingTimeout)
	}
}
