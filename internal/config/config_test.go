package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("HTTP_ADDR", ":8080")
	t.Setenv("DB_DSN", "postgres://localhost/bullion")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("JWT_ISSUER", "bullion")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("JWT_TTL", "24h")
	t.Setenv("INTERNAL_TOKEN", "internal")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WalletLockTTL != 7*time.Second {
		t.Errorf("wallet lock ttl = %s", cfg.WalletLockTTL)
	}
	if cfg.AssetLockTTL != 8*time.Second {
		t.Errorf("asset lock ttl = %s", cfg.AssetLockTTL)
	}
	if cfg.IdempotencyTTL != 24*time.Hour {
		t.Errorf("idempotency ttl = %s", cfg.IdempotencyTTL)
	}
	if cfg.OrderTTL != 2*time.Minute {
		t.Errorf("order ttl = %s", cfg.OrderTTL)
	}
	if cfg.SweepInterval != 4*time.Second {
		t.Errorf("sweep interval = %s", cfg.SweepInterval)
	}
	if cfg.ProjectMode != "development" {
		t.Errorf("mode = %s", cfg.ProjectMode)
	}
}

func TestLoadReportsAllMissingVars(t *testing.T) {
	setRequired(t)
	t.Setenv("DB_DSN", "")
	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	if err == nil {
		t.Fatal("expected error for missing env")
	}
	for _, name := range []string{"DB_DSN", "JWT_SECRET"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not name %s", err, name)
		}
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("WALLET_LOCK_TTL", "15s")
	t.Setenv("SWEEP_INTERVAL", "1s")
	t.Setenv("PROJECT_MODE", "production")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WalletLockTTL != 15*time.Second {
		t.Errorf("wallet lock ttl = %s", cfg.WalletLockTTL)
	}
	if cfg.SweepInterval != time.Second {
		t.Errorf("sweep interval = %s", cfg.SweepInterval)
	}
	if cfg.ProjectMode != "production" {
		t.Errorf("mode = %s", cfg.ProjectMode)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	setRequired(t)
	t.Setenv("ORDER_TTL", "soon")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for bad duration")
	}
	t.Setenv("ORDER_TTL", "2m")
	t.Setenv("PROJECT_MODE", "staging")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for bad mode")
	}
}
