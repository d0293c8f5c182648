package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

// unsetenv removes key for the duration of the test.
func unsetenv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("unset %s: %v", key, err)
		}
	}
}

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	unsetenv(t, "AUTH_SECRET")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if err := cfg.ValidateSecurity(); err == nil {
		t.Fatalf("expected missing secret to fail validation")
	}
}

func TestLoadDefaults(t *testing.T) {
	unsetenv(t, "PORT", "CHECKOUT_IDLE_TTL", "ACCESS_TOKEN_TTL", "REDIS_ADDR")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("expected :8080, got %s", cfg.Address())
	}
	if cfg.CheckoutIdleTTL != 30*time.Minute || cfg.AccessTokenTTL != 8*time.Hour {
		t.Fatalf("unexpected ttl defaults: idle=%s token=%s", cfg.CheckoutIdleTTL, cfg.AccessTokenTTL)
	}
	if cfg.UseRedis() {
		t.Fatalf("expected redis to be off without REDIS_ADDR")
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("REDIS_ADDR", "127.0.0.1:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("CHECKOUT_IDLE_TTL", "5m")
	t.Setenv("AUTH_SECRET", "  "+strings.Repeat("k", 32)+"  ")
	t.Setenv("SEED_DEMO_DATA", "false")
	unsetenv(t, "ACCESS_TOKEN_TTL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address() != ":9090" || cfg.RedisDB != 2 || !cfg.UseRedis() {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.CheckoutIdleTTL != 5*time.Minute || cfg.SeedDemoData {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if err := cfg.ValidateSecurity(); err != nil {
		t.Fatalf("expected trimmed 32 char secret to pass, got %v", err)
	}
}

func TestLoadRejectsBadDurations(t *testing.T) {
	unsetenv(t, "ACCESS_TOKEN_TTL")
	t.Setenv("CHECKOUT_IDLE_TTL", "soon")
	if _, err := Load(); err == nil {
		t.Fatalf("expected unparsable duration to fail")
	}

	t.Setenv("CHECKOUT_IDLE_TTL", "-1m")
	if _, err := Load(); err == nil {
		t.Fatalf("expected negative duration to fail")
	}
}

func TestValidateSecurityRejectsWildcardOrigin(t *testing.T) {
	cfg := Config{AuthSecret: strings.Repeat("k", 32), AllowedOrigin: "*"}
	if err := cfg.ValidateSecurity(); err == nil {
		t.Fatalf("expected wildcard origin to be rejected")
	}
}
