package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setSigningKey(t *testing.T) {
	t.Helper()
	t.Setenv("IDENTITY_SIGNING_KEY", "unit-test-key")
}

func TestLoadDefaults(t *testing.T) {
	setSigningKey(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.GRPCAddr != ":9090" {
		t.Errorf("addrs = %q/%q", cfg.HTTPAddr, cfg.GRPCAddr)
	}
	if cfg.AccessTTL() != time.Hour {
		t.Errorf("access ttl = %v", cfg.AccessTTL())
	}
	if cfg.RefreshTTL() != 7*24*time.Hour {
		t.Errorf("refresh ttl = %v", cfg.RefreshTTL())
	}
	if cfg.LockoutDuration() != 15*time.Minute {
		t.Errorf("lockout duration = %v", cfg.LockoutDuration())
	}
	if cfg.MaxFailedAttempts != 5 {
		t.Errorf("max failed attempts = %d", cfg.MaxFailedAttempts)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	setSigningKey(t)
	t.Setenv("IDENTITY_HTTP_ADDR", ":9999")
	t.Setenv("IDENTITY_ACCESS_TTL_MINUTES", "5")
	t.Setenv("IDENTITY_MAX_FAILED_ATTEMPTS", "3")
	t.Setenv("IDENTITY_READ_TIMEOUT", "30s")
	t.Setenv("IDENTITY_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("http addr = %q", cfg.HTTPAddr)
	}
	if cfg.AccessTTL() != 5*time.Minute {
		t.Errorf("access ttl = %v", cfg.AccessTTL())
	}
	if cfg.MaxFailedAttempts != 3 {
		t.Errorf("max failed attempts = %d", cfg.MaxFailedAttempts)
	}
	if cfg.ReadTimeout != 30*time.Second {
		t.Errorf("read timeout = %v", cfg.ReadTimeout)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q", cfg.LogLevel)
	}
}

func TestLoadYAMLFileWithEnvPrecedence(t *testing.T) {
	setSigningKey(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("http_addr: \":7070\"\nissuer: file-issuer\nlockout_minutes: 20\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("IDENTITY_CONFIG_FILE", path)
	t.Setenv("IDENTITY_ISSUER", "env-issuer")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":7070" {
		t.Errorf("http addr = %q, want file value", cfg.HTTPAddr)
	}
	if cfg.LockoutMinutes != 20 {
		t.Errorf("lockout minutes = %d, want file value", cfg.LockoutMinutes)
	}
	if cfg.Issuer != "env-issuer" {
		t.Errorf("issuer = %q, env must win over file", cfg.Issuer)
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	setSigningKey(t)
	t.Setenv("IDENTITY_CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing signing key", func(c *Config) { c.SigningKey = "" }},
		{"missing issuer", func(c *Config) { c.Issuer = "" }},
		{"zero access ttl", func(c *Config) { c.AccessTTLMinutes = 0 }},
		{"negative refresh ttl", func(c *Config) { c.RefreshTTLDays = -1 }},
		{"zero lockout threshold", func(c *Config) { c.MaxFailedAttempts = 0 }},
		{"zero lockout window", func(c *Config) { c.LockoutMinutes = 0 }},
	}
	for _, tc := range cases {
		cfg := defaults()
		cfg.SigningKey = "k"
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}

	cfg := defaults()
	cfg.SigningKey = "k"
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}
