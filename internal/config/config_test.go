package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if errWrite := os.WriteFile(path, []byte(content), 0o600); errWrite != nil {
		t.Fatalf("write config: %v", errWrite)
	}
	return path
}

func TestLoadParsesYAML(t *testing.T) {
	path := writeConfig(t, `
database-dsn: "file:test.db"
redis:
  enabled: true
  addr: "127.0.0.1:6379"
  prefix: "mra"
admin:
  jwt-secret: "s3cret"
  jwt-expiry: 2h
rate-limit:
  blocked-domains:
    - banned.test
circuit:
  defaults:
    failure-threshold: 3
    timeout: 30s
  providers:
    openai:
      failure-threshold: 10
`)
	t.Setenv(EnvDBConnection, "")
	t.Setenv(EnvRedisAddr, "")
	t.Setenv(EnvJWTSecret, "")

	cfg, errLoad := Load(path)
	if errLoad != nil {
		t.Fatalf("load: %v", errLoad)
	}
	if cfg.DatabaseDSN != "file:test.db" {
		t.Fatalf("dsn: got %q", cfg.DatabaseDSN)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "127.0.0.1:6379" {
		t.Fatalf("redis: %+v", cfg.Redis)
	}
	if cfg.Admin.JWTSecret != "s3cret" || cfg.Admin.JWTExpiry != 2*time.Hour {
		t.Fatalf("admin: %+v", cfg.Admin)
	}
	if len(cfg.RateLimit.BlockedDomains) != 1 || cfg.RateLimit.BlockedDomains[0] != "banned.test" {
		t.Fatalf("blocked domains: %+v", cfg.RateLimit.BlockedDomains)
	}
	if cfg.Circuit.Defaults.FailureThreshold != 3 || cfg.Circuit.Defaults.Timeout != 30*time.Second {
		t.Fatalf("circuit defaults: %+v", cfg.Circuit.Defaults)
	}
	if cfg.Circuit.Providers["openai"].FailureThreshold != 10 {
		t.Fatalf("provider override: %+v", cfg.Circuit.Providers)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
database-dsn: "file:from-file.db"
admin:
  jwt-secret: "from-file"
`)
	t.Setenv(EnvDBConnection, "file:from-env.db")
	t.Setenv(EnvRedisAddr, "10.0.0.1:6379")
	t.Setenv(EnvJWTSecret, "from-env")

	cfg, errLoad := Load(path)
	if errLoad != nil {
		t.Fatalf("load: %v", errLoad)
	}
	if cfg.DatabaseDSN != "file:from-env.db" {
		t.Fatalf("env must win for dsn, got %q", cfg.DatabaseDSN)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "10.0.0.1:6379" {
		t.Fatalf("env redis addr should enable redis: %+v", cfg.Redis)
	}
	if cfg.Admin.JWTSecret != "from-env" {
		t.Fatalf("env must win for jwt secret, got %q", cfg.Admin.JWTSecret)
	}
}

func TestLoadMissingFileNeedsEnvDSN(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yaml")
	t.Setenv(EnvDBConnection, "")

	if _, errLoad := Load(missing); errLoad == nil {
		t.Fatal("missing file without env dsn must fail")
	}

	t.Setenv(EnvDBConnection, "file:env-only.db")
	cfg, errLoad := Load(missing)
	if errLoad != nil {
		t.Fatalf("missing file with env dsn: %v", errLoad)
	}
	if cfg.DatabaseDSN != "file:env-only.db" {
		t.Fatalf("dsn: got %q", cfg.DatabaseDSN)
	}
	if cfg.Admin.JWTExpiry != defaultJWTExpiry {
		t.Fatalf("jwt expiry default: got %s", cfg.Admin.JWTExpiry)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "database-dsn: [not: valid")
	if _, errLoad := Load(path); errLoad == nil {
		t.Fatal("malformed yaml must fail")
	}
}
