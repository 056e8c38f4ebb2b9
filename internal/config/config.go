package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names recognized by the loader.
const (
	EnvConfigPath   = "CONFIG_PATH"
	EnvDBConnection = "DB_CONNECTION"
	EnvRedisAddr    = "REDIS_ADDR"
	EnvJWTSecret    = "JWT_SECRET"
)

// defaultJWTExpiry is used when the config omits or invalidates JWT expiry.
const defaultJWTExpiry = 24 * time.Hour

// RedisConfig holds the shared state store connection settings.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// AdminConfig holds the admin API auth settings.
type AdminConfig struct {
	JWTSecret string        `yaml:"jwt-secret"`
	JWTExpiry time.Duration `yaml:"jwt-expiry"`
}

// RateLimitConfig holds limiter tuning that lives in the config file rather
// than the database.
type RateLimitConfig struct {
	BlockedDomains []string `yaml:"blocked-domains"`
}

// BreakerConfig holds circuit breaker thresholds for one provider or the
// defaults.
type BreakerConfig struct {
	FailureThreshold    int           `yaml:"failure-threshold"`
	SuccessThreshold    int           `yaml:"success-threshold"`
	Timeout             time.Duration `yaml:"timeout"`
	HalfOpenMaxFailures int           `yaml:"half-open-max-failures"`
}

// CircuitConfig holds breaker defaults plus per-provider overrides.
type CircuitConfig struct {
	Defaults  BreakerConfig            `yaml:"defaults"`
	Providers map[string]BreakerConfig `yaml:"providers"`
}

// AppConfig is the resolved application configuration.
type AppConfig struct {
	ConfigPath  string          `yaml:"-"`
	DatabaseDSN string          `yaml:"database-dsn"`
	Redis       RedisConfig     `yaml:"redis"`
	Admin       AdminConfig     `yaml:"admin"`
	RateLimit   RateLimitConfig `yaml:"rate-limit"`
	Circuit     CircuitConfig   `yaml:"circuit"`
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// Load reads the YAML config file and applies environment overrides. A
// missing file is not an error when the environment supplies the DSN.
func Load(configPath string) (AppConfig, error) {
	cfg := AppConfig{ConfigPath: ResolveConfigPath(configPath)}

	data, errRead := os.ReadFile(cfg.ConfigPath)
	if errRead == nil {
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return AppConfig{}, fmt.Errorf("config: parse %s: %w", cfg.ConfigPath, errUnmarshal)
		}
	} else if !os.IsNotExist(errRead) {
		return AppConfig{}, fmt.Errorf("config: read %s: %w", cfg.ConfigPath, errRead)
	}

	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		cfg.DatabaseDSN = dsn
	}
	if addr := strings.TrimSpace(os.Getenv(EnvRedisAddr)); addr != "" {
		cfg.Redis.Addr = addr
		cfg.Redis.Enabled = true
	}
	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		cfg.Admin.JWTSecret = secret
	}

	cfg.DatabaseDSN = strings.TrimSpace(cfg.DatabaseDSN)
	if cfg.DatabaseDSN == "" {
		return AppConfig{}, fmt.Errorf("config: missing database dsn (set `database-dsn` or env %s)", EnvDBConnection)
	}
	cfg.Redis.Addr = strings.TrimSpace(cfg.Redis.Addr)
	if cfg.Redis.DB < 0 {
		cfg.Redis.DB = 0
	}
	if cfg.Admin.JWTExpiry <= 0 {
		cfg.Admin.JWTExpiry = defaultJWTExpiry
	}
	return cfg, nil
}
