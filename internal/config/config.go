package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full service configuration. Environment variables
// win over the optional YAML file; both win over defaults.
type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`

	PostgresDSN string `yaml:"postgres_dsn"`
	RedisURL    string `yaml:"redis_url"`

	SigningKey string `yaml:"signing_key"`
	Issuer     string `yaml:"issuer"`
	Audience   string `yaml:"audience"`

	AccessTTLMinutes  int `yaml:"access_ttl_minutes"`
	RefreshTTLDays    int `yaml:"refresh_ttl_days"`
	MaxFailedAttempts int `yaml:"max_failed_attempts"`
	LockoutMinutes    int `yaml:"lockout_minutes"`

	LoginRatePerMinute int `yaml:"login_rate_per_minute"`
	LoginBurst         int `yaml:"login_burst"`

	CaptchaEndpoint string `yaml:"captcha_endpoint"`
	CaptchaSecret   string `yaml:"captcha_secret"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	LogLevel string `yaml:"log_level"`
}

func defaults() Config {
	return Config{
		HTTPAddr:           ":8080",
		GRPCAddr:           ":9090",
		Issuer:             "identra",
		Audience:           "identra-api",
		AccessTTLMinutes:   60,
		RefreshTTLDays:     7,
		MaxFailedAttempts:  5,
		LockoutMinutes:     15,
		LoginRatePerMinute: 30,
		LoginBurst:         10,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       15 * time.Second,
		IdleTimeout:        60 * time.Second,
		ShutdownTimeout:    10 * time.Second,
		LogLevel:           "info",
	}
}

// Load builds the configuration from IDENTITY_CONFIG_FILE (if set) and
// IDENTITY_* environment variables, then validates it.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("IDENTITY_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.HTTPAddr = getEnv("IDENTITY_HTTP_ADDR", cfg.HTTPAddr)
	cfg.GRPCAddr = getEnv("IDENTITY_GRPC_ADDR", cfg.GRPCAddr)
	cfg.PostgresDSN = getEnv("IDENTITY_PG_DSN", cfg.PostgresDSN)
	cfg.RedisURL = getEnv("IDENTITY_REDIS_URL", cfg.RedisURL)
	cfg.SigningKey = getEnv("IDENTITY_SIGNING_KEY", cfg.SigningKey)
	cfg.Issuer = getEnv("IDENTITY_ISSUER", cfg.Issuer)
	cfg.Audience = getEnv("IDENTITY_AUDIENCE", cfg.Audience)
	cfg.AccessTTLMinutes = getEnvInt("IDENTITY_ACCESS_TTL_MINUTES", cfg.AccessTTLMinutes)
	cfg.RefreshTTLDays = getEnvInt("IDENTITY_REFRESH_TTL_DAYS", cfg.RefreshTTLDays)
	cfg.MaxFailedAttempts = getEnvInt("IDENTITY_MAX_FAILED_ATTEMPTS", cfg.MaxFailedAttempts)
	cfg.LockoutMinutes = getEnvInt("IDENTITY_LOCKOUT_MINUTES", cfg.LockoutMinutes)
	cfg.LoginRatePerMinute = getEnvInt("IDENTITY_LOGIN_RATE_PER_MINUTE", cfg.LoginRatePerMinute)
	cfg.LoginBurst = getEnvInt("IDENTITY_LOGIN_BURST", cfg.LoginBurst)
	cfg.CaptchaEndpoint = getEnv("IDENTITY_CAPTCHA_ENDPOINT", cfg.CaptchaEndpoint)
	cfg.CaptchaSecret = getEnv("IDENTITY_CAPTCHA_SECRET", cfg.CaptchaSecret)
	cfg.ReadTimeout = getEnvDuration("IDENTITY_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = getEnvDuration("IDENTITY_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.IdleTimeout = getEnvDuration("IDENTITY_IDLE_TIMEOUT", cfg.IdleTimeout)
	cfg.ShutdownTimeout = getEnvDuration("IDENTITY_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	cfg.LogLevel = getEnv("IDENTITY_LOG_LEVEL", cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.SigningKey == "" {
		return errors.New("config: signing key is required (IDENTITY_SIGNING_KEY)")
	}
	if c.Issuer == "" {
		return errors.New("config: issuer is required")
	}
	if c.AccessTTLMinutes <= 0 || c.RefreshTTLDays <= 0 {
		return errors.New("config: token lifetimes must be positive")
	}
	if c.MaxFailedAttempts <= 0 || c.LockoutMinutes <= 0 {
		return errors.New("config: lockout settings must be positive")
	}
	return nil
}

// AccessTTL returns the access-token lifetime as a duration.
func (c *Config) AccessTTL() time.Duration {
	return time.Duration(c.AccessTTLMinutes) * time.Minute
}

// RefreshTTL returns the refresh-token lifetime as a duration.
func (c *Config) RefreshTTL() time.Duration {
	return time.Duration(c.RefreshTTLDays) * 24 * time.Hour
}

// LockoutDuration returns the lockout window as a duration.
func (c *Config) LockoutDuration() time.Duration {
	return time.Duration(c.LockoutMinutes) * time.Minute
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
