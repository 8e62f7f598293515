// Package config loads the CAMS server configuration from a YAML file with
// CAMS_* environment overrides for deployment-sensitive values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Imports   ImportConfig    `yaml:"imports"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors"`
	Retention RetentionConfig `yaml:"retention"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL settings. An empty DSN selects the
// in-memory store.
type DatabaseConfig struct {
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

// RedisConfig holds the optional redis settings used for the token blacklist.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AuthConfig holds token and credential policy settings.
type AuthConfig struct {
	JWTSecret       string        `yaml:"jwt_secret"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
	BcryptCost      int           `yaml:"bcrypt_cost"`
	MaxFailedLogins int           `yaml:"max_failed_logins"`
	LockoutDuration time.Duration `yaml:"lockout_duration"`
	// EncryptionKey encrypts stored connection passwords. 16, 24 or 32
	// bytes for AES. Empty disables encryption at rest.
	EncryptionKey string `yaml:"encryption_key"`
}

// SchedulerConfig holds connection-test scheduler settings.
type SchedulerConfig struct {
	Enabled        bool          `yaml:"enabled"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	Concurrency    int           `yaml:"concurrency"`
	TestTimeout    time.Duration `yaml:"test_timeout"`
	AlertThreshold int           `yaml:"alert_threshold"`
	AlertWebhook   string        `yaml:"alert_webhook"`
}

// ImportConfig holds bulk-import settings.
type ImportConfig struct {
	MaxErrors    int `yaml:"max_errors"`
	MaxPayloadMB int `yaml:"max_payload_mb"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RateLimitConfig holds per-caller rate limit settings.
type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	Burst             int `yaml:"burst"`
}

// CORSConfig holds allowed origins for the admin frontend.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// RetentionConfig holds log retention settings.
type RetentionConfig struct {
	Days          int           `yaml:"days"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
		},
		Auth: AuthConfig{
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: 7 * 24 * time.Hour,
			BcryptCost:      12,
			MaxFailedLogins: 5,
			LockoutDuration: 15 * time.Minute,
		},
		Scheduler: SchedulerConfig{
			Enabled:        true,
			PollInterval:   30 * time.Second,
			Concurrency:    4,
			TestTimeout:    10 * time.Second,
			AlertThreshold: 3,
		},
		Imports: ImportConfig{
			MaxErrors:    100,
			MaxPayloadMB: 16,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Retention: RetentionConfig{
			Days:          90,
			SweepInterval: time.Hour,
		},
	}
}

// Load reads the configuration file at path (when it exists), applies
// environment overrides, and validates the result. An empty path loads
// defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.Host, "CAMS_SERVER_HOST")
	setInt(&cfg.Server.Port, "CAMS_SERVER_PORT")
	setString(&cfg.Database.DSN, "CAMS_DATABASE_DSN")
	setString(&cfg.Redis.Addr, "CAMS_REDIS_ADDR")
	setString(&cfg.Redis.Password, "CAMS_REDIS_PASSWORD")
	setString(&cfg.Auth.JWTSecret, "CAMS_JWT_SECRET")
	setString(&cfg.Auth.EncryptionKey, "CAMS_ENCRYPTION_KEY")
	setString(&cfg.Scheduler.AlertWebhook, "CAMS_ALERT_WEBHOOK")
	setString(&cfg.Logging.Level, "CAMS_LOG_LEVEL")
	setString(&cfg.Logging.Format, "CAMS_LOG_FORMAT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// Validate checks invariants that would otherwise surface as runtime faults.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("auth.bcrypt_cost %d out of range", c.Auth.BcryptCost)
	}
	switch len(c.Auth.EncryptionKey) {
	case 0, 16, 24, 32:
	default:
		return fmt.Errorf("auth.encryption_key must be 16, 24 or 32 bytes")
	}
	if c.Scheduler.PollInterval < time.Second {
		return fmt.Errorf("scheduler.poll_interval must be at least 1s")
	}
	if c.Scheduler.Concurrency < 1 {
		return fmt.Errorf("scheduler.concurrency must be positive")
	}
	if c.Retention.Days < 1 {
		return fmt.Errorf("retention.days must be positive")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format %q unsupported", c.Logging.Format)
	}
	return nil
}
