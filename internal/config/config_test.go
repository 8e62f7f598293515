package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Auth.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("AccessTokenTTL = %v", cfg.Auth.AccessTokenTTL)
	}
	if cfg.Auth.RefreshTokenTTL != 7*24*time.Hour {
		t.Fatalf("RefreshTokenTTL = %v", cfg.Auth.RefreshTokenTTL)
	}
	if !cfg.Scheduler.Enabled || cfg.Scheduler.PollInterval != 30*time.Second {
		t.Fatalf("Scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Retention.Days != 90 {
		t.Fatalf("Retention.Days = %d", cfg.Retention.Days)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cams.yaml")
	body := `
server:
  port: 9090
auth:
  jwt_secret: file-secret-at-least-32-bytes-long!!
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CAMS_SERVER_PORT", "7070")
	t.Setenv("CAMS_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// environment wins over the file
	if cfg.Server.Port != 7070 {
		t.Fatalf("Server.Port = %d, want env override 7070", cfg.Server.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
	if cfg.Auth.JWTSecret != "file-secret-at-least-32-bytes-long!!" {
		t.Fatalf("JWTSecret = %q", cfg.Auth.JWTSecret)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("Server.Port = %d, want default", cfg.Server.Port)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, false},
		{"short jwt secret", func(c *Config) { c.Auth.JWTSecret = "short" }, false},
		{"bad bcrypt cost", func(c *Config) { c.Auth.BcryptCost = 2 }, false},
		{"odd encryption key", func(c *Config) { c.Auth.EncryptionKey = "10-bytes!!" }, false},
		{"aes-128 key", func(c *Config) { c.Auth.EncryptionKey = "0123456789abcdef" }, true},
		{"sub-second poll", func(c *Config) { c.Scheduler.PollInterval = 100 * time.Millisecond }, false},
		{"zero retention", func(c *Config) { c.Retention.Days = 0 }, false},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, false},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(cfg)
		err := cfg.Validate()
		if tc.ok != (err == nil) {
			t.Fatalf("%s: err = %v, want ok=%v", tc.name, err, tc.ok)
		}
	}
}
