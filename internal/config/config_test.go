package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := writeConfig(t, `
server:
  port: "9090"
database:
  driver: sqlite
  path: ":memory:"
storage:
  type: minio
jwt:
  secret: dev
  expire_hours: 2
`)

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.Database.Driver != "sqlite" {
		t.Errorf("server/database not read: %+v %+v", cfg.Server, cfg.Database)
	}
	if cfg.JWT.ExpireTime != 2*time.Hour {
		t.Errorf("jwt expire = %v, want 2h", cfg.JWT.ExpireTime)
	}

	a := cfg.Attempt
	if a.GracePeriod != 3*time.Minute || a.CacheTTL != 30*time.Minute || a.CacheBackend != "memory" {
		t.Errorf("attempt defaults = %+v", a)
	}
	if a.AnswerRetry.MaxAttempts != 3 || a.AnswerRetry.InitialDelay != 500*time.Millisecond || a.AnswerRetry.Timeout != 8*time.Second {
		t.Errorf("answer retry = %+v", a.AnswerRetry)
	}
	if a.SubmitRetry.MaxAttempts != 5 || a.SubmitRetry.Multiplier != 1.5 || a.SubmitRetry.Timeout != 20*time.Second {
		t.Errorf("submit retry = %+v", a.SubmitRetry)
	}
	if p := a.Policy(); p.GracePeriod != a.GracePeriod || p.SubmitRetry != a.SubmitRetry {
		t.Errorf("Policy() = %+v", p)
	}
	if cfg.Log.File != "logs/app.log" || cfg.Log.MaxSizeMB != 100 || cfg.Redis.PoolSize != 50 {
		t.Errorf("log/redis defaults = %+v %+v", cfg.Log, cfg.Redis)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	dir := writeConfig(t, `
database:
  driver: postgres
storage:
  type: minio
attempt:
  grace_period: 5m
  cache_backend: redis
  submit_retry:
    max_attempts: 2
`)
	t.Setenv("EXAM_PORTAL_JWT_SECRET", "from-env")

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Attempt.GracePeriod != 5*time.Minute || cfg.Attempt.CacheBackend != "redis" {
		t.Errorf("attempt = %+v", cfg.Attempt)
	}
	if cfg.Attempt.SubmitRetry.MaxAttempts != 2 || cfg.Attempt.SubmitRetry.InitialDelay != time.Second {
		t.Errorf("submit retry = %+v", cfg.Attempt.SubmitRetry)
	}
	if cfg.JWT.Secret != "from-env" {
		t.Errorf("jwt secret = %q, want from-env", cfg.JWT.Secret)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Server:   ServerConfig{Mode: "debug"},
			Database: DatabaseConfig{Driver: "mysql"},
			Attempt:  AttemptConfig{CacheBackend: "memory", CacheTTL: time.Minute},
		}
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"ok", func(*Config) {}, false},
		{"short secret in release", func(c *Config) { c.Server.Mode = "release"; c.JWT.Secret = "short" }, true},
		{"long secret in release", func(c *Config) {
			c.Server.Mode = "release"
			c.JWT.Secret = "0123456789abcdef0123456789abcdef"
		}, false},
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }, true},
		{"unknown cache backend", func(c *Config) { c.Attempt.CacheBackend = "disk" }, true},
		{"zero cache ttl", func(c *Config) { c.Attempt.CacheTTL = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
