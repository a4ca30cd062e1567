package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "127.0.0.1"

database:
  url: "postgres://localhost/delivery?sslmode=disable"
  max_open_conns: 10

queue:
  backend: "sqs"
  lease_seconds: 120
  sqs_queue_url: "https://sqs.us-west-2.amazonaws.com/123/jobs"

rate_limits:
  backend: "redis"
  per_second: 5
  per_minute: 100
  per_day: 1000

worker:
  concurrency: 8
  max_attempts: 3
  provider_timeout_seconds: 4

scheduler:
  poll_interval_seconds: 15

log:
  level: "debug"
  redact_pii: false
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr())
	assert.Equal(t, 10, cfg.Database.MaxOpenConns)

	assert.Equal(t, "sqs", cfg.Queue.Backend)
	assert.Equal(t, 2*time.Minute, cfg.Queue.Lease())

	assert.Equal(t, "redis", cfg.RateLimits.Backend)
	assert.Equal(t, 5, cfg.RateLimits.PerSecond)
	assert.Equal(t, 100, cfg.RateLimits.PerMinute)
	assert.Equal(t, 1000, cfg.RateLimits.PerDay)

	assert.Equal(t, 8, cfg.Worker.Concurrency)
	assert.Equal(t, 3, cfg.Worker.MaxAttempts)
	assert.Equal(t, 4*time.Second, cfg.Worker.ProviderTimeout())
	assert.Equal(t, 15*time.Second, cfg.Scheduler.PollInterval())

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.Log.Redact())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "us-west-2", cfg.SES.Region)
	assert.Equal(t, "postgres", cfg.Queue.Backend)
	assert.Equal(t, "memory", cfg.RateLimits.Backend)
	assert.Equal(t, 0.25, cfg.RateLimits.ThrottledFraction)
	assert.Equal(t, 5, cfg.Worker.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Worker.ProviderTimeout())
	assert.Equal(t, 30*time.Second, cfg.Worker.BaseBackoff())
	assert.Equal(t, time.Hour, cfg.Worker.MaxBackoff())
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.DeferredRetryDelay())
	assert.NotEmpty(t, cfg.Worker.ID)
	assert.True(t, cfg.Log.Redact())
	assert.False(t, cfg.WhatsApp.Enabled())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("REDIS_URL", "redis://env:6379/0")
	t.Setenv("AWS_SES_REGION", "eu-west-1")
	t.Setenv("SQS_QUEUE_URL", "https://sqs.eu-west-1.amazonaws.com/1/q")
	t.Setenv("PORT", "7070")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := LoadFromEnv("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://env/db", cfg.Database.URL)
	assert.Equal(t, "redis://env:6379/0", cfg.Redis.URL)
	assert.Equal(t, "eu-west-1", cfg.SES.Region)
	assert.Equal(t, "sqs", cfg.Queue.Backend)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
}
