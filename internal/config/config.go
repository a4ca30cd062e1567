package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the delivery service.
type Config struct {
	Server     ServerConfig    `yaml:"server"`
	Database   DatabaseConfig  `yaml:"database"`
	Redis      RedisConfig     `yaml:"redis"`
	SES        SESConfig       `yaml:"ses"`
	WhatsApp   WhatsAppConfig  `yaml:"whatsapp"`
	Queue      QueueConfig     `yaml:"queue"`
	RateLimits RateLimitConfig `yaml:"rate_limits"`
	Worker     WorkerConfig    `yaml:"worker"`
	Scheduler  SchedulerConfig `yaml:"scheduler"`
	Webhooks   WebhookConfig   `yaml:"webhooks"`
	Settings   SettingsConfig  `yaml:"settings"`
	Log        LogConfig       `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port                int      `yaml:"port"`
	Host                string   `yaml:"host"`
	ReadTimeoutSeconds  int      `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int      `yaml:"write_timeout_seconds"`
	AllowedOrigins      []string `yaml:"allowed_origins"`
}

// Addr returns host:port for http.Server.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// ReadTimeout returns the read timeout as a time.Duration.
func (s ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout returns the write timeout as a time.Duration.
func (s ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutSeconds) * time.Second
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	URL                    string `yaml:"url"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// ConnMaxLifetime returns the connection lifetime as a time.Duration.
func (d DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(d.ConnMaxLifetimeMinutes) * time.Minute
}

// RedisConfig holds Redis settings. An empty URL disables Redis; the
// rate limiter then stays process-local and locks fall back to Postgres.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// SESConfig holds AWS SES API configuration
type SESConfig struct {
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	Region           string `yaml:"region"`
	FromAddress      string `yaml:"from_address"`
	FromName         string `yaml:"from_name"`
	ConfigurationSet string `yaml:"configuration_set"`
}

// WhatsAppConfig holds the WhatsApp Cloud API settings.
type WhatsAppConfig struct {
	BaseURL       string `yaml:"base_url"`
	PhoneNumberID string `yaml:"phone_number_id"`
	AccessToken   string `yaml:"access_token"`
}

// Enabled reports whether WhatsApp sending is configured.
func (w WhatsAppConfig) Enabled() bool { return w.PhoneNumberID != "" && w.AccessToken != "" }

// QueueConfig selects the delivery queue backend.
type QueueConfig struct {
	Backend      string `yaml:"backend"` // "postgres" or "sqs"
	LeaseSeconds int    `yaml:"lease_seconds"`
	SQSQueueURL  string `yaml:"sqs_queue_url"`
	SQSRegion    string `yaml:"sqs_region"`
}

// Lease returns the claim lease as a time.Duration.
func (q QueueConfig) Lease() time.Duration { return time.Duration(q.LeaseSeconds) * time.Second }

// RateLimitConfig holds the provider send budget.
type RateLimitConfig struct {
	Backend           string  `yaml:"backend"` // "memory" or "redis"
	PerSecond         int     `yaml:"per_second"`
	PerMinute         int     `yaml:"per_minute"`
	PerDay            int     `yaml:"per_day"`
	ThrottledFraction float64 `yaml:"throttled_fraction"`
	KeyPrefix         string  `yaml:"key_prefix"`
}

// WorkerConfig holds delivery worker pool settings.
type WorkerConfig struct {
	ID                     string `yaml:"id"`
	Concurrency            int    `yaml:"concurrency"`
	BatchSize              int    `yaml:"batch_size"`
	PollIntervalMillis     int    `yaml:"poll_interval_millis"`
	MaxAttempts            int    `yaml:"max_attempts"`
	BaseBackoffSeconds     int    `yaml:"base_backoff_seconds"`
	MaxBackoffSeconds      int    `yaml:"max_backoff_seconds"`
	ProviderTimeoutSeconds int    `yaml:"provider_timeout_seconds"`
	// MetricsAddr is where the worker serves /metrics and /health.
	MetricsAddr            string `yaml:"metrics_addr"`
}

// PollInterval returns the idle poll interval as a time.Duration.
func (w WorkerConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalMillis) * time.Millisecond
}

// ProviderTimeout returns the per-send provider timeout.
func (w WorkerConfig) ProviderTimeout() time.Duration {
	return time.Duration(w.ProviderTimeoutSeconds) * time.Second
}

// BaseBackoff returns the first retry delay.
func (w WorkerConfig) BaseBackoff() time.Duration {
	return time.Duration(w.BaseBackoffSeconds) * time.Second
}

// MaxBackoff returns the retry delay cap.
func (w WorkerConfig) MaxBackoff() time.Duration {
	return time.Duration(w.MaxBackoffSeconds) * time.Second
}

// SchedulerConfig holds campaign scheduler settings.
type SchedulerConfig struct {
	PollIntervalSeconds      int `yaml:"poll_interval_seconds"`
	LockTTLSeconds           int `yaml:"lock_ttl_seconds"`
	RecoveryIntervalSeconds  int `yaml:"recovery_interval_seconds"`
	DeferredRetryDelaySecond int `yaml:"deferred_retry_delay_seconds"`
}

// PollInterval returns the promotion poll interval.
func (s SchedulerConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

// LockTTL returns the scheduler lock TTL.
func (s SchedulerConfig) LockTTL() time.Duration {
	return time.Duration(s.LockTTLSeconds) * time.Second
}

// RecoveryInterval returns how often deferred jobs are requeued.
func (s SchedulerConfig) RecoveryInterval() time.Duration {
	return time.Duration(s.RecoveryIntervalSeconds) * time.Second
}

// DeferredRetryDelay returns how long a DEFERRED job waits before requeue.
func (s SchedulerConfig) DeferredRetryDelay() time.Duration {
	return time.Duration(s.DeferredRetryDelaySecond) * time.Second
}

// WebhookConfig holds inbound provider webhook and outbound org webhook settings.
type WebhookConfig struct {
	SigningSecret          string `yaml:"signing_secret"`
	ArchiveBucket          string `yaml:"archive_bucket"`
	ArchiveRegion          string `yaml:"archive_region"`
	AutoConfirm            bool   `yaml:"auto_confirm"`
	DispatchTimeoutSeconds int    `yaml:"dispatch_timeout_seconds"`
	DispatchRetries        int    `yaml:"dispatch_retries"`
}

// DispatchTimeout returns the org webhook request timeout.
func (w WebhookConfig) DispatchTimeout() time.Duration {
	return time.Duration(w.DispatchTimeoutSeconds) * time.Second
}

// SettingsConfig selects the settings store backend.
type SettingsConfig struct {
	Backend     string `yaml:"backend"` // "postgres" or "dynamodb"
	DynamoTable string `yaml:"dynamo_table"`
	Region      string `yaml:"region"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether PII redaction is on. Defaults to true.
func (l LogConfig) Redact() bool { return l.RedactPII == nil || *l.RedactPII }

// Load reads configuration from a YAML file and applies defaults.
// An empty path yields a defaults-only config.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.ReadTimeoutSeconds == 0 {
		cfg.Server.ReadTimeoutSeconds = 15
	}
	if cfg.Server.WriteTimeoutSeconds == 0 {
		cfg.Server.WriteTimeoutSeconds = 30
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMinutes == 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 5
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-west-2"
	}
	if cfg.WhatsApp.BaseURL == "" {
		cfg.WhatsApp.BaseURL = "https://graph.facebook.com/v19.0"
	}
	if cfg.Queue.Backend == "" {
		cfg.Queue.Backend = "postgres"
	}
	if cfg.Queue.LeaseSeconds == 0 {
		cfg.Queue.LeaseSeconds = 60
	}
	if cfg.RateLimits.Backend == "" {
		cfg.RateLimits.Backend = "memory"
	}
	if cfg.RateLimits.PerSecond == 0 {
		cfg.RateLimits.PerSecond = 14
	}
	if cfg.RateLimits.PerMinute == 0 {
		cfg.RateLimits.PerMinute = 600
	}
	if cfg.RateLimits.PerDay == 0 {
		cfg.RateLimits.PerDay = 50000
	}
	if cfg.RateLimits.ThrottledFraction == 0 {
		cfg.RateLimits.ThrottledFraction = 0.25
	}
	if cfg.RateLimits.KeyPrefix == "" {
		cfg.RateLimits.KeyPrefix = "delivery"
	}
	if cfg.Worker.ID == "" {
		host, _ := os.Hostname()
		cfg.Worker.ID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 4
	}
	if cfg.Worker.BatchSize == 0 {
		cfg.Worker.BatchSize = 50
	}
	if cfg.Worker.PollIntervalMillis == 0 {
		cfg.Worker.PollIntervalMillis = 500
	}
	if cfg.Worker.MaxAttempts == 0 {
		cfg.Worker.MaxAttempts = 5
	}
	if cfg.Worker.BaseBackoffSeconds == 0 {
		cfg.Worker.BaseBackoffSeconds = 30
	}
	if cfg.Worker.MaxBackoffSeconds == 0 {
		cfg.Worker.MaxBackoffSeconds = 3600
	}
	if cfg.Worker.ProviderTimeoutSeconds == 0 {
		cfg.Worker.ProviderTimeoutSeconds = 10
	}
	if cfg.Worker.MetricsAddr == "" {
		cfg.Worker.MetricsAddr = ":9091"
	}
	if cfg.Scheduler.PollIntervalSeconds == 0 {
		cfg.Scheduler.PollIntervalSeconds = 30
	}
	if cfg.Scheduler.LockTTLSeconds == 0 {
		cfg.Scheduler.LockTTLSeconds = 120
	}
	if cfg.Scheduler.RecoveryIntervalSeconds == 0 {
		cfg.Scheduler.RecoveryIntervalSeconds = 60
	}
	if cfg.Scheduler.DeferredRetryDelaySecond == 0 {
		cfg.Scheduler.DeferredRetryDelaySecond = 900
	}
	if cfg.Webhooks.DispatchTimeoutSeconds == 0 {
		cfg.Webhooks.DispatchTimeoutSeconds = 10
	}
	if cfg.Webhooks.DispatchRetries == 0 {
		cfg.Webhooks.DispatchRetries = 3
	}
	if cfg.Settings.Backend == "" {
		cfg.Settings.Backend = "postgres"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file is loaded first when present so secrets can live there
// locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("SES_FROM_ADDRESS"); v != "" {
		cfg.SES.FromAddress = v
	}
	if v := os.Getenv("WHATSAPP_ACCESS_TOKEN"); v != "" {
		cfg.WhatsApp.AccessToken = v
	}
	if v := os.Getenv("SQS_QUEUE_URL"); v != "" {
		cfg.Queue.SQSQueueURL = v
		cfg.Queue.Backend = "sqs"
	}
	if v := os.Getenv("WEBHOOK_ARCHIVE_BUCKET"); v != "" {
		cfg.Webhooks.ArchiveBucket = v
	}
	if v := os.Getenv("WEBHOOK_SIGNING_SECRET"); v != "" {
		cfg.Webhooks.SigningSecret = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}
