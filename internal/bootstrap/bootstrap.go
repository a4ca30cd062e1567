// Package bootstrap opens the backing services shared by the server and
// worker binaries and selects backends from configuration.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-delivery/internal/config"
	"github.com/ignite/campaign-delivery/internal/metrics"
	"github.com/ignite/campaign-delivery/internal/pkg/awsutil"
	"github.com/ignite/campaign-delivery/internal/pkg/distlock"
	"github.com/ignite/campaign-delivery/internal/pkg/logger"
	"github.com/ignite/campaign-delivery/internal/queue"
	"github.com/ignite/campaign-delivery/internal/settings"
	"github.com/ignite/campaign-delivery/internal/worker"
)

// OpenDB connects to PostgreSQL, applies the pool settings and pings.
func OpenDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database url is required")
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime())

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// OpenRedis connects when url is set. It returns nil, nil otherwise.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Cmdable converts a possibly nil client into an interface value that
// compares equal to nil when no client exists.
func Cmdable(c *redis.Client) redis.Cmdable {
	if c == nil {
		return nil
	}
	return c
}

// AWSConfig loads SDK config for region using the SES keys when present.
func AWSConfig(ctx context.Context, cfg *config.Config, region string) (aws.Config, error) {
	if region == "" {
		region = cfg.SES.Region
	}
	return awsutil.Load(ctx, region, cfg.SES.AccessKey, cfg.SES.SecretKey)
}

// Queue builds the delivery queue. The reaper is nil for backends that
// expire leases themselves.
func Queue(ctx context.Context, cfg *config.Config, db *sql.DB) (queue.Queue, worker.LeaseReaper, error) {
	switch cfg.Queue.Backend {
	case "postgres":
		q := queue.NewPostgresQueue(db, cfg.Queue.Lease())
		return q, q, nil
	case "sqs":
		if cfg.Queue.SQSQueueURL == "" {
			return nil, nil, fmt.Errorf("queue backend sqs needs sqs_queue_url")
		}
		awsCfg, err := AWSConfig(ctx, cfg, cfg.Queue.SQSRegion)
		if err != nil {
			return nil, nil, err
		}
		return queue.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.Queue.SQSQueueURL, cfg.Queue.Lease()), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
}

// Settings builds the settings lookup.
func Settings(ctx context.Context, cfg *config.Config, db *sql.DB) (settings.Lookup, error) {
	switch cfg.Settings.Backend {
	case "postgres":
		return settings.NewPostgresStore(db), nil
	case "dynamodb":
		if cfg.Settings.DynamoTable == "" {
			return nil, fmt.Errorf("settings backend dynamodb needs dynamo_table")
		}
		awsCfg, err := AWSConfig(ctx, cfg, cfg.Settings.Region)
		if err != nil {
			return nil, err
		}
		return settings.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.Settings.DynamoTable), nil
	default:
		return nil, fmt.Errorf("unknown settings backend %q", cfg.Settings.Backend)
	}
}

// RateLimiters builds the shared limiter and the stricter one THROTTLED
// campaigns must also pass.
func RateLimiters(cfg *config.Config, rdb redis.Cmdable) (global, throttled worker.RateLimiter, err error) {
	limits := worker.Limits{
		PerSecond: cfg.RateLimits.PerSecond,
		PerMinute: cfg.RateLimits.PerMinute,
		PerDay:    cfg.RateLimits.PerDay,
	}
	reduced := limits.Scale(cfg.RateLimits.ThrottledFraction)

	switch cfg.RateLimits.Backend {
	case "memory":
		return worker.NewLocalRateLimiter(limits, nil), worker.NewLocalRateLimiter(reduced, nil), nil
	case "redis":
		if rdb == nil {
			return nil, nil, fmt.Errorf("rate limit backend redis needs redis.url")
		}
		prefix := cfg.RateLimits.KeyPrefix
		return worker.NewRedisRateLimiter(rdb, prefix, limits),
			worker.NewRedisRateLimiter(rdb, prefix+":throttled", reduced), nil
	default:
		return nil, nil, fmt.Errorf("unknown rate limit backend %q", cfg.RateLimits.Backend)
	}
}

// Locks returns a factory for scheduler locks: Redis when available,
// Postgres advisory locks otherwise.
func Locks(rdb redis.Cmdable, db *sql.DB) worker.LockFactory {
	return func(key string, ttl time.Duration) distlock.DistLock {
		return distlock.NewLock(rdb, db, key, ttl)
	}
}

// Metrics creates the collectors on a fresh registry and returns the
// handler exposing it.
func Metrics() (*metrics.Metrics, http.Handler) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return metrics.New(reg), promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Logger configures the process logger from config and returns it.
func Logger(cfg config.LogConfig) *logger.Logger {
	logger.SetLevel(logger.ParseLevel(cfg.Level))
	logger.SetRedactPII(cfg.Redact())
	return logger.Default()
}
