package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/ignite/campaign-delivery/internal/pkg/httputil"
)

// Component states. "off" marks a dependency this process was started
// without; it never affects the overall verdict.
const (
	statusUp       = "up"
	statusDegraded = "degraded"
	statusDown     = "down"
	statusOff      = "off"
)

const healthVersion = "1.0.0"

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status  string                    `json:"status"` // healthy, degraded, unhealthy
	Version string                    `json:"version"`
	Uptime  string                    `json:"uptime"`
	Checks  map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck is the result of probing one dependency.
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// BucketHeader is the part of the S3 client the archive check needs.
type BucketHeader interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// HealthChecker probes the database, Redis, the webhook archive bucket and
// the delivery backlog. Any dependency may be nil.
type HealthChecker struct {
	db          *sql.DB
	redis       redis.Cmdable
	s3          BucketHeader
	bucket      string
	started     time.Time
	backlogWarn int
}

// NewHealthChecker creates a HealthChecker.
func NewHealthChecker(db *sql.DB, rdb redis.Cmdable, s3Client BucketHeader, bucket string) *HealthChecker {
	return &HealthChecker{
		db:          db,
		redis:       rdb,
		s3:          s3Client,
		bucket:      bucket,
		started:     time.Now(),
		backlogWarn: 100000,
	}
}

// HandleHealth answers 200 with the verdict in the body.
//
//	GET /health
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks := hc.probeAll(r.Context())
	httputil.OK(w, HealthStatus{
		Status:  overallStatus(checks),
		Version: healthVersion,
		Uptime:  formatUptime(time.Since(hc.started)),
		Checks:  checks,
	})
}

// HandleLiveness answers 200 while the process runs.
//
//	GET /health/live
func (hc *HealthChecker) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]any{"status": "alive", "uptime": formatUptime(time.Since(hc.started))})
}

// HandleReadiness answers 503 while the database is unreachable.
//
//	GET /health/ready
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := hc.probeAll(r.Context())
	overall := overallStatus(checks)
	code := http.StatusOK
	if overall == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	httputil.JSON(w, code, map[string]any{
		"ready":  code == http.StatusOK,
		"status": overall,
		"checks": checks,
	})
}

func (hc *HealthChecker) probeAll(ctx context.Context) map[string]ComponentCheck {
	probes := map[string]func(context.Context) ComponentCheck{
		"database": hc.probeDatabase,
		"redis":    hc.probeRedis,
		"s3":       hc.probeBucket,
		"workers":  hc.probeBacklog,
	}

	var mu sync.Mutex
	out := make(map[string]ComponentCheck, len(probes))
	var g errgroup.Group
	for name, probe := range probes {
		g.Go(func() error {
			c := probe(ctx)
			mu.Lock()
			out[name] = c
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (hc *HealthChecker) probeDatabase(ctx context.Context) ComponentCheck {
	if hc.db == nil {
		return ComponentCheck{Status: statusOff}
	}
	return timed(ctx, 3*time.Second, time.Second, hc.db.PingContext)
}

func (hc *HealthChecker) probeRedis(ctx context.Context) ComponentCheck {
	if hc.redis == nil {
		return ComponentCheck{Status: statusOff}
	}
	return timed(ctx, 2*time.Second, 500*time.Millisecond, func(ctx context.Context) error {
		return hc.redis.Ping(ctx).Err()
	})
}

func (hc *HealthChecker) probeBucket(ctx context.Context) ComponentCheck {
	if hc.s3 == nil || hc.bucket == "" {
		return ComponentCheck{Status: statusOff}
	}
	return timed(ctx, 3*time.Second, 2*time.Second, func(ctx context.Context) error {
		_, err := hc.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &hc.bucket})
		return err
	})
}

// timed runs fn under timeout; a success slower than slow is degraded.
func timed(ctx context.Context, timeout, slow time.Duration, fn func(context.Context) error) ComponentCheck {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	took := time.Since(start)

	c := ComponentCheck{Status: statusUp, Latency: took.String()}
	switch {
	case err != nil:
		c.Status, c.Message = statusDown, err.Error()
	case took > slow:
		c.Status, c.Message = statusDegraded, "slow response"
	}
	return c
}

// probeBacklog treats a large QUEUED backlog or leases expired for more than
// ten minutes as signs of stuck delivery workers.
func (hc *HealthChecker) probeBacklog(ctx context.Context) ComponentCheck {
	if hc.db == nil {
		return ComponentCheck{Status: statusOff}
	}
	var queued, stale int
	c := timed(ctx, 3*time.Second, 2*time.Second, func(ctx context.Context) error {
		return hc.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FILTER (WHERE status = 'QUEUED'),
			       COUNT(*) FILTER (WHERE locked_until < NOW() - INTERVAL '10 minutes')
			FROM message_jobs
			WHERE status IN ('QUEUED', 'SENDING')`).Scan(&queued, &stale)
	})
	if c.Status == statusDown {
		c.Status = statusDegraded
		return c
	}
	switch {
	case stale > 0:
		c.Status, c.Message = statusDegraded, fmt.Sprintf("%d jobs with expired leases", stale)
	case queued > hc.backlogWarn:
		c.Status, c.Message = statusDegraded, fmt.Sprintf("backlog of %d queued jobs", queued)
	default:
		c.Message = fmt.Sprintf("%d queued jobs", queued)
	}
	return c
}

// overallStatus is unhealthy when the database is down, degraded when any
// other started dependency is not up, healthy otherwise.
func overallStatus(checks map[string]ComponentCheck) string {
	if checks["database"].Status == statusDown {
		return "unhealthy"
	}
	for _, c := range checks {
		if c.Status == statusDown || c.Status == statusDegraded {
			return "degraded"
		}
	}
	return "healthy"
}

// formatUptime renders d as "3d 4h 12m 5s", dropping leading zero units.
func formatUptime(d time.Duration) string {
	secs := int(d / time.Second)
	units := []struct {
		n      int
		suffix string
	}{
		{secs / 86400, "d"},
		{secs / 3600 % 24, "h"},
		{secs / 60 % 60, "m"},
		{secs % 60, "s"},
	}
	out := ""
	for i, u := range units {
		if out == "" && u.n == 0 && i < len(units)-1 {
			continue
		}
		if out != "" {
			out += " "
		}
		out += fmt.Sprintf("%d%s", u.n, u.suffix)
	}
	return out
}
