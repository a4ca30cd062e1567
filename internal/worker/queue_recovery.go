package worker

import (
	"context"
	"time"

	"github.com/ignite/campaign-delivery/internal/metrics"
	"github.com/ignite/campaign-delivery/internal/pkg/logger"
)

// DefaultRecoveryInterval is how often deferred jobs and stale leases are swept.
const DefaultRecoveryInterval = time.Minute

// RecoveryStore moves deferred jobs back into circulation.
type RecoveryStore interface {
	// RequeueDeferred moves DEFERRED jobs due at or before now with fewer
	// than maxAttempts attempts back to QUEUED and returns their ids.
	RequeueDeferred(ctx context.Context, now time.Time, maxAttempts int) ([]string, error)
	// RestoreDeferred puts still-QUEUED, unleased jobs back to DEFERRED
	// so a later sweep retries them.
	RestoreDeferred(ctx context.Context, jobIDs []string) error
	// FailExhausted marks DEFERRED jobs with maxAttempts or more attempts FAILED.
	FailExhausted(ctx context.Context, maxAttempts int) (int64, error)
}

// LeaseReaper clears leases whose holder died. Backends with their own
// expiry (SQS) do not need one.
type LeaseReaper interface {
	ReleaseExpired(ctx context.Context) (int64, error)
}

// QueueRecoveryWorker requeues deferred jobs, fails exhausted ones and
// reaps stale leases.
type QueueRecoveryWorker struct {
	store       RecoveryStore
	queue       JobEnqueuer
	reaper      LeaseReaper
	interval    time.Duration
	maxAttempts int
	log         *logger.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

// NewQueueRecoveryWorker builds the worker. reaper may be nil.
func NewQueueRecoveryWorker(store RecoveryStore, q JobEnqueuer, reaper LeaseReaper, interval time.Duration, maxAttempts int, log *logger.Logger, m *metrics.Metrics) *QueueRecoveryWorker {
	if interval <= 0 {
		interval = DefaultRecoveryInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if log == nil {
		log = logger.Default()
	}
	return &QueueRecoveryWorker{
		store:       store,
		queue:       q,
		reaper:      reaper,
		interval:    interval,
		maxAttempts: maxAttempts,
		log:         log.With("component", "queue_recovery"),
		metrics:     m,
		now:         time.Now,
	}
}

// Start runs the recovery loop until ctx is cancelled.
func (qr *QueueRecoveryWorker) Start(ctx context.Context) {
	qr.log.Info("starting queue recovery", "interval", qr.interval.String(), "max_attempts", qr.maxAttempts)

	ticker := time.NewTicker(qr.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			qr.log.Info("queue recovery stopping")
			return
		case <-ticker.C:
			qr.RunOnce(ctx)
		}
	}
}

// RecoveryResult counts what one pass did.
type RecoveryResult struct {
	Requeued int
	Failed   int64
	Released int64
}

// RunOnce performs one sweep. Errors are logged; each step runs regardless
// of the others.
func (qr *QueueRecoveryWorker) RunOnce(ctx context.Context) RecoveryResult {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var res RecoveryResult

	ids, err := qr.store.RequeueDeferred(ctx, qr.now(), qr.maxAttempts)
	if err != nil {
		qr.log.Error("requeue deferred jobs", "error", err)
	} else if len(ids) > 0 {
		if err := qr.queue.Enqueue(ctx, ids); err != nil {
			qr.log.Error("enqueue requeued jobs", "count", len(ids), "error", err)
			if rerr := qr.store.RestoreDeferred(ctx, ids); rerr != nil {
				qr.log.Error("restore deferred jobs", "count", len(ids), "error", rerr)
			}
		} else {
			res.Requeued = len(ids)
			qr.metrics.Recovered("requeued", len(ids))
			qr.log.Info("requeued deferred jobs", "count", len(ids))
		}
	}

	if n, err := qr.store.FailExhausted(ctx, qr.maxAttempts); err != nil {
		qr.log.Error("fail exhausted jobs", "error", err)
	} else if n > 0 {
		res.Failed = n
		qr.metrics.Recovered("failed", int(n))
		qr.log.Warn("jobs exhausted retries", "count", n)
	}

	if qr.reaper != nil {
		if n, err := qr.reaper.ReleaseExpired(ctx); err != nil {
			qr.log.Error("release expired leases", "error", err)
		} else if n > 0 {
			res.Released = n
			qr.metrics.Recovered("lease_released", int(n))
			qr.log.Info("released expired leases", "count", n)
		}
	}
	return res
}
