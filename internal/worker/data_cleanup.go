package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/campaign-delivery/internal/pkg/logger"
)

// =============================================================================
// DATA CLEANUP WORKER
// =============================================================================
// Read notifications and promotion analytics accumulate without bound.
// Deletes run in batches so no statement holds row locks for long.

const (
	// DefaultCleanupInterval is how often the cleanup cycle runs.
	DefaultCleanupInterval = time.Hour

	cleanupBatchSize = 10000
)

// RetentionRule deletes rows of Table older than MaxAge. Query must select
// ids with $1 as the cutoff and $2 as the batch size.
type RetentionRule struct {
	Table  string
	MaxAge time.Duration
	Query  string
}

// DefaultRetention keeps read notifications 90 days, unread ones a year
// and promotion analytics 180 days. Audit rows are never removed.
var DefaultRetention = []RetentionRule{
	{
		Table:  "notifications",
		MaxAge: 90 * 24 * time.Hour,
		Query:  `SELECT id FROM notifications WHERE read_at IS NOT NULL AND created_at < $1 LIMIT $2`,
	},
	{
		Table:  "notifications",
		MaxAge: 365 * 24 * time.Hour,
		Query:  `SELECT id FROM notifications WHERE created_at < $1 LIMIT $2`,
	},
	{
		Table:  "promotion_events",
		MaxAge: 180 * 24 * time.Hour,
		Query:  `SELECT id FROM promotion_events WHERE promoted_at < $1 LIMIT $2`,
	},
}

// DataCleanupWorker periodically applies retention rules.
type DataCleanupWorker struct {
	db        *sql.DB
	rules     []RetentionRule
	interval  time.Duration
	batchSize int
	pause     time.Duration
	log       *logger.Logger
	now       func() time.Time
}

// NewDataCleanupWorker creates a cleanup worker. A nil rules slice uses
// DefaultRetention.
func NewDataCleanupWorker(db *sql.DB, rules []RetentionRule, interval time.Duration, log *logger.Logger) *DataCleanupWorker {
	if rules == nil {
		rules = DefaultRetention
	}
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	if log == nil {
		log = logger.Default()
	}
	return &DataCleanupWorker{
		db:        db,
		rules:     rules,
		interval:  interval,
		batchSize: cleanupBatchSize,
		pause:     100 * time.Millisecond,
		log:       log.With("component", "data_cleanup"),
		now:       time.Now,
	}
}

// Start runs a cycle immediately and then every interval until ctx is cancelled.
func (dc *DataCleanupWorker) Start(ctx context.Context) {
	dc.log.Info("data cleanup started", "interval", dc.interval.String(), "rules", len(dc.rules))
	dc.RunOnce(ctx)

	ticker := time.NewTicker(dc.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			dc.log.Info("data cleanup stopped")
			return
		case <-ticker.C:
			dc.RunOnce(ctx)
		}
	}
}

// RunOnce applies every rule and returns the rows deleted per table.
func (dc *DataCleanupWorker) RunOnce(ctx context.Context) map[string]int64 {
	start := time.Now()
	out := make(map[string]int64, len(dc.rules))
	for _, rule := range dc.rules {
		n, err := dc.apply(ctx, rule)
		out[rule.Table] += n
		if err != nil {
			dc.log.Error("data cleanup failed", "table", rule.Table, "deleted", n, "error", err)
		}
	}
	dc.log.Info("data cleanup cycle", "deleted", out, "took", time.Since(start).Round(time.Millisecond).String())
	return out
}

// apply deletes in batches until a batch removes nothing. A missing table
// is not an error; migrations may not have created it yet.
func (dc *DataCleanupWorker) apply(ctx context.Context, rule RetentionRule) (int64, error) {
	cutoff := dc.now().Add(-rule.MaxAge)
	query := fmt.Sprintf(`DELETE FROM %s WHERE id IN (%s)`, pq.QuoteIdentifier(rule.Table), rule.Query)

	var total int64
	for {
		if ctx.Err() != nil {
			return total, nil
		}
		queryCtx, cancel := context.WithTimeout(ctx, time.Minute)
		res, err := dc.db.ExecContext(queryCtx, query, cutoff, dc.batchSize)
		cancel()
		if err != nil {
			if isUndefinedTable(err) {
				return total, nil
			}
			return total, err
		}
		affected, _ := res.RowsAffected()
		total += affected
		if affected < int64(dc.batchSize) {
			return total, nil
		}
		if dc.pause > 0 {
			time.Sleep(dc.pause)
		}
	}
}

func isUndefinedTable(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "42P01"
}
