package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresQueue leases rows of message_jobs directly. Claimable jobs are
// QUEUED, due, unleased, and belong to a campaign that is allowed to send.
type PostgresQueue struct {
	db    *sql.DB
	lease time.Duration
}

// NewPostgresQueue builds a queue with the given lease length.
func NewPostgresQueue(db *sql.DB, lease time.Duration) *PostgresQueue {
	if lease <= 0 {
		lease = time.Minute
	}
	return &PostgresQueue{db: db, lease: lease}
}

// Enqueue stamps the jobs so claims pick them up in dispatch order.
// Rows stay claimable without it.
func (q *PostgresQueue) Enqueue(ctx context.Context, jobIDs []string) error {
	if len(jobIDs) == 0 {
		return nil
	}
	_, err := q.db.ExecContext(ctx, `
		UPDATE message_jobs
		SET enqueued_at = NOW()
		WHERE id = ANY($1) AND status = 'QUEUED'
	`, pq.Array(jobIDs))
	if err != nil {
		return fmt.Errorf("enqueue jobs: %w", err)
	}
	return nil
}

// Claim leases up to max jobs to workerID.
func (q *PostgresQueue) Claim(ctx context.Context, workerID string, max int) ([]Lease, error) {
	if max <= 0 {
		return nil, nil
	}
	rows, err := q.db.QueryContext(ctx, `
		UPDATE message_jobs
		SET locked_by = $1,
		    locked_until = NOW() + $3::interval,
		    receive_count = receive_count + 1
		WHERE id IN (
			SELECT j.id FROM message_jobs j
			JOIN campaigns c ON c.id = j.campaign_id
			WHERE j.status = 'QUEUED'
			  AND c.status IN ('QUEUED', 'SENDING')
			  AND (j.next_attempt_at IS NULL OR j.next_attempt_at <= NOW())
			  AND (j.locked_until IS NULL OR j.locked_until < NOW())
			ORDER BY j.enqueued_at ASC NULLS LAST, j.created_at ASC
			LIMIT $2
			FOR UPDATE OF j SKIP LOCKED
		)
		RETURNING id, receive_count
	`, workerID, max, fmt.Sprintf("%d milliseconds", q.lease.Milliseconds()))
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	defer rows.Close()

	var leases []Lease
	for rows.Next() {
		l := Lease{Token: workerID}
		if err := rows.Scan(&l.JobID, &l.Receives); err != nil {
			return nil, fmt.Errorf("scan claimed job: %w", err)
		}
		leases = append(leases, l)
	}
	return leases, rows.Err()
}

// Ack clears the lease. The job's status decides whether it is claimable again.
func (q *PostgresQueue) Ack(ctx context.Context, l Lease) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE message_jobs
		SET locked_by = NULL, locked_until = NULL
		WHERE id = $1 AND locked_by = $2
	`, l.JobID, l.Token)
	if err != nil {
		return fmt.Errorf("ack job %s: %w", l.JobID, err)
	}
	return nil
}

// Release clears the lease and hides the job for delay.
func (q *PostgresQueue) Release(ctx context.Context, l Lease, delay time.Duration) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE message_jobs
		SET locked_by = NULL,
		    locked_until = NULL,
		    next_attempt_at = NOW() + $3::interval
		WHERE id = $1 AND locked_by = $2
	`, l.JobID, l.Token, fmt.Sprintf("%d milliseconds", delay.Milliseconds()))
	if err != nil {
		return fmt.Errorf("release job %s: %w", l.JobID, err)
	}
	return nil
}

// ReleaseExpired clears leases whose holder has gone away and returns how many.
func (q *PostgresQueue) ReleaseExpired(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE message_jobs
		SET locked_by = NULL, locked_until = NULL
		WHERE locked_until IS NOT NULL AND locked_until < NOW()
	`)
	if err != nil {
		return 0, fmt.Errorf("release expired leases: %w", err)
	}
	return res.RowsAffected()
}
