package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/campaign-delivery/internal/domain"
	"github.com/ignite/campaign-delivery/internal/service/feedback"
	"github.com/ignite/campaign-delivery/internal/worker"
)

// JobStore owns message_jobs and message_events. It serves the delivery
// worker, the feedback processor, the dispatcher, the scheduler and the
// recovery sweep.
type JobStore struct {
	db *sql.DB
	// PromoteBatch caps how many campaigns one promotion pass takes.
	PromoteBatch int
	// RequeueBatch caps how many deferred jobs one recovery pass requeues.
	RequeueBatch int
}

// NewJobStore creates the store.
func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db, PromoteBatch: 100, RequeueBatch: 1000}
}

const jobColumns = `
	id, campaign_id, project_id, COALESCE(guest_id,''), COALESCE(email,''), COALESCE(phone,''),
	COALESCE(name,''), channel, status, attempts, COALESCE(external_message_id,''),
	COALESCE(error_message,''), next_attempt_at, created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (*domain.MessageJob, error) {
	j := &domain.MessageJob{}
	var next sql.NullTime
	err := row.Scan(&j.ID, &j.CampaignID, &j.ProjectID, &j.GuestID, &j.Email, &j.Phone,
		&j.Name, &j.Channel, &j.Status, &j.Attempts, &j.ExternalMessageID,
		&j.ErrorMessage, &next, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if next.Valid {
		t := next.Time
		j.NextAttemptAt = &t
	}
	return j, nil
}

// ---------------------------------------------------------------------------
// Delivery
// ---------------------------------------------------------------------------

func (s *JobStore) GetJobForDelivery(ctx context.Context, jobID string) (*domain.MessageJob, *domain.Campaign, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM message_jobs WHERE id = $1`, jobID))
	if err == sql.ErrNoRows {
		return nil, nil, worker.ErrJobNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get job: %w", err)
	}
	c, err := scanCampaign(s.db.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, j.CampaignID))
	if err == sql.ErrNoRows {
		return nil, nil, worker.ErrJobNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get job campaign: %w", err)
	}
	return j, c, nil
}

// HasSentEvent looks for the worker's own sent event for one attempt.
// Provider send notifications carry metadata source and are ignored.
func (s *JobStore) HasSentEvent(ctx context.Context, jobID string, attempt int) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM message_events
			WHERE job_id = $1 AND type = 'sent'
			  AND metadata->>'source' IS NULL AND metadata->>'attempt' = $2
		)`, jobID, strconv.Itoa(attempt),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check sent event: %w", err)
	}
	return exists, nil
}

// SettleSent finishes a QUEUED job whose attempt was already recorded as
// sent, copying the provider id from that event.
func (s *JobStore) SettleSent(ctx context.Context, jobID string, attempt int) error {
	return s.settle(ctx, jobID, `
		UPDATE message_jobs j
		SET status = 'SENT', attempts = $2, external_message_id = e.metadata->>'provider_message_id',
		    error_message = NULL, next_attempt_at = NULL, updated_at = NOW()
		FROM message_events e
		WHERE j.id = $1 AND j.status = 'QUEUED'
		  AND e.job_id = j.id AND e.type = 'sent'
		  AND e.metadata->>'source' IS NULL AND e.metadata->>'attempt' = $3
		RETURNING j.campaign_id
	`, jobID, attempt, strconv.Itoa(attempt))
}

// RecordSent writes the send outcome, the sent event and the campaign's move
// to SENDING in one transaction.
func (s *JobStore) RecordSent(ctx context.Context, rec worker.SentRecord) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE message_jobs
			SET status = 'SENT', external_message_id = $2, attempts = attempts + 1,
			    error_message = NULL, next_attempt_at = NULL, updated_at = NOW()
			WHERE id = $1 AND status IN ('SCHEDULED', 'QUEUED', 'DEFERRED', 'CANCELLED')
		`, rec.JobID, rec.ExternalMessageID); err != nil {
			return fmt.Errorf("mark job sent: %w", err)
		}
		if err := insertEvent(ctx, tx, rec.Event); err != nil {
			return err
		}
		return markSending(ctx, tx, rec.CampaignID)
	})
}

func (s *JobStore) RecordRetry(ctx context.Context, jobID, errMsg string, next time.Time) error {
	return s.settle(ctx, jobID, `
		UPDATE message_jobs
		SET status = 'DEFERRED', attempts = attempts + 1, error_message = $2,
		    next_attempt_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'QUEUED'
		RETURNING campaign_id
	`, jobID, errMsg, next)
}

func (s *JobStore) RecordFailure(ctx context.Context, jobID, errMsg string) error {
	return s.settle(ctx, jobID, `
		UPDATE message_jobs
		SET status = 'FAILED', attempts = attempts + 1, error_message = $2,
		    next_attempt_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'QUEUED'
		RETURNING campaign_id
	`, jobID, errMsg)
}

// settle runs a failed-attempt update. An attempt was made, so the campaign
// has started sending too.
func (s *JobStore) settle(ctx context.Context, jobID, query string, args ...any) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var campaignID string
		err := tx.QueryRowContext(ctx, query, args...).Scan(&campaignID)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("settle job %s: %w", jobID, err)
		}
		return markSending(ctx, tx, campaignID)
	})
}

func markSending(ctx context.Context, tx *sql.Tx, campaignID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE campaigns SET status = 'SENDING', updated_at = NOW()
		WHERE id = $1 AND status = 'QUEUED'
	`, campaignID)
	if err != nil {
		return fmt.Errorf("mark campaign sending: %w", err)
	}
	return nil
}

// insertEvent ignores a duplicate worker sent event; the unique index keeps
// one per job attempt.
func insertEvent(ctx context.Context, tx *sql.Tx, ev domain.MessageEvent) error {
	meta, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("encode event metadata: %w", err)
	}
	if ev.Metadata == nil {
		meta = []byte("{}")
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO message_events (id, job_id, campaign_id, type, occurred_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING
	`, ev.ID, ev.JobID, ev.CampaignID, ev.Type, ev.OccurredAt, meta)
	if err != nil {
		return fmt.Errorf("insert %s event: %w", ev.Type, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Provider feedback
// ---------------------------------------------------------------------------

func (s *JobStore) FindJobByProviderID(ctx context.Context, providerMessageID string) (*domain.MessageJob, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM message_jobs WHERE external_message_id = $1`, providerMessageID))
	if err == sql.ErrNoRows {
		return nil, feedback.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find job by provider id: %w", err)
	}
	return j, nil
}

// ApplyEvent inserts the event and, when the job is in one of AllowedFrom,
// moves it to the new status.
func (s *JobStore) ApplyEvent(ctx context.Context, m feedback.Mutation) (bool, error) {
	changed := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := insertEvent(ctx, tx, m.Event); err != nil {
			return err
		}
		if m.Status == "" {
			return nil
		}
		allowed := make([]string, len(m.AllowedFrom))
		for i, st := range m.AllowedFrom {
			allowed[i] = string(st)
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE message_jobs
			SET status = $2,
			    attempts = attempts + CASE WHEN $3 THEN 1 ELSE 0 END,
			    error_message = COALESCE(NULLIF($4, ''), error_message),
			    next_attempt_at = $5,
			    updated_at = NOW()
			WHERE id = $1 AND status = ANY($6) AND status <> $2
		`, m.JobID, m.Status, m.IncrementAttempts, m.ErrorMessage, nullTime(m.NextAttemptAt), pq.Array(allowed))
		if err != nil {
			return fmt.Errorf("apply job status: %w", err)
		}
		n, _ := res.RowsAffected()
		changed = n > 0
		return nil
	})
	return changed, err
}

// ---------------------------------------------------------------------------
// Dispatch, promotion, completion, recovery
// ---------------------------------------------------------------------------

func (s *JobStore) QueuedJobIDs(ctx context.Context, campaignID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM message_jobs WHERE campaign_id = $1 AND status = 'QUEUED' ORDER BY created_at`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("queued job ids: %w", err)
	}
	return collectIDs(rows)
}

// PromoteDue moves due SCHEDULED campaigns and their SCHEDULED jobs to QUEUED
// in one transaction. Rows locked by another promoter are skipped.
func (s *JobStore) PromoteDue(ctx context.Context, now time.Time) ([]worker.PromotedCampaign, error) {
	var out []worker.PromotedCampaign
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, project_id, organization_id, name, created_by, scheduled_at
			FROM campaigns
			WHERE status = 'SCHEDULED' AND scheduled_at <= $1
			ORDER BY scheduled_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		`, now, s.PromoteBatch)
		if err != nil {
			return fmt.Errorf("select due campaigns: %w", err)
		}
		for rows.Next() {
			var p worker.PromotedCampaign
			if err := rows.Scan(&p.CampaignID, &p.ProjectID, &p.OrganizationID, &p.Name, &p.CreatedBy, &p.ScheduledAt); err != nil {
				rows.Close()
				return fmt.Errorf("scan due campaign: %w", err)
			}
			out = append(out, p)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for i := range out {
			p := &out[i]
			if _, err := tx.ExecContext(ctx, `
				UPDATE campaigns SET status = 'QUEUED', updated_at = NOW()
				WHERE id = $1 AND status = 'SCHEDULED'
			`, p.CampaignID); err != nil {
				return fmt.Errorf("promote campaign %s: %w", p.CampaignID, err)
			}
			jobRows, err := tx.QueryContext(ctx, `
				UPDATE message_jobs SET status = 'QUEUED', updated_at = NOW()
				WHERE campaign_id = $1 AND status = 'SCHEDULED'
				RETURNING id
			`, p.CampaignID)
			if err != nil {
				return fmt.Errorf("promote jobs of %s: %w", p.CampaignID, err)
			}
			if p.JobIDs, err = collectIDs(jobRows); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CompleteFinished closes SENDING and QUEUED campaigns with nothing left to
// send. A QUEUED campaign with no pending job never had a deliverable one.
func (s *JobStore) CompleteFinished(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE campaigns c
		SET status = 'COMPLETED', updated_at = NOW()
		WHERE c.status IN ('SENDING', 'QUEUED')
		  AND NOT EXISTS (
			SELECT 1 FROM message_jobs j
			WHERE j.campaign_id = c.id AND j.status IN ('SCHEDULED', 'QUEUED', 'DEFERRED')
		  )
		RETURNING c.id
	`)
	if err != nil {
		return nil, fmt.Errorf("complete campaigns: %w", err)
	}
	return collectIDs(rows)
}

// RequeueDeferred moves due DEFERRED jobs of sendable campaigns back to QUEUED.
func (s *JobStore) RequeueDeferred(ctx context.Context, now time.Time, maxAttempts int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE message_jobs
		SET status = 'QUEUED', next_attempt_at = NULL, updated_at = NOW()
		WHERE id IN (
			SELECT j.id FROM message_jobs j
			JOIN campaigns c ON c.id = j.campaign_id
			WHERE j.status = 'DEFERRED'
			  AND j.next_attempt_at <= $1
			  AND j.attempts < $2
			  AND c.status IN ('QUEUED', 'SENDING')
			ORDER BY j.next_attempt_at
			LIMIT $3
			FOR UPDATE OF j SKIP LOCKED
		)
		RETURNING id
	`, now, maxAttempts, s.RequeueBatch)
	if err != nil {
		return nil, fmt.Errorf("requeue deferred jobs: %w", err)
	}
	return collectIDs(rows)
}

func (s *JobStore) RestoreDeferred(ctx context.Context, jobIDs []string) error {
	if len(jobIDs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE message_jobs
		SET status = 'DEFERRED', next_attempt_at = NOW(), updated_at = NOW()
		WHERE id = ANY($1) AND status = 'QUEUED' AND locked_by IS NULL
	`, pq.Array(jobIDs))
	if err != nil {
		return fmt.Errorf("restore deferred jobs: %w", err)
	}
	return nil
}

func (s *JobStore) FailExhausted(ctx context.Context, maxAttempts int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE message_jobs
		SET status = 'FAILED', next_attempt_at = NULL,
		    error_message = COALESCE(error_message, 'retry attempts exhausted'), updated_at = NOW()
		WHERE status = 'DEFERRED' AND attempts >= $1
	`, maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("fail exhausted jobs: %w", err)
	}
	return res.RowsAffected()
}

func (s *JobStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func collectIDs(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
