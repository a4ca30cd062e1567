package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/campaign-delivery/internal/domain"
	"github.com/ignite/campaign-delivery/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

const campaignColumns = `
	id, project_id, organization_id, name, channel, subject, body,
	COALESCE(text_body,''), COALESCE(from_email,''), COALESCE(from_name,''), COALESCE(reply_to,''),
	status, COALESCE(readiness_outcome,''), readiness_score, scheduled_at,
	created_by, COALESCE(approved_by,''), created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	var scheduled sql.NullTime
	err := row.Scan(
		&c.ID, &c.ProjectID, &c.OrganizationID, &c.Name, &c.Channel, &c.Subject, &c.Body,
		&c.TextBody, &c.FromEmail, &c.FromName, &c.ReplyTo,
		&c.Status, &c.ReadinessOutcome, &c.ReadinessScore, &scheduled,
		&c.CreatedBy, &c.ApprovedBy, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if scheduled.Valid {
		t := scheduled.Time
		c.ScheduledAt = &t
	}
	return c, nil
}

// CreateWithJobs inserts the campaign and its jobs in one transaction. Jobs
// go in through COPY.
func (r *CampaignRepo) CreateWithJobs(ctx context.Context, c *domain.Campaign, jobs []domain.MessageJob) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO campaigns (
			id, project_id, organization_id, name, channel, subject, body, text_body,
			from_email, from_name, reply_to, status, readiness_outcome, readiness_score,
			scheduled_at, created_by, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,NULLIF($8,''),NULLIF($9,''),NULLIF($10,''),NULLIF($11,''),$12,NULLIF($13,''),$14,$15,$16,$17,$18)
	`, c.ID, c.ProjectID, c.OrganizationID, c.Name, c.Channel, c.Subject, c.Body, c.TextBody,
		c.FromEmail, c.FromName, c.ReplyTo, c.Status, c.ReadinessOutcome, c.ReadinessScore,
		nullTime(c.ScheduledAt), c.CreatedBy, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}

	if len(jobs) > 0 {
		stmt, err := tx.PrepareContext(ctx, pq.CopyIn("message_jobs",
			"id", "campaign_id", "project_id", "guest_id", "email", "phone", "name",
			"channel", "status", "attempts", "created_at", "updated_at"))
		if err != nil {
			return fmt.Errorf("prepare job copy: %w", err)
		}
		for _, j := range jobs {
			if _, err := stmt.ExecContext(ctx, j.ID, j.CampaignID, j.ProjectID,
				nullString(j.GuestID), nullString(j.Email), nullString(j.Phone), nullString(j.Name),
				string(j.Channel), string(j.Status), j.Attempts, j.CreatedAt, j.UpdatedAt); err != nil {
				stmt.Close()
				return fmt.Errorf("copy job %s: %w", j.ID, err)
			}
		}
		if _, err := stmt.ExecContext(ctx); err != nil {
			stmt.Close()
			return fmt.Errorf("flush job copy: %w", err)
		}
		if err := stmt.Close(); err != nil {
			return fmt.Errorf("close job copy: %w", err)
		}
	}
	return tx.Commit()
}

func (r *CampaignRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) List(ctx context.Context, projectID string, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	where := ` WHERE project_id = $1`
	args := []interface{}{projectID}
	if f.Status != "" {
		where += ` AND status = $2`
		args = append(args, f.Status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	q := `SELECT ` + campaignColumns + ` FROM campaigns` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, q, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

// UpdateStatus applies a guarded status change and its job side effects in
// one transaction.
func (r *CampaignRepo) UpdateStatus(ctx context.Context, id string, from, to domain.CampaignStatus, u campaign.StatusUpdate) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $3,
		    approved_by = COALESCE(NULLIF($4, ''), approved_by),
		    scheduled_at = CASE WHEN $5 THEN NULL ELSE scheduled_at END,
		    updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to, u.ApprovedBy, u.ClearSchedule)
	if err != nil {
		return fmt.Errorf("update campaign status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return campaign.ErrStatusChanged
	}

	if u.CancelPendingJobs {
		if _, err := tx.ExecContext(ctx, `
			UPDATE message_jobs
			SET status = 'CANCELLED', next_attempt_at = NULL, updated_at = NOW()
			WHERE campaign_id = $1 AND status IN ('SCHEDULED', 'QUEUED', 'DEFERRED')
		`, id); err != nil {
			return fmt.Errorf("cancel pending jobs: %w", err)
		}
	}
	if u.AlignJobs {
		if _, err := tx.ExecContext(ctx, `
			UPDATE message_jobs
			SET status = $2, updated_at = NOW()
			WHERE campaign_id = $1 AND status IN ('SCHEDULED', 'QUEUED') AND status <> $2
		`, id, domain.DerivedJobStatus(to)); err != nil {
			return fmt.Errorf("align job status: %w", err)
		}
	}
	return tx.Commit()
}

func (r *CampaignRepo) JobCounts(ctx context.Context, campaignID string) (map[domain.JobStatus]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM message_jobs WHERE campaign_id = $1 GROUP BY status`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("job counts: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.JobStatus]int)
	for rows.Next() {
		var s domain.JobStatus
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		out[s] = n
	}
	return out, rows.Err()
}

func (r *CampaignRepo) EngagementCounts(ctx context.Context, campaignID string) (opened, clicked int, err error) {
	err = r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(DISTINCT job_id) FILTER (WHERE type = 'opened'),
			COUNT(DISTINCT job_id) FILTER (WHERE type = 'clicked')
		FROM message_events
		WHERE campaign_id = $1
	`, campaignID).Scan(&opened, &clicked)
	if err != nil {
		return 0, 0, fmt.Errorf("engagement counts: %w", err)
	}
	return opened, clicked, nil
}
