package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/campaign-delivery/internal/service/readiness"
)

// HistoryRepo reads the send, organisation and import history the readiness
// scorer works from.
type HistoryRepo struct{ db *sql.DB }

// NewHistoryRepo creates the repository.
func NewHistoryRepo(db *sql.DB) *HistoryRepo { return &HistoryRepo{db: db} }

// SendStats counts sent, bounced and complained jobs of the project since the
// window start, by event time.
func (r *HistoryRepo) SendStats(ctx context.Context, projectID string, since time.Time) (readiness.SendStats, error) {
	var s readiness.SendStats
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(DISTINCT e.job_id) FILTER (WHERE e.type = 'sent'),
			COUNT(DISTINCT e.job_id) FILTER (WHERE e.type = 'bounced'),
			COUNT(DISTINCT e.job_id) FILTER (WHERE e.type = 'complained')
		FROM message_events e
		JOIN message_jobs j ON j.id = e.job_id
		WHERE j.project_id = $1 AND e.occurred_at >= $2
	`, projectID, since).Scan(&s.Sent, &s.Bounced, &s.Complained)
	if err != nil {
		return s, fmt.Errorf("send stats: %w", err)
	}
	return s, nil
}

// OrgProfile describes the organisation owning the project. An unknown
// project yields a zero profile.
func (r *HistoryRepo) OrgProfile(ctx context.Context, projectID string) (readiness.OrgProfile, error) {
	var p readiness.OrgProfile
	err := r.db.QueryRowContext(ctx, `
		SELECT o.created_at,
		       (SELECT COUNT(*) FROM message_jobs j
		          JOIN projects pp ON pp.id = j.project_id
		         WHERE pp.organization_id = o.id
		           AND j.status IN ('SENT', 'DELIVERED', 'BOUNCED', 'COMPLAINED')),
		       EXISTS (SELECT 1 FROM campaigns c
		          JOIN projects pp ON pp.id = c.project_id
		         WHERE pp.organization_id = o.id)
		FROM projects p
		JOIN organizations o ON o.id = p.organization_id
		WHERE p.id = $1
	`, projectID).Scan(&p.CreatedAt, &p.LifetimeMessages, &p.HasCampaign)
	if err == sql.ErrNoRows {
		return readiness.OrgProfile{}, nil
	}
	if err != nil {
		return p, fmt.Errorf("org profile: %w", err)
	}
	return p, nil
}

// ImportActivity summarises imports since the window start. An import is
// one import batch of guests; a batch larger than burst is a large import.
func (r *HistoryRepo) ImportActivity(ctx context.Context, projectID string, since time.Time, burst, largeCampaign int) (readiness.ImportActivity, error) {
	var a readiness.ImportActivity
	var largeAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM guests
			  WHERE project_id = $1 AND import_batch_id IS NOT NULL AND created_at >= $2),
			(SELECT MAX(batch_at) FROM (
				SELECT MAX(created_at) AS batch_at
				FROM guests
				WHERE project_id = $1 AND import_batch_id IS NOT NULL AND created_at >= $2
				GROUP BY import_batch_id
				HAVING COUNT(*) > $3
			) b)
	`, projectID, since, burst).Scan(&a.GuestsImported, &largeAt)
	if err != nil {
		return a, fmt.Errorf("import activity: %w", err)
	}
	if !largeAt.Valid {
		return a, nil
	}
	t := largeAt.Time
	a.LargeImportAt = &t

	err = r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM campaigns c
			WHERE c.project_id = $1 AND c.created_at >= $2
			  AND (SELECT COUNT(*) FROM message_jobs j WHERE j.campaign_id = c.id) > $3
		)
	`, projectID, t, largeCampaign).Scan(&a.LargeCampaignAfterImport)
	if err != nil {
		return a, fmt.Errorf("large campaign after import: %w", err)
	}
	return a, nil
}
