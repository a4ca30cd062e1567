package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/campaign-delivery/internal/domain"
)

// PromotionRepo stores promotion analytics rows.
type PromotionRepo struct{ db *sql.DB }

// NewPromotionRepo creates the repository.
func NewPromotionRepo(db *sql.DB) *PromotionRepo { return &PromotionRepo{db: db} }

func (r *PromotionRepo) RecordPromotion(ctx context.Context, ev domain.PromotionEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO promotion_events (id, campaign_id, project_id, scheduled_at, promoted_at, delay_ms, jobs_promoted)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.NewString(), ev.CampaignID, ev.ProjectID, ev.ScheduledAt, ev.PromotedAt, ev.Delay.Milliseconds(), ev.JobsPromoted)
	if err != nil {
		return fmt.Errorf("insert promotion event: %w", err)
	}
	return nil
}
