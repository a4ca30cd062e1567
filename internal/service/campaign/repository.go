package campaign

import (
	"context"

	"github.com/ignite/campaign-delivery/internal/domain"
)

// Repository defines the data access contract for campaigns and their jobs.
// Implementations must be safe for concurrent use.
type Repository interface {
	// CreateWithJobs inserts the campaign and all of its jobs atomically.
	CreateWithJobs(ctx context.Context, c *domain.Campaign, jobs []domain.MessageJob) error

	// Get returns a single campaign. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Campaign, error)

	// List returns campaigns of a project ordered by created_at DESC.
	List(ctx context.Context, projectID string, filter ListFilter) ([]domain.Campaign, int, error)

	// UpdateStatus moves a campaign from one status to another in a single
	// transaction, applying the job side effects in u. Returns
	// ErrStatusChanged if the campaign is no longer in status from.
	UpdateStatus(ctx context.Context, id string, from, to domain.CampaignStatus, u StatusUpdate) error

	// JobCounts returns the number of jobs per status.
	JobCounts(ctx context.Context, campaignID string) (map[domain.JobStatus]int, error)

	// EngagementCounts returns how many distinct jobs were opened and clicked.
	EngagementCounts(ctx context.Context, campaignID string) (opened, clicked int, err error)
}

// StatusUpdate carries the side effects of a status change.
type StatusUpdate struct {
	ApprovedBy string
	// CancelPendingJobs moves SCHEDULED, QUEUED and DEFERRED jobs to CANCELLED.
	CancelPendingJobs bool
	// AlignJobs moves SCHEDULED and QUEUED jobs to the job status derived
	// from the new campaign status.
	AlignJobs bool
	// ClearSchedule drops a schedule that has already passed.
	ClearSchedule bool
}

// ListFilter controls pagination and filtering for campaign lists.
type ListFilter struct {
	Status string
	Limit  int
	Offset int
}

// ReadinessScorer gates new campaigns.
type ReadinessScorer interface {
	ComputeReadiness(ctx context.Context, projectID string) (*domain.Readiness, error)
	ComputeForCampaign(ctx context.Context, projectID string, recipientCount int) (*domain.Readiness, error)
}

// SuppressionChecker answers whether an address may receive mail.
type SuppressionChecker interface {
	IsSuppressed(ctx context.Context, projectID, email string) (bool, error)
}

// AudienceResolver expands a segment descriptor into recipients.
type AudienceResolver interface {
	Resolve(ctx context.Context, projectID string, seg domain.AudienceSegment) ([]domain.Recipient, error)
}

// Auditor records administrative actions.
type Auditor interface {
	Record(ctx context.Context, e domain.AuditEntry) error
}

// Dispatcher hands a campaign's QUEUED jobs to the delivery queue.
type Dispatcher interface {
	DispatchCampaign(ctx context.Context, campaignID string) (int, error)
}
