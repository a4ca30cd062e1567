package readiness

import (
	"context"
	"time"
)

// SendStats are the trailing-window delivery outcomes of a project.
type SendStats struct {
	Sent       int
	Bounced    int
	Complained int
}

// OrgProfile describes the organisation owning a project.
type OrgProfile struct {
	CreatedAt        time.Time
	LifetimeMessages int
	HasCampaign      bool
}

// ImportActivity summarises recent guest imports.
type ImportActivity struct {
	// GuestsImported counts guests created by imports since the window start.
	GuestsImported int
	// LargeImportAt is the time of the latest single import above the burst
	// threshold within the window, nil if none.
	LargeImportAt *time.Time
	// LargeCampaignAfterImport is true when a persisted campaign above the
	// recipient threshold was created within the window after LargeImportAt.
	LargeCampaignAfterImport bool
}

// HistoryRepository reads the historical data the scorer needs.
type HistoryRepository interface {
	SendStats(ctx context.Context, projectID string, since time.Time) (SendStats, error)
	OrgProfile(ctx context.Context, projectID string) (OrgProfile, error)
	ImportActivity(ctx context.Context, projectID string, since time.Time, burst, largeCampaign int) (ImportActivity, error)
}

// SuppressionChecker reports whether a project keeps a suppression list.
type SuppressionChecker interface {
	HasList(ctx context.Context, projectID string) (bool, error)
}
