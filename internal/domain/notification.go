package domain

import "time"

// Notification is an in-app message to a user.
type Notification struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	ProjectID string    `json:"project_id" db:"project_id"`
	Kind      string    `json:"kind" db:"kind"`
	Title     string    `json:"title" db:"title"`
	Body      string    `json:"body" db:"body"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// AuditEntry records an administrative action on a campaign or contact.
type AuditEntry struct {
	ID         string            `json:"id" db:"id"`
	ProjectID  string            `json:"project_id" db:"project_id"`
	ActorID    string            `json:"actor_id" db:"actor_id"`
	Action     string            `json:"action" db:"action"`
	EntityType string            `json:"entity_type" db:"entity_type"`
	EntityID   string            `json:"entity_id" db:"entity_id"`
	Metadata   map[string]string `json:"metadata,omitempty" db:"metadata"`
	CreatedAt  time.Time         `json:"created_at" db:"created_at"`
}

// PromotionEvent is the analytics row written when a scheduled campaign is promoted.
type PromotionEvent struct {
	CampaignID   string        `json:"campaign_id"`
	ProjectID    string        `json:"project_id"`
	ScheduledAt  time.Time     `json:"scheduled_at"`
	PromotedAt   time.Time     `json:"promoted_at"`
	Delay        time.Duration `json:"delay"`
	JobsPromoted int           `json:"jobs_promoted"`
}
