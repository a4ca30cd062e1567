package domain

import (
	"fmt"
	"strings"
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "DRAFT"
	CampaignQueued    CampaignStatus = "QUEUED"
	CampaignScheduled CampaignStatus = "SCHEDULED"
	CampaignSending   CampaignStatus = "SENDING"
	CampaignPaused    CampaignStatus = "PAUSED"
	CampaignCompleted CampaignStatus = "COMPLETED"
	CampaignCancelled CampaignStatus = "CANCELLED"
	CampaignBlocked   CampaignStatus = "BLOCKED"
)

// Valid reports whether s is one of the defined statuses.
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignDraft, CampaignQueued, CampaignScheduled, CampaignSending,
		CampaignPaused, CampaignCompleted, CampaignCancelled, CampaignBlocked:
		return true
	}
	return false
}

// IsTerminal returns true if the campaign can no longer change state.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignCompleted || s == CampaignCancelled
}

// Sendable reports whether workers may deliver jobs of a campaign in this state.
func (s CampaignStatus) Sendable() bool {
	return s == CampaignQueued || s == CampaignSending
}

// Channel is the delivery channel of a campaign.
type Channel string

const (
	ChannelEmail    Channel = "EMAIL"
	ChannelWhatsApp Channel = "WHATSAPP"
)

// ParseChannel normalizes and validates a channel name.
func ParseChannel(s string) (Channel, error) {
	switch c := Channel(strings.ToUpper(strings.TrimSpace(s))); c {
	case ChannelEmail, ChannelWhatsApp:
		return c, nil
	}
	return "", fmt.Errorf("unknown channel %q", s)
}

// Campaign is one outbound message sent to many recipients over one channel.
type Campaign struct {
	ID               string         `json:"id" db:"id"`
	ProjectID        string         `json:"project_id" db:"project_id"`
	OrganizationID   string         `json:"organization_id" db:"organization_id"`
	Name             string         `json:"name" db:"name"`
	Channel          Channel        `json:"channel" db:"channel"`
	Subject          string         `json:"subject" db:"subject"`
	Body             string         `json:"body" db:"body"`
	TextBody         string         `json:"text_body,omitempty" db:"text_body"`
	FromEmail        string         `json:"from_email,omitempty" db:"from_email"`
	FromName         string         `json:"from_name,omitempty" db:"from_name"`
	ReplyTo          string         `json:"reply_to,omitempty" db:"reply_to"`
	Status           CampaignStatus `json:"status" db:"status"`
	ReadinessOutcome Outcome        `json:"readiness_outcome,omitempty" db:"readiness_outcome"`
	ReadinessScore   int            `json:"readiness_score" db:"readiness_score"`
	ScheduledAt      *time.Time     `json:"scheduled_at,omitempty" db:"scheduled_at"`
	CreatedBy        string         `json:"created_by" db:"created_by"`
	ApprovedBy       string         `json:"approved_by,omitempty" db:"approved_by"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at" db:"updated_at"`
}

// Throttled reports whether the readiness gate asked for a reduced send rate.
func (c *Campaign) Throttled() bool { return c.ReadinessOutcome == OutcomeThrottled }

// HasFutureSchedule reports whether ScheduledAt lies after now.
func (c *Campaign) HasFutureSchedule(now time.Time) bool {
	return c.ScheduledAt != nil && c.ScheduledAt.After(now)
}

// ReleaseStatus is the status a campaign moves to when it is allowed to send:
// SCHEDULED for a future schedule, otherwise QUEUED.
func (c *Campaign) ReleaseStatus(now time.Time) CampaignStatus {
	if c.HasFutureSchedule(now) {
		return CampaignScheduled
	}
	return CampaignQueued
}

// DerivedJobStatus is the initial job status mirrored from a campaign status.
func DerivedJobStatus(s CampaignStatus) JobStatus {
	if s == CampaignScheduled {
		return JobScheduled
	}
	return JobQueued
}

// Recipient is one addressee supplied when a campaign is created.
type Recipient struct {
	GuestID string            `json:"guest_id,omitempty"`
	Email   string            `json:"email,omitempty"`
	Phone   string            `json:"phone,omitempty"`
	Name    string            `json:"name,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// AudienceSegment describes a recipient set to resolve at creation time.
type AudienceSegment struct {
	SegmentID string            `json:"segment_id,omitempty"`
	Filters   map[string]string `json:"filters,omitempty"`
}

// CampaignStats aggregates job outcomes for one campaign.
type CampaignStats struct {
	CampaignID    string            `json:"campaign_id"`
	Status        CampaignStatus    `json:"status"`
	Total         int               `json:"total"`
	ByStatus      map[JobStatus]int `json:"by_status"`
	Opened        int               `json:"opened"`
	Clicked       int               `json:"clicked"`
	DeliveryRate  float64           `json:"delivery_rate"`
	OpenRate      float64           `json:"open_rate"`
	ClickRate     float64           `json:"click_rate"`
	BounceRate    float64           `json:"bounce_rate"`
	ComplaintRate float64           `json:"complaint_rate"`
	FailedRate    float64           `json:"failed_rate"`
}
