package domain

import (
	"strings"
	"time"
)

// EventType is the kind of an immutable message event.
type EventType string

const (
	EventSent       EventType = "sent"
	EventDelivered  EventType = "delivered"
	EventBounced    EventType = "bounced"
	EventComplained EventType = "complained"
	EventOpened     EventType = "opened"
	EventClicked    EventType = "clicked"
)

// MessageEvent is an append-only record of something that happened to a job.
type MessageEvent struct {
	ID         string            `json:"id" db:"id"`
	JobID      string            `json:"job_id" db:"job_id"`
	CampaignID string            `json:"campaign_id" db:"campaign_id"`
	Type       EventType         `json:"type" db:"type"`
	OccurredAt time.Time         `json:"occurred_at" db:"occurred_at"`
	Metadata   map[string]string `json:"metadata,omitempty" db:"metadata"`
}

// ProviderEventType is the normalized kind of an inbound provider event.
type ProviderEventType string

const (
	ProviderBounce    ProviderEventType = "bounce"
	ProviderComplaint ProviderEventType = "complaint"
	ProviderDelivery  ProviderEventType = "delivery"
	ProviderSend      ProviderEventType = "send"
	ProviderOpen      ProviderEventType = "open"
	ProviderClick     ProviderEventType = "click"
)

// ParseProviderEventType folds provider spellings ("Bounce", "BOUNCE") to a
// known type. The second return is false for types this service does not handle.
func ParseProviderEventType(s string) (ProviderEventType, bool) {
	switch t := ProviderEventType(strings.ToLower(strings.TrimSpace(s))); t {
	case ProviderBounce, ProviderComplaint, ProviderDelivery, ProviderSend, ProviderOpen, ProviderClick:
		return t, true
	}
	return "", false
}

// BounceKind classifies a bounce.
type BounceKind string

const (
	BouncePermanent    BounceKind = "Permanent"
	BounceTransient    BounceKind = "Transient"
	BounceUndetermined BounceKind = "Undetermined"
)

// ProviderEvent is the provider-agnostic shape every webhook adapter produces.
type ProviderEvent struct {
	Type              ProviderEventType `json:"event_type"`
	ProviderMessageID string            `json:"provider_message_id"`
	Timestamp         time.Time         `json:"timestamp"`
	Recipients        []string          `json:"recipients,omitempty"`

	BounceType    BounceKind `json:"bounce_type,omitempty"`
	BounceSubType string     `json:"bounce_sub_type,omitempty"`
	Diagnostic    string     `json:"diagnostic,omitempty"`

	ComplaintFeedbackType string `json:"complaint_feedback_type,omitempty"`

	Link      string `json:"link,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}
