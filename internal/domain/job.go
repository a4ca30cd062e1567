package domain

import (
	"strconv"
	"time"
)

// JobStatus enumerates the per-recipient delivery states.
type JobStatus string

const (
	JobScheduled  JobStatus = "SCHEDULED"
	JobQueued     JobStatus = "QUEUED"
	JobSent       JobStatus = "SENT"
	JobDelivered  JobStatus = "DELIVERED"
	JobBounced    JobStatus = "BOUNCED"
	JobComplained JobStatus = "COMPLAINED"
	JobDeferred   JobStatus = "DEFERRED"
	JobFailed     JobStatus = "FAILED"
	JobCancelled  JobStatus = "CANCELLED"
)

// AllJobStatuses lists every job status in display order.
var AllJobStatuses = []JobStatus{
	JobScheduled, JobQueued, JobSent, JobDelivered, JobBounced,
	JobComplained, JobDeferred, JobFailed, JobCancelled,
}

// IsPending reports whether the job still waits for a send attempt.
func (s JobStatus) IsPending() bool {
	return s == JobScheduled || s == JobQueued || s == JobDeferred
}

// IsFinal reports whether provider feedback has settled the job for good.
func (s JobStatus) IsFinal() bool {
	return s == JobBounced || s == JobComplained || s == JobFailed || s == JobCancelled
}

// rank orders post-send states so late feedback cannot move a job backwards.
var rank = map[JobStatus]int{
	JobSent:       1,
	JobDeferred:   1,
	JobDelivered:  2,
	JobBounced:    3,
	JobComplained: 3,
}

// CanAdvanceTo reports whether provider feedback may move a job from s to next.
// Re-applying the current status is allowed and harmless.
func (s JobStatus) CanAdvanceTo(next JobStatus) bool {
	if s == next {
		return true
	}
	if s == JobFailed || s == JobCancelled {
		return false
	}
	return rank[next] >= rank[s]
}

// MessageJob is one recipient of one campaign.
type MessageJob struct {
	ID                string     `json:"id" db:"id"`
	CampaignID        string     `json:"campaign_id" db:"campaign_id"`
	ProjectID         string     `json:"project_id" db:"project_id"`
	GuestID           string     `json:"guest_id,omitempty" db:"guest_id"`
	Email             string     `json:"email,omitempty" db:"email"`
	Phone             string     `json:"phone,omitempty" db:"phone"`
	Name              string     `json:"name,omitempty" db:"name"`
	Channel           Channel    `json:"channel" db:"channel"`
	Status            JobStatus  `json:"status" db:"status"`
	Attempts          int        `json:"attempts" db:"attempts"`
	ExternalMessageID string     `json:"external_message_id,omitempty" db:"external_message_id"`
	ErrorMessage      string     `json:"error_message,omitempty" db:"error_message"`
	NextAttemptAt     *time.Time `json:"next_attempt_at,omitempty" db:"next_attempt_at"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// Address returns the contact field used by the job's channel.
func (j *MessageJob) Address() string {
	if j.Channel == ChannelWhatsApp {
		return j.Phone
	}
	return j.Email
}

// IdempotencyKey identifies one send attempt of a job at the provider.
func IdempotencyKey(jobID string, attempt int) string {
	return jobID + "-" + strconv.Itoa(attempt)
}

// StatusesAdvancingTo lists the statuses from which feedback may move a job to next.
func StatusesAdvancingTo(next JobStatus) []JobStatus {
	var out []JobStatus
	for _, s := range AllJobStatuses {
		if s.CanAdvanceTo(next) {
			out = append(out, s)
		}
	}
	return out
}
