package feedback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-delivery/internal/domain"
	"github.com/ignite/campaign-delivery/internal/metrics"
	"github.com/ignite/campaign-delivery/internal/pkg/logger"
	"github.com/ignite/campaign-delivery/internal/service/suppression"
)

// Result describes what Process did with an event.
type Result struct {
	// Handled is false when the event did not match a tracked job.
	Handled       bool             `json:"handled"`
	JobID         string           `json:"job_id,omitempty"`
	Status        domain.JobStatus `json:"status,omitempty"`
	StatusChanged bool             `json:"status_changed"`
	Suppressed    bool             `json:"suppressed"`
}

// Processor applies normalized provider events. It is safe for concurrent use.
type Processor struct {
	repo          Repository
	suppressor    Suppressor
	log           *logger.Logger
	metrics       *metrics.Metrics
	deferredDelay time.Duration
	now           func() time.Time
}

// Option customises a Processor.
type Option func(*Processor)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option { return func(p *Processor) { p.log = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option { return func(p *Processor) { p.metrics = m } }

// WithDeferredDelay sets how long a soft-bounced job waits before retry.
func WithDeferredDelay(d time.Duration) Option { return func(p *Processor) { p.deferredDelay = d } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(p *Processor) { p.now = now } }

// NewProcessor builds a Processor.
func NewProcessor(repo Repository, suppressor Suppressor, opts ...Option) *Processor {
	p := &Processor{
		repo:          repo,
		suppressor:    suppressor,
		log:           logger.Default(),
		deferredDelay: 15 * time.Minute,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process applies one event. An unknown provider message id is not an
// error: the result reports Handled=false.
func (p *Processor) Process(ctx context.Context, ev domain.ProviderEvent) (Result, error) {
	if ev.ProviderMessageID == "" {
		return Result{}, fmt.Errorf("event has no provider message id")
	}
	job, err := p.repo.FindJobByProviderID(ctx, ev.ProviderMessageID)
	if errors.Is(err, ErrJobNotFound) {
		p.log.Info("feedback: event for untracked message", "type", ev.Type, "provider_message_id", ev.ProviderMessageID)
		p.metrics.WebhookEvent(string(ev.Type), false)
		return Result{}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("find job: %w", err)
	}

	occurred := ev.Timestamp
	if occurred.IsZero() {
		occurred = p.now()
	}
	m := Mutation{
		JobID: job.ID,
		Event: domain.MessageEvent{
			ID:         uuid.NewString(),
			JobID:      job.ID,
			CampaignID: job.CampaignID,
			OccurredAt: occurred.UTC(),
			Metadata:   map[string]string{"provider_message_id": ev.ProviderMessageID},
		},
	}
	res := Result{Handled: true, JobID: job.ID}

	switch ev.Type {
	case domain.ProviderBounce:
		m.Event.Type = domain.EventBounced
		m.Event.Metadata["bounce_type"] = string(ev.BounceType)
		setIf(m.Event.Metadata, "bounce_sub_type", ev.BounceSubType)
		setIf(m.Event.Metadata, "diagnostic", ev.Diagnostic)
		if ev.BounceType == domain.BouncePermanent {
			m.Status = domain.JobBounced
			m.ErrorMessage = "permanent bounce: " + ev.BounceSubType
			res.Suppressed, err = p.suppress(ctx, job, domain.ReasonBounce, "permanent bounce "+ev.BounceSubType)
			if err != nil {
				return Result{}, err
			}
		} else {
			// Transient and undetermined bounces are retried, not suppressed.
			m.Status = domain.JobDeferred
			m.IncrementAttempts = true
			m.ErrorMessage = "transient bounce: " + ev.BounceSubType
			next := p.now().Add(p.deferredDelay).UTC()
			m.NextAttemptAt = &next
		}

	case domain.ProviderComplaint:
		m.Event.Type = domain.EventComplained
		setIf(m.Event.Metadata, "feedback_type", ev.ComplaintFeedbackType)
		m.Status = domain.JobComplained
		res.Suppressed, err = p.suppress(ctx, job, domain.ReasonComplaint, "complaint "+ev.ComplaintFeedbackType)
		if err != nil {
			return Result{}, err
		}

	case domain.ProviderDelivery:
		m.Event.Type = domain.EventDelivered
		m.Status = domain.JobDelivered

	case domain.ProviderSend:
		m.Event.Type = domain.EventSent
		m.Event.Metadata["source"] = "provider"
		m.Status = domain.JobSent

	case domain.ProviderOpen:
		m.Event.Type = domain.EventOpened
		setIf(m.Event.Metadata, "ip_address", ev.IPAddress)
		setIf(m.Event.Metadata, "user_agent", ev.UserAgent)

	case domain.ProviderClick:
		m.Event.Type = domain.EventClicked
		setIf(m.Event.Metadata, "link", ev.Link)
		setIf(m.Event.Metadata, "ip_address", ev.IPAddress)
		setIf(m.Event.Metadata, "user_agent", ev.UserAgent)

	default:
		p.log.Warn("feedback: unsupported event type", "type", ev.Type, "job_id", job.ID)
		p.metrics.WebhookEvent(string(ev.Type), false)
		return Result{}, nil
	}

	if m.Status != "" {
		m.AllowedFrom = domain.StatusesAdvancingTo(m.Status)
	}
	changed, err := p.repo.ApplyEvent(ctx, m)
	if err != nil {
		return Result{}, fmt.Errorf("apply %s event: %w", ev.Type, err)
	}
	res.StatusChanged = changed
	res.Status = job.Status
	if changed {
		res.Status = m.Status
	}

	p.metrics.WebhookEvent(string(ev.Type), true)
	p.log.Debug("feedback applied",
		"job_id", job.ID, "type", ev.Type, "status", res.Status, "changed", changed, "suppressed", res.Suppressed)
	return res, nil
}

// suppress runs before the job transaction so a failed transaction can be
// retried by the provider without duplicating the entry.
func (p *Processor) suppress(ctx context.Context, job *domain.MessageJob, reason domain.SuppressionReason, note string) (bool, error) {
	in := suppression.AddInput{
		ProjectID: job.ProjectID,
		Reason:    string(reason),
		Source:    domain.SourceWebhook,
		Note:      note,
	}
	// Only the address the message went to is suppressed.
	switch job.Channel {
	case domain.ChannelWhatsApp:
		in.Phone = job.Phone
	default:
		in.Email = job.Email
	}
	if in.Email == "" && in.Phone == "" {
		return false, nil
	}
	_, created, err := p.suppressor.AddIfAbsent(ctx, in)
	if err != nil {
		return false, fmt.Errorf("suppress %s: %w", job.ID, err)
	}
	return created, nil
}

func setIf(m map[string]string, k, v string) {
	if v != "" {
		m[k] = v
	}
}
