package campaign

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-delivery/internal/domain"
	"github.com/ignite/campaign-delivery/internal/metrics"
	"github.com/ignite/campaign-delivery/internal/pkg/logger"
)

// Deps are the collaborators of the campaign service. Audience, Audit and
// Dispatcher are optional.
type Deps struct {
	Readiness   ReadinessScorer
	Suppression SuppressionChecker
	Audience    AudienceResolver
	Audit       Auditor
	Dispatcher  Dispatcher
	Logger      *logger.Logger
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

// Service implements campaign business logic. All public methods are safe
// for concurrent use if the underlying repository is concurrency-safe.
type Service struct {
	repo        Repository
	readiness   ReadinessScorer
	suppression SuppressionChecker
	audience    AudienceResolver
	audit       Auditor
	dispatcher  Dispatcher
	log         *logger.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

// NewService creates a campaign service backed by the given repository.
func NewService(repo Repository, deps Deps) *Service {
	s := &Service{
		repo:        repo,
		readiness:   deps.Readiness,
		suppression: deps.Suppression,
		audience:    deps.Audience,
		audit:       deps.Audit,
		dispatcher:  deps.Dispatcher,
		log:         deps.Logger,
		metrics:     deps.Metrics,
		now:         deps.Now,
	}
	if s.log == nil {
		s.log = logger.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// CreateInput holds the fields for creating a new campaign.
type CreateInput struct {
	ProjectID      string                  `json:"project_id"`
	OrganizationID string                  `json:"organization_id"`
	Name           string                  `json:"name"`
	Channel        string                  `json:"channel"`
	Subject        string                  `json:"subject"`
	Body           string                  `json:"body"`
	TextBody       string                  `json:"text_body"`
	FromEmail      string                  `json:"from_email"`
	FromName       string                  `json:"from_name"`
	ReplyTo        string                  `json:"reply_to"`
	ScheduledAt    *time.Time              `json:"scheduled_at"`
	Recipients     []domain.Recipient      `json:"recipients"`
	Audience       *domain.AudienceSegment `json:"audience"`
	SkipReadiness  bool                    `json:"skip_readiness"`
	CreatedBy      string                  `json:"created_by"`
}

// CreateResult reports what Create persisted and what it skipped.
type CreateResult struct {
	Campaign    *domain.Campaign  `json:"campaign"`
	JobsCreated int               `json:"jobs_created"`
	Suppressed  int               `json:"suppressed"`
	Invalid     int               `json:"invalid"`
	Duplicates  int               `json:"duplicates"`
	Readiness   *domain.Readiness `json:"readiness,omitempty"`
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.repo.Get(ctx, id)
}

// List returns campaigns matching the filter.
func (s *Service) List(ctx context.Context, projectID string, f ListFilter) ([]domain.Campaign, int, error) {
	return s.repo.List(ctx, projectID, f)
}

// Readiness computes the current readiness of a project.
func (s *Service) Readiness(ctx context.Context, projectID string) (*domain.Readiness, error) {
	return s.readiness.ComputeReadiness(ctx, projectID)
}

// Create validates input, applies the readiness gate and persists the
// campaign with one job per deliverable recipient. Suppressed, malformed
// and duplicate recipients are skipped and counted. A recipient lacking the
// channel's contact field fails the whole call.
func (s *Service) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	now := s.now().UTC()

	channel, err := domain.ParseChannel(in.Channel)
	if err != nil {
		return nil, invalid("channel", "must be EMAIL or WHATSAPP")
	}
	if in.ProjectID == "" {
		return nil, invalid("project_id", "is required")
	}
	if strings.TrimSpace(in.Body) == "" {
		return nil, invalid("body", "is required")
	}
	if channel == domain.ChannelEmail && strings.TrimSpace(in.Subject) == "" {
		return nil, invalid("subject", "is required for EMAIL campaigns")
	}
	if len(in.Recipients) == 0 && in.Audience == nil {
		return nil, invalid("recipients", "a recipient list or an audience segment is required")
	}

	recipients := in.Recipients
	if len(recipients) == 0 {
		if s.audience == nil {
			return nil, invalid("audience", "audience segments are not supported")
		}
		recipients, err = s.audience.Resolve(ctx, in.ProjectID, *in.Audience)
		if err != nil {
			return nil, fmt.Errorf("resolve audience: %w", err)
		}
	}

	c := &domain.Campaign{
		ID:             uuid.NewString(),
		ProjectID:      in.ProjectID,
		OrganizationID: in.OrganizationID,
		Name:           in.Name,
		Channel:        channel,
		Subject:        in.Subject,
		Body:           in.Body,
		TextBody:       in.TextBody,
		FromEmail:      in.FromEmail,
		FromName:       in.FromName,
		ReplyTo:        in.ReplyTo,
		CreatedBy:      in.CreatedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.ScheduledAt != nil && in.ScheduledAt.After(now) {
		at := in.ScheduledAt.UTC()
		c.ScheduledAt = &at
	}
	c.Status = c.ReleaseStatus(now)
	jobStatus := domain.DerivedJobStatus(c.Status)

	res := &CreateResult{Campaign: c}
	jobs, err := s.buildJobs(ctx, c, recipients, jobStatus, now, res)
	if err != nil {
		return nil, err
	}

	if !in.SkipReadiness {
		r, err := s.readiness.ComputeForCampaign(ctx, in.ProjectID, len(jobs))
		if err != nil {
			return nil, fmt.Errorf("readiness: %w", err)
		}
		res.Readiness = r
		s.metrics.ReadinessOutcome(string(r.Outcome))
		c.ReadinessOutcome = r.Outcome
		c.ReadinessScore = r.Score
		if r.Outcome == domain.OutcomeBlocked {
			c.Status = domain.CampaignBlocked
		}
	}

	if err := s.repo.CreateWithJobs(ctx, c, jobs); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	res.JobsCreated = len(jobs)

	s.log.Info("campaign created",
		"campaign_id", c.ID, "project_id", c.ProjectID, "status", c.Status,
		"jobs", res.JobsCreated, "suppressed", res.Suppressed, "invalid", res.Invalid)

	if c.Status == domain.CampaignBlocked {
		s.record(ctx, c, in.CreatedBy, "campaign.blocked", map[string]string{
			"score": fmt.Sprint(c.ReadinessScore),
		})
	}
	if c.Status == domain.CampaignQueued {
		s.dispatch(ctx, c.ID)
	}
	return res, nil
}

func (s *Service) buildJobs(ctx context.Context, c *domain.Campaign, recipients []domain.Recipient, status domain.JobStatus, now time.Time, res *CreateResult) ([]domain.MessageJob, error) {
	jobs := make([]domain.MessageJob, 0, len(recipients))
	seen := make(map[string]struct{}, len(recipients))

	for i, r := range recipients {
		job := domain.MessageJob{
			ID:         uuid.NewString(),
			CampaignID: c.ID,
			ProjectID:  c.ProjectID,
			GuestID:    r.GuestID,
			Name:       r.Name,
			Channel:    c.Channel,
			Status:     status,
			CreatedAt:  now,
			UpdatedAt:  now,
		}

		switch c.Channel {
		case domain.ChannelEmail:
			email := domain.NormalizeEmail(r.Email)
			if email == "" {
				return nil, invalid(fmt.Sprintf("recipients[%d].email", i), "is required for EMAIL campaigns")
			}
			if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
				res.Invalid++
				continue
			}
			suppressed, err := s.suppression.IsSuppressed(ctx, c.ProjectID, email)
			if err != nil {
				return nil, fmt.Errorf("suppression check: %w", err)
			}
			if suppressed {
				res.Suppressed++
				continue
			}
			job.Email = email
			job.Phone = domain.NormalizePhone(r.Phone)

		case domain.ChannelWhatsApp:
			phone := domain.NormalizePhone(r.Phone)
			if phone == "" {
				return nil, invalid(fmt.Sprintf("recipients[%d].phone", i), "is required for WHATSAPP campaigns")
			}
			job.Phone = phone
			job.Email = domain.NormalizeEmail(r.Email)
		}

		key := job.Address()
		if _, dup := seen[key]; dup {
			res.Duplicates++
			continue
		}
		seen[key] = struct{}{}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Approve releases a BLOCKED campaign. It becomes SCHEDULED when its
// schedule is still in the future, otherwise QUEUED.
func (s *Service) Approve(ctx context.Context, id, adminID, reason string) (*domain.Campaign, error) {
	if strings.TrimSpace(adminID) == "" {
		return nil, invalid("admin_id", "is required")
	}
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CampaignBlocked {
		return nil, &TransitionError{CampaignID: id, Op: "approve", Current: c.Status}
	}

	now := s.now().UTC()
	to := c.ReleaseStatus(now)
	u := StatusUpdate{ApprovedBy: adminID, AlignJobs: true, ClearSchedule: c.ScheduledAt != nil && to == domain.CampaignQueued}
	if err := s.transition(ctx, c, "approve", to, u); err != nil {
		return nil, err
	}
	c.ApprovedBy = adminID
	if u.ClearSchedule {
		c.ScheduledAt = nil
	}

	s.record(ctx, c, adminID, "campaign.approved", map[string]string{"reason": reason, "status": string(to)})
	if to == domain.CampaignQueued {
		s.dispatch(ctx, c.ID)
	}
	return c, nil
}

var cancellable = []domain.CampaignStatus{
	domain.CampaignQueued, domain.CampaignScheduled, domain.CampaignPaused, domain.CampaignBlocked,
}

// Cancel stops a campaign that has not started sending. Pending jobs are
// cancelled with it; a send already in flight is left to finish.
func (s *Service) Cancel(ctx context.Context, id, cancelledBy, reason string) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !statusIn(c.Status, cancellable) {
		return nil, &TransitionError{CampaignID: id, Op: "cancel", Current: c.Status}
	}
	if err := s.transition(ctx, c, "cancel", domain.CampaignCancelled, StatusUpdate{CancelPendingJobs: true}); err != nil {
		return nil, err
	}
	s.record(ctx, c, cancelledBy, "campaign.cancelled", map[string]string{"reason": reason})
	return c, nil
}

var pausable = []domain.CampaignStatus{
	domain.CampaignQueued, domain.CampaignScheduled, domain.CampaignSending,
}

// Pause holds a campaign. Workers stop claiming its jobs until Resume.
func (s *Service) Pause(ctx context.Context, id, actorID string) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !statusIn(c.Status, pausable) {
		return nil, &TransitionError{CampaignID: id, Op: "pause", Current: c.Status}
	}
	if err := s.transition(ctx, c, "pause", domain.CampaignPaused, StatusUpdate{}); err != nil {
		return nil, err
	}
	s.record(ctx, c, actorID, "campaign.paused", nil)
	return c, nil
}

// Resume releases a PAUSED campaign the same way Approve releases a blocked one.
func (s *Service) Resume(ctx context.Context, id, actorID string) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CampaignPaused {
		return nil, &TransitionError{CampaignID: id, Op: "resume", Current: c.Status}
	}
	to := c.ReleaseStatus(s.now().UTC())
	if err := s.transition(ctx, c, "resume", to, StatusUpdate{AlignJobs: true}); err != nil {
		return nil, err
	}
	s.record(ctx, c, actorID, "campaign.resumed", map[string]string{"status": string(to)})
	if to == domain.CampaignQueued {
		s.dispatch(ctx, c.ID)
	}
	return c, nil
}

// transition applies a guarded status change. A concurrent change is
// reported as a TransitionError carrying the fresh status.
func (s *Service) transition(ctx context.Context, c *domain.Campaign, op string, to domain.CampaignStatus, u StatusUpdate) error {
	err := s.repo.UpdateStatus(ctx, c.ID, c.Status, to, u)
	if errors.Is(err, ErrStatusChanged) {
		current := c.Status
		if fresh, getErr := s.repo.Get(ctx, c.ID); getErr == nil {
			current = fresh.Status
		}
		return &TransitionError{CampaignID: c.ID, Op: op, Current: current}
	}
	if err != nil {
		return fmt.Errorf("%s campaign: %w", op, err)
	}
	s.log.Info("campaign transitioned", "campaign_id", c.ID, "from", c.Status, "to", to, "op", op)
	c.Status = to
	c.UpdatedAt = s.now().UTC()
	return nil
}

// Stats aggregates job outcomes. Rates are percentages of all jobs rounded
// to one decimal place; an empty campaign reports zero rates.
func (s *Service) Stats(ctx context.Context, id string) (*domain.CampaignStats, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	counts, err := s.repo.JobCounts(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("job counts: %w", err)
	}
	opened, clicked, err := s.repo.EngagementCounts(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("engagement counts: %w", err)
	}

	st := &domain.CampaignStats{
		CampaignID: id,
		Status:     c.Status,
		ByStatus:   make(map[domain.JobStatus]int, len(domain.AllJobStatuses)),
		Opened:     opened,
		Clicked:    clicked,
	}
	for _, js := range domain.AllJobStatuses {
		st.ByStatus[js] = counts[js]
		st.Total += counts[js]
	}
	st.DeliveryRate = percent(counts[domain.JobDelivered], st.Total)
	st.OpenRate = percent(opened, st.Total)
	st.ClickRate = percent(clicked, st.Total)
	st.BounceRate = percent(counts[domain.JobBounced], st.Total)
	st.ComplaintRate = percent(counts[domain.JobComplained], st.Total)
	st.FailedRate = percent(counts[domain.JobFailed], st.Total)
	return st, nil
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}

func statusIn(s domain.CampaignStatus, set []domain.CampaignStatus) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

// record writes an audit entry. Failures are logged, never returned.
func (s *Service) record(ctx context.Context, c *domain.Campaign, actor, action string, meta map[string]string) {
	if s.audit == nil {
		return
	}
	entry := domain.AuditEntry{
		ID:         uuid.NewString(),
		ProjectID:  c.ProjectID,
		ActorID:    actor,
		Action:     action,
		EntityType: "campaign",
		EntityID:   c.ID,
		Metadata:   meta,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.log.Warn("campaign: audit write failed", "campaign_id", c.ID, "action", action, "error", err)
	}
}

// dispatch hands QUEUED jobs to the delivery queue. A failure is logged;
// queue recovery picks up jobs that never reached the queue.
func (s *Service) dispatch(ctx context.Context, campaignID string) {
	if s.dispatcher == nil {
		return
	}
	n, err := s.dispatcher.DispatchCampaign(ctx, campaignID)
	if err != nil {
		s.log.Warn("campaign: dispatch failed", "campaign_id", campaignID, "error", err)
		return
	}
	s.log.Debug("campaign dispatched", "campaign_id", campaignID, "jobs", n)
}
