package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-delivery/internal/domain"
	"github.com/ignite/campaign-delivery/internal/metrics"
	"github.com/ignite/campaign-delivery/internal/pkg/distlock"
	"github.com/ignite/campaign-delivery/internal/pkg/logger"
)

// DefaultSchedulerPollInterval is how often due campaigns are promoted.
const DefaultSchedulerPollInterval = 30 * time.Second

// EventCampaignPromoted is the organization webhook event name for promotions.
const EventCampaignPromoted = "campaign.promoted"

// PromotedCampaign is one campaign moved from SCHEDULED to QUEUED.
type PromotedCampaign struct {
	CampaignID     string
	ProjectID      string
	OrganizationID string
	Name           string
	CreatedBy      string
	ScheduledAt    time.Time
	JobIDs         []string
}

// PromotionStore runs the promotion and completion transactions.
type PromotionStore interface {
	// PromoteDue moves every SCHEDULED campaign due at or before now, and its
	// SCHEDULED jobs, to QUEUED in one transaction.
	PromoteDue(ctx context.Context, now time.Time) ([]PromotedCampaign, error)
	// CompleteFinished moves SENDING or QUEUED campaigns with no pending job
	// to COMPLETED and returns their ids. A QUEUED campaign gets there when
	// it never had a deliverable job.
	CompleteFinished(ctx context.Context) ([]string, error)
}

// JobEnqueuer hands job ids to the delivery queue.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, jobIDs []string) error
}

// NotificationSink stores in-app notifications.
type NotificationSink interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// PromotionRecorder stores analytics rows for promotions.
type PromotionRecorder interface {
	RecordPromotion(ctx context.Context, ev domain.PromotionEvent) error
}

// WebhookTrigger fans an event out to an organization's subscriptions.
type WebhookTrigger interface {
	Trigger(ctx context.Context, organizationID, event string, payload interface{}) error
}

// LockFactory builds the lock guarding one scheduler tick.
type LockFactory func(key string, ttl time.Duration) distlock.DistLock

// SchedulerDeps are the scheduler's collaborators. Only Store and Queue are required.
type SchedulerDeps struct {
	Store         PromotionStore
	Queue         JobEnqueuer
	Notifications NotificationSink
	Analytics     PromotionRecorder
	Webhooks      WebhookTrigger
	Locks         LockFactory
	Metrics       *metrics.Metrics
	Logger        *logger.Logger
	Now           func() time.Time
}

// PromoteResult summarises one promotion pass.
type PromoteResult struct {
	Campaigns int
	Jobs      int
	// SideEffectErrors counts best-effort steps that failed.
	SideEffectErrors int
}

// CampaignScheduler promotes due campaigns and closes finished ones.
type CampaignScheduler struct {
	deps         SchedulerDeps
	pollInterval time.Duration
	lockTTL      time.Duration
	log          *logger.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewCampaignScheduler builds a scheduler.
func NewCampaignScheduler(deps SchedulerDeps, pollInterval, lockTTL time.Duration) *CampaignScheduler {
	if pollInterval <= 0 {
		pollInterval = DefaultSchedulerPollInterval
	}
	if lockTTL <= 0 {
		lockTTL = 2 * time.Minute
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	log := deps.Logger
	if log == nil {
		log = logger.Default()
	}
	return &CampaignScheduler{
		deps:         deps,
		pollInterval: pollInterval,
		lockTTL:      lockTTL,
		log:          log.With("component", "campaign_scheduler"),
	}
}

// Start begins the polling loop.
func (cs *CampaignScheduler) Start() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.running {
		return fmt.Errorf("scheduler already running")
	}
	cs.running = true
	cs.ctx, cs.cancel = context.WithCancel(context.Background())

	cs.log.Info("starting scheduler", "poll_interval", cs.pollInterval.String())
	cs.wg.Add(1)
	go cs.loop()
	return nil
}

// Stop ends the loop and waits for the current tick.
func (cs *CampaignScheduler) Stop() {
	cs.mu.Lock()
	if !cs.running {
		cs.mu.Unlock()
		return
	}
	cs.running = false
	cs.cancel()
	cs.mu.Unlock()
	cs.wg.Wait()
	cs.log.Info("scheduler stopped")
}

func (cs *CampaignScheduler) loop() {
	defer cs.wg.Done()
	ticker := time.NewTicker(cs.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cs.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(cs.ctx, cs.lockTTL)
			if err := cs.Tick(ctx); err != nil {
				cs.log.Error("scheduler tick failed", "error", err)
			}
			cancel()
		}
	}
}

// Tick runs one promotion pass and one completion sweep. When another
// instance holds the scheduler lock it does nothing.
func (cs *CampaignScheduler) Tick(ctx context.Context) error {
	run := func(ctx context.Context) error {
		if _, err := cs.Promote(ctx); err != nil {
			return err
		}
		_, err := cs.CompleteFinished(ctx)
		return err
	}
	if cs.deps.Locks == nil {
		return run(ctx)
	}
	err := distlock.Do(ctx, cs.deps.Locks("scheduler:promote", cs.lockTTL), run)
	if errors.Is(err, distlock.ErrNotAcquired) {
		cs.log.Debug("scheduler lock held elsewhere, skipping tick")
		return nil
	}
	return err
}

// Promote moves due campaigns to QUEUED, then runs the per-campaign side
// effects. Side effects never undo the promotion.
func (cs *CampaignScheduler) Promote(ctx context.Context) (PromoteResult, error) {
	now := cs.deps.Now()
	promoted, err := cs.deps.Store.PromoteDue(ctx, now)
	if err != nil {
		return PromoteResult{}, fmt.Errorf("promote due campaigns: %w", err)
	}

	var res PromoteResult
	seen := make(map[string]bool, len(promoted))
	for _, p := range promoted {
		if seen[p.CampaignID] {
			continue
		}
		seen[p.CampaignID] = true
		res.Campaigns++
		res.Jobs += len(p.JobIDs)
		res.SideEffectErrors += cs.afterPromotion(ctx, p, now)
	}
	if res.Campaigns > 0 {
		cs.log.Info("promoted scheduled campaigns", "campaigns", res.Campaigns, "jobs", res.Jobs, "side_effect_errors", res.SideEffectErrors)
	}
	return res, nil
}

func (cs *CampaignScheduler) afterPromotion(ctx context.Context, p PromotedCampaign, now time.Time) int {
	failures := 0
	fail := func(step string, err error) {
		failures++
		cs.log.Warn("promotion side effect failed", "campaign_id", p.CampaignID, "step", step, "error", err)
	}
	delay := now.Sub(p.ScheduledAt)
	if delay < 0 {
		delay = 0
	}

	if len(p.JobIDs) > 0 {
		if err := cs.deps.Queue.Enqueue(ctx, p.JobIDs); err != nil {
			fail("enqueue", err)
		}
	}

	if cs.deps.Notifications != nil && p.CreatedBy != "" {
		err := cs.deps.Notifications.Notify(ctx, domain.Notification{
			ID:        uuid.NewString(),
			UserID:    p.CreatedBy,
			ProjectID: p.ProjectID,
			Kind:      "campaign_promoted",
			Title:     "Campaign is sending",
			Body:      fmt.Sprintf("Scheduled campaign %q started sending to %d recipients.", p.Name, len(p.JobIDs)),
			CreatedAt: now,
		})
		if err != nil {
			fail("notification", err)
		}
	}

	ev := domain.PromotionEvent{
		CampaignID:   p.CampaignID,
		ProjectID:    p.ProjectID,
		ScheduledAt:  p.ScheduledAt,
		PromotedAt:   now,
		Delay:        delay,
		JobsPromoted: len(p.JobIDs),
	}
	if cs.deps.Analytics != nil {
		if err := cs.deps.Analytics.RecordPromotion(ctx, ev); err != nil {
			fail("analytics", err)
		}
	}

	cs.deps.Metrics.Promoted(len(p.JobIDs), delay)

	if cs.deps.Webhooks != nil && p.OrganizationID != "" {
		payload := map[string]interface{}{
			"event":         EventCampaignPromoted,
			"campaign_id":   p.CampaignID,
			"project_id":    p.ProjectID,
			"scheduled_at":  p.ScheduledAt.UTC().Format(time.RFC3339),
			"promoted_at":   now.UTC().Format(time.RFC3339),
			"delay_seconds": int64(delay / time.Second),
			"jobs":          len(p.JobIDs),
		}
		if err := cs.deps.Webhooks.Trigger(ctx, p.OrganizationID, EventCampaignPromoted, payload); err != nil {
			fail("webhooks", err)
		}
	}
	return failures
}

// CompleteFinished runs the completion sweep.
func (cs *CampaignScheduler) CompleteFinished(ctx context.Context) (int, error) {
	ids, err := cs.deps.Store.CompleteFinished(ctx)
	if err != nil {
		return 0, fmt.Errorf("complete finished campaigns: %w", err)
	}
	if len(ids) > 0 {
		cs.deps.Metrics.Completed(len(ids))
		cs.log.Info("campaigns completed", "count", len(ids))
	}
	return len(ids), nil
}
