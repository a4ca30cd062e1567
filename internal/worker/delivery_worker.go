package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-delivery/internal/domain"
	"github.com/ignite/campaign-delivery/internal/mailing"
	"github.com/ignite/campaign-delivery/internal/metrics"
	"github.com/ignite/campaign-delivery/internal/pkg/logger"
	"github.com/ignite/campaign-delivery/internal/queue"
)

// ErrJobNotFound is returned by a JobStore for an unknown job id.
var ErrJobNotFound = errors.New("message job not found")

// Outcome is the result of processing one claimed job.
type Outcome string

const (
	OutcomeSent        Outcome = "sent"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeRetry       Outcome = "retry"
	OutcomeFailed      Outcome = "failed"
	OutcomeIgnored     Outcome = "ignored"
)

// SentRecord is written in one transaction after a provider accepts a message.
type SentRecord struct {
	JobID             string
	CampaignID        string
	ExternalMessageID string
	Event             domain.MessageEvent
}

// JobStore is the persistence the delivery worker needs.
type JobStore interface {
	GetJobForDelivery(ctx context.Context, jobID string) (*domain.MessageJob, *domain.Campaign, error)
	// HasSentEvent reports whether the worker already recorded a send for
	// this attempt. Provider-sourced sent events do not count.
	HasSentEvent(ctx context.Context, jobID string, attempt int) (bool, error)
	// SettleSent moves a QUEUED job whose attempt already has a sent event to
	// SENT, taking the external id from that event.
	SettleSent(ctx context.Context, jobID string, attempt int) error
	// RecordSent marks the job SENT with the external id, increments attempts,
	// inserts the sent event and moves a QUEUED campaign to SENDING.
	RecordSent(ctx context.Context, rec SentRecord) error
	// RecordRetry marks the job DEFERRED until next and increments attempts.
	RecordRetry(ctx context.Context, jobID, errMsg string, next time.Time) error
	// RecordFailure marks the job FAILED and increments attempts. Retry and
	// failure also move a QUEUED campaign to SENDING.
	RecordFailure(ctx context.Context, jobID, errMsg string) error
}

// Renderer produces the personalised content for a job.
type Renderer interface {
	RenderMessage(c *domain.Campaign, job *domain.MessageJob) (*mailing.Rendered, error)
}

// DeliveryConfig tunes the worker pool.
type DeliveryConfig struct {
	WorkerID        string
	Concurrency     int
	BatchSize       int
	PollInterval    time.Duration
	MaxAttempts     int
	BaseBackoff     time.Duration
	MaxBackoff      time.Duration
	ProviderTimeout time.Duration
}

func (c *DeliveryConfig) applyDefaults() {
	if c.WorkerID == "" {
		c.WorkerID = "worker-" + uuid.NewString()[:8]
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 30 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Hour
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = 10 * time.Second
	}
}

// DeliveryOption customises a DeliveryWorker.
type DeliveryOption func(*DeliveryWorker)

// WithThrottledLimiter sets the extra limiter THROTTLED campaigns must pass.
func WithThrottledLimiter(l RateLimiter) DeliveryOption {
	return func(w *DeliveryWorker) { w.throttled = l }
}

// WithDeliveryLogger sets the logger.
func WithDeliveryLogger(l *logger.Logger) DeliveryOption {
	return func(w *DeliveryWorker) { w.log = l }
}

// WithDeliveryMetrics sets the metrics sink.
func WithDeliveryMetrics(m *metrics.Metrics) DeliveryOption {
	return func(w *DeliveryWorker) { w.metrics = m }
}

// WithDeliveryClock overrides the time source.
func WithDeliveryClock(now func() time.Time) DeliveryOption {
	return func(w *DeliveryWorker) { w.now = now }
}

// DeliveryWorker is a pool of goroutines that claim jobs from the queue and
// send them through the provider.
type DeliveryWorker struct {
	cfg       DeliveryConfig
	queue     queue.Queue
	store     JobStore
	sender    Sender
	renderer  Renderer
	limiter   RateLimiter
	throttled RateLimiter
	log       *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	totalSent    int64
	totalFailed  int64
	totalSkipped int64
	totalLimited int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewDeliveryWorker builds a worker pool.
func NewDeliveryWorker(q queue.Queue, store JobStore, sender Sender, renderer Renderer, limiter RateLimiter, cfg DeliveryConfig, opts ...DeliveryOption) *DeliveryWorker {
	cfg.applyDefaults()
	w := &DeliveryWorker{
		cfg:      cfg,
		queue:    q,
		store:    store,
		sender:   sender,
		renderer: renderer,
		limiter:  limiter,
		log:      logger.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.With("component", "delivery_worker", "worker_id", cfg.WorkerID)
	return w
}

// Start launches the pool. It is a no-op when already running.
func (w *DeliveryWorker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(context.Background())

	w.log.Info("starting delivery workers", "concurrency", w.cfg.Concurrency, "batch_size", w.cfg.BatchSize)
	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go w.loop(i)
	}
}

// Stop cancels the pool and waits for in-flight jobs to finish.
func (w *DeliveryWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.cancel()
	w.mu.Unlock()

	w.wg.Wait()
	w.log.Info("delivery workers stopped",
		"sent", atomic.LoadInt64(&w.totalSent),
		"failed", atomic.LoadInt64(&w.totalFailed),
		"skipped", atomic.LoadInt64(&w.totalSkipped),
		"rate_limited", atomic.LoadInt64(&w.totalLimited))
}

// Stats returns running totals.
func (w *DeliveryWorker) Stats() map[string]int64 {
	return map[string]int64{
		"total_sent":         atomic.LoadInt64(&w.totalSent),
		"total_failed":       atomic.LoadInt64(&w.totalFailed),
		"total_skipped":      atomic.LoadInt64(&w.totalSkipped),
		"total_rate_limited": atomic.LoadInt64(&w.totalLimited),
	}
}

func (w *DeliveryWorker) loop(n int) {
	defer w.wg.Done()
	for {
		if w.ctx.Err() != nil {
			return
		}
		processed, err := w.RunOnce(w.ctx)
		if err != nil && w.ctx.Err() == nil {
			w.log.Error("claim failed", "goroutine", n, "error", err)
		}
		if processed == 0 || err != nil {
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(w.cfg.PollInterval):
			}
		}
	}
}

// RunOnce claims one batch and processes it, returning how many leases it handled.
func (w *DeliveryWorker) RunOnce(ctx context.Context) (int, error) {
	leases, err := w.queue.Claim(ctx, w.cfg.WorkerID, w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	for _, l := range leases {
		if ctx.Err() != nil {
			// Unprocessed leases expire and return to the queue.
			break
		}
		w.Process(ctx, l)
	}
	return len(leases), nil
}

// Process handles one claimed job and settles its lease.
func (w *DeliveryWorker) Process(ctx context.Context, l queue.Lease) Outcome {
	outcome, err := w.process(ctx, l)
	if err != nil {
		w.log.Error("job processing error", "job_id", l.JobID, "outcome", outcome, "error", err)
	}
	return outcome
}

func (w *DeliveryWorker) process(ctx context.Context, l queue.Lease) (Outcome, error) {
	job, camp, err := w.store.GetJobForDelivery(ctx, l.JobID)
	if errors.Is(err, ErrJobNotFound) {
		return w.ack(ctx, l, OutcomeIgnored, "", nil)
	}
	if err != nil {
		return w.release(ctx, l, w.cfg.PollInterval, OutcomeRetry, fmt.Errorf("load job: %w", err))
	}

	// Jobs of cancelled, paused or blocked campaigns stay untouched; resume
	// or approval dispatches them again.
	if !camp.Status.Sendable() || job.Status != domain.JobQueued {
		w.log.Debug("job not sendable", "job_id", job.ID, "job_status", job.Status, "campaign_status", camp.Status)
		return w.ack(ctx, l, OutcomeIgnored, job.Channel, nil)
	}

	if d, err := w.reserve(ctx, camp); err != nil {
		return w.release(ctx, l, w.cfg.PollInterval, OutcomeRetry, err)
	} else if !d.Allowed {
		atomic.AddInt64(&w.totalLimited, 1)
		w.metrics.Send(string(job.Channel), string(OutcomeRateLimited))
		return w.release(ctx, l, d.RetryAfter, OutcomeRateLimited, nil)
	}

	// Each delivery attempt has its own idempotency key, so a resend after a
	// soft bounce is a new attempt and is not skipped.
	attempt := job.Attempts + 1
	sent, err := w.store.HasSentEvent(ctx, job.ID, attempt)
	if err != nil {
		return w.release(ctx, l, w.cfg.PollInterval, OutcomeRetry, fmt.Errorf("idempotency check: %w", err))
	}
	if sent {
		if err := w.store.SettleSent(ctx, job.ID, attempt); err != nil {
			return w.release(ctx, l, w.cfg.PollInterval, OutcomeRetry, fmt.Errorf("settle sent: %w", err))
		}
		atomic.AddInt64(&w.totalSkipped, 1)
		return w.ack(ctx, l, OutcomeSkipped, job.Channel, nil)
	}

	msg, err := w.buildMessage(camp, job, attempt)
	if err != nil {
		if ferr := w.store.RecordFailure(ctx, job.ID, err.Error()); ferr != nil {
			return w.release(ctx, l, w.cfg.PollInterval, OutcomeRetry, ferr)
		}
		atomic.AddInt64(&w.totalFailed, 1)
		return w.ack(ctx, l, OutcomeFailed, job.Channel, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.cfg.ProviderTimeout)
	res, sendErr := w.sender.Send(sendCtx, msg)
	cancel()
	if sendErr != nil {
		return w.handleSendError(ctx, l, job, attempt, sendErr)
	}

	rec := SentRecord{
		JobID:             job.ID,
		CampaignID:        job.CampaignID,
		ExternalMessageID: res.MessageID,
		Event: domain.MessageEvent{
			ID:         uuid.NewString(),
			JobID:      job.ID,
			CampaignID: job.CampaignID,
			Type:       domain.EventSent,
			OccurredAt: w.now().UTC(),
			Metadata: map[string]string{
				"provider_message_id": res.MessageID,
				"idempotency_key":     msg.IdempotencyKey,
				"attempt":             fmt.Sprint(attempt),
			},
		},
	}
	if err := w.recordSent(ctx, rec); err != nil {
		// The provider accepted the message; leave the lease to expire rather
		// than inviting an immediate second send.
		return OutcomeSent, fmt.Errorf("record sent for %s (provider id %s): %w", job.ID, res.MessageID, err)
	}
	atomic.AddInt64(&w.totalSent, 1)
	return w.ack(ctx, l, OutcomeSent, job.Channel, nil)
}

// reserve checks the throttled limiter first so a throttled denial does not
// burn the shared budget.
func (w *DeliveryWorker) reserve(ctx context.Context, camp *domain.Campaign) (Decision, error) {
	if camp.Throttled() && w.throttled != nil {
		d, err := w.throttled.CheckAndReserve(ctx)
		if err != nil {
			return Decision{}, fmt.Errorf("throttled limiter: %w", err)
		}
		if !d.Allowed {
			w.metrics.RateLimited("throttled")
			return d, nil
		}
	}
	d, err := w.limiter.CheckAndReserve(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limiter: %w", err)
	}
	if !d.Allowed {
		w.metrics.RateLimited("global")
	}
	return d, nil
}

func (w *DeliveryWorker) buildMessage(camp *domain.Campaign, job *domain.MessageJob, attempt int) (*Message, error) {
	r, err := w.renderer.RenderMessage(camp, job)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	to := job.Address()
	if to == "" {
		return nil, fmt.Errorf("job %s has no %s address", job.ID, job.Channel)
	}
	return &Message{
		JobID:          job.ID,
		CampaignID:     job.CampaignID,
		ProjectID:      job.ProjectID,
		Channel:        job.Channel,
		To:             to,
		FromEmail:      camp.FromEmail,
		FromName:       camp.FromName,
		ReplyTo:        camp.ReplyTo,
		Subject:        r.Subject,
		HTMLBody:       r.HTML,
		TextBody:       r.Text,
		IdempotencyKey: domain.IdempotencyKey(job.ID, attempt),
	}, nil
}

func (w *DeliveryWorker) handleSendError(ctx context.Context, l queue.Lease, job *domain.MessageJob, attempt int, sendErr error) (Outcome, error) {
	if IsRetryable(sendErr) && attempt < w.cfg.MaxAttempts {
		next := w.now().Add(Backoff(attempt, w.cfg.BaseBackoff, w.cfg.MaxBackoff))
		if err := w.store.RecordRetry(ctx, job.ID, sendErr.Error(), next); err != nil {
			return w.release(ctx, l, w.cfg.PollInterval, OutcomeRetry, fmt.Errorf("record retry: %w", err))
		}
		return w.ack(ctx, l, OutcomeRetry, job.Channel, sendErr)
	}
	if err := w.store.RecordFailure(ctx, job.ID, sendErr.Error()); err != nil {
		return w.release(ctx, l, w.cfg.PollInterval, OutcomeRetry, fmt.Errorf("record failure: %w", err))
	}
	atomic.AddInt64(&w.totalFailed, 1)
	return w.ack(ctx, l, OutcomeFailed, job.Channel, sendErr)
}

func (w *DeliveryWorker) recordSent(ctx context.Context, rec SentRecord) error {
	var err error
	for i := 0; i < 3; i++ {
		if err = w.store.RecordSent(ctx, rec); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(i+1) * 100 * time.Millisecond):
		}
	}
	return err
}

func (w *DeliveryWorker) ack(ctx context.Context, l queue.Lease, o Outcome, ch domain.Channel, cause error) (Outcome, error) {
	w.metrics.Send(string(ch), string(o))
	if err := w.queue.Ack(ctx, l); err != nil {
		if cause != nil {
			return o, fmt.Errorf("%v; ack: %w", cause, err)
		}
		return o, err
	}
	if o == OutcomeFailed || o == OutcomeRetry {
		w.log.Warn("send did not succeed", "job_id", l.JobID, "outcome", o, "error", cause)
		return o, nil
	}
	return o, cause
}

func (w *DeliveryWorker) release(ctx context.Context, l queue.Lease, delay time.Duration, o Outcome, cause error) (Outcome, error) {
	if err := w.queue.Release(ctx, l, delay); err != nil {
		if cause != nil {
			return o, fmt.Errorf("%v; release: %w", cause, err)
		}
		return o, err
	}
	return o, cause
}

// Backoff returns base doubled per prior attempt, capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
