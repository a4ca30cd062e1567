// Package metrics holds the Prometheus collectors of the delivery service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "campaign_delivery"

// Metrics groups every collector the service exports.
type Metrics struct {
	sends             *prometheus.CounterVec
	rateLimitDenials  *prometheus.CounterVec
	webhookEvents     *prometheus.CounterVec
	promotions        prometheus.Counter
	promotionDelay    prometheus.Histogram
	promotedJobs      prometheus.Histogram
	completions       prometheus.Counter
	requeued          *prometheus.CounterVec
	readinessOutcomes *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Delivery attempts by channel and outcome.",
		}, []string{"channel", "outcome"}),
		rateLimitDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_denials_total",
			Help:      "Sends deferred by the rate limiter, by limiter.",
		}, []string{"limiter"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Provider events received, by type and whether a job matched.",
		}, []string{"type", "handled"}),
		promotions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "campaign_promotions_total",
			Help:      "Scheduled campaigns promoted to QUEUED.",
		}),
		promotionDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "campaign_promotion_delay_seconds",
			Help:      "Delay between a campaign's scheduled time and its promotion.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 900},
		}),
		promotedJobs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "campaign_promoted_jobs",
			Help:      "Jobs moved to QUEUED per campaign promotion.",
			Buckets:   prometheus.ExponentialBuckets(10, 4, 7),
		}),
		completions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "campaign_completions_total",
			Help:      "Campaigns moved from SENDING to COMPLETED.",
		}),
		requeued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovered_jobs_total",
			Help:      "Jobs handled by queue recovery, by action.",
		}, []string{"action"}),
		readinessOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readiness_outcomes_total",
			Help:      "Readiness gate decisions at campaign creation.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		m.sends, m.rateLimitDenials, m.webhookEvents, m.promotions,
		m.promotionDelay, m.promotedJobs, m.completions, m.requeued, m.readinessOutcomes,
	)
	return m
}

// Send counts a processed delivery job.
func (m *Metrics) Send(channel, outcome string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(channel, outcome).Inc()
}

// RateLimited counts a limiter denial.
func (m *Metrics) RateLimited(limiter string) {
	if m == nil {
		return
	}
	m.rateLimitDenials.WithLabelValues(limiter).Inc()
}

// WebhookEvent counts an inbound provider event.
func (m *Metrics) WebhookEvent(eventType string, handled bool) {
	if m == nil {
		return
	}
	h := "false"
	if handled {
		h = "true"
	}
	m.webhookEvents.WithLabelValues(eventType, h).Inc()
}

// Promoted records one campaign promotion. Campaign ids are left to the
// logs and the promotion_events table.
func (m *Metrics) Promoted(jobs int, delay time.Duration) {
	if m == nil {
		return
	}
	m.promotions.Inc()
	m.promotionDelay.Observe(delay.Seconds())
	m.promotedJobs.Observe(float64(jobs))
}

// Completed counts campaigns finished by the completion sweep.
func (m *Metrics) Completed(n int) {
	if m == nil {
		return
	}
	m.completions.Add(float64(n))
}

// Recovered counts jobs touched by queue recovery.
func (m *Metrics) Recovered(action string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.requeued.WithLabelValues(action).Add(float64(n))
}

// ReadinessOutcome counts a gate decision.
func (m *Metrics) ReadinessOutcome(outcome string) {
	if m == nil {
		return
	}
	m.readinessOutcomes.WithLabelValues(outcome).Inc()
}
