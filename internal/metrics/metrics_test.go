package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Send("EMAIL", "sent")
	m.Send("EMAIL", "sent")
	m.RateLimited("global")
	m.WebhookEvent("bounce", true)
	m.Promoted(10, 3*time.Second)
	m.Promoted(250, time.Second)
	m.Completed(2)
	m.Recovered("requeued", 4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.sends.WithLabelValues("EMAIL", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimitDenials.WithLabelValues("global")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.webhookEvents.WithLabelValues("bounce", "true")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.promotions))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.completions))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.requeued.WithLabelValues("requeued")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	var found bool
	for _, f := range families {
		if f.GetName() != "campaign_delivery_campaign_promoted_jobs" {
			continue
		}
		found = true
		require.Len(t, f.GetMetric(), 1, "one series regardless of how many campaigns are promoted")
		assert.Empty(t, f.GetMetric()[0].GetLabel())
		assert.Equal(t, uint64(2), f.GetMetric()[0].GetHistogram().GetSampleCount())
		assert.Equal(t, 260.0, f.GetMetric()[0].GetHistogram().GetSampleSum())
	}
	assert.True(t, found)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Send("EMAIL", "sent")
		m.RateLimited("global")
		m.WebhookEvent("open", false)
		m.Promoted(1, time.Second)
		m.Completed(1)
		m.Recovered("failed", 1)
		m.ReadinessOutcome("ALLOW")
	})
}
