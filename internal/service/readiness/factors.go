package readiness

import (
	"math"
	"time"

	"github.com/ignite/campaign-delivery/internal/domain"
)

// Sub-score maxima. They sum to 100.
const (
	MaxDomain     = 30.0
	MaxHygiene    = 25.0
	MaxHistory    = 20.0
	MaxCompliance = 15.0
	MaxAbuse      = 10.0
)

// Gate thresholds.
const (
	AllowThreshold    = 80
	ThrottleThreshold = 50

	CriticalBounceRate    = 0.10
	WarnBounceRate        = 0.05
	CriticalComplaintRate = 0.005
	WarnComplaintRate     = 0.001

	ImportVelocityHigh   = 500
	ImportVelocityMedium = 200
	ImportBurst          = 100
	LargeCampaign        = 100
)

// Factor names as reported in Readiness.Factors.
const (
	FactorDomain     = "domain_verification"
	FactorHygiene    = "list_hygiene"
	FactorHistory    = "org_history"
	FactorCompliance = "compliance"
	FactorAbuse      = "abuse_signals"
)

// DomainVerification awards 10 points per verified SPF, DKIM and DMARC record.
func DomainVerification(spf, dkim, dmarc bool) domain.Factor {
	score := 0.0
	for _, ok := range []bool{spf, dkim, dmarc} {
		if ok {
			score += 10
		}
	}
	return domain.Factor{
		Name:     FactorDomain,
		Score:    score,
		MaxScore: MaxDomain,
		Details:  map[string]any{"spf": spf, "dkim": dkim, "dmarc": dmarc},
	}
}

// Rates returns bounce and complaint rates as fractions. Both are 0 when nothing was sent.
func (s SendStats) Rates() (bounce, complaint float64) {
	if s.Sent <= 0 {
		return 0, 0
	}
	return float64(s.Bounced) / float64(s.Sent), float64(s.Complained) / float64(s.Sent)
}

// ListHygiene scores the trailing-window bounce and complaint rates.
// No history yields half of the maximum. Otherwise each rate applies its own
// tiered deduction against the maximum and the two stack.
func ListHygiene(s SendStats) domain.Factor {
	f := domain.Factor{Name: FactorHygiene, MaxScore: MaxHygiene}
	if s.Sent <= 0 {
		f.Score = MaxHygiene / 2
		f.Details = map[string]any{"sent": 0, "neutral": true}
		return f
	}

	bounce, complaint := s.Rates()
	score := MaxHygiene
	score -= deduction(bounce, CriticalBounceRate, WarnBounceRate, score)
	score -= deduction(complaint, CriticalComplaintRate, WarnComplaintRate, score)
	f.Score = math.Max(0, score)
	f.Details = map[string]any{
		"sent":           s.Sent,
		"bounce_rate":    bounce,
		"complaint_rate": complaint,
	}
	return f
}

// deduction returns how much to subtract for rate. A critical rate wipes out
// whatever is left, the other tiers take 50% or 20% of the maximum.
func deduction(rate, critical, warn, current float64) float64 {
	switch {
	case rate >= critical:
		return current
	case rate >= warn:
		return MaxHygiene * 0.5
	case rate > 0:
		return MaxHygiene * 0.2
	}
	return 0
}

// OrgHistory scores organisation age and lifetime message volume.
func OrgHistory(p OrgProfile, now time.Time) domain.Factor {
	age := now.Sub(p.CreatedAt)
	days := int(age.Hours() / 24)
	if p.CreatedAt.IsZero() {
		days = 0
	}

	var ageScore float64
	switch {
	case days >= 90:
		ageScore = 10
	case days >= 30:
		ageScore = 7
	case days >= 7:
		ageScore = 4
	default:
		ageScore = 2
	}

	var volumeScore float64
	switch n := p.LifetimeMessages; {
	case n >= 1000:
		volumeScore = 10
	case n >= 500:
		volumeScore = 7
	case n >= 100:
		volumeScore = 5
	case n >= 10:
		volumeScore = 3
	case p.HasCampaign:
		volumeScore = 2
	}

	return domain.Factor{
		Name:     FactorHistory,
		Score:    ageScore + volumeScore,
		MaxScore: MaxHistory,
		Details: map[string]any{
			"org_age_days":      days,
			"lifetime_messages": p.LifetimeMessages,
			"has_campaign":      p.HasCampaign,
		},
	}
}

// Compliance awards 10 for unsubscribe compliance and 5 for keeping a suppression list.
func Compliance(unsubscribe, hasSuppressionList bool) domain.Factor {
	score := 0.0
	if unsubscribe {
		score += 10
	}
	if hasSuppressionList {
		score += 5
	}
	return domain.Factor{
		Name:     FactorCompliance,
		Score:    score,
		MaxScore: MaxCompliance,
		Details:  map[string]any{"unsubscribe_compliance": unsubscribe, "suppression_list": hasSuppressionList},
	}
}

// AbuseSignals starts at the maximum and deducts for import velocity and for
// large campaigns following a large import. pendingRecipients is the size of
// a campaign being created, 0 when scoring a project on its own.
func AbuseSignals(a ImportActivity, pendingRecipients int) (domain.Factor, []domain.AbuseSignal) {
	score := MaxAbuse
	var signals []domain.AbuseSignal

	switch {
	case a.GuestsImported > ImportVelocityHigh:
		score -= 7
		signals = append(signals, domain.AbuseSignal{
			Code:     "import_velocity",
			Severity: domain.SeverityHigh,
			Message:  "more than 500 guests imported in the last 24 hours",
		})
	case a.GuestsImported > ImportVelocityMedium:
		score -= 3
		signals = append(signals, domain.AbuseSignal{
			Code:     "import_velocity",
			Severity: domain.SeverityMedium,
			Message:  "more than 200 guests imported in the last 24 hours",
		})
	}

	burstCampaign := a.LargeCampaignAfterImport ||
		(a.LargeImportAt != nil && pendingRecipients > LargeCampaign)
	if burstCampaign {
		score -= 5
		signals = append(signals, domain.AbuseSignal{
			Code:     "import_then_blast",
			Severity: domain.SeverityHigh,
			Message:  "large campaign created within 24 hours of a large import",
		})
	}

	return domain.Factor{
		Name:     FactorAbuse,
		Score:    math.Max(0, score),
		MaxScore: MaxAbuse,
		Details:  map[string]any{"guests_imported_24h": a.GuestsImported, "signals": len(signals)},
	}, signals
}

// Decide maps a total to an outcome and applies the override rules. The
// returned reasons explain any override that fired.
func Decide(total int, highSignals int, bounceRate, complaintRate float64) (domain.Outcome, []string) {
	var outcome domain.Outcome
	switch {
	case total >= AllowThreshold:
		outcome = domain.OutcomeAllow
	case total >= ThrottleThreshold:
		outcome = domain.OutcomeThrottled
	default:
		outcome = domain.OutcomeBlocked
	}

	var reasons []string
	if highSignals >= 2 {
		reasons = append(reasons, "two or more high severity abuse signals")
	}
	if bounceRate >= CriticalBounceRate {
		reasons = append(reasons, "bounce rate at or above 10%")
	}
	if complaintRate >= CriticalComplaintRate {
		reasons = append(reasons, "complaint rate at or above 0.5%")
	}
	if len(reasons) > 0 {
		outcome = domain.OutcomeBlocked
	}
	return outcome, reasons
}
