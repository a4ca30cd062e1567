package domain

// Outcome is the readiness gate decision for a project.
type Outcome string

const (
	OutcomeAllow     Outcome = "ALLOW"
	OutcomeThrottled Outcome = "THROTTLED"
	OutcomeBlocked   Outcome = "BLOCKED"
)

// Severity grades an abuse signal.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// AbuseSignal is one suspicious pattern found while scoring.
type AbuseSignal struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Factor is one weighted sub-score of the readiness total.
type Factor struct {
	Name     string         `json:"name"`
	Score    float64        `json:"score"`
	MaxScore float64        `json:"max_score"`
	Details  map[string]any `json:"details,omitempty"`
}

// Readiness is the computed trust view of a project. It is never persisted.
type Readiness struct {
	ProjectID             string        `json:"project_id"`
	Score                 int           `json:"score"`
	Outcome               Outcome       `json:"outcome"`
	Factors               []Factor      `json:"factors"`
	Signals               []AbuseSignal `json:"signals,omitempty"`
	OverrideReasons       []string      `json:"override_reasons,omitempty"`
	BounceRate            float64       `json:"bounce_rate"`
	ComplaintRate         float64       `json:"complaint_rate"`
	RequiresAdminApproval bool          `json:"requires_admin_approval"`
}

// HighSignals counts HIGH severity abuse signals.
func (r *Readiness) HighSignals() int {
	n := 0
	for _, s := range r.Signals {
		if s.Severity == SeverityHigh {
			n++
		}
	}
	return n
}
