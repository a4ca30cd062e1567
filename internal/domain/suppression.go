package domain

import (
	"fmt"
	"strings"
	"time"
)

// SuppressionReason enumerates why a contact was suppressed.
type SuppressionReason string

const (
	ReasonBounce      SuppressionReason = "BOUNCE"
	ReasonComplaint   SuppressionReason = "COMPLAINT"
	ReasonUnsubscribe SuppressionReason = "UNSUBSCRIBE"
	ReasonManual      SuppressionReason = "MANUAL"
	ReasonInvalid     SuppressionReason = "INVALID"
)

// ParseSuppressionReason validates a reason. Unknown values are rejected, not coerced.
func ParseSuppressionReason(s string) (SuppressionReason, error) {
	switch r := SuppressionReason(strings.ToUpper(strings.TrimSpace(s))); r {
	case ReasonBounce, ReasonComplaint, ReasonUnsubscribe, ReasonManual, ReasonInvalid:
		return r, nil
	}
	return "", fmt.Errorf("unknown suppression reason %q", s)
}

// SuppressionSource indicates where the suppression signal originated.
type SuppressionSource string

const (
	SourceWebhook SuppressionSource = "webhook"
	SourceManual  SuppressionSource = "manual"
	SourceImport  SuppressionSource = "import"
	SourceAPI     SuppressionSource = "api"
)

// SuppressionEntry blocks further sends to a contact within a project.
type SuppressionEntry struct {
	ID        string            `json:"id" db:"id"`
	ProjectID string            `json:"project_id" db:"project_id"`
	Email     string            `json:"email,omitempty" db:"email"`
	Phone     string            `json:"phone,omitempty" db:"phone"`
	Reason    SuppressionReason `json:"reason" db:"reason"`
	Source    SuppressionSource `json:"source" db:"source"`
	Note      string            `json:"note,omitempty" db:"note"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}

// NormalizeEmail lower-cases and trims an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone strips spaces, dashes, dots and parentheses.
func NormalizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(phone))
}
