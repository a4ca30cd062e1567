package campaign

import (
	"errors"
	"fmt"

	"github.com/ignite/campaign-delivery/internal/domain"
)

// Sentinel errors for the campaign service layer.
var (
	ErrNotFound          = errors.New("campaign not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrValidation        = errors.New("validation failed")
	// ErrStatusChanged is returned by Repository.UpdateStatus when the row no
	// longer holds the expected status.
	ErrStatusChanged = errors.New("campaign status changed concurrently")
)

// ValidationError is a caller mistake. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// TransitionError reports an operation that the campaign's current status forbids.
type TransitionError struct {
	CampaignID string
	Op         string
	Current    domain.CampaignStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s campaign %s in status %s", e.Op, e.CampaignID, e.Current)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
