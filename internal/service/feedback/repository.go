package feedback

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/campaign-delivery/internal/domain"
	"github.com/ignite/campaign-delivery/internal/service/suppression"
)

// ErrJobNotFound is returned when no job carries the provider message id.
var ErrJobNotFound = errors.New("message job not found")

// Mutation is everything one event writes. It is applied in one transaction.
type Mutation struct {
	JobID string
	// Status is the new job status. Empty leaves the status alone.
	Status domain.JobStatus
	// AllowedFrom guards the status write; a job in any other status keeps it.
	AllowedFrom       []domain.JobStatus
	IncrementAttempts bool
	ErrorMessage      string
	NextAttemptAt     *time.Time
	Event             domain.MessageEvent
}

// Repository reads jobs and applies event mutations.
type Repository interface {
	FindJobByProviderID(ctx context.Context, providerMessageID string) (*domain.MessageJob, error)
	// ApplyEvent writes the mutation and reports whether the status changed.
	ApplyEvent(ctx context.Context, m Mutation) (bool, error)
}

// Suppressor adds automatic suppression entries.
type Suppressor interface {
	AddIfAbsent(ctx context.Context, in suppression.AddInput) (*domain.SuppressionEntry, bool, error)
}
