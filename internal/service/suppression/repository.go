package suppression

import (
	"context"

	"github.com/ignite/campaign-delivery/internal/domain"
)

// Repository defines the data access contract for the suppression list.
type Repository interface {
	// IsSuppressed returns true if the email has any entry in the project.
	IsSuppressed(ctx context.Context, projectID, email string) (bool, error)

	// FindLatest returns the most recent entry that covers every non-empty
	// address given. Returns ErrNotFound when none exists.
	FindLatest(ctx context.Context, projectID, email, phone string) (*domain.SuppressionEntry, error)

	// Insert stores a new entry.
	Insert(ctx context.Context, e *domain.SuppressionEntry) error

	// InsertIfAbsent stores e unless a webhook entry for the same address
	// already exists. The bool is false when nothing was written.
	InsertIfAbsent(ctx context.Context, e *domain.SuppressionEntry) (bool, error)

	// Delete removes an entry by id. Returns ErrNotFound if it doesn't exist.
	Delete(ctx context.Context, id string) error

	// List returns entries matching the filter plus the unpaginated total.
	List(ctx context.Context, projectID string, filter ListFilter) ([]domain.SuppressionEntry, int, error)

	// Exists reports whether the project has at least one entry.
	Exists(ctx context.Context, projectID string) (bool, error)
}

// ListFilter controls pagination and filtering for suppression lists.
// A zero Limit means no limit.
type ListFilter struct {
	Reason string
	Source string
	Search string
	Limit  int
	Offset int
}
