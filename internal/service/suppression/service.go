package suppression

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-delivery/internal/domain"
)

// Service implements suppression business logic. It is safe for concurrent use.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a suppression service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// AddInput describes a new suppression entry.
type AddInput struct {
	ProjectID string
	Email     string
	Phone     string
	Reason    string
	Source    domain.SuppressionSource
	Note      string
}

// IsSuppressed checks whether an email address is blocked from sending.
func (s *Service) IsSuppressed(ctx context.Context, projectID, email string) (bool, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return false, nil
	}
	return s.repo.IsSuppressed(ctx, projectID, email)
}

// Add validates and stores a suppression entry.
func (s *Service) Add(ctx context.Context, in AddInput) (*domain.SuppressionEntry, error) {
	entry, err := s.build(in)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Insert(ctx, entry); err != nil {
		return nil, fmt.Errorf("insert suppression: %w", err)
	}
	return entry, nil
}

// AddIfAbsent stores an entry unless one already covers the given address.
// Replayed provider feedback goes through here so each address gets a single
// automatic entry. The bool is true when a new entry was written.
func (s *Service) AddIfAbsent(ctx context.Context, in AddInput) (*domain.SuppressionEntry, bool, error) {
	entry, err := s.build(in)
	if err != nil {
		return nil, false, err
	}
	existing, err := s.findLatest(ctx, entry)
	if err != nil || existing != nil {
		return existing, false, err
	}
	created, err := s.repo.InsertIfAbsent(ctx, entry)
	if err != nil {
		return nil, false, fmt.Errorf("insert suppression: %w", err)
	}
	if created {
		return entry, true, nil
	}
	// A concurrent writer won the unique index.
	existing, err = s.findLatest(ctx, entry)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		existing = entry
	}
	return existing, false, nil
}

func (s *Service) findLatest(ctx context.Context, e *domain.SuppressionEntry) (*domain.SuppressionEntry, error) {
	existing, err := s.repo.FindLatest(ctx, e.ProjectID, e.Email, e.Phone)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("lookup suppression: %w", err)
	}
	return existing, nil
}

func (s *Service) build(in AddInput) (*domain.SuppressionEntry, error) {
	reason, err := domain.ParseSuppressionReason(in.Reason)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidReason, in.Reason)
	}
	email := domain.NormalizeEmail(in.Email)
	phone := domain.NormalizePhone(in.Phone)
	if email == "" && phone == "" {
		return nil, ErrMissingTarget
	}
	source := in.Source
	if source == "" {
		source = domain.SourceManual
	}
	return &domain.SuppressionEntry{
		ID:        uuid.NewString(),
		ProjectID: in.ProjectID,
		Email:     email,
		Phone:     phone,
		Reason:    reason,
		Source:    source,
		Note:      in.Note,
		CreatedAt: s.now().UTC(),
	}, nil
}

// Remove deletes a suppression entry by id.
func (s *Service) Remove(ctx context.Context, id string) error {
	if id == "" {
		return ErrNotFound
	}
	return s.repo.Delete(ctx, id)
}

// List returns suppression entries matching the given filter.
func (s *Service) List(ctx context.Context, projectID string, filter ListFilter) ([]domain.SuppressionEntry, int, error) {
	return s.repo.List(ctx, projectID, filter)
}

// HasList reports whether the project keeps any suppression entries.
func (s *Service) HasList(ctx context.Context, projectID string) (bool, error) {
	return s.repo.Exists(ctx, projectID)
}

// Stats returns aggregate counts grouped by reason and source.
type Stats struct {
	Total       int            `json:"total"`
	ByReason    map[string]int `json:"by_reason"`
	BySource    map[string]int `json:"by_source"`
	Last24Hours int            `json:"last_24_hours"`
}

// GetStats computes suppression statistics for a project.
func (s *Service) GetStats(ctx context.Context, projectID string) (*Stats, error) {
	entries, total, err := s.repo.List(ctx, projectID, ListFilter{})
	if err != nil {
		return nil, err
	}

	cutoff := s.now().Add(-24 * time.Hour)
	stats := &Stats{
		Total:    total,
		ByReason: make(map[string]int),
		BySource: make(map[string]int),
	}
	for _, e := range entries {
		stats.ByReason[string(e.Reason)]++
		stats.BySource[string(e.Source)]++
		if e.CreatedAt.After(cutoff) {
			stats.Last24Hours++
		}
	}
	return stats, nil
}
