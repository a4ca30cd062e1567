package readiness

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/campaign-delivery/internal/domain"
	"github.com/ignite/campaign-delivery/internal/pkg/logger"
	"github.com/ignite/campaign-delivery/internal/settings"
)

const historyWindow = 30 * 24 * time.Hour

// Scorer computes readiness for projects. It is safe for concurrent use.
type Scorer struct {
	history     HistoryRepository
	settings    settings.Lookup
	suppression SuppressionChecker
	log         *logger.Logger
	now         func() time.Time
}

// Option customises a Scorer.
type Option func(*Scorer)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Scorer) { s.now = now } }

// WithLogger sets the logger used for soft failures.
func WithLogger(l *logger.Logger) Option { return func(s *Scorer) { s.log = l } }

// NewScorer builds a Scorer over its data sources.
func NewScorer(history HistoryRepository, lookup settings.Lookup, suppression SuppressionChecker, opts ...Option) *Scorer {
	s := &Scorer{
		history:     history,
		settings:    lookup,
		suppression: suppression,
		log:         logger.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ComputeReadiness scores a project as it stands.
func (s *Scorer) ComputeReadiness(ctx context.Context, projectID string) (*domain.Readiness, error) {
	return s.compute(ctx, projectID, 0)
}

// ComputeForCampaign scores a project for a campaign about to be created
// with recipientCount recipients. The pending campaign counts toward the
// import-then-blast signal even though it is not persisted yet.
func (s *Scorer) ComputeForCampaign(ctx context.Context, projectID string, recipientCount int) (*domain.Readiness, error) {
	return s.compute(ctx, projectID, recipientCount)
}

func (s *Scorer) compute(ctx context.Context, projectID string, pendingRecipients int) (*domain.Readiness, error) {
	now := s.now()

	var (
		domainF, hygieneF, historyF, complianceF, abuseF domain.Factor
		signals                                          []domain.AbuseSignal
		stats                                            SendStats
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		domainF = s.domainFactor(gctx, projectID)
		return nil
	})
	g.Go(func() error {
		var err error
		stats, err = s.history.SendStats(gctx, projectID, now.Add(-historyWindow))
		if err != nil {
			return fmt.Errorf("send stats: %w", err)
		}
		hygieneF = ListHygiene(stats)
		return nil
	})
	g.Go(func() error {
		profile, err := s.history.OrgProfile(gctx, projectID)
		if err != nil {
			return fmt.Errorf("org profile: %w", err)
		}
		historyF = OrgHistory(profile, now)
		return nil
	})
	g.Go(func() error {
		unsub, err := settings.Flag(gctx, s.settings, settings.ScopeProject, projectID, settings.KeyUnsubscribeCompliance)
		if err != nil {
			s.log.Warn("readiness: unsubscribe flag lookup failed", "project_id", projectID, "error", err)
		}
		hasList, err := s.suppression.HasList(gctx, projectID)
		if err != nil {
			return fmt.Errorf("suppression list: %w", err)
		}
		complianceF = Compliance(unsub, hasList)
		return nil
	})
	g.Go(func() error {
		activity, err := s.history.ImportActivity(gctx, projectID, now.Add(-24*time.Hour), ImportBurst, LargeCampaign)
		if err != nil {
			return fmt.Errorf("import activity: %w", err)
		}
		abuseF, signals = AbuseSignals(activity, pendingRecipients)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("compute readiness for %s: %w", projectID, err)
	}

	factors := []domain.Factor{domainF, hygieneF, historyF, complianceF, abuseF}
	sum := 0.0
	for _, f := range factors {
		sum += f.Score
	}
	total := int(math.Round(sum))
	if total > 100 {
		total = 100
	}
	if total < 0 {
		total = 0
	}

	bounce, complaint := stats.Rates()
	r := &domain.Readiness{
		ProjectID:     projectID,
		Score:         total,
		Factors:       factors,
		Signals:       signals,
		BounceRate:    bounce,
		ComplaintRate: complaint,
	}
	r.Outcome, r.OverrideReasons = Decide(total, r.HighSignals(), bounce, complaint)
	r.RequiresAdminApproval = r.Outcome == domain.OutcomeBlocked

	s.log.Debug("readiness computed",
		"project_id", projectID, "score", total, "outcome", r.Outcome, "signals", len(signals))
	return r, nil
}

// domainFactor reads the three DNS verification flags. Any read failure
// scores the whole factor 0.
func (s *Scorer) domainFactor(ctx context.Context, projectID string) domain.Factor {
	keys := []string{settings.KeySPFVerified, settings.KeyDKIMVerified, settings.KeyDMARCVerified}
	flags := make([]bool, len(keys))
	for i, key := range keys {
		ok, err := settings.Flag(ctx, s.settings, settings.ScopeProject, projectID, key)
		if err != nil {
			s.log.Warn("readiness: domain verification lookup failed", "project_id", projectID, "key", key, "error", err)
			f := DomainVerification(false, false, false)
			f.Details["error"] = err.Error()
			return f
		}
		flags[i] = ok
	}
	return DomainVerification(flags[0], flags[1], flags[2])
}
