package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ignite/campaign-delivery/internal/domain"
	"github.com/ignite/campaign-delivery/internal/service/campaign"
)

// GuestAudience resolves audience segments against the project's guest list.
// SegmentID names an import batch. Supported filters are created_after and
// created_before (RFC 3339) and has (email or phone).
type GuestAudience struct{ db *sql.DB }

// NewGuestAudience creates the resolver.
func NewGuestAudience(db *sql.DB) *GuestAudience { return &GuestAudience{db: db} }

// Resolve returns the matching guests ordered by creation time.
func (a *GuestAudience) Resolve(ctx context.Context, projectID string, seg domain.AudienceSegment) ([]domain.Recipient, error) {
	where := []string{"project_id = $1"}
	args := []any{projectID}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if seg.SegmentID != "" {
		add("import_batch_id = $%d", seg.SegmentID)
	}

	keys := make([]string, 0, len(seg.Filters))
	for k := range seg.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := strings.TrimSpace(seg.Filters[k])
		switch k {
		case "created_after", "created_before":
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return nil, &campaign.ValidationError{Field: "audience.filters." + k, Message: "must be an RFC 3339 time"}
			}
			op := ">="
			if k == "created_before" {
				op = "<"
			}
			add("created_at "+op+" $%d", t.UTC())
		case "has":
			switch strings.ToLower(v) {
			case "email":
				where = append(where, "COALESCE(email, '') <> ''")
			case "phone":
				where = append(where, "COALESCE(phone, '') <> ''")
			default:
				return nil, &campaign.ValidationError{Field: "audience.filters.has", Message: "must be email or phone"}
			}
		default:
			return nil, &campaign.ValidationError{Field: "audience.filters", Message: fmt.Sprintf("unknown filter %q", k)}
		}
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT id, COALESCE(email, ''), COALESCE(phone, ''), COALESCE(name, '')
		FROM guests
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("resolve audience: %w", err)
	}
	defer rows.Close()

	var out []domain.Recipient
	for rows.Next() {
		var r domain.Recipient
		if err := rows.Scan(&r.GuestID, &r.Email, &r.Phone, &r.Name); err != nil {
			return nil, fmt.Errorf("scan guest: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
