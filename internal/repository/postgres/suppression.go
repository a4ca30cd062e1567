package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/campaign-delivery/internal/domain"
	"github.com/ignite/campaign-delivery/internal/service/suppression"
)

// SuppressionRepo implements suppression.Repository against PostgreSQL.
type SuppressionRepo struct{ db *sql.DB }

// NewSuppressionRepo creates a Postgres-backed suppression repository.
func NewSuppressionRepo(db *sql.DB) *SuppressionRepo { return &SuppressionRepo{db: db} }

func (r *SuppressionRepo) IsSuppressed(ctx context.Context, projectID, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM suppression_entries WHERE project_id = $1 AND email = $2)`,
		projectID, email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check suppression: %w", err)
	}
	return exists, nil
}

func (r *SuppressionRepo) FindLatest(ctx context.Context, projectID, email, phone string) (*domain.SuppressionEntry, error) {
	e := &domain.SuppressionEntry{ProjectID: projectID}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(email,''), COALESCE(phone,''), reason, source, COALESCE(note,''), created_at
		FROM suppression_entries
		WHERE project_id = $1
		  AND ($2 = '' OR email = $2) AND ($3 = '' OR phone = $3)
		ORDER BY created_at DESC
		LIMIT 1
	`, projectID, email, phone).Scan(&e.ID, &e.Email, &e.Phone, &e.Reason, &e.Source, &e.Note, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, suppression.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find suppression: %w", err)
	}
	return e, nil
}

func (r *SuppressionRepo) Insert(ctx context.Context, e *domain.SuppressionEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO suppression_entries (id, project_id, email, phone, reason, source, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.ProjectID, nullString(e.Email), nullString(e.Phone), e.Reason, e.Source, nullString(e.Note), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert suppression: %w", err)
	}
	return nil
}

// InsertIfAbsent relies on the partial unique indexes over webhook entries.
func (r *SuppressionRepo) InsertIfAbsent(ctx context.Context, e *domain.SuppressionEntry) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO suppression_entries (id, project_id, email, phone, reason, source, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING
	`, e.ID, e.ProjectID, nullString(e.Email), nullString(e.Phone), e.Reason, e.Source, nullString(e.Note), e.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert suppression: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert suppression: %w", err)
	}
	return n == 1, nil
}

func (r *SuppressionRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM suppression_entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("remove suppression: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return suppression.ErrNotFound
	}
	return nil
}

func (r *SuppressionRepo) List(ctx context.Context, projectID string, f suppression.ListFilter) ([]domain.SuppressionEntry, int, error) {
	where := ` WHERE project_id = $1`
	args := []interface{}{projectID}
	if f.Reason != "" {
		args = append(args, f.Reason)
		where += fmt.Sprintf(` AND reason = $%d`, len(args))
	}
	if f.Source != "" {
		args = append(args, f.Source)
		where += fmt.Sprintf(` AND source = $%d`, len(args))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		where += fmt.Sprintf(` AND (email ILIKE $%d OR phone LIKE $%d)`, len(args), len(args))
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM suppression_entries`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count suppressions: %w", err)
	}

	q := `SELECT id, project_id, COALESCE(email,''), COALESCE(phone,''), reason, source, COALESCE(note,''), created_at
		FROM suppression_entries` + where + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit, f.Offset)
		q += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list suppressions: %w", err)
	}
	defer rows.Close()

	var out []domain.SuppressionEntry
	for rows.Next() {
		var e domain.SuppressionEntry
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Email, &e.Phone, &e.Reason, &e.Source, &e.Note, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan suppression: %w", err)
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func (r *SuppressionRepo) Exists(ctx context.Context, projectID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM suppression_entries WHERE project_id = $1)`, projectID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check suppression list: %w", err)
	}
	return exists, nil
}
