// Package audit records administrative actions on campaigns and contacts.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-delivery/internal/domain"
	"github.com/ignite/campaign-delivery/internal/pkg/logger"
)

// Recorder writes audit entries.
type Recorder interface {
	Record(ctx context.Context, e domain.AuditEntry) error
}

// PostgresRecorder writes entries to audit_log.
type PostgresRecorder struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresRecorder creates a recorder on db.
func NewPostgresRecorder(db *sql.DB) *PostgresRecorder {
	return &PostgresRecorder{db: db, now: time.Now}
}

// Record inserts e. Metadata is stored as JSONB.
func (r *PostgresRecorder) Record(ctx context.Context, e domain.AuditEntry) error {
	fill(&e, r.now)
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("encode audit metadata: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, project_id, actor_id, action, entity_type, entity_id, metadata, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8)
	`, e.ID, e.ProjectID, e.ActorID, e.Action, e.EntityType, e.EntityID, meta, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListForEntity returns the entries for one entity, newest first.
func (r *PostgresRecorder) ListForEntity(ctx context.Context, entityType, entityID string, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, COALESCE(project_id, ''), actor_id, action, entity_type, entity_id, metadata, created_at
		FROM audit_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var meta []byte
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.ActorID, &e.Action, &e.EntityType, &e.EntityID, &meta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &e.Metadata)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LogRecorder writes entries to a logger. Used for dry runs and in tests.
type LogRecorder struct {
	log *logger.Logger
}

// NewLogRecorder creates a recorder on log, or the default logger when nil.
func NewLogRecorder(log *logger.Logger) *LogRecorder {
	if log == nil {
		log = logger.Default()
	}
	return &LogRecorder{log: log.With("component", "audit")}
}

// Record implements Recorder.
func (r *LogRecorder) Record(_ context.Context, e domain.AuditEntry) error {
	fill(&e, time.Now)
	r.log.Info("audit", "action", e.Action, "actor_id", e.ActorID,
		"entity_type", e.EntityType, "entity_id", e.EntityID, "project_id", e.ProjectID)
	return nil
}

func fill(e *domain.AuditEntry, now func() time.Time) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now().UTC()
	}
}
