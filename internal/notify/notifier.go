// Package notify delivers campaign lifecycle events to people: in-app
// notifications for users and signed webhooks for organizations.
package notify

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-delivery/internal/domain"
)

// Notifier stores in-app notifications.
type Notifier struct {
	db *sql.DB
}

// NewNotifier creates a Postgres-backed notifier.
func NewNotifier(db *sql.DB) *Notifier { return &Notifier{db: db} }

// Notify inserts n, filling in the id and timestamp when missing.
func (n *Notifier) Notify(ctx context.Context, note domain.Notification) error {
	if note.UserID == "" {
		return fmt.Errorf("notify: user id required")
	}
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}
	_, err := n.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, project_id, kind, title, body, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)
	`, note.ID, note.UserID, note.ProjectID, note.Kind, note.Title, note.Body, note.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}
