package audit

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-delivery/internal/domain"
	"github.com/ignite/campaign-delivery/internal/pkg/logger"
)

func TestPostgresRecorder_Record(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := NewPostgresRecorder(db)
	r.now = func() time.Time { return at }

	mock.ExpectExec("INSERT INTO audit_log").
		WithArgs(sqlmock.AnyArg(), "proj-1", "user-1", "campaign.approve", "campaign", "c1",
			[]byte(`{"from":"BLOCKED"}`), at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = r.Record(context.Background(), domain.AuditEntry{
		ProjectID: "proj-1", ActorID: "user-1", Action: "campaign.approve",
		EntityType: "campaign", EntityID: "c1", Metadata: map[string]string{"from": "BLOCKED"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecorder_ListForEntity(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM audit_log").
		WithArgs("campaign", "c1", 100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "actor_id", "action", "entity_type", "entity_id", "metadata", "created_at"}).
			AddRow("a1", "proj-1", "user-1", "campaign.cancel", "campaign", "c1", []byte(`{"reason":"typo"}`), at))

	entries, err := NewPostgresRecorder(db).ListForEntity(context.Background(), "campaign", "c1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "typo", entries[0].Metadata["reason"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogRecorder(t *testing.T) {
	var buf bytes.Buffer
	r := NewLogRecorder(logger.New(logger.INFO, false, &buf))

	require.NoError(t, r.Record(context.Background(), domain.AuditEntry{Action: "suppression.remove", EntityType: "suppression", EntityID: "s1"}))
	assert.Contains(t, buf.String(), "suppression.remove")
	assert.Contains(t, buf.String(), "s1")
}
