package worker

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCleanup(t *testing.T, rules []RetentionRule) (*DataCleanupWorker, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	dc := NewDataCleanupWorker(db, rules, 0, nil)
	dc.now = func() time.Time { return testEpoch }
	dc.batchSize = 2
	dc.pause = 0
	return dc, mock
}

func TestDataCleanup_DeletesInBatches(t *testing.T) {
	rule := RetentionRule{Table: "promotion_events", MaxAge: time.Hour, Query: "SELECT id FROM promotion_events WHERE promoted_at < $1 LIMIT $2"}
	dc, mock := newCleanup(t, []RetentionRule{rule})
	cutoff := testEpoch.Add(-time.Hour)

	q := regexp.QuoteMeta(`DELETE FROM "promotion_events" WHERE id IN (SELECT id FROM promotion_events`)
	mock.ExpectExec(q).WithArgs(cutoff, 2).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(q).WithArgs(cutoff, 2).WillReturnResult(sqlmock.NewResult(0, 1))

	got := dc.RunOnce(context.Background())

	assert.Equal(t, int64(3), got["promotion_events"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDataCleanup_MissingTableIsSkipped(t *testing.T) {
	dc, mock := newCleanup(t, []RetentionRule{
		{Table: "notifications", MaxAge: time.Hour, Query: "SELECT id FROM notifications WHERE created_at < $1 LIMIT $2"},
		{Table: "promotion_events", MaxAge: time.Hour, Query: "SELECT id FROM promotion_events WHERE promoted_at < $1 LIMIT $2"},
	})

	mock.ExpectExec("DELETE FROM \"notifications\"").WillReturnError(&pq.Error{Code: "42P01", Message: "relation does not exist"})
	mock.ExpectExec("DELETE FROM \"promotion_events\"").WillReturnError(errors.New("connection reset"))

	got := dc.RunOnce(context.Background())

	assert.Equal(t, int64(0), got["notifications"])
	assert.Equal(t, int64(0), got["promotion_events"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDataCleanup_DefaultsToRetentionPolicy(t *testing.T) {
	dc := NewDataCleanupWorker(nil, nil, 0, nil)
	assert.Equal(t, DefaultRetention, dc.rules)
	assert.Equal(t, DefaultCleanupInterval, dc.interval)
}
