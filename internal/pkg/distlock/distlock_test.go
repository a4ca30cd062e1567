package distlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisLock_Exclusive(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "scheduler", time.Minute)
	b := NewRedisLock(client, "scheduler", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must not acquire")

	// b releasing must not free a's lock
	require.NoError(t, b.Release(ctx))
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Release(ctx))
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLock_ExpiresAndExtend(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "k", time.Second)
	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, a.Extend(ctx, 10*time.Second))
	mr.FastForward(5 * time.Second)
	assert.True(t, mr.Exists("lock:k"))

	mr.FastForward(6 * time.Second)
	assert.False(t, mr.Exists("lock:k"))
	assert.Error(t, a.Extend(ctx, time.Second))
}

func TestDo_SkipsWhenHeld(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()

	holder := NewRedisLock(client, "job", time.Minute)
	ok, _ := holder.Acquire(ctx)
	require.True(t, ok)

	called := false
	err := Do(ctx, NewRedisLock(client, "job", time.Minute), func(context.Context) error {
		called = true
		return nil
	})
	assert.True(t, errors.Is(err, ErrNotAcquired))
	assert.False(t, called)
}

func TestDo_ReleasesAfterRun(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()

	err := Do(ctx, NewRedisLock(client, "job", time.Minute), func(context.Context) error {
		assert.True(t, mr.Exists("lock:job"))
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists("lock:job"))
}

func TestPGAdvisoryLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	lock := NewPGAdvisoryLock(db, "scheduler")

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs(lock.lockID).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec("SELECT pg_advisory_unlock").
		WithArgs(lock.lockID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, lock.Release(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewLock_FallsBackToPostgres(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, isPG := NewLock(nil, db, "x", time.Second).(*PGAdvisoryLock)
	assert.True(t, isPG)
}

func TestDo_CancelsWhenLeaseIsLost(t *testing.T) {
	mr, client := newRedis(t)

	err := Do(context.Background(), NewRedisLock(client, "promote", 30*time.Millisecond), func(ctx context.Context) error {
		mr.Del("lock:promote")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
			return nil
		}
	})

	assert.ErrorIs(t, err, ErrLockLost)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_RefreshesLongRunningHolder(t *testing.T) {
	mr, client := newRedis(t)

	err := Do(context.Background(), NewRedisLock(client, "promote", 60*time.Millisecond), func(ctx context.Context) error {
		mr.SetTTL("lock:promote", time.Millisecond)
		require.Eventually(t, func() bool { return mr.TTL("lock:promote") > time.Millisecond }, time.Second, 5*time.Millisecond)
		return nil
	})

	assert.NoError(t, err)
	assert.False(t, mr.Exists("lock:promote"))
}
