package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecoveryStore struct {
	due         []string
	restored    []string
	exhausted   int64
	requeueErr  error
	failErr     error
	maxAttempts int
}

func (s *fakeRecoveryStore) RequeueDeferred(_ context.Context, _ time.Time, maxAttempts int) ([]string, error) {
	s.maxAttempts = maxAttempts
	if s.requeueErr != nil {
		return nil, s.requeueErr
	}
	out := s.due
	s.due = nil
	return out, nil
}

func (s *fakeRecoveryStore) RestoreDeferred(_ context.Context, ids []string) error {
	s.restored = append(s.restored, ids...)
	return nil
}

func (s *fakeRecoveryStore) FailExhausted(context.Context, int) (int64, error) {
	return s.exhausted, s.failErr
}

type fakeReaper struct{ n int64 }

func (r fakeReaper) ReleaseExpired(context.Context) (int64, error) { return r.n, nil }

func TestQueueRecovery_RequeuesDeferredJobs(t *testing.T) {
	store := &fakeRecoveryStore{due: []string{"j1", "j2"}, exhausted: 3}
	q := newMemQueue()
	w := NewQueueRecoveryWorker(store, q, fakeReaper{n: 4}, time.Second, 7, nil, nil)

	res := w.RunOnce(context.Background())
	assert.Equal(t, RecoveryResult{Requeued: 2, Failed: 3, Released: 4}, res)
	assert.Equal(t, []string{"j1", "j2"}, q.enqueued)
	assert.Equal(t, 7, store.maxAttempts)
	assert.Empty(t, store.restored)
}

func TestQueueRecovery_EnqueueFailureRestoresDeferred(t *testing.T) {
	store := &fakeRecoveryStore{due: []string{"j1"}}
	w := NewQueueRecoveryWorker(store, &failingEnqueuer{}, nil, time.Second, 5, nil, nil)

	res := w.RunOnce(context.Background())
	assert.Zero(t, res.Requeued)
	assert.Equal(t, []string{"j1"}, store.restored)
}

func TestQueueRecovery_StepsAreIndependent(t *testing.T) {
	store := &fakeRecoveryStore{requeueErr: errors.New("db down"), exhausted: 2}
	w := NewQueueRecoveryWorker(store, newMemQueue(), fakeReaper{n: 1}, time.Second, 5, nil, nil)

	res := w.RunOnce(context.Background())
	assert.Equal(t, RecoveryResult{Failed: 2, Released: 1}, res)
}

func TestQueueRecovery_StartStopsOnCancel(t *testing.T) {
	store := &fakeRecoveryStore{}
	w := NewQueueRecoveryWorker(store, newMemQueue(), nil, 5*time.Millisecond, 0, nil, nil)
	require.Equal(t, 5, w.maxAttempts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("recovery worker did not stop")
	}
}
