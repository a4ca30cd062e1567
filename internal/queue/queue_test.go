package queue

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresQueue_Claim(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	q := NewPostgresQueue(db, 90*time.Second)

	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE OF j SKIP LOCKED")).
		WithArgs("worker-1", 2, "90000 milliseconds").
		WillReturnRows(sqlmock.NewRows([]string{"id", "receive_count"}).
			AddRow("job-1", 1).
			AddRow("job-2", 3))

	leases, err := q.Claim(context.Background(), "worker-1", 2)
	require.NoError(t, err)
	require.Len(t, leases, 2)
	assert.Equal(t, Lease{JobID: "job-1", Token: "worker-1", Receives: 1}, leases[0])
	assert.Equal(t, 3, leases[1].Receives)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_ClaimZeroIsNoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	leases, err := NewPostgresQueue(db, time.Minute).Claim(context.Background(), "w", 0)
	require.NoError(t, err)
	assert.Empty(t, leases)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_AckAndRelease(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	q := NewPostgresQueue(db, time.Minute)
	l := Lease{JobID: "job-1", Token: "worker-1"}

	mock.ExpectExec(regexp.QuoteMeta("SET locked_by = NULL, locked_until = NULL")).
		WithArgs("job-1", "worker-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("next_attempt_at = NOW() + $3::interval")).
		WithArgs("job-1", "worker-1", "1500 milliseconds").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, q.Ack(context.Background(), l))
	require.NoError(t, q.Release(context.Background(), l, 1500*time.Millisecond))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_ReleaseExpired(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("WHERE locked_until IS NOT NULL AND locked_until < NOW()")).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := NewPostgresQueue(db, time.Minute).ReleaseExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

// fakeSQS is an in-memory queue honouring visibility timeouts.
type fakeSQS struct {
	mu       sync.Mutex
	now      time.Time
	seq      int
	messages map[string]*fakeMessage // by receipt handle
	order    []string
	sendErr  error
}

type fakeMessage struct {
	body      string
	visibleAt time.Time
	receives  int
	deleted   bool
}

func newFakeSQS() *fakeSQS {
	return &fakeSQS{now: time.Unix(1_700_000_000, 0), messages: map[string]*fakeMessage{}}
}

func (f *fakeSQS) SendMessageBatch(_ context.Context, in *sqs.SendMessageBatchInput, _ ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	if len(in.Entries) > 10 {
		return nil, errors.New("too many entries")
	}
	for _, e := range in.Entries {
		f.seq++
		h := "rh-" + strconv.Itoa(f.seq)
		f.messages[h] = &fakeMessage{body: aws.ToString(e.MessageBody), visibleAt: f.now}
		f.order = append(f.order, h)
	}
	return &sqs.SendMessageBatchOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &sqs.ReceiveMessageOutput{}
	for _, h := range f.order {
		m := f.messages[h]
		if m.deleted || m.visibleAt.After(f.now) {
			continue
		}
		if len(out.Messages) == int(in.MaxNumberOfMessages) {
			break
		}
		m.receives++
		m.visibleAt = f.now.Add(time.Duration(in.VisibilityTimeout) * time.Second)
		out.Messages = append(out.Messages, types.Message{
			Body:          aws.String(m.body),
			ReceiptHandle: aws.String(h),
			Attributes:    map[string]string{"ApproximateReceiveCount": strconv.Itoa(m.receives)},
		})
	}
	return out, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[aws.ToString(in.ReceiptHandle)]
	if !ok {
		return nil, errors.New("receipt handle invalid")
	}
	m.deleted = true
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) ChangeMessageVisibility(_ context.Context, in *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[aws.ToString(in.ReceiptHandle)]
	if !ok {
		return nil, errors.New("receipt handle invalid")
	}
	m.visibleAt = f.now.Add(time.Duration(in.VisibilityTimeout) * time.Second)
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func (f *fakeSQS) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestSQSQueue_EnqueueBatchesOfTen(t *testing.T) {
	fake := newFakeSQS()
	q := NewSQSQueue(fake, "https://sqs.local/q", time.Minute)

	ids := make([]string, 23)
	for i := range ids {
		ids[i] = fmt.Sprintf("job-%d", i)
	}
	require.NoError(t, q.Enqueue(context.Background(), ids))
	assert.Len(t, fake.messages, 23)
}

func TestSQSQueue_LeaseIsExclusive(t *testing.T) {
	fake := newFakeSQS()
	q := NewSQSQueue(fake, "https://sqs.local/q", time.Minute)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, []string{"job-1", "job-2"}))

	first, err := q.Claim(ctx, "w1", 10)
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := q.Claim(ctx, "w2", 10)
	require.NoError(t, err)
	assert.Empty(t, second, "leased messages must not be handed to another worker")

	// Lease expiry makes the unacked job visible again.
	require.NoError(t, q.Ack(ctx, first[0]))
	fake.advance(61 * time.Second)
	again, err := q.Claim(ctx, "w2", 10)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, "job-2", again[0].JobID)
	assert.Equal(t, 2, again[0].Receives)
}

func TestSQSQueue_ReleaseDelaysVisibility(t *testing.T) {
	fake := newFakeSQS()
	q := NewSQSQueue(fake, "https://sqs.local/q", time.Minute)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, []string{"job-1"}))

	leases, err := q.Claim(ctx, "w1", 1)
	require.NoError(t, err)
	require.Len(t, leases, 1)
	require.NoError(t, q.Release(ctx, leases[0], 1500*time.Millisecond))

	fake.advance(time.Second)
	none, _ := q.Claim(ctx, "w1", 1)
	assert.Empty(t, none)

	fake.advance(time.Second)
	back, _ := q.Claim(ctx, "w1", 1)
	assert.Len(t, back, 1)
}

func TestSQSQueue_EnqueueError(t *testing.T) {
	fake := newFakeSQS()
	fake.sendErr = errors.New("throttled")
	err := NewSQSQueue(fake, "u", time.Minute).Enqueue(context.Background(), []string{"a"})
	assert.Error(t, err)
}

type staticJobs map[string][]string

func (s staticJobs) QueuedJobIDs(_ context.Context, campaignID string) ([]string, error) {
	return s[campaignID], nil
}

func TestDispatcher_DispatchCampaign(t *testing.T) {
	fake := newFakeSQS()
	d := NewDispatcher(staticJobs{"c1": {"j1", "j2", "j3"}}, NewSQSQueue(fake, "u", time.Minute))

	n, err := d.DispatchCampaign(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, fake.messages, 3)

	n, err = d.DispatchCampaign(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Zero(t, n)
}
