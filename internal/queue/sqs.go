package queue

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSAPI is the subset of the SQS client the queue uses.
type SQSAPI interface {
	SendMessageBatch(ctx context.Context, in *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

const (
	sqsMaxBatch      = 10
	sqsMaxVisibility = 12 * time.Hour
)

// SQSQueue carries job ids as SQS message bodies. The visibility timeout is
// the lease: a received message is hidden from other consumers until it is
// deleted, made visible again, or the timeout runs out.
type SQSQueue struct {
	client   SQSAPI
	queueURL string
	lease    time.Duration
	wait     time.Duration
}

// NewSQSQueue builds a queue over queueURL.
func NewSQSQueue(client SQSAPI, queueURL string, lease time.Duration) *SQSQueue {
	if lease <= 0 {
		lease = time.Minute
	}
	return &SQSQueue{client: client, queueURL: queueURL, lease: lease, wait: time.Second}
}

// Enqueue sends one message per job in batches of ten.
func (q *SQSQueue) Enqueue(ctx context.Context, jobIDs []string) error {
	for start := 0; start < len(jobIDs); start += sqsMaxBatch {
		end := start + sqsMaxBatch
		if end > len(jobIDs) {
			end = len(jobIDs)
		}
		entries := make([]types.SendMessageBatchRequestEntry, 0, end-start)
		for i, id := range jobIDs[start:end] {
			entries = append(entries, types.SendMessageBatchRequestEntry{
				Id:          aws.String(strconv.Itoa(i)),
				MessageBody: aws.String(id),
			})
		}
		out, err := q.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(q.queueURL),
			Entries:  entries,
		})
		if err != nil {
			return fmt.Errorf("sqs send batch: %w", err)
		}
		if len(out.Failed) > 0 {
			f := out.Failed[0]
			return fmt.Errorf("sqs send batch: %d of %d failed (%s: %s)",
				len(out.Failed), len(entries), aws.ToString(f.Code), aws.ToString(f.Message))
		}
	}
	return nil
}

// Claim receives up to max messages, at most ten per call. workerID is not
// needed by SQS; the receipt handle identifies the lease.
func (q *SQSQueue) Claim(ctx context.Context, _ string, max int) ([]Lease, error) {
	if max <= 0 {
		return nil, nil
	}
	if max > sqsMaxBatch {
		max = sqsMaxBatch
	}
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: int32(max),
		VisibilityTimeout:   int32(q.lease / time.Second),
		WaitTimeSeconds:     int32(q.wait / time.Second),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive: %w", err)
	}
	leases := make([]Lease, 0, len(out.Messages))
	for _, m := range out.Messages {
		l := Lease{JobID: aws.ToString(m.Body), Token: aws.ToString(m.ReceiptHandle)}
		if n, err := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]); err == nil {
			l.Receives = n
		}
		leases = append(leases, l)
	}
	return leases, nil
}

// Ack deletes the message.
func (q *SQSQueue) Ack(ctx context.Context, l Lease) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(l.Token),
	})
	if err != nil {
		return fmt.Errorf("sqs delete %s: %w", l.JobID, err)
	}
	return nil
}

// Release makes the message visible again after delay, capped at the SQS maximum.
func (q *SQSQueue) Release(ctx context.Context, l Lease, delay time.Duration) error {
	if delay > sqsMaxVisibility {
		delay = sqsMaxVisibility
	}
	secs := int32(math.Ceil(delay.Seconds()))
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.queueURL),
		ReceiptHandle:     aws.String(l.Token),
		VisibilityTimeout: secs,
	})
	if err != nil {
		return fmt.Errorf("sqs change visibility %s: %w", l.JobID, err)
	}
	return nil
}
