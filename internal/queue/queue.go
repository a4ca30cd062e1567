// Package queue hands message jobs to delivery workers with exclusive,
// time-limited leases. A job leased to one worker is invisible to every
// other worker until the lease is acked, released or expires.
package queue

import (
	"context"
	"fmt"
	"time"
)

// Lease is one claimed job. Token identifies the holder to the backend.
type Lease struct {
	JobID string
	Token string
	// Receives counts deliveries of this queue item, when the backend knows it.
	Receives int
}

// Queue is the delivery work queue.
type Queue interface {
	Enqueue(ctx context.Context, jobIDs []string) error
	Claim(ctx context.Context, workerID string, max int) ([]Lease, error)
	// Ack drops the lease for good; the job will not be handed out again.
	Ack(ctx context.Context, l Lease) error
	// Release returns the job to the queue, visible again after delay.
	Release(ctx context.Context, l Lease, delay time.Duration) error
}

// JobSource lists the jobs of a campaign that are ready for delivery.
type JobSource interface {
	QueuedJobIDs(ctx context.Context, campaignID string) ([]string, error)
}

// Dispatcher pushes a campaign's QUEUED jobs onto the queue.
type Dispatcher struct {
	jobs  JobSource
	queue Queue
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(jobs JobSource, q Queue) *Dispatcher {
	return &Dispatcher{jobs: jobs, queue: q}
}

// DispatchCampaign enqueues every QUEUED job of the campaign and returns how many.
func (d *Dispatcher) DispatchCampaign(ctx context.Context, campaignID string) (int, error) {
	ids, err := d.jobs.QueuedJobIDs(ctx, campaignID)
	if err != nil {
		return 0, fmt.Errorf("list queued jobs: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := d.queue.Enqueue(ctx, ids); err != nil {
		return 0, fmt.Errorf("enqueue %d jobs: %w", len(ids), err)
	}
	return len(ids), nil
}
