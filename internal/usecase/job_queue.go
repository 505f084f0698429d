// File: internal/usecase/job_queue.go
package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"turnpipe/internal/domain/model"
	"turnpipe/internal/domain/ports/repository"
)

// Compile-time check
var _ JobQueue = (*jobQueue)(nil)

// JobQueue is the enqueue side of the job store.
type JobQueue interface {
	// Enqueue stores a pending job for p and returns its id. By default the
	// job is due now with the configured attempt budget.
	Enqueue(ctx context.Context, tx repository.Tx, p model.JobPayload, opts ...EnqueueOption) (string, error)
}

type enqueueOptions struct {
	at          time.Time
	maxAttempts int
}

type EnqueueOption func(*enqueueOptions)

// At schedules the job for t instead of now.
func At(t time.Time) EnqueueOption {
	return func(o *enqueueOptions) { o.at = t }
}

// MaxAttempts overrides the attempt budget of one job.
func MaxAttempts(n int) EnqueueOption {
	return func(o *enqueueOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

type jobQueue struct {
	jobs        repository.JobRepository
	maxAttempts int
	now         func() time.Time
}

func NewJobQueue(jobs repository.JobRepository, maxAttempts int) *jobQueue {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &jobQueue{jobs: jobs, maxAttempts: maxAttempts, now: time.Now}
}

func (q *jobQueue) WithClock(now func() time.Time) *jobQueue {
	q.now = now
	return q
}

func (q *jobQueue) Enqueue(ctx context.Context, tx repository.Tx, p model.JobPayload, opts ...EnqueueOption) (string, error) {
	now := q.now()
	o := enqueueOptions{at: now, maxAttempts: q.maxAttempts}
	for _, opt := range opts {
		opt(&o)
	}
	body, err := model.EncodePayload(p)
	if err != nil {
		return "", err
	}
	job := &model.Job{
		ID:           ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Type:         p.JobType(),
		Status:       model.JobStatusPending,
		Payload:      body,
		ScheduledFor: o.at,
		MaxAttempts:  o.maxAttempts,
		CreatedAt:    now,
	}
	if err := q.jobs.Enqueue(ctx, tx, job); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", job.Type, err)
	}
	return job.ID, nil
}
