package repository

import (
	"context"
	"time"

	"turnpipe/internal/domain/model"
)

type JobRepository interface {
	Enqueue(ctx context.Context, tx Tx, job *model.Job) error
	// ClaimNext atomically moves the earliest due pending job to processing,
	// incrementing its attempts. Returns domain.ErrNotFound when nothing is due.
	// At most one concurrent caller receives any given job.
	ClaimNext(ctx context.Context, now time.Time) (*model.Job, error)
	Complete(ctx context.Context, id string, now time.Time) error
	// Retry puts a processing job back to pending, due at runAt.
	Retry(ctx context.Context, id string, runAt time.Time, lastErr string) error
	Fail(ctx context.Context, id string, now time.Time, lastErr string) error
	FindByID(ctx context.Context, id string) (*model.Job, error)
	CountByStatus(ctx context.Context) (map[model.JobStatus]int, error)
}
