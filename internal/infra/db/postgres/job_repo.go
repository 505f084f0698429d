package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"

	"turnpipe/internal/domain"
	"turnpipe/internal/domain/model"
	"turnpipe/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*jobRepo)(nil)

type jobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *jobRepo {
	return &jobRepo{pool: pool}
}

const jobCols = `id, type, status, payload, scheduled_for, attempts, max_attempts, created_at, started_at, completed_at, last_error`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var j model.Job
	var typ, status string
	var payload []byte
	if err := row.Scan(&j.ID, &typ, &status, &payload, &j.ScheduledFor, &j.Attempts, &j.MaxAttempts,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.LastError); err != nil {
		return nil, scanErr(err)
	}
	j.Type = model.JobType(typ)
	j.Status = model.JobStatus(status)
	j.Payload = payload
	return &j, nil
}

func (r *jobRepo) Enqueue(ctx context.Context, tx repository.Tx, job *model.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = model.JobStatusPending
	}
	const q = `
INSERT INTO jobs (id, type, status, payload, scheduled_for, attempts, max_attempts, created_at, last_error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);`
	_, err := execSQL(ctx, r.pool, tx, q,
		job.ID, string(job.Type), string(job.Status), []byte(job.Payload), job.ScheduledFor,
		job.Attempts, job.MaxAttempts, job.CreatedAt, job.LastError)
	if uniqueViolation(err) {
		return fmt.Errorf("job %s: %w", job.ID, domain.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// ClaimNext locks the earliest due row with SKIP LOCKED and flips it in the
// same statement, so concurrent pollers never see the same job.
func (r *jobRepo) ClaimNext(ctx context.Context, now time.Time) (*model.Job, error) {
	const q = `
UPDATE jobs SET status = 'processing', attempts = attempts + 1, started_at = $1
WHERE id = (
  SELECT id FROM jobs
  WHERE status = 'pending' AND scheduled_for <= $1
  ORDER BY scheduled_for, seq
  LIMIT 1
  FOR UPDATE SKIP LOCKED
) AND status = 'pending'
RETURNING ` + jobCols + `;`
	return scanJob(r.pool.QueryRow(ctx, q, now))
}

func (r *jobRepo) Complete(ctx context.Context, id string, now time.Time) error {
	const q = `UPDATE jobs SET status = 'completed', completed_at = $2 WHERE id = $1;`
	return r.update(ctx, q, id, now)
}

func (r *jobRepo) Retry(ctx context.Context, id string, runAt time.Time, lastErr string) error {
	const q = `UPDATE jobs SET status = 'pending', scheduled_for = $2, last_error = $3 WHERE id = $1;`
	return r.update(ctx, q, id, runAt, lastErr)
}

func (r *jobRepo) Fail(ctx context.Context, id string, now time.Time, lastErr string) error {
	const q = `UPDATE jobs SET status = 'failed', completed_at = $2, last_error = $3 WHERE id = $1;`
	return r.update(ctx, q, id, now, lastErr)
}

func (r *jobRepo) update(ctx context.Context, q, id string, args ...interface{}) error {
	tag, err := r.pool.Exec(ctx, q, append([]interface{}{id}, args...)...)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *jobRepo) FindByID(ctx context.Context, id string) (*model.Job, error) {
	return scanJob(r.pool.QueryRow(ctx, `SELECT `+jobCols+` FROM jobs WHERE id = $1;`, id))
}

func (r *jobRepo) CountByStatus(ctx context.Context) (map[model.JobStatus]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status;`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()
	out := map[model.JobStatus]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, scanErr(err)
		}
		out[model.JobStatus(status)] = n
	}
	return out, rows.Err()
}
