package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"turnpipe/internal/domain"
	"turnpipe/internal/domain/model"
	"turnpipe/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*jobRepo)(nil)

type jobRepo struct{ s *Store }

func (r *jobRepo) Enqueue(_ context.Context, _ repository.Tx, job *model.Job) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if _, ok := r.s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s: %w", job.ID, domain.ErrAlreadyExists)
	}
	if job.Status == "" {
		job.Status = model.JobStatusPending
	}
	r.s.order("job:" + job.ID)
	r.s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (r *jobRepo) ClaimNext(_ context.Context, now time.Time) (*model.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var best *model.Job
	for _, j := range r.s.jobs {
		if j.Status != model.JobStatusPending || j.ScheduledFor.After(now) {
			continue
		}
		if best == nil || j.ScheduledFor.Before(best.ScheduledFor) ||
			(j.ScheduledFor.Equal(best.ScheduledFor) && r.s.ord["job:"+j.ID] < r.s.ord["job:"+best.ID]) {
			best = j
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	started := now
	best.Status = model.JobStatusProcessing
	best.Attempts++
	best.StartedAt = &started
	return cloneJob(best), nil
}

func (r *jobRepo) Complete(_ context.Context, id string, now time.Time) error {
	return r.update(id, func(j *model.Job) {
		done := now
		j.Status = model.JobStatusCompleted
		j.CompletedAt = &done
	})
}

func (r *jobRepo) Retry(_ context.Context, id string, runAt time.Time, lastErr string) error {
	return r.update(id, func(j *model.Job) {
		j.Status = model.JobStatusPending
		j.ScheduledFor = runAt
		j.LastError = lastErr
	})
}

func (r *jobRepo) Fail(_ context.Context, id string, now time.Time, lastErr string) error {
	return r.update(id, func(j *model.Job) {
		done := now
		j.Status = model.JobStatusFailed
		j.CompletedAt = &done
		j.LastError = lastErr
	})
}

func (r *jobRepo) update(id string, fn func(j *model.Job)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	fn(j)
	return nil
}

func (r *jobRepo) FindByID(_ context.Context, id string) (*model.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(j), nil
}

func (r *jobRepo) CountByStatus(_ context.Context) (map[model.JobStatus]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := map[model.JobStatus]int{}
	for _, j := range r.s.jobs {
		out[j.Status]++
	}
	return out, nil
}

// ListJobs returns all jobs in insertion order.
func (s *Store) ListJobs() []*model.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, cloneJob(j))
	}
	sortByOrder(s, "job", out, func(j *model.Job) string { return j.ID })
	return out
}
