// File: internal/infra/worker/scheduler.go
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"turnpipe/internal/domain"
	"turnpipe/internal/domain/model"
	"turnpipe/internal/domain/ports/repository"
	"turnpipe/internal/infra/logging"
	"turnpipe/internal/infra/metrics"
)

// Handlers is the dispatch table, one typed entry per job kind.
type Handlers struct {
	DebounceTurn func(ctx context.Context, meta model.JobMeta, p model.DebounceTurnPayload) error
	RunAgent     func(ctx context.Context, meta model.JobMeta, p model.RunAgentPayload) error
	SendReply    func(ctx context.Context, meta model.JobMeta, p model.SendReplyPayload) error
	MemoryUpdate func(ctx context.Context, meta model.JobMeta, p model.MemoryUpdatePayload) error
}

// Validate fails when any job kind has no handler.
func (h Handlers) Validate() error {
	var missing []string
	if h.DebounceTurn == nil {
		missing = append(missing, string(model.JobTypeDebounceTurn))
	}
	if h.RunAgent == nil {
		missing = append(missing, string(model.JobTypeRunAgent))
	}
	if h.SendReply == nil {
		missing = append(missing, string(model.JobTypeSendReply))
	}
	if h.MemoryUpdate == nil {
		missing = append(missing, string(model.JobTypeMemoryUpdate))
	}
	if len(missing) > 0 {
		return fmt.Errorf("worker: no handler for %v", missing)
	}
	return nil
}

func (h Handlers) dispatch(ctx context.Context, job *model.Job) error {
	payload, err := model.DecodePayload(job)
	if err != nil {
		return err
	}
	meta := job.Meta()
	switch p := payload.(type) {
	case model.DebounceTurnPayload:
		return h.DebounceTurn(ctx, meta, p)
	case model.RunAgentPayload:
		return h.RunAgent(ctx, meta, p)
	case model.SendReplyPayload:
		return h.SendReply(ctx, meta, p)
	case model.MemoryUpdatePayload:
		return h.MemoryUpdate(ctx, meta, p)
	}
	return domain.Permanent(fmt.Errorf("%w: %T", domain.ErrUnknownJobType, payload))
}

type SchedulerConfig struct {
	RetryBackoff time.Duration
	PollInterval time.Duration
	// Budget caps jobs per RunOnce call.
	Budget int
}

// Scheduler claims due jobs one at a time and owns their retry bookkeeping.
// Any number of schedulers may share one job store.
type Scheduler struct {
	jobs     repository.JobRepository
	handlers Handlers
	cfg      SchedulerConfig
	now      func() time.Time
	log      *zerolog.Logger
}

func NewScheduler(jobs repository.JobRepository, handlers Handlers, cfg SchedulerConfig, logger *zerolog.Logger) (*Scheduler, error) {
	if err := handlers.Validate(); err != nil {
		return nil, err
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Budget <= 0 {
		cfg.Budget = 25
	}
	return &Scheduler{
		jobs:     jobs,
		handlers: handlers,
		cfg:      cfg,
		now:      time.Now,
		log:      logging.Component(logger, "Scheduler"),
	}, nil
}

func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// RunOnce processes at most budget due jobs (the configured budget when
// budget <= 0). It stops early when the queue is empty or a job fails for
// good, returning how many jobs ran.
func (s *Scheduler) RunOnce(ctx context.Context, budget int) (int, error) {
	if budget <= 0 {
		budget = s.cfg.Budget
	}
	n := 0
	for n < budget {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		ran, err := s.processOne(ctx)
		if ran {
			n++
		}
		if err != nil {
			return n, err
		}
		if !ran {
			break
		}
	}
	return n, nil
}

// Run polls until ctx is done. Terminal job failures are logged and the loop
// moves on.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info().Dur("interval", s.cfg.PollInterval).Msg("scheduler started")
	for {
		ran, err := s.processOne(ctx)
		if err != nil && !errors.Is(err, domain.ErrJobFailed) {
			s.log.Error().Err(err).Msg("scheduler iteration")
		}
		if ran && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopping")
			return nil
		case <-time.After(s.cfg.PollInterval):
		}
	}
}

// processOne claims and runs one job. It reports whether a job was claimed.
// A job that will not be retried again yields an error wrapping
// domain.ErrJobFailed.
func (s *Scheduler) processOne(ctx context.Context) (bool, error) {
	job, err := s.jobs.ClaimNext(ctx, s.now())
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}

	ctx = logging.WithJobID(ctx, job.ID)
	ctx, span := otel.Tracer("turnpipe/worker").Start(ctx, "job."+string(job.Type))
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.type", string(job.Type)),
		attribute.Int("job.attempt", job.Attempts),
	)
	if sc := span.SpanContext(); sc.HasTraceID() {
		ctx = logging.WithTraceID(ctx, sc.TraceID().String())
	}
	log := logging.With(ctx, s.log).With().Str("job_type", string(job.Type)).Int("attempt", job.Attempts).Logger()

	start := time.Now()
	runErr := s.execute(ctx, job)
	took := time.Since(start)

	// Bookkeeping must land even if the caller is shutting down.
	bctx := context.WithoutCancel(ctx)
	if runErr == nil {
		metrics.ObserveJob(string(job.Type), string(model.JobStatusCompleted), took)
		if err := s.jobs.Complete(bctx, job.ID, s.now()); err != nil {
			return true, fmt.Errorf("complete job %s: %w", job.ID, err)
		}
		log.Debug().Dur("took", took).Msg("job completed")
		return true, nil
	}

	span.RecordError(runErr)
	span.SetStatus(codes.Error, runErr.Error())

	if !domain.IsPermanent(runErr) && job.CanRetry() {
		runAt := s.now().Add(s.cfg.RetryBackoff)
		metrics.ObserveJob(string(job.Type), "retry", took)
		if err := s.jobs.Retry(bctx, job.ID, runAt, runErr.Error()); err != nil {
			return true, fmt.Errorf("retry job %s: %w", job.ID, err)
		}
		log.Warn().Err(runErr).Time("run_at", runAt).Msg("job failed, will retry")
		return true, nil
	}

	metrics.ObserveJob(string(job.Type), string(model.JobStatusFailed), took)
	if err := s.jobs.Fail(bctx, job.ID, s.now(), runErr.Error()); err != nil {
		return true, fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	log.Error().Err(runErr).Bool("permanent", domain.IsPermanent(runErr)).Msg("job failed")
	return true, fmt.Errorf("%w: %s %s: %v", domain.ErrJobFailed, job.Type, job.ID, runErr)
}

// execute runs the handler, turning a panic into a retryable error.
func (s *Scheduler) execute(ctx context.Context, job *model.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.handlers.dispatch(ctx, job)
}
