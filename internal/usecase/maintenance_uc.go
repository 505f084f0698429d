// File: internal/usecase/maintenance_uc.go
package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"turnpipe/internal/domain/model"
	"turnpipe/internal/domain/ports/repository"
	"turnpipe/internal/infra/logging"
	"turnpipe/internal/infra/metrics"
)

// Compile-time check
var _ MaintenanceUseCase = (*maintenanceUC)(nil)

// MaintenanceUseCase holds the periodic housekeeping tasks.
type MaintenanceUseCase interface {
	// RecoverOrphans schedules aggregation for conversations whose pending
	// user messages outlived their debounce job.
	RecoverOrphans(ctx context.Context) (int, error)
	// SweepStates deletes flow states idle for longer than the session timeout.
	SweepStates(ctx context.Context) (int, error)
	// RefreshJobGauges publishes job counts by status.
	RefreshJobGauges(ctx context.Context) error
}

type MaintenanceConfig struct {
	DebounceWindow time.Duration
	Lookback       time.Duration
	SessionTimeout time.Duration
}

type maintenanceUC struct {
	messages repository.MessageRepository
	states   repository.StateRepository
	jobs     repository.JobRepository
	queue    JobQueue
	cfg      MaintenanceConfig
	now      func() time.Time
	log      *zerolog.Logger
}

func NewMaintenanceUseCase(
	messages repository.MessageRepository,
	states repository.StateRepository,
	jobs repository.JobRepository,
	queue JobQueue,
	cfg MaintenanceConfig,
	logger *zerolog.Logger,
) *maintenanceUC {
	return &maintenanceUC{
		messages: messages,
		states:   states,
		jobs:     jobs,
		queue:    queue,
		cfg:      cfg,
		now:      time.Now,
		log:      logging.Component(logger, "MaintenanceUC"),
	}
}

func (u *maintenanceUC) WithClock(now func() time.Time) *maintenanceUC {
	u.now = now
	return u
}

func (u *maintenanceUC) RecoverOrphans(ctx context.Context) (int, error) {
	now := u.now()
	// Messages younger than two windows may still have a live debounce job.
	from, to := now.Add(-u.cfg.Lookback), now.Add(-2*u.cfg.DebounceWindow)
	if !to.After(from) {
		return 0, nil
	}
	convs, err := u.messages.ConversationsWithUnprocessed(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("find orphaned messages: %w", err)
	}
	n := 0
	for _, id := range convs {
		if _, err := u.queue.Enqueue(ctx, repository.NoTX, model.DebounceTurnPayload{ConversationID: id}); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		u.log.Info().Int("conversations", n).Msg("re-scheduled orphaned messages")
	}
	return n, nil
}

func (u *maintenanceUC) SweepStates(ctx context.Context) (int, error) {
	if u.cfg.SessionTimeout <= 0 {
		return 0, nil
	}
	n, err := u.states.DeleteOlderThan(ctx, u.now().Add(-u.cfg.SessionTimeout))
	if err != nil {
		return 0, fmt.Errorf("sweep states: %w", err)
	}
	if n > 0 {
		u.log.Info().Int("deleted", n).Msg("expired flow states swept")
	}
	return n, nil
}

func (u *maintenanceUC) RefreshJobGauges(ctx context.Context) error {
	counts, err := u.jobs.CountByStatus(ctx)
	if err != nil {
		return err
	}
	for _, st := range []model.JobStatus{model.JobStatusPending, model.JobStatusProcessing, model.JobStatusCompleted, model.JobStatusFailed} {
		metrics.SetJobsByStatus(string(st), counts[st])
	}
	return nil
}
