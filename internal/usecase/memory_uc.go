// File: internal/usecase/memory_uc.go
package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"turnpipe/internal/domain"
	"turnpipe/internal/domain/model"
	"turnpipe/internal/domain/ports/adapter"
	"turnpipe/internal/domain/ports/repository"
	"turnpipe/internal/infra/logging"
)

// Compile-time check
var _ MemoryUseCase = (*memoryUC)(nil)

// MemoryUseCase refreshes long-lived conversation memory after a run. It is
// best-effort: every failure is logged and swallowed.
type MemoryUseCase interface {
	Handle(ctx context.Context, meta model.JobMeta, p model.MemoryUpdatePayload) error
}

type memoryUC struct {
	turns     repository.TurnRepository
	runs      repository.AgentRunRepository
	memories  repository.MemoryRepository
	extractor adapter.FactExtractor
	factLimit int
	now       func() time.Time
	log       *zerolog.Logger
}

func NewMemoryUseCase(
	turns repository.TurnRepository,
	runs repository.AgentRunRepository,
	memories repository.MemoryRepository,
	extractor adapter.FactExtractor,
	factLimit int,
	logger *zerolog.Logger,
) *memoryUC {
	return &memoryUC{
		turns:     turns,
		runs:      runs,
		memories:  memories,
		extractor: extractor,
		factLimit: factLimit,
		now:       time.Now,
		log:       logging.Component(logger, "MemoryUC"),
	}
}

func (u *memoryUC) WithClock(now func() time.Time) *memoryUC {
	u.now = now
	return u
}

func (u *memoryUC) Handle(ctx context.Context, meta model.JobMeta, p model.MemoryUpdatePayload) error {
	ctx = logging.WithTurnID(ctx, p.TurnID)
	log := logging.With(ctx, u.log)

	turn, err := u.turns.FindByID(ctx, p.TurnID)
	if err != nil {
		log.Warn().Err(err).Msg("memory update: load turn")
		return nil
	}
	run, err := u.runs.FindByID(ctx, p.AgentRunID)
	if err != nil {
		log.Warn().Err(err).Str("run_id", p.AgentRunID).Msg("memory update: load run")
		return nil
	}
	if run.Status != model.AgentRunSuccess || run.Output == nil {
		return nil
	}

	current, err := u.memories.Get(ctx, turn.ConversationID)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		current = &model.ConversationMemory{ConversationID: turn.ConversationID}
	default:
		log.Warn().Err(err).Msg("memory update: load memory")
		return nil
	}

	res, err := u.extractor.Extract(ctx, adapter.MemoryInput{
		Turn:          turn,
		AssistantText: run.Output.AssistantText,
		Current:       current,
	})
	if err != nil {
		log.Warn().Err(err).Msg("memory update: extract")
		return nil
	}

	current.MergeFacts(res.Facts, u.factLimit)
	if res.Recap != "" {
		current.Recap = res.Recap
	}
	current.UpdatedAt = u.now()
	if err := u.memories.Upsert(ctx, current); err != nil {
		log.Warn().Err(err).Msg("memory update: store")
		return nil
	}
	log.Debug().Int("facts", len(current.Facts)).Msg("memory updated")
	return nil
}
