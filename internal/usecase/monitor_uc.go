package usecase

import (
	"context"

	"github.com/rs/zerolog"

	"turnpipe/internal/domain/model"
	"turnpipe/internal/domain/ports/repository"
)

// Compile-time check
var _ MonitorUseCase = (*monitorUC)(nil)

// MonitorUseCase is the read side used by the dashboard.
type MonitorUseCase interface {
	Turn(ctx context.Context, id string) (*model.Turn, error)
	ConversationTurns(ctx context.Context, conversationID string, limit int) ([]*model.Turn, error)
	AgentRun(ctx context.Context, id string) (*model.AgentRun, error)
	JobCounts(ctx context.Context) (map[model.JobStatus]int, error)
}

type monitorUC struct {
	turns repository.TurnRepository
	runs  repository.AgentRunRepository
	jobs  repository.JobRepository

	log *zerolog.Logger
}

func NewMonitorUseCase(turns repository.TurnRepository, runs repository.AgentRunRepository, jobs repository.JobRepository, logger *zerolog.Logger) *monitorUC {
	return &monitorUC{turns: turns, runs: runs, jobs: jobs, log: logger}
}

func (m *monitorUC) Turn(ctx context.Context, id string) (*model.Turn, error) {
	return m.turns.FindByID(ctx, id)
}

func (m *monitorUC) ConversationTurns(ctx context.Context, conversationID string, limit int) ([]*model.Turn, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return m.turns.ListByConversation(ctx, conversationID, limit)
}

func (m *monitorUC) AgentRun(ctx context.Context, id string) (*model.AgentRun, error) {
	return m.runs.FindByID(ctx, id)
}

func (m *monitorUC) JobCounts(ctx context.Context) (map[model.JobStatus]int, error) {
	return m.jobs.CountByStatus(ctx)
}
