package repository

import (
	"context"

	"turnpipe/internal/domain/model"
)

type AgentRunRepository interface {
	Create(ctx context.Context, run *model.AgentRun) error
	// Finish writes the terminal status, output, error and end time.
	Finish(ctx context.Context, run *model.AgentRun) error
	FindByID(ctx context.Context, id string) (*model.AgentRun, error)
}
