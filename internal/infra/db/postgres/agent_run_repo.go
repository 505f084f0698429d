package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"

	"turnpipe/internal/domain"
	"turnpipe/internal/domain/model"
	"turnpipe/internal/domain/ports/repository"
)

var _ repository.AgentRunRepository = (*agentRunRepo)(nil)

type agentRunRepo struct {
	pool *pgxpool.Pool
}

func NewAgentRunRepo(pool *pgxpool.Pool) *agentRunRepo {
	return &agentRunRepo{pool: pool}
}

func (r *agentRunRepo) Create(ctx context.Context, run *model.AgentRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	input, err := json.Marshal(run.Input)
	if err != nil {
		return fmt.Errorf("encode run input: %w", err)
	}
	var output []byte
	if run.Output != nil {
		if output, err = json.Marshal(run.Output); err != nil {
			return fmt.Errorf("encode run output: %w", err)
		}
	}
	const q = `
INSERT INTO agent_runs (id, turn_id, conversation_id, agent_id, started_at, ended_at, status, input, output, error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);`
	_, err = r.pool.Exec(ctx, q, run.ID, run.TurnID, run.ConversationID, run.AgentID, run.StartedAt,
		run.EndedAt, string(run.Status), input, output, run.Error)
	if uniqueViolation(err) {
		return fmt.Errorf("agent run %s: %w", run.ID, domain.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("create agent run: %w", err)
	}
	return nil
}

func (r *agentRunRepo) Finish(ctx context.Context, run *model.AgentRun) error {
	var output []byte
	if run.Output != nil {
		var err error
		if output, err = json.Marshal(run.Output); err != nil {
			return fmt.Errorf("encode run output: %w", err)
		}
	}
	const q = `UPDATE agent_runs SET status = $2, output = $3, error = $4, ended_at = $5 WHERE id = $1;`
	tag, err := r.pool.Exec(ctx, q, run.ID, string(run.Status), output, run.Error, run.EndedAt)
	if err != nil {
		return fmt.Errorf("finish agent run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *agentRunRepo) FindByID(ctx context.Context, id string) (*model.AgentRun, error) {
	const q = `
SELECT id, turn_id, conversation_id, agent_id, started_at, ended_at, status, input, output, error
FROM agent_runs WHERE id = $1;`
	var run model.AgentRun
	var status string
	var input, output []byte
	if err := r.pool.QueryRow(ctx, q, id).Scan(&run.ID, &run.TurnID, &run.ConversationID, &run.AgentID,
		&run.StartedAt, &run.EndedAt, &status, &input, &output, &run.Error); err != nil {
		return nil, scanErr(err)
	}
	run.Status = model.AgentRunStatus(status)
	if err := json.Unmarshal(input, &run.Input); err != nil {
		return nil, fmt.Errorf("%w: run input: %v", domain.ErrReadDatabaseRow, err)
	}
	if len(output) > 0 {
		run.Output = &model.AgentRunOutput{}
		if err := json.Unmarshal(output, run.Output); err != nil {
			return nil, fmt.Errorf("%w: run output: %v", domain.ErrReadDatabaseRow, err)
		}
	}
	return &run, nil
}
