package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"turnpipe/internal/domain"
	"turnpipe/internal/domain/model"
	"turnpipe/internal/domain/ports/repository"
)

var _ repository.StateRepository = (*stateRepo)(nil)

type stateRepo struct {
	pool *pgxpool.Pool
}

func NewStateRepo(pool *pgxpool.Pool) *stateRepo {
	return &stateRepo{pool: pool}
}

func (r *stateRepo) Get(ctx context.Context, conversationID string) (*model.ConversationState, error) {
	const q = `SELECT conversation_id, state, updated_at FROM conversation_states WHERE conversation_id = $1;`
	var st model.ConversationState
	var raw []byte
	if err := r.pool.QueryRow(ctx, q, conversationID).Scan(&st.ConversationID, &raw, &st.UpdatedAt); err != nil {
		return nil, scanErr(err)
	}
	if err := json.Unmarshal(raw, &st.State); err != nil {
		return nil, fmt.Errorf("%w: conversation state: %v", domain.ErrReadDatabaseRow, err)
	}
	return &st, nil
}

func (r *stateRepo) Upsert(ctx context.Context, st *model.ConversationState) error {
	state := st.State
	if state == nil {
		state = map[string]any{}
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode conversation state: %w", err)
	}
	const q = `
INSERT INTO conversation_states (conversation_id, state, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (conversation_id) DO UPDATE SET
  state = EXCLUDED.state,
  updated_at = EXCLUDED.updated_at;`
	if _, err := r.pool.Exec(ctx, q, st.ConversationID, raw, st.UpdatedAt); err != nil {
		return fmt.Errorf("upsert conversation state: %w", err)
	}
	return nil
}

func (r *stateRepo) Delete(ctx context.Context, conversationID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM conversation_states WHERE conversation_id = $1;`, conversationID); err != nil {
		return fmt.Errorf("delete conversation state: %w", err)
	}
	return nil
}

func (r *stateRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM conversation_states WHERE updated_at < $1;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep conversation states: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
