package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"turnpipe/internal/domain/model"
	"turnpipe/internal/domain/ports/repository"
)

var (
	_ repository.ResponsesRepository = (*responsesRepo)(nil)
	_ repository.MemoryRepository    = (*memoryRepo)(nil)
)

type responsesRepo struct {
	pool *pgxpool.Pool
}

func NewResponsesRepo(pool *pgxpool.Pool) *responsesRepo {
	return &responsesRepo{pool: pool}
}

func (r *responsesRepo) Get(ctx context.Context, conversationID string) (*model.ResponsesSetting, error) {
	const q = `
SELECT conversation_id, enabled, disabled_until, updated_at
FROM responses_settings WHERE conversation_id = $1;`
	var s model.ResponsesSetting
	if err := r.pool.QueryRow(ctx, q, conversationID).Scan(&s.ConversationID, &s.Enabled, &s.DisabledUntil, &s.UpdatedAt); err != nil {
		return nil, scanErr(err)
	}
	return &s, nil
}

func (r *responsesRepo) Upsert(ctx context.Context, s *model.ResponsesSetting) error {
	const q = `
INSERT INTO responses_settings (conversation_id, enabled, disabled_until, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (conversation_id) DO UPDATE SET
  enabled = EXCLUDED.enabled,
  disabled_until = EXCLUDED.disabled_until,
  updated_at = EXCLUDED.updated_at;`
	if _, err := r.pool.Exec(ctx, q, s.ConversationID, s.Enabled, s.DisabledUntil, s.UpdatedAt); err != nil {
		return fmt.Errorf("upsert responses setting: %w", err)
	}
	return nil
}

type memoryRepo struct {
	pool *pgxpool.Pool
}

func NewMemoryRepo(pool *pgxpool.Pool) *memoryRepo {
	return &memoryRepo{pool: pool}
}

func (r *memoryRepo) Get(ctx context.Context, conversationID string) (*model.ConversationMemory, error) {
	const q = `
SELECT conversation_id, facts, recap, updated_at
FROM conversation_memories WHERE conversation_id = $1;`
	var m model.ConversationMemory
	if err := r.pool.QueryRow(ctx, q, conversationID).Scan(&m.ConversationID, &m.Facts, &m.Recap, &m.UpdatedAt); err != nil {
		return nil, scanErr(err)
	}
	return &m, nil
}

func (r *memoryRepo) Upsert(ctx context.Context, m *model.ConversationMemory) error {
	facts := m.Facts
	if facts == nil {
		facts = []string{}
	}
	const q = `
INSERT INTO conversation_memories (conversation_id, facts, recap, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (conversation_id) DO UPDATE SET
  facts = EXCLUDED.facts,
  recap = EXCLUDED.recap,
  updated_at = EXCLUDED.updated_at;`
	if _, err := r.pool.Exec(ctx, q, m.ConversationID, facts, m.Recap, m.UpdatedAt); err != nil {
		return fmt.Errorf("upsert conversation memory: %w", err)
	}
	return nil
}
