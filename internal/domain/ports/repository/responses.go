package repository

import (
	"context"

	"turnpipe/internal/domain/model"
)

type ResponsesRepository interface {
	// Get returns domain.ErrNotFound when the conversation has no record.
	Get(ctx context.Context, conversationID string) (*model.ResponsesSetting, error)
	Upsert(ctx context.Context, s *model.ResponsesSetting) error
}

type MemoryRepository interface {
	Get(ctx context.Context, conversationID string) (*model.ConversationMemory, error)
	Upsert(ctx context.Context, m *model.ConversationMemory) error
}
