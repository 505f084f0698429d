package repository

import (
	"context"
	"time"

	"turnpipe/internal/domain/model"
)

// StateRepository stores per-conversation flow state. Get returns
// domain.ErrNotFound when nothing is stored.
type StateRepository interface {
	Get(ctx context.Context, conversationID string) (*model.ConversationState, error)
	Upsert(ctx context.Context, st *model.ConversationState) error
	Delete(ctx context.Context, conversationID string) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}
