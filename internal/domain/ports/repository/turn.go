package repository

import (
	"context"
	"time"

	"turnpipe/internal/domain/model"
)

type TurnRepository interface {
	Create(ctx context.Context, tx Tx, turn *model.Turn) error
	FindByID(ctx context.Context, id string) (*model.Turn, error)
	// CompareAndSetStatus moves the turn from `from` to `to` only if it is
	// still in `from`, and reports whether it matched.
	CompareAndSetStatus(ctx context.Context, id string, from, to model.TurnStatus, now time.Time) (bool, error)
	// Finalize writes status, routing, response and meta of a turn.
	Finalize(ctx context.Context, tx Tx, turn *model.Turn) error
	UpdateResponse(ctx context.Context, id string, resp *model.TurnResponse, now time.Time) error
	CountRecent(ctx context.Context, conversationID string, statuses []model.TurnStatus, since time.Time) (int, error)
	ListByConversation(ctx context.Context, conversationID string, limit int) ([]*model.Turn, error)
}
