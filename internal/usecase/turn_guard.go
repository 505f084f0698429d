// File: internal/usecase/turn_guard.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"turnpipe/internal/domain"
	"turnpipe/internal/domain/model"
	"turnpipe/internal/domain/ports/repository"
)

// Compile-time check
var _ TurnGuard = (*turnGuard)(nil)

// TurnGuard holds the policy checks that may stop a turn before any agent
// work. A non-empty reason is a policy outcome, not an error.
type TurnGuard interface {
	// Check runs the rate limit and then the responses setting for a turn
	// that has already been claimed.
	Check(ctx context.Context, turn *model.Turn) (model.BlockedReason, error)
	// ResponsesBlocked reads only the per-conversation responses setting.
	ResponsesBlocked(ctx context.Context, conversationID string) (model.BlockedReason, error)
}

type RateLimit struct {
	MaxTurns int
	Window   time.Duration
}

// counted turns include the claimed one, which is already running.
var rateCountedStatuses = []model.TurnStatus{model.TurnStatusDone, model.TurnStatusRunning}

type turnGuard struct {
	turns     repository.TurnRepository
	responses repository.ResponsesRepository
	limit     RateLimit
	now       func() time.Time
}

func NewTurnGuard(turns repository.TurnRepository, responses repository.ResponsesRepository, limit RateLimit) *turnGuard {
	return &turnGuard{turns: turns, responses: responses, limit: limit, now: time.Now}
}

func (g *turnGuard) WithClock(now func() time.Time) *turnGuard {
	g.now = now
	return g
}

func (g *turnGuard) Check(ctx context.Context, turn *model.Turn) (model.BlockedReason, error) {
	if g.limit.MaxTurns > 0 {
		n, err := g.turns.CountRecent(ctx, turn.ConversationID, rateCountedStatuses, g.now().Add(-g.limit.Window))
		if err != nil {
			return "", fmt.Errorf("count recent turns: %w", err)
		}
		if n > g.limit.MaxTurns {
			return model.BlockedRateLimit, nil
		}
	}
	return g.ResponsesBlocked(ctx, turn.ConversationID)
}

func (g *turnGuard) ResponsesBlocked(ctx context.Context, conversationID string) (model.BlockedReason, error) {
	s, err := g.responses.Get(ctx, conversationID)
	if errors.Is(err, domain.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("responses setting: %w", err)
	}
	return s.BlockReason(g.now()), nil
}
