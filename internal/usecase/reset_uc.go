// File: internal/usecase/reset_uc.go
package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"turnpipe/internal/domain/ports/repository"
	"turnpipe/internal/infra/logging"
)

// Compile-time check
var _ ResetUseCase = (*resetUC)(nil)

type ResetUseCase interface {
	// Reset clears the conversation's flow state and drops pending user
	// messages. Returns domain.ErrLockNotAcquired while a reset or an
	// aggregation holds the conversation.
	Reset(ctx context.Context, conversationID string) (*ResetResult, error)
}

type ResetResult struct {
	ConversationID    string
	MessagesDiscarded int
}

type resetUC struct {
	states   repository.StateRepository
	messages repository.MessageRepository
	locker   repository.Locker
	lockTTL  time.Duration
	resetTTL time.Duration
	log      *zerolog.Logger
}

func NewResetUseCase(
	states repository.StateRepository,
	messages repository.MessageRepository,
	locker repository.Locker,
	lockTTL, resetTTL time.Duration,
	logger *zerolog.Logger,
) *resetUC {
	return &resetUC{
		states:   states,
		messages: messages,
		locker:   locker,
		lockTTL:  lockTTL,
		resetTTL: resetTTL,
		log:      logging.Component(logger, "ResetUC"),
	}
}

func (u *resetUC) Reset(ctx context.Context, conversationID string) (*ResetResult, error) {
	ctx = logging.WithConversationID(ctx, conversationID)
	log := logging.With(ctx, u.log)

	release, err := u.acquire(ctx, ResetLockKey(conversationID), u.resetTTL)
	if err != nil {
		return nil, err
	}
	defer release()

	releaseTurn, err := u.acquire(ctx, TurnLockKey(conversationID), u.lockTTL)
	if err != nil {
		return nil, err
	}
	defer releaseTurn()

	if err := u.states.Delete(ctx, conversationID); err != nil {
		return nil, fmt.Errorf("delete state: %w", err)
	}
	n, err := u.messages.MarkConversationProcessed(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("discard pending messages: %w", err)
	}
	log.Info().Int("discarded", n).Msg("conversation reset")
	return &ResetResult{ConversationID: conversationID, MessagesDiscarded: n}, nil
}

func (u *resetUC) acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token, err := u.locker.TryLock(ctx, key, ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	return func() {
		if err := u.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
			logging.With(ctx, u.log).Warn().Err(err).Str("key", key).Msg("release lock")
		}
	}, nil
}
