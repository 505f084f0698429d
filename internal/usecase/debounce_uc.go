// File: internal/usecase/debounce_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"turnpipe/internal/domain"
	"turnpipe/internal/domain/model"
	"turnpipe/internal/domain/ports/repository"
	"turnpipe/internal/infra/logging"
	"turnpipe/internal/infra/metrics"
)

// Compile-time check
var _ DebounceUseCase = (*debounceUC)(nil)

// DebounceUseCase folds a conversation's pending user messages into one turn.
type DebounceUseCase interface {
	Handle(ctx context.Context, meta model.JobMeta, p model.DebounceTurnPayload) error
}

type DebounceConfig struct {
	Window     time.Duration
	Lookback   time.Duration
	BatchLimit int
	LockTTL    time.Duration
}

func TurnLockKey(conversationID string) string  { return "turn:" + conversationID }
func ResetLockKey(conversationID string) string { return "reset:" + conversationID }

type debounceUC struct {
	messages repository.MessageRepository
	turns    repository.TurnRepository
	locker   repository.Locker
	queue    JobQueue
	tm       repository.TransactionManager
	cfg      DebounceConfig
	now      func() time.Time
	log      *zerolog.Logger
}

func NewDebounceUseCase(
	messages repository.MessageRepository,
	turns repository.TurnRepository,
	locker repository.Locker,
	queue JobQueue,
	tm repository.TransactionManager,
	cfg DebounceConfig,
	logger *zerolog.Logger,
) *debounceUC {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 50
	}
	return &debounceUC{
		messages: messages,
		turns:    turns,
		locker:   locker,
		queue:    queue,
		tm:       tm,
		cfg:      cfg,
		now:      time.Now,
		log:      logging.Component(logger, "DebounceUC"),
	}
}

func (u *debounceUC) WithClock(now func() time.Time) *debounceUC {
	u.now = now
	return u
}

func (u *debounceUC) Handle(ctx context.Context, meta model.JobMeta, p model.DebounceTurnPayload) error {
	ctx = logging.WithConversationID(ctx, p.ConversationID)
	log := logging.With(ctx, u.log)
	defer logging.TraceDuration(log, "Debounce.Handle")()

	key := TurnLockKey(p.ConversationID)
	token, err := u.locker.TryLock(ctx, key, u.cfg.LockTTL)
	if errors.Is(err, domain.ErrLockNotAcquired) {
		log.Debug().Msg("aggregation already in flight")
		return nil
	}
	if err != nil {
		return fmt.Errorf("acquire %s: %w", key, err)
	}
	defer func() {
		if uerr := u.locker.Unlock(context.WithoutCancel(ctx), key, token); uerr != nil {
			log.Warn().Err(uerr).Str("key", key).Msg("release lock")
		}
	}()

	now := u.now()
	msgs, err := u.messages.ListUnprocessed(ctx, p.ConversationID, now.Add(-u.cfg.Lookback), u.cfg.BatchLimit)
	if err != nil {
		return fmt.Errorf("list unprocessed: %w", err)
	}
	if len(msgs) == 0 {
		log.Debug().Msg("nothing to aggregate")
		return nil
	}
	// A newer message has its own debounce job still pending.
	if newest := msgs[len(msgs)-1]; now.Sub(newest.Timestamp) < u.cfg.Window {
		log.Debug().Str("message_id", newest.ID).Msg("window still open")
		return nil
	}

	turn := model.NewTurn(uuid.NewString(), msgs, now)
	err = u.tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := u.turns.Create(ctx, tx, turn); err != nil {
			return fmt.Errorf("create turn: %w", err)
		}
		if _, err := u.messages.MarkProcessed(ctx, tx, turn.MessageIDs); err != nil {
			return fmt.Errorf("mark processed: %w", err)
		}
		_, err := u.queue.Enqueue(ctx, tx, model.RunAgentPayload{TurnID: turn.ID})
		return err
	})
	if err != nil {
		return err
	}

	metrics.IncTurnCreated()
	log.Info().Str("turn_id", turn.ID).Int("messages", len(msgs)).Msg("turn created")
	return nil
}
