// File: internal/usecase/reply_uc.go
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
	"turnpipe/internal/domain/ports/adapter"
	"turnpipe/internal/domain/ports/repository"
	"turnpipe/internal/infra/logging"
	"turnpipe/internal/infra/metrics"
)

// Compile-time check
var _ ReplyUseCase = (*replyUC)(nil)

// ReplyUseCase delivers a finished turn's reply through its channel.
type ReplyUseCase interface {
	Handle(ctx context.Context, meta model.JobMeta, p model.SendReplyPayload) error
}

type replyUC struct {
	turns    repository.TurnRepository
	messages repository.MessageRepository
	guard    TurnGuard
	gateways adapter.GatewayResolver
	dev      bool
	now      func() time.Time
	log      *zerolog.Logger
}

func NewReplyUseCase(
	turns repository.TurnRepository,
	messages repository.MessageRepository,
	guard TurnGuard,
	gateways adapter.GatewayResolver,
	dev bool,
	logger *zerolog.Logger,
) *replyUC {
	return &replyUC{
		turns:    turns,
		messages: messages,
		guard:    guard,
		gateways: gateways,
		dev:      dev,
		now:      time.Now,
		log:      logging.Component(logger, "ReplyUC"),
	}
}

func (u *replyUC) WithClock(now func() time.Time) *replyUC {
	u.now = now
	return u
}

func (u *replyUC) Handle(ctx context.Context, meta model.JobMeta, p model.SendReplyPayload) error {
	ctx = logging.WithTurnID(ctx, p.TurnID)

	turn, err := u.turns.FindByID(ctx, p.TurnID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Permanent(fmt.Errorf("turn %s: %w", p.TurnID, err))
	}
	if err != nil {
		return fmt.Errorf("load turn: %w", err)
	}
	ctx = logging.WithConversationID(ctx, turn.ConversationID)
	log := logging.With(ctx, u.log)

	if turn.Status != model.TurnStatusDone {
		return domain.Permanent(fmt.Errorf("%w: turn %s is %s", domain.ErrTurnNotFinalized, turn.ID, turn.Status))
	}
	resp := turn.Response
	if resp == nil || resp.Text == "" {
		log.Debug().Msg("no reply text")
		return nil
	}
	if resp.SentAt != nil {
		log.Debug().Str("message_id", resp.MessageID).Msg("reply already sent")
		return nil
	}

	// The setting may have changed after the agent ran.
	reason, err := u.guard.ResponsesBlocked(ctx, turn.ConversationID)
	if err != nil {
		return err
	}
	if reason != "" {
		resp.BlockedReason = model.BlockedResponsesDisabledOnSend
		if err := u.turns.UpdateResponse(ctx, turn.ID, resp, u.now()); err != nil {
			return fmt.Errorf("record suppressed reply: %w", err)
		}
		metrics.IncTurnOutcome(string(turn.Status), string(resp.BlockedReason))
		log.Info().Str("setting", string(reason)).Msg("reply suppressed on send")
		return nil
	}

	gw, err := u.gateways.Gateway(turn.Channel)
	if err != nil {
		u.recordSendError(ctx, turn, err)
		return domain.Permanent(err)
	}
	msgID, err := gw.Send(ctx, turn.SessionID, turn.ConversationID, resp.Text)
	if err != nil {
		metrics.IncChannelSend(turn.Channel, "error")
		if meta.LastAttempt() || domain.IsPermanent(err) {
			u.recordSendError(ctx, turn, err)
		}
		return fmt.Errorf("send via %s: %w", turn.Channel, err)
	}
	metrics.IncChannelSend(turn.Channel, "ok")

	sentAt := u.now()
	resp.Error = ""
	resp.SentAt = &sentAt
	resp.MessageID = msgID
	if err := u.turns.UpdateResponse(ctx, turn.ID, resp, sentAt); err != nil {
		// Delivered already; a retry would send twice.
		log.Error().Err(err).Str("message_id", msgID).Msg("stamp sent reply")
		return domain.Permanent(fmt.Errorf("stamp reply: %w", err))
	}

	bot := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: turn.ConversationID,
		SessionID:      turn.SessionID,
		UserID:         turn.UserID,
		Channel:        turn.Channel,
		Text:           resp.Text,
		Timestamp:      sentAt,
		Source:         model.MessageSourceBot,
		Processed:      true,
	}
	if err := u.messages.Save(ctx, repository.NoTX, bot); err != nil {
		log.Warn().Err(err).Msg("store bot message")
	}

	log.Info().Str("message_id", msgID).Str("text", logging.Redact(resp.Text, u.dev)).Msg("reply sent")
	return nil
}

// recordSendError leaves the final delivery failure on the turn so it stays
// visible after the job is dead.
func (u *replyUC) recordSendError(ctx context.Context, turn *model.Turn, sendErr error) {
	resp := turn.Response
	resp.Error = sendErr.Error()
	if err := u.turns.UpdateResponse(ctx, turn.ID, resp, u.now()); err != nil {
		logging.With(ctx, u.log).Error().Err(err).Msg("record send error")
		return
	}
	logging.With(ctx, u.log).Warn().Err(sendErr).Msg("reply not delivered")
}
