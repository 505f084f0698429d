// File: internal/usecase/ingest_uc.go
package usecase

import (
	"context"
	"fmt"
	"strings"
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
var _ IngestUseCase = (*ingestUC)(nil)

type IngestUseCase interface {
	// Accept stores an inbound message. A user message also schedules the
	// debounce job that will fold it into a turn.
	Accept(ctx context.Context, in IngestInput) (*model.Message, error)
}

type IngestInput struct {
	ID             string
	ConversationID string
	SessionID      string
	UserID         string
	Channel        string
	Text           string
	Source         model.MessageSource
	Timestamp      time.Time
}

type ingestUC struct {
	messages repository.MessageRepository
	queue    JobQueue
	tm       repository.TransactionManager
	window   time.Duration
	now      func() time.Time
	log      *zerolog.Logger
}

func NewIngestUseCase(
	messages repository.MessageRepository,
	queue JobQueue,
	tm repository.TransactionManager,
	debounceWindow time.Duration,
	logger *zerolog.Logger,
) *ingestUC {
	return &ingestUC{
		messages: messages,
		queue:    queue,
		tm:       tm,
		window:   debounceWindow,
		now:      time.Now,
		log:      logging.Component(logger, "IngestUC"),
	}
}

func (u *ingestUC) WithClock(now func() time.Time) *ingestUC {
	u.now = now
	return u
}

func (u *ingestUC) Accept(ctx context.Context, in IngestInput) (*model.Message, error) {
	if strings.TrimSpace(in.ConversationID) == "" {
		return nil, fmt.Errorf("%w: conversationId is required", domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(in.Text) == "" {
		return nil, fmt.Errorf("%w: text is required", domain.ErrInvalidArgument)
	}
	source := in.Source
	switch source {
	case "":
		source = model.MessageSourceUser
	case model.MessageSourceUser, model.MessageSourceBot:
	default:
		return nil, fmt.Errorf("%w: source %q", domain.ErrInvalidArgument, source)
	}

	now := u.now()
	m := &model.Message{
		ID:             in.ID,
		ConversationID: in.ConversationID,
		SessionID:      in.SessionID,
		UserID:         in.UserID,
		Channel:        in.Channel,
		Text:           in.Text,
		Timestamp:      in.Timestamp,
		Source:         source,
		Processed:      source == model.MessageSourceBot,
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}

	ctx = logging.WithConversationID(ctx, m.ConversationID)
	log := logging.With(ctx, u.log)

	err := u.tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := u.messages.Save(ctx, tx, m); err != nil {
			return fmt.Errorf("save message: %w", err)
		}
		if source != model.MessageSourceUser {
			return nil
		}
		_, err := u.queue.Enqueue(ctx, tx, model.DebounceTurnPayload{ConversationID: m.ConversationID}, At(now.Add(u.window)))
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.IncInbound(m.Channel, string(source))
	log.Debug().Str("message_id", m.ID).Str("source", string(source)).Msg("message accepted")
	return m, nil
}
