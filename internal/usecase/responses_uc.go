// File: internal/usecase/responses_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"turnpipe/internal/domain"
	"turnpipe/internal/domain/model"
	"turnpipe/internal/domain/ports/repository"
	"turnpipe/internal/infra/logging"
)

// Compile-time check
var _ ResponsesUseCase = (*responsesUC)(nil)

// ResponsesUseCase administers the per-conversation opt-out and cooldown.
type ResponsesUseCase interface {
	Get(ctx context.Context, conversationID string) (*model.ResponsesSetting, error)
	Update(ctx context.Context, conversationID string, upd ResponsesUpdate) (*model.ResponsesSetting, error)
}

// ResponsesUpdate changes only the fields that are set. Cooldown > 0 starts a
// cooldown from now; ClearCooldown removes any cooldown.
type ResponsesUpdate struct {
	Enabled       *bool
	DisabledUntil *time.Time
	Cooldown      time.Duration
	ClearCooldown bool
}

type responsesUC struct {
	repo repository.ResponsesRepository
	now  func() time.Time
	log  *zerolog.Logger
}

func NewResponsesUseCase(repo repository.ResponsesRepository, logger *zerolog.Logger) *responsesUC {
	return &responsesUC{repo: repo, now: time.Now, log: logging.Component(logger, "ResponsesUC")}
}

func (u *responsesUC) WithClock(now func() time.Time) *responsesUC {
	u.now = now
	return u
}

func (u *responsesUC) Get(ctx context.Context, conversationID string) (*model.ResponsesSetting, error) {
	s, err := u.repo.Get(ctx, conversationID)
	if errors.Is(err, domain.ErrNotFound) {
		return &model.ResponsesSetting{ConversationID: conversationID, Enabled: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (u *responsesUC) Update(ctx context.Context, conversationID string, upd ResponsesUpdate) (*model.ResponsesSetting, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, fmt.Errorf("%w: conversationId is required", domain.ErrInvalidArgument)
	}
	if upd.Cooldown < 0 {
		return nil, fmt.Errorf("%w: negative cooldown", domain.ErrInvalidArgument)
	}
	s, err := u.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	now := u.now()
	if upd.Enabled != nil {
		s.Enabled = *upd.Enabled
	}
	switch {
	case upd.ClearCooldown:
		s.DisabledUntil = nil
	case upd.Cooldown > 0:
		until := now.Add(upd.Cooldown)
		s.DisabledUntil = &until
	case upd.DisabledUntil != nil:
		until := *upd.DisabledUntil
		s.DisabledUntil = &until
	}
	s.UpdatedAt = now

	if err := u.repo.Upsert(ctx, s); err != nil {
		return nil, fmt.Errorf("store responses setting: %w", err)
	}
	ev := logging.With(logging.WithConversationID(ctx, conversationID), u.log).Info().Bool("enabled", s.Enabled)
	if s.DisabledUntil != nil {
		ev = ev.Time("disabled_until", *s.DisabledUntil)
	}
	ev.Msg("responses setting updated")
	return s, nil
}
