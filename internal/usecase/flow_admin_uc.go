// File: internal/usecase/flow_admin_uc.go
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
var _ FlowAdminUseCase = (*flowAdminUC)(nil)

type FlowAdminUseCase interface {
	// SaveDraft validates cfg and stores it as the session's next draft.
	SaveDraft(ctx context.Context, sessionID string, cfg model.FlowConfig) (*model.FlowDocument, error)
	// Publish copies the current draft to published with the next version.
	Publish(ctx context.Context, sessionID string) (*model.FlowDocument, error)
	Get(ctx context.Context, sessionID string, status model.FlowStatus) (*model.FlowDocument, error)
	SetRuntimeMode(ctx context.Context, sessionID, mode string) (*model.SessionRuntimeConfig, error)
}

// FlowInvalidation is notified after any change that affects which flow a
// session resolves to.
type FlowInvalidation func(ctx context.Context, sessionID string)

type flowAdminUC struct {
	flows   repository.FlowRepository
	runtime repository.RuntimeConfigRepository
	hooks   []FlowInvalidation
	now     func() time.Time
	log     *zerolog.Logger
}

func NewFlowAdminUseCase(
	flows repository.FlowRepository,
	runtime repository.RuntimeConfigRepository,
	logger *zerolog.Logger,
	hooks ...FlowInvalidation,
) *flowAdminUC {
	return &flowAdminUC{
		flows:   flows,
		runtime: runtime,
		hooks:   hooks,
		now:     time.Now,
		log:     logging.Component(logger, "FlowAdminUC"),
	}
}

func (u *flowAdminUC) WithClock(now func() time.Time) *flowAdminUC {
	u.now = now
	return u
}

func (u *flowAdminUC) SaveDraft(ctx context.Context, sessionID string, cfg model.FlowConfig) (*model.FlowDocument, error) {
	if err := requireSession(sessionID); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	prev, err := u.version(ctx, sessionID, model.FlowStatusDraft)
	if err != nil {
		return nil, err
	}
	doc := &model.FlowDocument{
		SessionID: sessionID,
		Status:    model.FlowStatusDraft,
		Version:   prev + 1,
		Config:    cfg,
		UpdatedAt: u.now(),
	}
	if err := u.flows.Save(ctx, doc); err != nil {
		return nil, fmt.Errorf("save draft: %w", err)
	}
	u.invalidate(ctx, sessionID)
	logging.With(ctx, u.log).Info().Str("session_id", sessionID).Int("version", doc.Version).Msg("draft saved")
	return doc, nil
}

func (u *flowAdminUC) Publish(ctx context.Context, sessionID string) (*model.FlowDocument, error) {
	if err := requireSession(sessionID); err != nil {
		return nil, err
	}
	draft, err := u.flows.Find(ctx, sessionID, model.FlowStatusDraft)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: no draft for session %s", domain.ErrFlowNotFound, sessionID)
	}
	if err != nil {
		return nil, err
	}
	// Drafts may predate a validation rule change.
	if err := draft.Config.Validate(); err != nil {
		return nil, err
	}
	prev, err := u.version(ctx, sessionID, model.FlowStatusPublished)
	if err != nil {
		return nil, err
	}
	doc := &model.FlowDocument{
		SessionID: sessionID,
		Status:    model.FlowStatusPublished,
		Version:   prev + 1,
		Config:    draft.Config,
		UpdatedAt: u.now(),
	}
	if err := u.flows.Save(ctx, doc); err != nil {
		return nil, fmt.Errorf("publish: %w", err)
	}
	u.invalidate(ctx, sessionID)
	logging.With(ctx, u.log).Info().Str("session_id", sessionID).Int("version", doc.Version).Msg("flow published")
	return doc, nil
}

func (u *flowAdminUC) Get(ctx context.Context, sessionID string, status model.FlowStatus) (*model.FlowDocument, error) {
	doc, err := u.flows.Find(ctx, sessionID, status)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s flow for session %s", domain.ErrFlowNotFound, status, sessionID)
	}
	return doc, err
}

func (u *flowAdminUC) SetRuntimeMode(ctx context.Context, sessionID, mode string) (*model.SessionRuntimeConfig, error) {
	if err := requireSession(sessionID); err != nil {
		return nil, err
	}
	m, err := model.ParseRuntimeMode(mode)
	if err != nil {
		return nil, err
	}
	rc := &model.SessionRuntimeConfig{SessionID: sessionID, Mode: m, UpdatedAt: u.now()}
	if err := u.runtime.Upsert(ctx, rc); err != nil {
		return nil, fmt.Errorf("store runtime config: %w", err)
	}
	u.invalidate(ctx, sessionID)
	logging.With(ctx, u.log).Info().Str("session_id", sessionID).Str("mode", string(m)).Msg("runtime mode set")
	return rc, nil
}

func (u *flowAdminUC) version(ctx context.Context, sessionID string, status model.FlowStatus) (int, error) {
	doc, err := u.flows.Find(ctx, sessionID, status)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return doc.Version, nil
}

func (u *flowAdminUC) invalidate(ctx context.Context, sessionID string) {
	for _, h := range u.hooks {
		h(ctx, sessionID)
	}
}

func requireSession(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("%w: sessionId is required", domain.ErrInvalidArgument)
	}
	return nil
}
