package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"turnpipe/internal/domain"
	"turnpipe/internal/domain/model"
	"turnpipe/internal/domain/ports/repository"
)

// Resolver picks the flow governing a turn: runtime override, then the stored
// document for the effective status, then the filesystem, then a built-in
// simple flow on the default agent.
type Resolver struct {
	flows        repository.FlowRepository
	runtime      repository.RuntimeConfigRepository
	files        *FileLoader
	cache        *Cache
	defaultAgent string
	log          *zerolog.Logger
}

func NewResolver(
	flows repository.FlowRepository,
	runtime repository.RuntimeConfigRepository,
	files *FileLoader,
	cache *Cache,
	defaultAgent string,
	logger *zerolog.Logger,
) *Resolver {
	l := logger.With().Str("component", "FlowResolver").Logger()
	return &Resolver{flows: flows, runtime: runtime, files: files, cache: cache, defaultAgent: defaultAgent, log: &l}
}

// EffectiveStatus applies the session's runtime override to channel.
func (r *Resolver) EffectiveStatus(ctx context.Context, sessionID, channel string) (model.FlowStatus, error) {
	mode := model.RuntimeAuto
	rc, err := r.runtime.Get(ctx, sessionID)
	switch {
	case err == nil:
		mode = rc.Mode
	case errors.Is(err, domain.ErrNotFound):
	default:
		return "", fmt.Errorf("runtime config: %w", err)
	}
	return model.EffectiveStatus(mode, channel), nil
}

func (r *Resolver) Resolve(ctx context.Context, sessionID, channel string) (*Resolved, error) {
	status, err := r.EffectiveStatus(ctx, sessionID, channel)
	if err != nil {
		return nil, err
	}
	if res, ok := r.cache.Get(sessionID, status); ok {
		return res, nil
	}

	res, err := r.load(ctx, sessionID, status)
	if err != nil {
		return nil, err
	}
	r.cache.Put(sessionID, status, res)
	return res, nil
}

func (r *Resolver) load(ctx context.Context, sessionID string, status model.FlowStatus) (*Resolved, error) {
	doc, err := r.flows.Find(ctx, sessionID, status)
	switch {
	case err == nil:
		verr := doc.Config.Validate()
		if verr == nil {
			cfg := doc.Config
			return &Resolved{Config: &cfg, Status: status, Source: SourceStore, Version: doc.Version}, nil
		}
		r.log.Warn().Err(verr).Str("session_id", sessionID).Str("status", string(status)).
			Msg("stored flow is invalid, falling back")
	case errors.Is(err, domain.ErrNotFound):
	default:
		return nil, fmt.Errorf("find flow: %w", err)
	}

	cfg, err := r.files.Load(sessionID)
	switch {
	case err == nil:
		return &Resolved{Config: cfg, Status: status, Source: SourceFile}, nil
	case errors.Is(err, domain.ErrFlowNotFound):
	default:
		// A broken file is an operator mistake; keep answering on the default.
		r.log.Error().Err(err).Str("session_id", sessionID).Msg("flow file unusable, using built-in default")
	}

	return &Resolved{
		Config: &model.FlowConfig{Mode: model.FlowModeSimple, Agent: r.defaultAgent},
		Status: status,
		Source: SourceDefault,
	}, nil
}

// Invalidate drops cached flows for sessionID ("" for all).
func (r *Resolver) Invalidate(sessionID string) {
	r.cache.Invalidate(sessionID)
}
