package repository

import (
	"context"

	"turnpipe/internal/domain/model"
)

type FlowRepository interface {
	// Find returns domain.ErrNotFound when the session has no flow in status.
	Find(ctx context.Context, sessionID string, status model.FlowStatus) (*model.FlowDocument, error)
	Save(ctx context.Context, doc *model.FlowDocument) error
}

type RuntimeConfigRepository interface {
	Get(ctx context.Context, sessionID string) (*model.SessionRuntimeConfig, error)
	Upsert(ctx context.Context, cfg *model.SessionRuntimeConfig) error
}
