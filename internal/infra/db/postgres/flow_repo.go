package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"turnpipe/internal/domain"
	"turnpipe/internal/domain/model"
	"turnpipe/internal/domain/ports/repository"
)

var (
	_ repository.FlowRepository          = (*flowRepo)(nil)
	_ repository.RuntimeConfigRepository = (*runtimeConfigRepo)(nil)
)

type flowRepo struct {
	pool *pgxpool.Pool
}

func NewFlowRepo(pool *pgxpool.Pool) *flowRepo {
	return &flowRepo{pool: pool}
}

func (r *flowRepo) Find(ctx context.Context, sessionID string, status model.FlowStatus) (*model.FlowDocument, error) {
	const q = `
SELECT session_id, status, version, config, updated_at
FROM flows WHERE session_id = $1 AND status = $2;`
	var d model.FlowDocument
	var st string
	var raw []byte
	if err := r.pool.QueryRow(ctx, q, sessionID, string(status)).Scan(&d.SessionID, &st, &d.Version, &raw, &d.UpdatedAt); err != nil {
		return nil, scanErr(err)
	}
	d.Status = model.FlowStatus(st)
	if err := json.Unmarshal(raw, &d.Config); err != nil {
		return nil, fmt.Errorf("%w: flow config: %v", domain.ErrReadDatabaseRow, err)
	}
	return &d, nil
}

func (r *flowRepo) Save(ctx context.Context, doc *model.FlowDocument) error {
	raw, err := json.Marshal(doc.Config)
	if err != nil {
		return fmt.Errorf("encode flow config: %w", err)
	}
	const q = `
INSERT INTO flows (session_id, status, version, config, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (session_id, status) DO UPDATE SET
  version = EXCLUDED.version,
  config = EXCLUDED.config,
  updated_at = EXCLUDED.updated_at;`
	if _, err := r.pool.Exec(ctx, q, doc.SessionID, string(doc.Status), doc.Version, raw, doc.UpdatedAt); err != nil {
		return fmt.Errorf("save flow: %w", err)
	}
	return nil
}

type runtimeConfigRepo struct {
	pool *pgxpool.Pool
}

func NewRuntimeConfigRepo(pool *pgxpool.Pool) *runtimeConfigRepo {
	return &runtimeConfigRepo{pool: pool}
}

func (r *runtimeConfigRepo) Get(ctx context.Context, sessionID string) (*model.SessionRuntimeConfig, error) {
	const q = `SELECT session_id, mode, updated_at FROM session_runtime_configs WHERE session_id = $1;`
	var c model.SessionRuntimeConfig
	var mode string
	if err := r.pool.QueryRow(ctx, q, sessionID).Scan(&c.SessionID, &mode, &c.UpdatedAt); err != nil {
		return nil, scanErr(err)
	}
	c.Mode = model.FlowRuntimeMode(mode)
	return &c, nil
}

func (r *runtimeConfigRepo) Upsert(ctx context.Context, cfg *model.SessionRuntimeConfig) error {
	const q = `
INSERT INTO session_runtime_configs (session_id, mode, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (session_id) DO UPDATE SET
  mode = EXCLUDED.mode,
  updated_at = EXCLUDED.updated_at;`
	if _, err := r.pool.Exec(ctx, q, cfg.SessionID, string(cfg.Mode), cfg.UpdatedAt); err != nil {
		return fmt.Errorf("upsert runtime config: %w", err)
	}
	return nil
}
