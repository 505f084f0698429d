package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"

	"turnpipe/internal/domain"
	"turnpipe/internal/domain/model"
	"turnpipe/internal/domain/ports/repository"
)

var _ repository.TurnRepository = (*turnRepo)(nil)

type turnRepo struct {
	pool *pgxpool.Pool
}

func NewTurnRepo(pool *pgxpool.Pool) *turnRepo {
	return &turnRepo{pool: pool}
}

const turnCols = `id, conversation_id, session_id, user_id, channel, created_at, updated_at, message_ids, text, status, router, response, meta`

func scanTurn(row rowScanner) (*model.Turn, error) {
	var t model.Turn
	var status string
	var router, response, meta []byte
	if err := row.Scan(&t.ID, &t.ConversationID, &t.SessionID, &t.UserID, &t.Channel, &t.CreatedAt, &t.UpdatedAt,
		&t.MessageIDs, &t.Text, &status, &router, &response, &meta); err != nil {
		return nil, scanErr(err)
	}
	t.Status = model.TurnStatus(status)
	if len(router) > 0 {
		t.Router = &model.TurnRouting{}
		if err := json.Unmarshal(router, t.Router); err != nil {
			return nil, fmt.Errorf("%w: turn router: %v", domain.ErrReadDatabaseRow, err)
		}
	}
	if len(response) > 0 {
		t.Response = &model.TurnResponse{}
		if err := json.Unmarshal(response, t.Response); err != nil {
			return nil, fmt.Errorf("%w: turn response: %v", domain.ErrReadDatabaseRow, err)
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &t.Meta); err != nil {
			return nil, fmt.Errorf("%w: turn meta: %v", domain.ErrReadDatabaseRow, err)
		}
	}
	return &t, nil
}

// turnJSON encodes the optional JSONB columns, nil staying SQL NULL.
func turnJSON(t *model.Turn) (router, response, meta []byte, err error) {
	if t.Router != nil {
		if router, err = json.Marshal(t.Router); err != nil {
			return nil, nil, nil, err
		}
	}
	if t.Response != nil {
		if response, err = json.Marshal(t.Response); err != nil {
			return nil, nil, nil, err
		}
	}
	if t.Meta != nil {
		if meta, err = json.Marshal(t.Meta); err != nil {
			return nil, nil, nil, err
		}
	}
	return router, response, meta, nil
}

func (r *turnRepo) Create(ctx context.Context, tx repository.Tx, t *model.Turn) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	router, response, meta, err := turnJSON(t)
	if err != nil {
		return fmt.Errorf("encode turn: %w", err)
	}
	ids := t.MessageIDs
	if ids == nil {
		ids = []string{}
	}
	const q = `
INSERT INTO turns (id, conversation_id, session_id, user_id, channel, created_at, updated_at, message_ids, text, status, router, response, meta)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13);`
	_, err = execSQL(ctx, r.pool, tx, q,
		t.ID, t.ConversationID, t.SessionID, t.UserID, t.Channel, t.CreatedAt, t.UpdatedAt,
		ids, t.Text, string(t.Status), router, response, meta)
	if uniqueViolation(err) {
		return fmt.Errorf("turn %s: %w", t.ID, domain.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("create turn: %w", err)
	}
	return nil
}

func (r *turnRepo) FindByID(ctx context.Context, id string) (*model.Turn, error) {
	return scanTurn(r.pool.QueryRow(ctx, `SELECT `+turnCols+` FROM turns WHERE id = $1;`, id))
}

func (r *turnRepo) CompareAndSetStatus(ctx context.Context, id string, from, to model.TurnStatus, now time.Time) (bool, error) {
	const q = `UPDATE turns SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2;`
	tag, err := r.pool.Exec(ctx, q, id, string(from), string(to), now)
	if err != nil {
		return false, fmt.Errorf("cas turn %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	// Distinguish a lost race from a missing row.
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM turns WHERE id = $1);`, id).Scan(&exists); err != nil {
		return false, scanErr(err)
	}
	if !exists {
		return false, domain.ErrNotFound
	}
	return false, nil
}

func (r *turnRepo) Finalize(ctx context.Context, tx repository.Tx, t *model.Turn) error {
	router, response, meta, err := turnJSON(t)
	if err != nil {
		return fmt.Errorf("encode turn: %w", err)
	}
	const q = `
UPDATE turns SET status = $2, router = $3, response = $4, meta = $5, updated_at = $6
WHERE id = $1;`
	tag, err := execSQL(ctx, r.pool, tx, q, t.ID, string(t.Status), router, response, meta, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("finalize turn %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *turnRepo) UpdateResponse(ctx context.Context, id string, resp *model.TurnResponse, now time.Time) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE turns SET response = $2, updated_at = $3 WHERE id = $1;`, id, b, now)
	if err != nil {
		return fmt.Errorf("update turn response %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *turnRepo) CountRecent(ctx context.Context, conversationID string, statuses []model.TurnStatus, since time.Time) (int, error) {
	sts := make([]string, 0, len(statuses))
	for _, s := range statuses {
		sts = append(sts, string(s))
	}
	const q = `
SELECT COUNT(*) FROM turns
WHERE conversation_id = $1 AND created_at >= $2 AND status = ANY($3);`
	var n int
	if err := r.pool.QueryRow(ctx, q, conversationID, since, sts).Scan(&n); err != nil {
		return 0, scanErr(err)
	}
	return n, nil
}

func (r *turnRepo) ListByConversation(ctx context.Context, conversationID string, limit int) ([]*model.Turn, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + turnCols + ` FROM turns WHERE conversation_id = $1 ORDER BY created_at DESC, seq LIMIT $2;`
	rows, err := r.pool.Query(ctx, q, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()
	var out []*model.Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
