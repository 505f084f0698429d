// File: internal/infra/db/postgres/message_repo.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"turnpipe/internal/domain"
	"turnpipe/internal/domain/model"
	"turnpipe/internal/domain/ports/repository"
	"turnpipe/internal/infra/security"
)

// MessageRepo persists chat lines, sealing the text at rest when a cipher is
// configured. Rows written before a key was set stay readable.
var _ repository.MessageRepository = (*MessageRepo)(nil)

type MessageRepo struct {
	pool   *pgxpool.Pool
	cipher *security.TextCipher
}

func NewMessageRepo(pool *pgxpool.Pool, cipher *security.TextCipher) *MessageRepo {
	return &MessageRepo{pool: pool, cipher: cipher}
}

const messageCols = `id, conversation_id, session_id, user_id, channel, text, encrypted, ts, source, processed`

func (r *MessageRepo) scan(row rowScanner) (*model.Message, error) {
	var m model.Message
	var source string
	var encrypted bool
	if err := row.Scan(&m.ID, &m.ConversationID, &m.SessionID, &m.UserID, &m.Channel, &m.Text,
		&encrypted, &m.Timestamp, &source, &m.Processed); err != nil {
		return nil, scanErr(err)
	}
	m.Source = model.MessageSource(source)
	if encrypted {
		if r.cipher == nil {
			return nil, fmt.Errorf("%w: message %s is encrypted and no key is configured", domain.ErrReadDatabaseRow, m.ID)
		}
		pt, err := r.cipher.Open(m.Text)
		if err != nil {
			return nil, fmt.Errorf("decrypt message %s: %w", m.ID, err)
		}
		m.Text = pt
	}
	return &m, nil
}

func (r *MessageRepo) collect(rows pgx.Rows) ([]*model.Message, error) {
	defer rows.Close()
	var out []*model.Message
	for rows.Next() {
		m, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *MessageRepo) Save(ctx context.Context, tx repository.Tx, m *model.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	text, encrypted := m.Text, false
	if r.cipher != nil && text != "" {
		sealed, err := r.cipher.Seal(text)
		if err != nil {
			return fmt.Errorf("encrypt message: %w", err)
		}
		text, encrypted = sealed, true
	}
	const q = `
INSERT INTO messages (id, conversation_id, session_id, user_id, channel, text, encrypted, ts, source, processed)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);`
	_, err := execSQL(ctx, r.pool, tx, q,
		m.ID, m.ConversationID, m.SessionID, m.UserID, m.Channel, text, encrypted, m.Timestamp, string(m.Source), m.Processed)
	if uniqueViolation(err) {
		return fmt.Errorf("message %s: %w", m.ID, domain.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

func (r *MessageRepo) ListUnprocessed(ctx context.Context, conversationID string, since time.Time, limit int) ([]*model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
SELECT ` + messageCols + ` FROM messages
WHERE conversation_id = $1 AND source = 'user' AND processed = FALSE AND ts >= $2
ORDER BY ts, seq
LIMIT $3;`
	rows, err := r.pool.Query(ctx, q, conversationID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed: %w", err)
	}
	return r.collect(rows)
}

func (r *MessageRepo) MarkProcessed(ctx context.Context, tx repository.Tx, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	const q = `UPDATE messages SET processed = TRUE WHERE id = ANY($1) AND processed = FALSE;`
	tag, err := execSQL(ctx, r.pool, tx, q, ids)
	if err != nil {
		return 0, fmt.Errorf("mark processed: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *MessageRepo) MarkConversationProcessed(ctx context.Context, conversationID string) (int, error) {
	const q = `
UPDATE messages SET processed = TRUE
WHERE conversation_id = $1 AND source = 'user' AND processed = FALSE;`
	tag, err := r.pool.Exec(ctx, q, conversationID)
	if err != nil {
		return 0, fmt.Errorf("mark conversation processed: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *MessageRepo) ConversationsWithUnprocessed(ctx context.Context, from, to time.Time) ([]string, error) {
	const q = `
SELECT DISTINCT conversation_id FROM messages
WHERE source = 'user' AND processed = FALSE AND ts >= $1 AND ts <= $2
ORDER BY conversation_id;`
	rows, err := r.pool.Query(ctx, q, from, to)
	if err != nil {
		return nil, fmt.Errorf("orphan scan: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, scanErr(err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *MessageRepo) ListRecent(ctx context.Context, conversationID string, limit int) ([]*model.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `
SELECT ` + messageCols + ` FROM messages
WHERE conversation_id = $1
ORDER BY ts DESC, seq DESC
LIMIT $2;`
	rows, err := r.pool.Query(ctx, q, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent: %w", err)
	}
	out, err := r.collect(rows)
	if err != nil {
		return nil, err
	}
	// oldest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
