package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"turnpipe/internal/domain"
	"turnpipe/internal/domain/ports/repository"
)

var _ repository.Locker = (*tableLocker)(nil)

// tableLocker is the Locker used when no Redis is configured. A row holds the
// key until it expires or its token deletes it.
type tableLocker struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewLocker(pool *pgxpool.Pool) *tableLocker {
	return &tableLocker{pool: pool, now: time.Now}
}

func (l *tableLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	now := l.now()
	token := uuid.NewString()
	const q = `
INSERT INTO locks (key, token, expires_at) VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET token = EXCLUDED.token, expires_at = EXCLUDED.expires_at
WHERE locks.expires_at <= $4
RETURNING token;`
	var got string
	err := l.pool.QueryRow(ctx, q, key, token, now.Add(ttl), now).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrLockNotAcquired
	}
	if err != nil {
		return "", fmt.Errorf("try lock %s: %w", key, err)
	}
	return got, nil
}

func (l *tableLocker) Unlock(ctx context.Context, key, token string) error {
	if _, err := l.pool.Exec(ctx, `DELETE FROM locks WHERE key = $1 AND token = $2;`, key, token); err != nil {
		return fmt.Errorf("unlock %s: %w", key, err)
	}
	return nil
}
