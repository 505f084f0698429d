package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"turnpipe/internal/domain"
	"turnpipe/internal/domain/ports/repository"
)

var _ repository.Locker = (*locker)(nil)

type lockEntry struct {
	token     string
	expiresAt time.Time
}

type locker struct{ s *Store }

func (l *locker) TryLock(_ context.Context, key string, ttl time.Duration) (string, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	now := l.s.now()
	if cur, ok := l.s.locks[key]; ok && now.Before(cur.expiresAt) {
		return "", domain.ErrLockNotAcquired
	}
	token := uuid.NewString()
	l.s.locks[key] = lockEntry{token: token, expiresAt: now.Add(ttl)}
	return token, nil
}

// Unlock releases key only when token still owns it.
func (l *locker) Unlock(_ context.Context, key, token string) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if cur, ok := l.s.locks[key]; ok && cur.token == token {
		delete(l.s.locks, key)
	}
	return nil
}
