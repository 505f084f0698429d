package repository

import (
	"context"
	"time"
)

// Locker is an advisory TTL lock keyed by string. TryLock does not wait: it
// returns domain.ErrLockNotAcquired when the key is held.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}
