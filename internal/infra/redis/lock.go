// File: internal/infra/redis/lock.go
package redis

import (
	"context"
	"fmt"
	"time"

	"turnpipe/internal/domain"
	"turnpipe/internal/domain/ports/repository"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var _ repository.Locker = (*RedisLocker)(nil)

// RedisLocker is a single-instance SET NX PX lock. Holders may lose the key
// to TTL expiry; Unlock only deletes a key still carrying the caller's token.
type RedisLocker struct {
	cli    *redis.Client
	prefix string
}

func NewLocker(c *Client) *RedisLocker {
	return &RedisLocker{cli: c.cli, prefix: "turnpipe:lock:"}
}

// TryLock makes one attempt. A held key is ErrLockNotAcquired, transport
// failures are returned as-is so callers can retry the job.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := l.cli.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("lock %s: %w", key, err)
	}
	if !ok {
		return "", domain.ErrLockNotAcquired
	}
	return token, nil
}

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	_, err := luaUnlock.Run(ctx, l.cli, []string{l.prefix + key}, token).Result()
	return err
}
