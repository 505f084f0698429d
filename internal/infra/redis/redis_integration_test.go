//go:build integration

package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"turnpipe/internal/config"
	"turnpipe/internal/domain"
	"turnpipe/internal/domain/model"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	url := os.Getenv("TURNPIPE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("TURNPIPE_TEST_REDIS_URL not set")
	}
	c, err := NewClient(context.Background(), &config.RedisConfig{URL: url})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	l := NewLocker(testClient(t))
	key := "test:" + time.Now().Format(time.RFC3339Nano)

	tok, err := l.TryLock(ctx, key, 5*time.Second)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := l.TryLock(ctx, key, 5*time.Second); !errors.Is(err, domain.ErrLockNotAcquired) {
		t.Fatalf("expected ErrLockNotAcquired, got %v", err)
	}
	if err := l.Unlock(ctx, key, "not-mine"); err != nil {
		t.Fatalf("unlock foreign: %v", err)
	}
	if _, err := l.TryLock(ctx, key, 5*time.Second); !errors.Is(err, domain.ErrLockNotAcquired) {
		t.Fatal("foreign token released the lock")
	}
	if err := l.Unlock(ctx, key, tok); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, err := l.TryLock(ctx, key, 5*time.Second); err != nil {
		t.Fatalf("expected lock to be free: %v", err)
	}
}

func TestStateRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewStateRepo(testClient(t), time.Minute)
	id := "conv-" + time.Now().Format(time.RFC3339Nano)

	if _, err := repo.Get(ctx, id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	st := &model.ConversationState{ConversationID: id, State: map[string]any{model.FSMStateKey: "menu"}, UpdatedAt: time.Now()}
	if err := repo.Upsert(ctx, st); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := repo.Get(ctx, id)
	if err != nil || got.FSMState() != "menu" {
		t.Fatalf("expected menu, got %v %v", got, err)
	}
	_ = repo.Delete(ctx, id)
	if _, err := repo.Get(ctx, id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatal("expected state gone after delete")
	}
}

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()
	rl := NewRateLimiter(testClient(t))
	key := InboundKey("test", time.Now().Format(time.RFC3339Nano))
	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, key, 3, time.Minute)
		if err != nil || !ok {
			t.Fatalf("call %d should pass: %v %v", i, ok, err)
		}
	}
	if ok, _ := rl.Allow(ctx, key, 3, time.Minute); ok {
		t.Fatal("4th call should be limited")
	}
}
