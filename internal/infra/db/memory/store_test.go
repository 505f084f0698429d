//go:build !integration

package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"turnpipe/internal/domain"
	"turnpipe/internal/domain/model"
)

func TestClaimNextIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	if err := s.Jobs().Enqueue(ctx, nil, &model.Job{ID: "j1", Type: model.JobTypeRunAgent, ScheduledFor: now, MaxAttempts: 3}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j, err := s.Jobs().ClaimNext(ctx, now)
			if err == nil && j.ID == "j1" {
				atomic.AddInt32(&wins, 1)
			} else if !errors.Is(err, domain.ErrNotFound) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one claimer, got %d", wins)
	}
}

func TestClaimNextOrdering(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	_ = s.Jobs().Enqueue(ctx, nil, &model.Job{ID: "late", ScheduledFor: now.Add(-time.Second)})
	_ = s.Jobs().Enqueue(ctx, nil, &model.Job{ID: "early", ScheduledFor: now.Add(-time.Minute)})
	_ = s.Jobs().Enqueue(ctx, nil, &model.Job{ID: "future", ScheduledFor: now.Add(time.Minute)})

	first, err := s.Jobs().ClaimNext(ctx, now)
	if err != nil || first.ID != "early" {
		t.Fatalf("expected early first, got %v %v", first, err)
	}
	if first.Attempts != 1 || first.Status != model.JobStatusProcessing || first.StartedAt == nil {
		t.Errorf("claim bookkeeping wrong: %+v", first)
	}
	second, _ := s.Jobs().ClaimNext(ctx, now)
	if second == nil || second.ID != "late" {
		t.Fatalf("expected late second, got %v", second)
	}
	if _, err := s.Jobs().ClaimNext(ctx, now); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected future job to stay unclaimed, got %v", err)
	}
}

func TestRetryAndFail(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	_ = s.Jobs().Enqueue(ctx, nil, &model.Job{ID: "j1", ScheduledFor: now, MaxAttempts: 2})

	_, _ = s.Jobs().ClaimNext(ctx, now)
	if err := s.Jobs().Retry(ctx, "j1", now.Add(10*time.Second), "boom"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if _, err := s.Jobs().ClaimNext(ctx, now); !errors.Is(err, domain.ErrNotFound) {
		t.Fatal("expected retried job to wait for its backoff")
	}
	j, err := s.Jobs().ClaimNext(ctx, now.Add(10*time.Second))
	if err != nil || j.Attempts != 2 {
		t.Fatalf("expected second attempt, got %v %v", j, err)
	}
	_ = s.Jobs().Fail(ctx, "j1", now, "boom again")

	got, _ := s.Jobs().FindByID(ctx, "j1")
	if got.Status != model.JobStatusFailed || got.LastError != "boom again" || got.CompletedAt == nil {
		t.Errorf("unexpected final job: %+v", got)
	}
	counts, _ := s.Jobs().CountByStatus(ctx)
	if counts[model.JobStatusFailed] != 1 {
		t.Errorf("expected one failed job, got %v", counts)
	}
}

func TestLocker(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := New().WithClock(func() time.Time { return now })
	l := s.Locker()

	tok, err := l.TryLock(ctx, "turn:c1", time.Minute)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	if _, err := l.TryLock(ctx, "turn:c1", time.Minute); !errors.Is(err, domain.ErrLockNotAcquired) {
		t.Fatalf("expected ErrLockNotAcquired, got %v", err)
	}

	t.Run("foreign token does not release", func(t *testing.T) {
		_ = l.Unlock(ctx, "turn:c1", "someone-else")
		if _, err := l.TryLock(ctx, "turn:c1", time.Minute); !errors.Is(err, domain.ErrLockNotAcquired) {
			t.Fatal("expected lock to still be held")
		}
	})

	t.Run("expiry frees the key", func(t *testing.T) {
		now = now.Add(2 * time.Minute)
		tok2, err := l.TryLock(ctx, "turn:c1", time.Minute)
		if err != nil {
			t.Fatalf("expected expired lock to be reacquired: %v", err)
		}
		// the stale holder must not release the new owner
		_ = l.Unlock(ctx, "turn:c1", tok)
		if _, err := l.TryLock(ctx, "turn:c1", time.Minute); !errors.Is(err, domain.ErrLockNotAcquired) {
			t.Fatal("stale token released the new owner")
		}
		_ = l.Unlock(ctx, "turn:c1", tok2)
		if _, err := l.TryLock(ctx, "turn:c1", time.Minute); err != nil {
			t.Fatalf("expected lock free after owner unlock: %v", err)
		}
	})
}

func TestMessages(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	msgs := s.Messages()
	add := func(id, conv string, at time.Time, src model.MessageSource, processed bool) {
		t.Helper()
		if err := msgs.Save(ctx, nil, &model.Message{ID: id, ConversationID: conv, Timestamp: at, Source: src, Processed: processed}); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	add("m2", "c1", now.Add(-2*time.Second), model.MessageSourceUser, false)
	add("m1", "c1", now.Add(-5*time.Second), model.MessageSourceUser, false)
	add("old", "c1", now.Add(-time.Minute), model.MessageSourceUser, false)
	add("bot", "c1", now.Add(-time.Second), model.MessageSourceBot, false)
	add("done", "c1", now.Add(-time.Second), model.MessageSourceUser, true)
	add("other", "c2", now.Add(-10*time.Second), model.MessageSourceUser, false)

	got, err := msgs.ListUnprocessed(ctx, "c1", now.Add(-30*time.Second), 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if ids := model.MessageIDs(got); len(ids) != 2 || ids[0] != "m1" || ids[1] != "m2" {
		t.Fatalf("expected [m1 m2], got %v", ids)
	}

	convs, _ := msgs.ConversationsWithUnprocessed(ctx, now.Add(-30*time.Second), now.Add(-4*time.Second))
	if len(convs) != 2 || convs[0] != "c1" || convs[1] != "c2" {
		t.Fatalf("expected distinct [c1 c2], got %v", convs)
	}

	n, _ := msgs.MarkProcessed(ctx, nil, []string{"m1", "m2", "done"})
	if n != 2 {
		t.Errorf("expected 2 flipped, got %d", n)
	}
	n, _ = msgs.MarkConversationProcessed(ctx, "c1")
	if n != 1 { // only "old" is left
		t.Errorf("expected 1 flipped, got %d", n)
	}

	recent, _ := msgs.ListRecent(ctx, "c1", 2)
	if ids := model.MessageIDs(recent); len(ids) != 2 || ids[0] != "bot" || ids[1] != "done" {
		t.Errorf("unexpected recent window %v", ids)
	}
}

func TestTurnCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	_ = s.Turns().Create(ctx, nil, &model.Turn{ID: "t1", ConversationID: "c1", Status: model.TurnStatusQueued, CreatedAt: now})

	ok, err := s.Turns().CompareAndSetStatus(ctx, "t1", model.TurnStatusQueued, model.TurnStatusRunning, now)
	if err != nil || !ok {
		t.Fatalf("expected first claim to win, got %v %v", ok, err)
	}
	ok, _ = s.Turns().CompareAndSetStatus(ctx, "t1", model.TurnStatusQueued, model.TurnStatusRunning, now)
	if ok {
		t.Fatal("expected second claim to lose")
	}
	n, _ := s.Turns().CountRecent(ctx, "c1", []model.TurnStatus{model.TurnStatusRunning, model.TurnStatusDone}, now.Add(-time.Minute))
	if n != 1 {
		t.Errorf("expected 1 recent turn, got %d", n)
	}
}

func TestReadsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.States().Upsert(ctx, &model.ConversationState{ConversationID: "c1", State: map[string]any{model.FSMStateKey: "a"}})
	st, _ := s.States().Get(ctx, "c1")
	st.State[model.FSMStateKey] = "mutated"
	again, _ := s.States().Get(ctx, "c1")
	if again.FSMState() != "a" {
		t.Fatal("store state aliased the caller's map")
	}
}
