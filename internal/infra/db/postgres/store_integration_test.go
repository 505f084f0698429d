//go:build integration

package postgres

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"turnpipe/internal/domain"
	"turnpipe/internal/domain/model"
	"turnpipe/internal/domain/ports/repository"
	"turnpipe/internal/infra/security"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestJobRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	repo := NewJobRepo(testPool)

	enqueue := func(t *testing.T, id string, at time.Time) {
		t.Helper()
		err := repo.Enqueue(ctx, nil, &model.Job{
			ID: id, Type: model.JobTypeRunAgent, Payload: []byte(`{"turnId":"t1"}`),
			ScheduledFor: at, MaxAttempts: 3, CreatedAt: t0,
		})
		if err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	t.Run("should claim the earliest due job", func(t *testing.T) {
		cleanup(t)
		enqueue(t, "late", t0.Add(-time.Second))
		enqueue(t, "early", t0.Add(-time.Minute))
		enqueue(t, "future", t0.Add(time.Minute))

		first, err := repo.ClaimNext(ctx, t0)
		if err != nil || first.ID != "early" {
			t.Fatalf("expected early first, got %v %v", first, err)
		}
		if first.Attempts != 1 || first.Status != model.JobStatusProcessing || first.StartedAt == nil {
			t.Errorf("claim bookkeeping wrong: %+v", first)
		}
		second, _ := repo.ClaimNext(ctx, t0)
		if second == nil || second.ID != "late" {
			t.Fatalf("expected late second, got %+v", second)
		}
		if _, err := repo.ClaimNext(ctx, t0); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected nothing due, got %v", err)
		}
	})

	t.Run("should hand a job to exactly one concurrent claimer", func(t *testing.T) {
		cleanup(t)
		enqueue(t, "j1", t0)

		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				j, err := repo.ClaimNext(ctx, t0)
				switch {
				case err == nil && j.ID == "j1":
					atomic.AddInt32(&wins, 1)
				case !errors.Is(err, domain.ErrNotFound):
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		if wins != 1 {
			t.Fatalf("expected exactly one claimer, got %d", wins)
		}
	})

	t.Run("should retry, fail and count", func(t *testing.T) {
		cleanup(t)
		enqueue(t, "j1", t0)
		if _, err := repo.ClaimNext(ctx, t0); err != nil {
			t.Fatalf("claim: %v", err)
		}
		if err := repo.Retry(ctx, "j1", t0.Add(10*time.Second), "boom"); err != nil {
			t.Fatalf("retry: %v", err)
		}
		if _, err := repo.ClaimNext(ctx, t0.Add(5*time.Second)); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected backoff to hold the job, got %v", err)
		}
		j, err := repo.ClaimNext(ctx, t0.Add(10*time.Second))
		if err != nil || j.Attempts != 2 || j.LastError != "boom" {
			t.Fatalf("expected second attempt, got %+v %v", j, err)
		}
		if err := repo.Fail(ctx, "j1", t0.Add(11*time.Second), "boom again"); err != nil {
			t.Fatalf("fail: %v", err)
		}
		counts, err := repo.CountByStatus(ctx)
		if err != nil || counts[model.JobStatusFailed] != 1 {
			t.Errorf("unexpected counts %v %v", counts, err)
		}
		if err := repo.Complete(ctx, "missing", t0); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound for unknown job, got %v", err)
		}
	})

	t.Run("should reject a duplicate id", func(t *testing.T) {
		cleanup(t)
		enqueue(t, "j1", t0)
		err := repo.Enqueue(ctx, nil, &model.Job{ID: "j1", Type: model.JobTypeRunAgent, Payload: []byte(`{}`), ScheduledFor: t0})
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Errorf("expected ErrAlreadyExists, got %v", err)
		}
	})
}

func TestTurnAndMessageRepos_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	cipher, _ := security.NewTextCipher("0123456789abcdef0123456789abcdef")
	store := NewStore(testPool, cipher)

	t.Run("should fold messages into a turn in one transaction", func(t *testing.T) {
		cleanup(t)
		msgs := []*model.Message{
			{ID: "m1", ConversationID: "c1", Text: "hello", Timestamp: t0, Source: model.MessageSourceUser, Channel: model.ChannelTelegram},
			{ID: "m2", ConversationID: "c1", Text: "there", Timestamp: t0.Add(time.Second), Source: model.MessageSourceUser, Channel: model.ChannelTelegram},
			{ID: "m3", ConversationID: "c2", Text: "other", Timestamp: t0, Source: model.MessageSourceUser},
		}
		for _, m := range msgs {
			if err := store.Messages().Save(ctx, nil, m); err != nil {
				t.Fatalf("save %s: %v", m.ID, err)
			}
		}

		var stored string
		if err := testPool.QueryRow(ctx, `SELECT text FROM messages WHERE id = 'm1'`).Scan(&stored); err != nil {
			t.Fatalf("raw read: %v", err)
		}
		if stored == "hello" {
			t.Error("expected message text sealed at rest")
		}

		pending, err := store.Messages().ListUnprocessed(ctx, "c1", t0.Add(-time.Minute), 50)
		if err != nil || len(pending) != 2 || pending[0].Text != "hello" {
			t.Fatalf("unexpected unprocessed %+v %v", pending, err)
		}

		turn := model.NewTurn("t1", pending, t0.Add(5*time.Second))
		err = store.TxManager().WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			if err := store.Turns().Create(ctx, tx, turn); err != nil {
				return err
			}
			_, err := store.Messages().MarkProcessed(ctx, tx, turn.MessageIDs)
			return err
		})
		if err != nil {
			t.Fatalf("tx: %v", err)
		}

		got, err := store.Turns().FindByID(ctx, "t1")
		if err != nil || got.Text != "hello there" || len(got.MessageIDs) != 2 {
			t.Fatalf("unexpected turn %+v %v", got, err)
		}
		left, _ := store.Messages().ListUnprocessed(ctx, "c1", t0.Add(-time.Minute), 50)
		if len(left) != 0 {
			t.Errorf("expected messages marked processed, got %d", len(left))
		}
		orphans, _ := store.Messages().ConversationsWithUnprocessed(ctx, t0.Add(-time.Minute), t0.Add(time.Minute))
		if len(orphans) != 1 || orphans[0] != "c2" {
			t.Errorf("unexpected orphans %v", orphans)
		}
	})

	t.Run("should roll back every write on error", func(t *testing.T) {
		cleanup(t)
		m := &model.Message{ID: "m1", ConversationID: "c1", Text: "hi", Timestamp: t0, Source: model.MessageSourceUser}
		_ = store.Messages().Save(ctx, nil, m)
		boom := errors.New("boom")
		err := store.TxManager().WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			if err := store.Turns().Create(ctx, tx, model.NewTurn("t1", []*model.Message{m}, t0)); err != nil {
				return err
			}
			if _, err := store.Messages().MarkProcessed(ctx, tx, []string{"m1"}); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected callback error, got %v", err)
		}
		if _, err := store.Turns().FindByID(ctx, "t1"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected the turn rolled back, got %v", err)
		}
		if left, _ := store.Messages().ListUnprocessed(ctx, "c1", t0.Add(-time.Minute), 10); len(left) != 1 {
			t.Errorf("expected the message still unprocessed")
		}
	})

	t.Run("should move status only from the expected state", func(t *testing.T) {
		cleanup(t)
		m := &model.Message{ID: "m1", ConversationID: "c1", Text: "hi", Timestamp: t0, Source: model.MessageSourceUser}
		turn := model.NewTurn("t1", []*model.Message{m}, t0)
		if err := store.Turns().Create(ctx, nil, turn); err != nil {
			t.Fatalf("create: %v", err)
		}
		ok, err := store.Turns().CompareAndSetStatus(ctx, "t1", model.TurnStatusQueued, model.TurnStatusRunning, t0)
		if err != nil || !ok {
			t.Fatalf("expected the first cas to win, got %v %v", ok, err)
		}
		ok, err = store.Turns().CompareAndSetStatus(ctx, "t1", model.TurnStatusQueued, model.TurnStatusRunning, t0)
		if err != nil || ok {
			t.Fatalf("expected the second cas to lose, got %v %v", ok, err)
		}
		if _, err := store.Turns().CompareAndSetStatus(ctx, "nope", model.TurnStatusQueued, model.TurnStatusRunning, t0); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}

		n, _ := store.Turns().CountRecent(ctx, "c1", []model.TurnStatus{model.TurnStatusRunning, model.TurnStatusDone}, t0.Add(-time.Minute))
		if n != 1 {
			t.Errorf("expected the running turn counted, got %d", n)
		}

		turn.Status = model.TurnStatusDone
		turn.Router = &model.TurnRouting{Mode: model.FlowModeSimple, AgentID: "default", Hops: 1}
		turn.Response = &model.TurnResponse{Text: "hey"}
		turn.UpdatedAt = t0.Add(time.Second)
		if err := store.Turns().Finalize(ctx, nil, turn); err != nil {
			t.Fatalf("finalize: %v", err)
		}
		got, _ := store.Turns().FindByID(ctx, "t1")
		if got.Status != model.TurnStatusDone || got.Router.AgentID != "default" || got.Response.Text != "hey" {
			t.Errorf("unexpected finalized turn %+v", got)
		}
	})
}

func TestLocker_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	cleanup(t)
	ctx := context.Background()
	now := t0
	l := NewLocker(testPool)
	l.now = func() time.Time { return now }

	tok, err := l.TryLock(ctx, "turn:c1", time.Minute)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	if _, err := l.TryLock(ctx, "turn:c1", time.Minute); !errors.Is(err, domain.ErrLockNotAcquired) {
		t.Fatalf("expected the held lock refused, got %v", err)
	}
	if err := l.Unlock(ctx, "turn:c1", "someone-else"); err != nil {
		t.Fatalf("foreign unlock: %v", err)
	}
	if _, err := l.TryLock(ctx, "turn:c1", time.Minute); !errors.Is(err, domain.ErrLockNotAcquired) {
		t.Fatal("expected a foreign token to leave the lock held")
	}
	if err := l.Unlock(ctx, "turn:c1", tok); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, err := l.TryLock(ctx, "turn:c1", time.Minute); err != nil {
		t.Fatalf("expected the released lock free, got %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := l.TryLock(ctx, "turn:c1", time.Minute); err != nil {
		t.Fatalf("expected an expired lock taken over, got %v", err)
	}
}

func TestSettingsRepos_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	cleanup(t)
	ctx := context.Background()
	store := NewStore(testPool, nil)

	until := t0.Add(time.Hour)
	if err := store.Responses().Upsert(ctx, &model.ResponsesSetting{ConversationID: "c1", Enabled: true, DisabledUntil: &until, UpdatedAt: t0}); err != nil {
		t.Fatalf("upsert responses: %v", err)
	}
	rs, err := store.Responses().Get(ctx, "c1")
	if err != nil || rs.BlockReason(t0) != model.BlockedCooldownActive {
		t.Errorf("expected cooldown active, got %+v %v", rs, err)
	}
	if _, err := store.Responses().Get(ctx, "c2"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	st := &model.ConversationState{ConversationID: "c1", State: map[string]any{model.FSMStateKey: "menu"}, UpdatedAt: t0}
	if err := store.States().Upsert(ctx, st); err != nil {
		t.Fatalf("upsert state: %v", err)
	}
	got, err := store.States().Get(ctx, "c1")
	if err != nil || got.FSMState() != "menu" {
		t.Errorf("unexpected state %+v %v", got, err)
	}
	if n, _ := store.States().DeleteOlderThan(ctx, t0.Add(time.Second)); n != 1 {
		t.Errorf("expected one state swept, got %d", n)
	}

	doc := &model.FlowDocument{SessionID: "s1", Status: model.FlowStatusDraft, Version: 2,
		Config: model.FlowConfig{Mode: model.FlowModeSimple, Agent: "support"}, UpdatedAt: t0}
	if err := store.Flows().Save(ctx, doc); err != nil {
		t.Fatalf("save flow: %v", err)
	}
	fd, err := store.Flows().Find(ctx, "s1", model.FlowStatusDraft)
	if err != nil || fd.Version != 2 || fd.Config.Agent != "support" {
		t.Errorf("unexpected flow %+v %v", fd, err)
	}
	if _, err := store.Flows().Find(ctx, "s1", model.FlowStatusPublished); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected no published flow, got %v", err)
	}

	mem := &model.ConversationMemory{ConversationID: "c1", Facts: []string{"likes tea"}, Recap: "chatted", UpdatedAt: t0}
	if err := store.Memories().Upsert(ctx, mem); err != nil {
		t.Fatalf("upsert memory: %v", err)
	}
	gm, err := store.Memories().Get(ctx, "c1")
	if err != nil || len(gm.Facts) != 1 || gm.Recap != "chatted" {
		t.Errorf("unexpected memory %+v %v", gm, err)
	}
}
