package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"turnpipe/internal/domain"
	"turnpipe/internal/domain/model"
	"turnpipe/internal/domain/ports/repository"
)

var _ repository.TurnRepository = (*turnRepo)(nil)

type turnRepo struct{ s *Store }

func (r *turnRepo) Create(_ context.Context, _ repository.Tx, t *model.Turn) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if _, ok := r.s.turns[t.ID]; ok {
		return domain.ErrAlreadyExists
	}
	r.s.order("turn:" + t.ID)
	r.s.turns[t.ID] = cloneTurn(t)
	return nil
}

func (r *turnRepo) FindByID(_ context.Context, id string) (*model.Turn, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.turns[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneTurn(t), nil
}

func (r *turnRepo) CompareAndSetStatus(_ context.Context, id string, from, to model.TurnStatus, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.turns[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if t.Status != from {
		return false, nil
	}
	t.Status = to
	t.UpdatedAt = now
	return true, nil
}

func (r *turnRepo) Finalize(_ context.Context, _ repository.Tx, turn *model.Turn) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.turns[turn.ID]
	if !ok {
		return domain.ErrNotFound
	}
	c := cloneTurn(turn)
	t.Status = c.Status
	t.Router = c.Router
	t.Response = c.Response
	t.Meta = c.Meta
	t.UpdatedAt = c.UpdatedAt
	return nil
}

func (r *turnRepo) UpdateResponse(_ context.Context, id string, resp *model.TurnResponse, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.turns[id]
	if !ok {
		return domain.ErrNotFound
	}
	c := *resp
	c.SentAt = cloneTime(resp.SentAt)
	t.Response = &c
	t.UpdatedAt = now
	return nil
}

func (r *turnRepo) CountRecent(_ context.Context, conversationID string, statuses []model.TurnStatus, since time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, t := range r.s.turns {
		if t.ConversationID != conversationID || t.CreatedAt.Before(since) {
			continue
		}
		for _, st := range statuses {
			if t.Status == st {
				n++
				break
			}
		}
	}
	return n, nil
}

func (r *turnRepo) ListByConversation(_ context.Context, conversationID string, limit int) ([]*model.Turn, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Turn
	for _, t := range r.s.turns {
		if t.ConversationID == conversationID {
			out = append(out, cloneTurn(t))
		}
	}
	// newest first
	sortByOrder(r.s, "turn", out, func(t *model.Turn) string { return t.ID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
