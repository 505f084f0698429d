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

var _ repository.MessageRepository = (*messageRepo)(nil)

type messageRepo struct{ s *Store }

func (r *messageRepo) Save(_ context.Context, _ repository.Tx, m *model.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if _, ok := r.s.messages[m.ID]; ok {
		return domain.ErrAlreadyExists
	}
	r.s.order("msg:" + m.ID)
	r.s.messages[m.ID] = cloneMessage(m)
	return nil
}

// byTime sorts oldest first, insertion order breaking ties. Caller holds s.mu.
func (r *messageRepo) byTime(out []*model.Message) {
	sortByOrder(r.s, "msg", out, func(m *model.Message) string { return m.ID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
}

func (r *messageRepo) ListUnprocessed(_ context.Context, conversationID string, since time.Time, limit int) ([]*model.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Message
	for _, m := range r.s.messages {
		if m.ConversationID == conversationID && m.Source == model.MessageSourceUser &&
			!m.Processed && !m.Timestamp.Before(since) {
			out = append(out, cloneMessage(m))
		}
	}
	r.byTime(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *messageRepo) MarkProcessed(_ context.Context, _ repository.Tx, ids []string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, id := range ids {
		if m, ok := r.s.messages[id]; ok && !m.Processed {
			m.Processed = true
			n++
		}
	}
	return n, nil
}

func (r *messageRepo) MarkConversationProcessed(_ context.Context, conversationID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, m := range r.s.messages {
		if m.ConversationID == conversationID && m.Source == model.MessageSourceUser && !m.Processed {
			m.Processed = true
			n++
		}
	}
	return n, nil
}

func (r *messageRepo) ConversationsWithUnprocessed(_ context.Context, from, to time.Time) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seen := map[string]struct{}{}
	var out []string
	for _, m := range r.s.messages {
		if m.Source != model.MessageSourceUser || m.Processed || m.Timestamp.Before(from) || m.Timestamp.After(to) {
			continue
		}
		if _, ok := seen[m.ConversationID]; ok {
			continue
		}
		seen[m.ConversationID] = struct{}{}
		out = append(out, m.ConversationID)
	}
	sort.Strings(out)
	return out, nil
}

func (r *messageRepo) ListRecent(_ context.Context, conversationID string, limit int) ([]*model.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Message
	for _, m := range r.s.messages {
		if m.ConversationID == conversationID {
			out = append(out, cloneMessage(m))
		}
	}
	r.byTime(out)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
