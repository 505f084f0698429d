package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"turnpipe/internal/domain"
	"turnpipe/internal/domain/model"
	"turnpipe/internal/domain/ports/repository"
)

var (
	_ repository.StateRepository         = (*stateRepo)(nil)
	_ repository.FlowRepository          = (*flowRepo)(nil)
	_ repository.RuntimeConfigRepository = (*runtimeRepo)(nil)
	_ repository.AgentRunRepository      = (*runRepo)(nil)
	_ repository.ResponsesRepository     = (*responsesRepo)(nil)
	_ repository.MemoryRepository        = (*memoryRepo)(nil)
)

// --- conversation state ---

type stateRepo struct{ s *Store }

func (r *stateRepo) Get(_ context.Context, conversationID string) (*model.ConversationState, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.states[conversationID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneState(st), nil
}

func (r *stateRepo) Upsert(_ context.Context, st *model.ConversationState) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.states[st.ConversationID] = cloneState(st)
	return nil
}

func (r *stateRepo) Delete(_ context.Context, conversationID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.states, conversationID)
	return nil
}

func (r *stateRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for id, st := range r.s.states {
		if st.UpdatedAt.Before(cutoff) {
			delete(r.s.states, id)
			n++
		}
	}
	return n, nil
}

// --- flows ---

type flowRepo struct{ s *Store }

func (r *flowRepo) Find(_ context.Context, sessionID string, status model.FlowStatus) (*model.FlowDocument, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.flows[flowKey{sessionID, status}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneFlowDoc(d), nil
}

func (r *flowRepo) Save(_ context.Context, doc *model.FlowDocument) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.flows[flowKey{doc.SessionID, doc.Status}] = cloneFlowDoc(doc)
	return nil
}

func cloneFlowDoc(d *model.FlowDocument) *model.FlowDocument {
	c := *d
	if d.Config.States != nil {
		c.Config.States = make(map[string]*model.StateConfig, len(d.Config.States))
		for k, v := range d.Config.States {
			if v == nil {
				c.Config.States[k] = nil
				continue
			}
			sc := *v
			c.Config.States[k] = &sc
		}
	}
	return &c
}

// --- runtime config ---

type runtimeRepo struct{ s *Store }

func (r *runtimeRepo) Get(_ context.Context, sessionID string) (*model.SessionRuntimeConfig, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.runtime[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	v := *c
	return &v, nil
}

func (r *runtimeRepo) Upsert(_ context.Context, cfg *model.SessionRuntimeConfig) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v := *cfg
	r.s.runtime[cfg.SessionID] = &v
	return nil
}

// --- agent runs ---

type runRepo struct{ s *Store }

func (r *runRepo) Create(_ context.Context, run *model.AgentRun) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if _, ok := r.s.runs[run.ID]; ok {
		return domain.ErrAlreadyExists
	}
	r.s.runs[run.ID] = cloneRun(run)
	return nil
}

func (r *runRepo) Finish(_ context.Context, run *model.AgentRun) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.runs[run.ID]
	if !ok {
		return domain.ErrNotFound
	}
	c := cloneRun(run)
	cur.Status = c.Status
	cur.Output = c.Output
	cur.Error = c.Error
	cur.EndedAt = c.EndedAt
	return nil
}

func (r *runRepo) FindByID(_ context.Context, id string) (*model.AgentRun, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	run, ok := r.s.runs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneRun(run), nil
}

// --- responses ---

type responsesRepo struct{ s *Store }

func (r *responsesRepo) Get(_ context.Context, conversationID string) (*model.ResponsesSetting, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.responses[conversationID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *v
	c.DisabledUntil = cloneTime(v.DisabledUntil)
	return &c, nil
}

func (r *responsesRepo) Upsert(_ context.Context, s *model.ResponsesSetting) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *s
	c.DisabledUntil = cloneTime(s.DisabledUntil)
	r.s.responses[s.ConversationID] = &c
	return nil
}

// --- memory ---

type memoryRepo struct{ s *Store }

func (r *memoryRepo) Get(_ context.Context, conversationID string) (*model.ConversationMemory, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.memories[conversationID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneMemory(m), nil
}

func (r *memoryRepo) Upsert(_ context.Context, m *model.ConversationMemory) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.memories[m.ConversationID] = cloneMemory(m)
	return nil
}
