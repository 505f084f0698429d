// Package memory is an in-process implementation of every store port. It
// backs dev mode and use-case tests; each method is one atomic update under
// the store mutex.
package memory

import (
	"context"
	"sync"
	"time"

	"turnpipe/internal/domain/model"
	"turnpipe/internal/domain/ports/repository"
)

type Store struct {
	mu  sync.Mutex
	now func() time.Time

	jobs      map[string]*model.Job
	turns     map[string]*model.Turn
	messages  map[string]*model.Message
	states    map[string]*model.ConversationState
	flows     map[flowKey]*model.FlowDocument
	runs      map[string]*model.AgentRun
	responses map[string]*model.ResponsesSetting
	runtime   map[string]*model.SessionRuntimeConfig
	memories  map[string]*model.ConversationMemory
	locks     map[string]lockEntry

	seq int64 // insertion order for stable sorting
	ord map[string]int64
}

type flowKey struct {
	session string
	status  model.FlowStatus
}

func New() *Store {
	return &Store{
		now:       time.Now,
		jobs:      map[string]*model.Job{},
		turns:     map[string]*model.Turn{},
		messages:  map[string]*model.Message{},
		states:    map[string]*model.ConversationState{},
		flows:     map[flowKey]*model.FlowDocument{},
		runs:      map[string]*model.AgentRun{},
		responses: map[string]*model.ResponsesSetting{},
		runtime:   map[string]*model.SessionRuntimeConfig{},
		memories:  map[string]*model.ConversationMemory{},
		locks:     map[string]lockEntry{},
		ord:       map[string]int64{},
	}
}

// WithClock replaces the clock used for lock expiry.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Jobs() repository.JobRepository                     { return &jobRepo{s} }
func (s *Store) Turns() repository.TurnRepository                   { return &turnRepo{s} }
func (s *Store) Messages() repository.MessageRepository             { return &messageRepo{s} }
func (s *Store) States() repository.StateRepository                 { return &stateRepo{s} }
func (s *Store) Flows() repository.FlowRepository                   { return &flowRepo{s} }
func (s *Store) RuntimeConfigs() repository.RuntimeConfigRepository { return &runtimeRepo{s} }
func (s *Store) AgentRuns() repository.AgentRunRepository           { return &runRepo{s} }
func (s *Store) Responses() repository.ResponsesRepository          { return &responsesRepo{s} }
func (s *Store) Memories() repository.MemoryRepository              { return &memoryRepo{s} }
func (s *Store) Locker() repository.Locker                          { return &locker{s} }
func (s *Store) TxManager() repository.TransactionManager           { return txManager{} }

// order records the first-insertion sequence for key ("kind:id").
func (s *Store) order(key string) int64 {
	if n, ok := s.ord[key]; ok {
		return n
	}
	s.seq++
	s.ord[key] = s.seq
	return s.seq
}

// txManager runs fn directly: every store method is already atomic, and the
// in-process store has no rollback.
type txManager struct{}

func (txManager) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, repository.NoTX)
}
