// Package postgres implements every store port on pgx/v4. Single-row state
// changes are conditional UPDATEs; the job claim uses FOR UPDATE SKIP LOCKED.
package postgres

import (
	"github.com/jackc/pgx/v4/pgxpool"

	"turnpipe/internal/domain/ports/repository"
	"turnpipe/internal/infra/security"
)

// Store groups the repositories over one pool.
type Store struct {
	pool     *pgxpool.Pool
	tm       *TxManager
	messages *MessageRepo
}

func NewStore(pool *pgxpool.Pool, cipher *security.TextCipher) *Store {
	return &Store{
		pool:     pool,
		tm:       NewTxManager(pool),
		messages: NewMessageRepo(pool, cipher),
	}
}

func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) Jobs() repository.JobRepository                     { return NewJobRepo(s.pool) }
func (s *Store) Turns() repository.TurnRepository                   { return NewTurnRepo(s.pool) }
func (s *Store) Messages() repository.MessageRepository             { return s.messages }
func (s *Store) States() repository.StateRepository                 { return NewStateRepo(s.pool) }
func (s *Store) Flows() repository.FlowRepository                   { return NewFlowRepo(s.pool) }
func (s *Store) RuntimeConfigs() repository.RuntimeConfigRepository { return NewRuntimeConfigRepo(s.pool) }
func (s *Store) AgentRuns() repository.AgentRunRepository           { return NewAgentRunRepo(s.pool) }
func (s *Store) Responses() repository.ResponsesRepository          { return NewResponsesRepo(s.pool) }
func (s *Store) Memories() repository.MemoryRepository              { return NewMemoryRepo(s.pool) }
func (s *Store) Locker() repository.Locker                          { return NewLocker(s.pool) }
func (s *Store) TxManager() repository.TransactionManager           { return s.tm }
