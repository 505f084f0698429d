package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"turnpipe/internal/domain"
	"turnpipe/internal/domain/model"
	"turnpipe/internal/domain/ports/repository"
)

var _ repository.StateRepository = (*StateRepo)(nil)

// StateRepo keeps conversation flow state in Redis. Keys live for the session
// timeout, so expired sessions disappear without a sweeper.
type StateRepo struct {
	client RedisClient
	ttl    time.Duration
}

func NewStateRepo(client RedisClient, sessionTimeout time.Duration) *StateRepo {
	return &StateRepo{client: client, ttl: sessionTimeout}
}

func (s *StateRepo) stateKey(conversationID string) string {
	return "turnpipe:conv_state:" + conversationID
}

type stateRecord struct {
	State     map[string]any `json:"state"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

func (s *StateRepo) Upsert(ctx context.Context, st *model.ConversationState) error {
	data, err := json.Marshal(stateRecord{State: st.State, UpdatedAt: st.UpdatedAt})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.stateKey(st.ConversationID), data, s.ttl)
}

func (s *StateRepo) Get(ctx context.Context, conversationID string) (*model.ConversationState, error) {
	data, err := s.client.Get(ctx, s.stateKey(conversationID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	var rec stateRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, err
	}
	return &model.ConversationState{ConversationID: conversationID, State: rec.State, UpdatedAt: rec.UpdatedAt}, nil
}

func (s *StateRepo) Delete(ctx context.Context, conversationID string) error {
	return s.client.Del(ctx, s.stateKey(conversationID))
}

// DeleteOlderThan is a no-op: key TTLs already enforce the session timeout.
func (s *StateRepo) DeleteOlderThan(context.Context, time.Time) (int, error) {
	return 0, nil
}
