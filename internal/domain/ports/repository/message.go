package repository

import (
	"context"
	"time"

	"turnpipe/internal/domain/model"
)

type MessageRepository interface {
	Save(ctx context.Context, tx Tx, m *model.Message) error
	// ListUnprocessed returns unprocessed user messages of a conversation with
	// timestamp >= since, oldest first, at most limit.
	ListUnprocessed(ctx context.Context, conversationID string, since time.Time, limit int) ([]*model.Message, error)
	MarkProcessed(ctx context.Context, tx Tx, ids []string) (int, error)
	// MarkConversationProcessed flips every unprocessed user message of the
	// conversation.
	MarkConversationProcessed(ctx context.Context, conversationID string) (int, error)
	// ConversationsWithUnprocessed is a distinct query over conversations that
	// hold unprocessed user messages timestamped in [from, to].
	ConversationsWithUnprocessed(ctx context.Context, from, to time.Time) ([]string, error)
	// ListRecent returns the newest limit messages, oldest first.
	ListRecent(ctx context.Context, conversationID string, limit int) ([]*model.Message, error)
}
