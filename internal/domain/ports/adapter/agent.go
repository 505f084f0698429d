package adapter

import (
	"context"

	"turnpipe/internal/domain/model"
)

// KnowledgeChunk is one search hit from the knowledge base.
type KnowledgeChunk struct {
	ID     string
	Source string
	Text   string
	Score  float64
}

// AgentContext is everything besides the turn an agent may read.
type AgentContext struct {
	History   []*model.Message
	State     map[string]any
	Memory    *model.ConversationMemory
	Knowledge []KnowledgeChunk
}

type AgentRequest struct {
	AgentID string
	Turn    *model.Turn
	Context AgentContext
	Tools   []string
}

type AgentResult struct {
	AssistantText string
	ToolCalls     []model.ToolCall
	Knowledge     *model.KnowledgeUsage
	Usage         Usage
}

// Agent is a conversational agent. Implementations must honor ctx deadlines.
type Agent interface {
	Run(ctx context.Context, req AgentRequest) (AgentResult, error)
}

// Classifier maps text onto exactly one of labels. Callers validate the
// returned label; an error means the call itself failed.
type Classifier interface {
	Classify(ctx context.Context, instructions, text string, labels []string) (string, error)
}

type MemoryInput struct {
	Turn          *model.Turn
	AssistantText string
	Current       *model.ConversationMemory
}

type MemoryResult struct {
	Facts []string
	Recap string
}

// FactExtractor derives durable facts and a rolling recap from one exchange.
type FactExtractor interface {
	Extract(ctx context.Context, in MemoryInput) (MemoryResult, error)
}

type KnowledgeBase interface {
	Search(ctx context.Context, sessionID, query string, limit int) ([]KnowledgeChunk, error)
}

// ChannelGateway delivers text to a recipient. Delivery is at-least-once;
// the transport dedupes.
type ChannelGateway interface {
	Send(ctx context.Context, sessionID, recipient, text string) (messageID string, err error)
}

// AgentDirectory resolves a configured agent by id. Unknown ids return
// domain.ErrUnknownAgent.
type AgentDirectory interface {
	Lookup(agentID string) (Agent, error)
}

// TokenCounter estimates prompt tokens for text sent to an agent.
type TokenCounter interface {
	Count(agentID, text string) int
}

// GatewayResolver picks the outbound gateway for a channel.
type GatewayResolver interface {
	Gateway(channel string) (ChannelGateway, error)
}
