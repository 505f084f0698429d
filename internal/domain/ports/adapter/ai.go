package adapter

import "context"

// Message represents a chat message sent to a model.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// Usage for a single chat call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatModel is the port for raw LLM chat. Agents, classifiers and fact
// extraction are all built on top of it.
type ChatModel interface {
	// CountTokens returns prompt tokens for messages (best-effort when the
	// provider cannot count exactly).
	CountTokens(ctx context.Context, model string, messages []Message) (int, error)

	// ChatWithUsage returns assistant text + usage as reported by the provider.
	ChatWithUsage(ctx context.Context, model string, messages []Message) (string, Usage, error)
}
