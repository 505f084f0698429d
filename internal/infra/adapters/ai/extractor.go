package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"turnpipe/internal/domain/ports/adapter"
)

var _ adapter.FactExtractor = (*LLMFactExtractor)(nil)

const extractPrompt = `Extract durable facts about the user from the exchange below and write a one-paragraph recap of the conversation.
Answer with JSON only: {"facts": ["..."], "recap": "..."}. Only include new facts that are not already known.`

// LLMFactExtractor derives memory from one exchange with a JSON-answering
// chat call.
type LLMFactExtractor struct {
	chat  adapter.ChatModel
	model string
}

func NewLLMFactExtractor(chat adapter.ChatModel, model string) *LLMFactExtractor {
	return &LLMFactExtractor{chat: chat, model: model}
}

func (e *LLMFactExtractor) Extract(ctx context.Context, in adapter.MemoryInput) (adapter.MemoryResult, error) {
	var b strings.Builder
	if in.Current != nil {
		if len(in.Current.Facts) > 0 {
			fmt.Fprintf(&b, "Known facts:\n- %s\n\n", strings.Join(in.Current.Facts, "\n- "))
		}
		if in.Current.Recap != "" {
			fmt.Fprintf(&b, "Previous recap: %s\n\n", in.Current.Recap)
		}
	}
	fmt.Fprintf(&b, "User: %s\nAssistant: %s", in.Turn.Text, in.AssistantText)

	out, _, err := e.chat.ChatWithUsage(ctx, e.model, []adapter.Message{
		{Role: "system", Content: extractPrompt},
		{Role: "user", Content: b.String()},
	})
	if err != nil {
		return adapter.MemoryResult{}, fmt.Errorf("extract memory: %w", err)
	}
	return parseMemory(out)
}

func parseMemory(out string) (adapter.MemoryResult, error) {
	s := strings.TrimSpace(out)
	// Models often fence JSON.
	if i := strings.Index(s, "{"); i >= 0 {
		if j := strings.LastIndex(s, "}"); j > i {
			s = s[i : j+1]
		}
	}
	var v struct {
		Facts []string `json:"facts"`
		Recap string   `json:"recap"`
	}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return adapter.MemoryResult{}, fmt.Errorf("parse memory json: %w", err)
	}
	res := adapter.MemoryResult{Recap: strings.TrimSpace(v.Recap)}
	for _, f := range v.Facts {
		if f = strings.TrimSpace(f); f != "" {
			res.Facts = append(res.Facts, f)
		}
	}
	return res, nil
}
