package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"turnpipe/internal/domain/ports/adapter"
)

var _ adapter.ChatModel = (*NoopAIAdapter)(nil)

// NoopAIAdapter implements adapter.ChatModel for local/dev runs. It echoes
// the last user message instead of calling a provider.
type NoopAIAdapter struct {
	delay time.Duration
	log   *zerolog.Logger
}

func NewNoopAIAdapter(delay time.Duration, logger *zerolog.Logger) *NoopAIAdapter {
	l := logger.With().Str("component", "NoopAI").Logger()
	return &NoopAIAdapter{delay: delay, log: &l}
}

func (a *NoopAIAdapter) CountTokens(_ context.Context, _ string, messages []adapter.Message) (int, error) {
	n := 0
	for _, m := range messages {
		n += len(strings.Fields(m.Content))
	}
	return n, nil
}

func (a *NoopAIAdapter) ChatWithUsage(ctx context.Context, model string, messages []adapter.Message) (string, adapter.Usage, error) {
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return "", adapter.Usage{}, ctx.Err()
		}
	}
	last := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if strings.ToLower(messages[i].Role) == "user" {
			last = messages[i].Content
			break
		}
	}
	a.log.Debug().Str("model", model).Int("messages", len(messages)).Msg("noop chat")
	prompt, _ := a.CountTokens(ctx, model, messages)
	reply := fmt.Sprintf("[noop] %s", last)
	out := len(strings.Fields(reply))
	return reply, adapter.Usage{PromptTokens: prompt, CompletionTokens: out, TotalTokens: prompt + out}, nil
}
