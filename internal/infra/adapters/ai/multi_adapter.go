// File: internal/infra/adapters/ai/multi_adapter.go
package ai

import (
	"context"
	"errors"
	"strings"
	"time"

	"turnpipe/internal/domain/ports/adapter"
	"turnpipe/internal/infra/metrics"
)

var _ adapter.ChatModel = (*MultiAIAdapter)(nil)

// ErrNoProvider is returned when no configured provider can serve a model.
var ErrNoProvider = errors.New("no ai provider configured")

type MultiAIAdapter struct {
	defaultProvider string // e.g., "openai" or "gemini"
	byProvider      map[string]adapter.ChatModel
	modelToProvider map[string]string // model -> provider
}

// NewMultiAIAdapter routes each call to a provider by model name. It does not
// inject a default model; each provider adapter owns its own.
func NewMultiAIAdapter(
	defaultProvider string,
	byProvider map[string]adapter.ChatModel,
	modelToProvider map[string]string,
) *MultiAIAdapter {
	return &MultiAIAdapter{
		defaultProvider: strings.ToLower(defaultProvider),
		byProvider:      byProvider,
		modelToProvider: modelToProvider,
	}
}

func (m *MultiAIAdapter) resolveProvider(model string) string {
	if p := m.modelToProvider[model]; p != "" {
		return strings.ToLower(p)
	}
	l := strings.ToLower(model)
	switch {
	case strings.HasPrefix(l, "gemini"):
		return "gemini"
	case strings.HasPrefix(l, "gpt"), strings.HasPrefix(l, "o1"), strings.HasPrefix(l, "o3"), strings.HasPrefix(l, "o4"):
		return "openai"
	default:
		return m.defaultProvider
	}
}

func (m *MultiAIAdapter) pick(model string) (string, adapter.ChatModel) {
	prov := m.resolveProvider(model)
	if a := m.byProvider[prov]; a != nil {
		return prov, a
	}
	if a := m.byProvider[m.defaultProvider]; a != nil {
		return m.defaultProvider, a
	}
	return prov, nil
}

func (m *MultiAIAdapter) CountTokens(ctx context.Context, model string, messages []adapter.Message) (int, error) {
	_, a := m.pick(model)
	if a == nil {
		return 0, ErrNoProvider
	}
	return a.CountTokens(ctx, model, messages)
}

func (m *MultiAIAdapter) ChatWithUsage(ctx context.Context, model string, messages []adapter.Message) (string, adapter.Usage, error) {
	prov, a := m.pick(model)
	if a == nil {
		return "", adapter.Usage{}, ErrNoProvider
	}
	start := time.Now()
	text, u, err := a.ChatWithUsage(ctx, model, messages)
	metrics.ObserveChatUsage(prov, model, u.PromptTokens, u.CompletionTokens, u.TotalTokens,
		int(time.Since(start).Milliseconds()), err == nil)
	return text, u, err
}
