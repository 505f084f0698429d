package ai

import (
	"context"

	"turnpipe/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.ChatModel = (*limitedAI)(nil)

// limitedAI caps concurrent provider calls. Waiting for a slot honors ctx.
type limitedAI struct {
	inner adapter.ChatModel
	sem   chan struct{}
}

func NewLimitedAI(inner adapter.ChatModel, maxConcurrent int) adapter.ChatModel {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedAI{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedAI) acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *limitedAI) ChatWithUsage(ctx context.Context, model string, messages []adapter.Message) (string, adapter.Usage, error) {
	if err := l.acquire(ctx); err != nil {
		return "", adapter.Usage{}, err
	}
	defer func() { <-l.sem }()
	return l.inner.ChatWithUsage(ctx, model, messages)
}

func (l *limitedAI) CountTokens(ctx context.Context, model string, messages []adapter.Message) (int, error) {
	if err := l.acquire(ctx); err != nil {
		return 0, err
	}
	defer func() { <-l.sem }()
	return l.inner.CountTokens(ctx, model, messages)
}
