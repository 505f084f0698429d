//go:build !integration

package main

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"turnpipe/internal/config"
	"turnpipe/internal/domain/model"
	"turnpipe/internal/usecase"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(nil)
	return &l
}

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("TURNPIPE_DATABASE_DRIVER", "")
	t.Setenv("TURNPIPE_DATABASE_URL", "")
	t.Setenv("TURNPIPE_REDIS_URL", "")
	t.Setenv("TURNPIPE_TELEGRAM_TOKEN", "")
	t.Setenv("TURNPIPE_OPENAI_API_KEY", "")
	t.Setenv("TURNPIPE_GEMINI_API_KEY", "")
	cfg, err := config.Load("", true)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Flows.Dir = t.TempDir()
	return cfg
}

func TestBuildChatModelsFallsBackToNoop(t *testing.T) {
	cfg := memoryConfig(t)
	chat, byProvider, err := buildChatModels(context.Background(), cfg, newTestLogger())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if chat == nil {
		t.Fatal("expected a chat model")
	}
	if _, ok := byProvider["noop"]; !ok {
		t.Fatal("expected the noop provider to be registered")
	}
	if _, ok := byProvider["openai"]; ok {
		t.Fatal("openai must not be registered without a key")
	}
}

func TestBuildAppWithMemoryStore(t *testing.T) {
	cfg := memoryConfig(t)
	ctx := context.Background()

	a, err := buildApp(ctx, cfg, newTestLogger())
	if err != nil {
		t.Fatalf("build app: %v", err)
	}
	defer a.Close()

	if a.pool != nil || a.redis != nil || a.bot != nil {
		t.Fatal("expected no external backends")
	}
	if err := a.health(ctx); err != nil {
		t.Fatalf("health: %v", err)
	}
	if got := a.gateways.Channels(); len(got) != 1 || got[0] != model.ChannelSimulation {
		t.Fatalf("unexpected channels %v", got)
	}

	msg, err := a.ingest.Accept(ctx, usecase.IngestInput{
		ConversationID: "c1",
		SessionID:      "shop",
		UserID:         "u1",
		Channel:        model.ChannelSimulation,
		Text:           "hello",
	})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if msg.ID == "" {
		t.Fatal("expected a message id")
	}
	counts, err := a.monitor.JobCounts(ctx)
	if err != nil {
		t.Fatalf("job counts: %v", err)
	}
	if counts[model.JobStatusPending] != 1 {
		t.Fatalf("expected one pending debounce job, got %v", counts)
	}
}
