//go:build !integration

package ai_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"turnpipe/internal/config"
	"turnpipe/internal/domain"
	"turnpipe/internal/domain/model"
	"turnpipe/internal/domain/ports/adapter"
	ai "turnpipe/internal/infra/adapters/ai"
)

// recordingChat returns reply and remembers the last request.
type recordingChat struct {
	reply string
	err   error
	model string
	msgs  []adapter.Message
}

func (r *recordingChat) CountTokens(context.Context, string, []adapter.Message) (int, error) {
	return 0, nil
}

func (r *recordingChat) ChatWithUsage(_ context.Context, model string, msgs []adapter.Message) (string, adapter.Usage, error) {
	r.model, r.msgs = model, msgs
	return r.reply, adapter.Usage{PromptTokens: 10, CompletionTokens: 3}, r.err
}

func TestLLMAgentBuildsPrompt(t *testing.T) {
	chat := &recordingChat{reply: "  sure thing  "}
	dir := ai.NewAgentDirectory(map[string]config.AgentConfig{
		"support": {Model: "gpt-4o-mini", SystemPrompt: "You help with billing.", Tools: []string{"refund"}},
	}, chat, nil)

	agent, err := dir.Lookup("support")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	turn := &model.Turn{ID: "t1", Text: "where is my refund", MessageIDs: []string{"m3"}}
	res, err := agent.Run(context.Background(), adapter.AgentRequest{
		AgentID: "support",
		Turn:    turn,
		Context: adapter.AgentContext{
			History: []*model.Message{
				{ID: "m1", Text: "hi", Source: model.MessageSourceUser},
				{ID: "m2", Text: "hello!", Source: model.MessageSourceBot},
				{ID: "m3", Text: "where is my refund", Source: model.MessageSourceUser},
			},
			Memory:    &model.ConversationMemory{Facts: []string{"plan: pro"}},
			Knowledge: []adapter.KnowledgeChunk{{ID: "kb-1", Text: "Refunds take 5 days."}},
		},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.AssistantText != "sure thing" || res.Usage.PromptTokens != 10 {
		t.Errorf("unexpected result %+v", res)
	}
	if res.Knowledge == nil || len(res.Knowledge.ChunkIDs) != 1 || res.Knowledge.ChunkIDs[0] != "kb-1" {
		t.Errorf("expected knowledge usage recorded, got %+v", res.Knowledge)
	}

	if chat.model != "gpt-4o-mini" {
		t.Errorf("expected the agent model, got %q", chat.model)
	}
	// system, user hi, assistant hello, turn text (m3 folded, not repeated)
	if len(chat.msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d: %+v", len(chat.msgs), chat.msgs)
	}
	sys := chat.msgs[0]
	for _, want := range []string{"You help with billing.", "plan: pro", "Refunds take 5 days.", "refund"} {
		if !strings.Contains(sys.Content, want) {
			t.Errorf("system prompt missing %q: %s", want, sys.Content)
		}
	}
	if chat.msgs[2].Role != "assistant" || chat.msgs[3].Content != "where is my refund" {
		t.Errorf("unexpected history mapping %+v", chat.msgs)
	}
}

func TestAgentDirectory(t *testing.T) {
	fallback := &recordingChat{reply: "from default"}
	noop := ai.NewNoopAIAdapter(0, newTestLogger())
	dir := ai.NewAgentDirectory(map[string]config.AgentConfig{
		"default": {},
		"local":   {Provider: "noop"},
	}, fallback, map[string]adapter.ChatModel{"noop": noop})

	if _, err := dir.Lookup("missing"); !errors.Is(err, domain.ErrUnknownAgent) {
		t.Fatalf("expected ErrUnknownAgent, got %v", err)
	}
	local, _ := dir.Lookup("local")
	res, err := local.Run(context.Background(), adapter.AgentRequest{Turn: &model.Turn{Text: "ping"}})
	if err != nil || res.AssistantText != "[noop] ping" {
		t.Fatalf("expected the provider-bound agent on noop, got %+v %v", res, err)
	}
	if ids := dir.IDs(); len(ids) != 2 || ids[0] != "default" {
		t.Errorf("unexpected ids %v", ids)
	}
}

func TestLLMClassifierCleansLabel(t *testing.T) {
	cases := map[string]string{
		"billing":          "billing",
		"  \"Billing\".  ": "Billing",
		"Label: support\n": "support",
		"`tech`":           "tech",
	}
	for reply, want := range cases {
		chat := &recordingChat{reply: reply}
		c := ai.NewLLMClassifier(chat, "gpt-4o-mini")
		got, err := c.Classify(context.Background(), "Route by topic.", "my card was charged twice", []string{"billing", "tech"})
		if err != nil {
			t.Fatalf("classify: %v", err)
		}
		if got != want {
			t.Errorf("reply %q: got %q, want %q", reply, got, want)
		}
		if !strings.Contains(chat.msgs[0].Content, "billing, tech") {
			t.Errorf("expected labels in the prompt: %s", chat.msgs[0].Content)
		}
	}

	failing := ai.NewLLMClassifier(&recordingChat{err: errors.New("timeout")}, "m")
	if _, err := failing.Classify(context.Background(), "", "x", []string{"a"}); err == nil {
		t.Error("expected a transport error to propagate")
	}
}

func TestLLMFactExtractor(t *testing.T) {
	chat := &recordingChat{reply: "```json\n{\"facts\": [\"likes tea\", \"  \"], \"recap\": \" talked about drinks \"}\n```"}
	e := ai.NewLLMFactExtractor(chat, "gpt-4o-mini")
	res, err := e.Extract(context.Background(), adapter.MemoryInput{
		Turn:          &model.Turn{Text: "I love tea"},
		AssistantText: "Nice!",
		Current:       &model.ConversationMemory{Facts: []string{"lives in Oslo"}},
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(res.Facts) != 1 || res.Facts[0] != "likes tea" || res.Recap != "talked about drinks" {
		t.Errorf("unexpected result %+v", res)
	}
	if !strings.Contains(chat.msgs[1].Content, "lives in Oslo") {
		t.Errorf("expected known facts in the prompt")
	}

	bad := ai.NewLLMFactExtractor(&recordingChat{reply: "no json here"}, "m")
	if _, err := bad.Extract(context.Background(), adapter.MemoryInput{Turn: &model.Turn{}}); err == nil {
		t.Error("expected unparseable output to fail")
	}
}

func TestLimitedAIHonorsContext(t *testing.T) {
	slow := ai.NewNoopAIAdapter(50*time.Millisecond, newTestLogger())
	limited := ai.NewLimitedAI(slow, 1)

	done := make(chan struct{})
	go func() {
		_, _, _ = limited.ChatWithUsage(context.Background(), "m", []adapter.Message{{Role: "user", Content: "a"}})
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if _, _, err := limited.ChatWithUsage(ctx, "m", nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected waiting for a slot to give up with ctx, got %v", err)
	}
	<-done
}

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(nil)
	return &l
}
