// File: internal/usecase/mocks_test.go
package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"turnpipe/internal/domain"
	"turnpipe/internal/domain/model"
	"turnpipe/internal/domain/ports/adapter"
	"turnpipe/internal/flow"
	"turnpipe/internal/infra/db/memory"
	"turnpipe/internal/usecase"
)

var errTransient = errors.New("upstream timeout")

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(nil)
	return &l
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeAgent answers "reply to: <text>" or returns err when set.
type fakeAgent struct {
	mu    sync.Mutex
	calls []adapter.AgentRequest
	err   error
}

func (a *fakeAgent) Run(_ context.Context, req adapter.AgentRequest) (adapter.AgentResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, req)
	if a.err != nil {
		return adapter.AgentResult{}, a.err
	}
	return adapter.AgentResult{
		AssistantText: "reply to: " + req.Turn.Text,
		Usage:         adapter.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (a *fakeAgent) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

type fakeAgents map[string]adapter.Agent

func (f fakeAgents) Lookup(id string) (adapter.Agent, error) {
	a, ok := f[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownAgent, id)
	}
	return a, nil
}

type sentMessage struct {
	SessionID string
	Recipient string
	Text      string
}

type fakeGateway struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (g *fakeGateway) Send(_ context.Context, sessionID, recipient, text string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	g.sent = append(g.sent, sentMessage{SessionID: sessionID, Recipient: recipient, Text: text})
	return fmt.Sprintf("msg-%d", len(g.sent)), nil
}

func (g *fakeGateway) Sent() []sentMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sentMessage(nil), g.sent...)
}

type fakeGateways map[string]adapter.ChannelGateway

func (f fakeGateways) Gateway(channel string) (adapter.ChannelGateway, error) {
	gw, ok := f[channel]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownChannel, channel)
	}
	return gw, nil
}

type fakeExtractor struct {
	res adapter.MemoryResult
	err error
}

func (f *fakeExtractor) Extract(_ context.Context, _ adapter.MemoryInput) (adapter.MemoryResult, error) {
	return f.res, f.err
}

type fakeKnowledge struct {
	queries []string
}

func (f *fakeKnowledge) Search(_ context.Context, _ string, query string, limit int) ([]adapter.KnowledgeChunk, error) {
	f.queries = append(f.queries, query)
	return []adapter.KnowledgeChunk{{ID: "kb-1", Text: "opening hours 9-17"}}[:min(limit, 1)], nil
}

type wordCounter struct{}

func (wordCounter) Count(_, text string) int { return len(text) }

// pipeline wires every use case over one in-memory store and a fake clock.
type pipeline struct {
	store    *memory.Store
	clock    *fakeClock
	agent    *fakeAgent
	gateway  *fakeGateway
	memory   *fakeExtractor
	resolver *flow.Resolver

	queue    usecase.JobQueue
	ingest   usecase.IngestUseCase
	debounce usecase.DebounceUseCase
	guard    usecase.TurnGuard
	run      usecase.RunAgentUseCase
	reply    usecase.ReplyUseCase
	memoryUC usecase.MemoryUseCase
}

const (
	testWindow      = 3 * time.Second
	testLookback    = 30 * time.Second
	testMemoryDelay = 5 * time.Second
)

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	logger := newTestLogger()
	clock := newFakeClock()
	store := memory.New().WithClock(clock.Now)

	p := &pipeline{
		store:   store,
		clock:   clock,
		agent:   &fakeAgent{},
		gateway: &fakeGateway{},
		memory:  &fakeExtractor{res: adapter.MemoryResult{Facts: []string{"likes tea"}, Recap: "asked about tea"}},
	}

	p.queue = usecase.NewJobQueue(store.Jobs(), 3).WithClock(clock.Now)
	p.ingest = usecase.NewIngestUseCase(store.Messages(), p.queue, store.TxManager(), testWindow, logger).WithClock(clock.Now)
	p.debounce = usecase.NewDebounceUseCase(store.Messages(), store.Turns(), store.Locker(), p.queue, store.TxManager(),
		usecase.DebounceConfig{Window: testWindow, Lookback: testLookback, BatchLimit: 50, LockTTL: time.Minute},
		logger).WithClock(clock.Now)
	guard := usecase.NewTurnGuard(store.Turns(), store.Responses(), usecase.RateLimit{MaxTurns: 5, Window: time.Minute}).WithClock(clock.Now)
	p.guard = guard

	dispatcher := usecase.NewAgentDispatcher(
		fakeAgents{"default": p.agent, "support": p.agent},
		store.AgentRuns(), store.Messages(), store.Memories(), &fakeKnowledge{}, wordCounter{},
		usecase.DispatcherConfig{Timeout: time.Second, HistoryLimit: 20, KnowledgeLimit: 3},
		logger).WithClock(clock.Now)
	p.resolver = flow.NewResolver(store.Flows(), store.RuntimeConfigs(), flow.NewFileLoader(t.TempDir()),
		flow.NewCache(0, clock.Now), "default", logger)
	interp := flow.NewInterpreter(store.States(), nil, dispatcher,
		flow.InterpreterConfig{MaxDepth: 10, SessionTimeout: 6 * time.Hour}, clock.Now, logger)

	p.run = usecase.NewRunAgentUseCase(store.Turns(), guard, p.resolver, interp, p.queue, store.TxManager(),
		testMemoryDelay, logger).WithClock(clock.Now)
	p.reply = usecase.NewReplyUseCase(store.Turns(), store.Messages(), guard,
		fakeGateways{model.ChannelTelegram: p.gateway, model.ChannelSimulation: p.gateway}, true, logger).WithClock(clock.Now)
	p.memoryUC = usecase.NewMemoryUseCase(store.Turns(), store.AgentRuns(), store.Memories(), p.memory, 50, logger).WithClock(clock.Now)
	return p
}

func (p *pipeline) say(t *testing.T, conv, text string) *model.Message {
	t.Helper()
	m, err := p.ingest.Accept(context.Background(), usecase.IngestInput{
		ConversationID: conv,
		SessionID:      "shop",
		UserID:         "u-" + conv,
		Channel:        model.ChannelTelegram,
		Text:           text,
	})
	if err != nil {
		t.Fatalf("accept %q: %v", text, err)
	}
	return m
}

// drain runs every due job the way the scheduler would and returns how many
// ran.
func (p *pipeline) drain(t *testing.T) int {
	t.Helper()
	ctx := context.Background()
	n := 0
	for {
		job, err := p.store.Jobs().ClaimNext(ctx, p.clock.Now())
		if errors.Is(err, domain.ErrNotFound) {
			return n
		}
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		n++
		payload, err := model.DecodePayload(job)
		if err != nil {
			t.Fatalf("decode %s: %v", job.Type, err)
		}
		switch pl := payload.(type) {
		case model.DebounceTurnPayload:
			err = p.debounce.Handle(ctx, job.Meta(), pl)
		case model.RunAgentPayload:
			err = p.run.Handle(ctx, job.Meta(), pl)
		case model.SendReplyPayload:
			err = p.reply.Handle(ctx, job.Meta(), pl)
		case model.MemoryUpdatePayload:
			err = p.memoryUC.Handle(ctx, job.Meta(), pl)
		}
		if err != nil {
			t.Fatalf("%s failed: %v", job.Type, err)
		}
		if err := p.store.Jobs().Complete(ctx, job.ID, p.clock.Now()); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}
}

func (p *pipeline) turns(t *testing.T, conv string) []*model.Turn {
	t.Helper()
	out, err := p.store.Turns().ListByConversation(context.Background(), conv, 0)
	if err != nil {
		t.Fatalf("list turns: %v", err)
	}
	return out
}

// queuedTurn stores a queued turn for conv created now.
func (p *pipeline) queuedTurn(t *testing.T, conv, text string) *model.Turn {
	t.Helper()
	msg := &model.Message{
		ID:             "m-" + text,
		ConversationID: conv,
		SessionID:      "shop",
		Channel:        model.ChannelTelegram,
		Text:           text,
		Timestamp:      p.clock.Now(),
		Source:         model.MessageSourceUser,
	}
	turn := model.NewTurn("turn-"+text, []*model.Message{msg}, p.clock.Now())
	if err := p.store.Turns().Create(context.Background(), nil, turn); err != nil {
		t.Fatalf("create turn: %v", err)
	}
	return turn
}

func (p *pipeline) pastTurns(t *testing.T, conv string, n int, status model.TurnStatus, age time.Duration) {
	t.Helper()
	for i := 0; i < n; i++ {
		turn := &model.Turn{
			ID:             fmt.Sprintf("past-%s-%d", conv, i),
			ConversationID: conv,
			SessionID:      "shop",
			Channel:        model.ChannelTelegram,
			CreatedAt:      p.clock.Now().Add(-age),
			Status:         status,
		}
		if err := p.store.Turns().Create(context.Background(), nil, turn); err != nil {
			t.Fatalf("create past turn: %v", err)
		}
	}
}

func (p *pipeline) findTurn(t *testing.T, id string) *model.Turn {
	t.Helper()
	turn, err := p.store.Turns().FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("find turn %s: %v", id, err)
	}
	return turn
}

func jobsOfType(jobs []*model.Job, typ model.JobType) []*model.Job {
	var out []*model.Job
	for _, j := range jobs {
		if j.Type == typ {
			out = append(out, j)
		}
	}
	return out
}
