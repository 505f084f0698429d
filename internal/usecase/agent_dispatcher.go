// File: internal/usecase/agent_dispatcher.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"turnpipe/internal/domain"
	"turnpipe/internal/domain/model"
	"turnpipe/internal/domain/ports/adapter"
	"turnpipe/internal/domain/ports/repository"
	"turnpipe/internal/flow"
	"turnpipe/internal/infra/logging"
	"turnpipe/internal/infra/metrics"
)

// Compile-time check
var _ flow.Dispatcher = (*agentDispatcher)(nil)

type DispatcherConfig struct {
	Timeout        time.Duration
	HistoryLimit   int
	KnowledgeLimit int
}

// agentDispatcher wraps every agent call in an AgentRun record: created as
// running before the call, finished as success or error after it.
type agentDispatcher struct {
	agents    adapter.AgentDirectory
	runs      repository.AgentRunRepository
	messages  repository.MessageRepository
	memories  repository.MemoryRepository
	knowledge adapter.KnowledgeBase
	tokens    adapter.TokenCounter
	cfg       DispatcherConfig
	now       func() time.Time
	log       *zerolog.Logger
}

func NewAgentDispatcher(
	agents adapter.AgentDirectory,
	runs repository.AgentRunRepository,
	messages repository.MessageRepository,
	memories repository.MemoryRepository,
	knowledge adapter.KnowledgeBase,
	tokens adapter.TokenCounter,
	cfg DispatcherConfig,
	logger *zerolog.Logger,
) *agentDispatcher {
	return &agentDispatcher{
		agents:    agents,
		runs:      runs,
		messages:  messages,
		memories:  memories,
		knowledge: knowledge,
		tokens:    tokens,
		cfg:       cfg,
		now:       time.Now,
		log:       logging.Component(logger, "AgentDispatcher"),
	}
}

func (d *agentDispatcher) WithClock(now func() time.Time) *agentDispatcher {
	d.now = now
	return d
}

func (d *agentDispatcher) Dispatch(ctx context.Context, req flow.DispatchRequest) (*flow.DispatchResult, error) {
	log := logging.With(ctx, d.log).With().Str("agent", req.AgentID).Logger()

	agent, err := d.agents.Lookup(req.AgentID)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownAgent) {
			return nil, domain.Permanent(err)
		}
		return nil, err
	}

	actx, err := d.buildContext(ctx, req)
	if err != nil {
		return nil, err
	}

	run := &model.AgentRun{
		ID:             uuid.NewString(),
		TurnID:         req.Turn.ID,
		ConversationID: req.Turn.ConversationID,
		AgentID:        req.AgentID,
		StartedAt:      d.now(),
		Status:         model.AgentRunRunning,
		Input: model.AgentRunInput{
			Text:         req.Turn.Text,
			StateName:    req.StateName,
			UseKnowledge: req.UseKnowledge,
			Tools:        req.Tools,
		},
	}
	if d.tokens != nil {
		run.Input.PromptTokens = d.tokens.Count(req.AgentID, req.Turn.Text)
	}
	if err := d.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create agent run: %w", err)
	}

	res, runErr := d.call(ctx, agent, adapter.AgentRequest{
		AgentID: req.AgentID,
		Turn:    req.Turn,
		Context: actx,
		Tools:   req.Tools,
	}, run.ID)

	ended := d.now()
	run.EndedAt = &ended
	if runErr != nil {
		run.Status = model.AgentRunError
		run.Error = runErr.Error()
	} else {
		run.Status = model.AgentRunSuccess
		out := &model.AgentRunOutput{
			AssistantText:    res.AssistantText,
			ToolCalls:        res.ToolCalls,
			Knowledge:        res.Knowledge,
			PromptTokens:     res.Usage.PromptTokens,
			CompletionTokens: res.Usage.CompletionTokens,
		}
		if out.Knowledge == nil && len(actx.Knowledge) > 0 {
			out.Knowledge = knowledgeUsage(req.Turn.Text, actx.Knowledge)
		}
		run.Output = out
	}
	if err := d.runs.Finish(context.WithoutCancel(ctx), run); err != nil {
		log.Error().Err(err).Str("run_id", run.ID).Msg("finish agent run")
		if runErr == nil {
			return nil, fmt.Errorf("finish agent run: %w", err)
		}
	}
	metrics.IncAgentRun(req.AgentID, string(run.Status))

	if runErr != nil {
		log.Warn().Err(runErr).Str("run_id", run.ID).Msg("agent run failed")
		return nil, fmt.Errorf("agent %s: %w", req.AgentID, runErr)
	}
	log.Debug().Str("run_id", run.ID).Dur("took", ended.Sub(run.StartedAt)).Msg("agent run finished")
	return &flow.DispatchResult{RunID: run.ID, AssistantText: res.AssistantText}, nil
}

// call invokes the agent under the configured timeout inside a span.
func (d *agentDispatcher) call(ctx context.Context, agent adapter.Agent, req adapter.AgentRequest, runID string) (adapter.AgentResult, error) {
	ctx, span := otel.Tracer("turnpipe/usecase").Start(ctx, "agent.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("agent.id", req.AgentID),
		attribute.String("agent.run_id", runID),
		attribute.String("turn.id", req.Turn.ID),
	)

	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}
	res, err := agent.Run(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	span.SetAttributes(attribute.Int("agent.tokens.total", res.Usage.TotalTokens))
	return res, nil
}

func (d *agentDispatcher) buildContext(ctx context.Context, req flow.DispatchRequest) (adapter.AgentContext, error) {
	actx := adapter.AgentContext{State: req.State}

	history, err := d.messages.ListRecent(ctx, req.Turn.ConversationID, d.cfg.HistoryLimit)
	if err != nil {
		return actx, fmt.Errorf("load history: %w", err)
	}
	actx.History = history

	mem, err := d.memories.Get(ctx, req.Turn.ConversationID)
	switch {
	case err == nil:
		actx.Memory = mem
	case errors.Is(err, domain.ErrNotFound):
	default:
		return actx, fmt.Errorf("load memory: %w", err)
	}

	if req.UseKnowledge && d.knowledge != nil {
		limit := req.KnowledgeLimit
		if limit <= 0 {
			limit = d.cfg.KnowledgeLimit
		}
		chunks, err := d.knowledge.Search(ctx, req.Turn.SessionID, req.Turn.Text, limit)
		if err != nil {
			return actx, fmt.Errorf("knowledge search: %w", err)
		}
		actx.Knowledge = chunks
	}
	return actx, nil
}

func knowledgeUsage(query string, chunks []adapter.KnowledgeChunk) *model.KnowledgeUsage {
	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		ids = append(ids, c.ID)
	}
	return &model.KnowledgeUsage{Query: query, ChunkIDs: ids}
}
