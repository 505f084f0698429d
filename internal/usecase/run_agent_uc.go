// File: internal/usecase/run_agent_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"turnpipe/internal/domain"
	"turnpipe/internal/domain/model"
	"turnpipe/internal/domain/ports/repository"
	"turnpipe/internal/flow"
	"turnpipe/internal/infra/logging"
	"turnpipe/internal/infra/metrics"
)

// Compile-time check
var _ RunAgentUseCase = (*runAgentUC)(nil)

// RunAgentUseCase claims a queued turn, applies the guards, evaluates the
// session's flow and schedules the reply and memory follow-ups.
type RunAgentUseCase interface {
	Handle(ctx context.Context, meta model.JobMeta, p model.RunAgentPayload) error
}

type FlowResolver interface {
	Resolve(ctx context.Context, sessionID, channel string) (*flow.Resolved, error)
}

type FlowRunner interface {
	Run(ctx context.Context, turn *model.Turn, cfg *model.FlowConfig) (*flow.Outcome, error)
}

type runAgentUC struct {
	turns       repository.TurnRepository
	guard       TurnGuard
	resolver    FlowResolver
	runner      FlowRunner
	queue       JobQueue
	tm          repository.TransactionManager
	memoryDelay time.Duration
	now         func() time.Time
	log         *zerolog.Logger
}

func NewRunAgentUseCase(
	turns repository.TurnRepository,
	guard TurnGuard,
	resolver FlowResolver,
	runner FlowRunner,
	queue JobQueue,
	tm repository.TransactionManager,
	memoryDelay time.Duration,
	logger *zerolog.Logger,
) *runAgentUC {
	return &runAgentUC{
		turns:       turns,
		guard:       guard,
		resolver:    resolver,
		runner:      runner,
		queue:       queue,
		tm:          tm,
		memoryDelay: memoryDelay,
		now:         time.Now,
		log:         logging.Component(logger, "RunAgentUC"),
	}
}

func (u *runAgentUC) WithClock(now func() time.Time) *runAgentUC {
	u.now = now
	return u
}

func (u *runAgentUC) Handle(ctx context.Context, meta model.JobMeta, p model.RunAgentPayload) error {
	ctx = logging.WithTurnID(ctx, p.TurnID)

	turn, err := u.turns.FindByID(ctx, p.TurnID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Permanent(fmt.Errorf("turn %s: %w", p.TurnID, err))
	}
	if err != nil {
		return fmt.Errorf("load turn: %w", err)
	}
	ctx = logging.WithConversationID(ctx, turn.ConversationID)
	ctx = logging.WithSessionID(ctx, turn.SessionID)
	log := logging.With(ctx, u.log)

	claimed, err := u.turns.CompareAndSetStatus(ctx, turn.ID, model.TurnStatusQueued, model.TurnStatusRunning, u.now())
	if err != nil {
		return fmt.Errorf("claim turn: %w", err)
	}
	if !claimed {
		log.Debug().Msg("turn already claimed")
		return nil
	}
	turn.Status = model.TurnStatusRunning

	reason, err := u.guard.Check(ctx, turn)
	if err != nil {
		return u.fail(ctx, meta, turn, err)
	}
	if reason != "" {
		return u.block(ctx, turn, reason)
	}

	resolved, err := u.resolver.Resolve(ctx, turn.SessionID, turn.Channel)
	if err != nil {
		return u.fail(ctx, meta, turn, fmt.Errorf("resolve flow: %w", err))
	}
	out, err := u.runner.Run(ctx, turn, resolved.Config)
	if err != nil {
		return u.fail(ctx, meta, turn, err)
	}

	routing := out.Routing
	routing.FlowStatus = string(resolved.Status)
	now := u.now()
	turn.Status = model.TurnStatusDone
	turn.Router = &routing
	turn.Response = &model.TurnResponse{Text: out.Reply, AgentRunID: out.AgentRunID}
	turn.UpdatedAt = now
	turn.Meta = mergeMeta(turn.Meta, map[string]any{
		"flowSource":  string(resolved.Source),
		"flowVersion": resolved.Version,
	})

	err = u.tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := u.turns.Finalize(ctx, tx, turn); err != nil {
			return fmt.Errorf("finalize turn: %w", err)
		}
		if out.Reply != "" {
			if _, err := u.queue.Enqueue(ctx, tx, model.SendReplyPayload{TurnID: turn.ID, AgentRunID: out.AgentRunID}); err != nil {
				return err
			}
		}
		if out.AgentRunID != "" {
			_, err := u.queue.Enqueue(ctx, tx,
				model.MemoryUpdatePayload{TurnID: turn.ID, AgentRunID: out.AgentRunID},
				At(now.Add(u.memoryDelay)), MaxAttempts(1))
			return err
		}
		return nil
	})
	if err != nil {
		return u.fail(ctx, meta, turn, err)
	}

	metrics.ObserveFlowHops(string(routing.Mode), routing.Hops)
	metrics.IncTurnOutcome(string(model.TurnStatusDone), "")
	log.Info().
		Str("mode", string(routing.Mode)).
		Str("final_state", routing.FinalState).
		Str("agent", out.AgentID).
		Bool("reply", out.Reply != "").
		Bool("exhausted", routing.Exhausted).
		Msg("turn done")
	return nil
}

// block records a policy outcome. It is never an error.
func (u *runAgentUC) block(ctx context.Context, turn *model.Turn, reason model.BlockedReason) error {
	turn.Status = model.TurnStatusBlocked
	turn.Response = &model.TurnResponse{BlockedReason: reason}
	turn.UpdatedAt = u.now()
	if err := u.turns.Finalize(ctx, repository.NoTX, turn); err != nil {
		return fmt.Errorf("finalize blocked turn: %w", err)
	}
	metrics.IncTurnOutcome(string(model.TurnStatusBlocked), string(reason))
	logging.With(ctx, u.log).Info().Str("reason", string(reason)).Msg("turn blocked")
	return nil
}

// fail puts the turn back in the queue when the job will be retried and marks
// it failed otherwise. The cause is always returned to the scheduler.
func (u *runAgentUC) fail(ctx context.Context, meta model.JobMeta, turn *model.Turn, cause error) error {
	ctx = context.WithoutCancel(ctx)
	log := logging.With(ctx, u.log)

	if !domain.IsPermanent(cause) && !meta.LastAttempt() {
		if _, err := u.turns.CompareAndSetStatus(ctx, turn.ID, model.TurnStatusRunning, model.TurnStatusQueued, u.now()); err != nil {
			log.Error().Err(err).Msg("requeue turn")
		}
		return cause
	}

	turn.Status = model.TurnStatusFailed
	if turn.Response == nil {
		turn.Response = &model.TurnResponse{}
	}
	turn.Response.Error = cause.Error()
	turn.UpdatedAt = u.now()
	if err := u.turns.Finalize(ctx, repository.NoTX, turn); err != nil {
		log.Error().Err(err).Msg("finalize failed turn")
	}
	metrics.IncTurnOutcome(string(model.TurnStatusFailed), "")
	return cause
}

func mergeMeta(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
