package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"turnpipe/internal/domain"
	"turnpipe/internal/domain/model"
	"turnpipe/internal/domain/ports/adapter"
	"turnpipe/internal/domain/ports/repository"
	"turnpipe/internal/infra/logging"
)

// DispatchRequest asks for one agent invocation on behalf of a flow state.
type DispatchRequest struct {
	Turn           *model.Turn
	AgentID        string
	StateName      string
	UseKnowledge   bool
	KnowledgeLimit int
	Tools          []string
	State          map[string]any
}

type DispatchResult struct {
	RunID         string
	AssistantText string
}

// Dispatcher runs an agent and records the run.
type Dispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error)
}

// Outcome is what a turn produced. Reply is empty when nothing should be sent.
type Outcome struct {
	Reply      string
	AgentID    string
	AgentRunID string
	Routing    model.TurnRouting
}

type InterpreterConfig struct {
	MaxDepth       int
	SessionTimeout time.Duration
}

// Interpreter evaluates a turn against a flow as a bounded loop. Every state
// change is written to the conversation state before the next hop runs, so a
// crash resumes from the last committed state.
type Interpreter struct {
	states     repository.StateRepository
	classifier adapter.Classifier
	dispatcher Dispatcher
	cfg        InterpreterConfig
	now        func() time.Time
	log        *zerolog.Logger
}

func NewInterpreter(
	states repository.StateRepository,
	classifier adapter.Classifier,
	dispatcher Dispatcher,
	cfg InterpreterConfig,
	now func() time.Time,
	logger *zerolog.Logger,
) *Interpreter {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 10
	}
	if now == nil {
		now = time.Now
	}
	l := logger.With().Str("component", "FlowInterpreter").Logger()
	return &Interpreter{states: states, classifier: classifier, dispatcher: dispatcher, cfg: cfg, now: now, log: &l}
}

func (in *Interpreter) Run(ctx context.Context, turn *model.Turn, cfg *model.FlowConfig) (*Outcome, error) {
	if cfg.Mode == model.FlowModeSimple {
		return in.runSimple(ctx, turn, cfg)
	}
	if cfg.Mode != model.FlowModeFSM {
		return nil, domain.Permanent(fmt.Errorf("%w: unknown mode %q", domain.ErrInvalidFlow, cfg.Mode))
	}
	return in.runFSM(ctx, turn, cfg)
}

func (in *Interpreter) runSimple(ctx context.Context, turn *model.Turn, cfg *model.FlowConfig) (*Outcome, error) {
	res, err := in.dispatcher.Dispatch(ctx, DispatchRequest{Turn: turn, AgentID: cfg.Agent})
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Reply:      res.AssistantText,
		AgentID:    cfg.Agent,
		AgentRunID: res.RunID,
		Routing:    model.TurnRouting{Mode: model.FlowModeSimple, AgentID: cfg.Agent},
	}, nil
}

// fsmRun is the mutable state of one FSM evaluation.
type fsmRun struct {
	turn  *model.Turn
	cfg   *model.FlowConfig
	bag   map[string]any
	entry string
	out   *Outcome
}

func (in *Interpreter) runFSM(ctx context.Context, turn *model.Turn, cfg *model.FlowConfig) (*Outcome, error) {
	log := logging.With(ctx, in.log)

	bag, stored, err := in.loadState(ctx, turn.ConversationID)
	if err != nil {
		return nil, err
	}
	current := stored
	if _, ok := cfg.States[current]; !ok {
		if current != "" {
			log.Info().Str("state", current).Str("initial", cfg.InitialState).Msg("unknown flow state, restarting at initial")
		}
		current = cfg.InitialState
	}

	r := &fsmRun{
		turn:  turn,
		cfg:   cfg,
		bag:   bag,
		entry: current,
		out:   &Outcome{Routing: model.TurnRouting{Mode: model.FlowModeFSM, EntryState: current}},
	}
	lowered := strings.ToLower(turn.Text)

	for hop := 0; hop < in.cfg.MaxDepth; hop++ {
		st := cfg.States[current]
		if st == nil {
			current = cfg.InitialState
			st = cfg.States[current]
		}
		r.out.Routing.Path = append(r.out.Routing.Path, current)
		r.out.Routing.FinalState = current
		r.out.Routing.Hops = hop + 1
		log.Debug().Str("state", current).Str("type", string(st.Type)).Int("hop", hop).Msg("flow hop")

		switch st.Type {
		case model.StateReply:
			next, ok := pickTransition(st.Transitions, lowered)
			if !ok {
				next = cfg.InitialState
			}
			if err := in.commit(ctx, r, next); err != nil {
				return nil, err
			}
			r.out.Reply = st.Text
			return r.out, nil

		case model.StateEnd:
			if err := in.commit(ctx, r, cfg.InitialState); err != nil {
				return nil, err
			}
			return r.out, nil

		case model.StateRouter:
			next, ok, err := in.route(ctx, r, st.Router, lowered)
			if err != nil {
				return nil, err
			}
			if !ok {
				log.Info().Str("state", current).Msg("router matched no route")
				return r.out, nil
			}
			if err := in.commit(ctx, r, next); err != nil {
				return nil, err
			}
			current = next

		case model.StateAgent:
			res, err := in.dispatcher.Dispatch(ctx, DispatchRequest{
				Turn:           turn,
				AgentID:        st.Agent,
				StateName:      current,
				UseKnowledge:   st.UseKnowledge,
				KnowledgeLimit: st.KnowledgeLimit,
				Tools:          st.Tools,
				State:          r.bag,
			})
			if err != nil {
				return nil, err
			}
			next, ok := pickTransition(st.Transitions, lowered)
			if !ok {
				next = current
			}
			if err := in.commit(ctx, r, next); err != nil {
				return nil, err
			}
			r.out.Reply = res.AssistantText
			r.out.AgentID = st.Agent
			r.out.AgentRunID = res.RunID
			r.out.Routing.AgentID = st.Agent
			return r.out, nil

		default:
			return nil, domain.Permanent(fmt.Errorf("%w: state %q has type %q", domain.ErrInvalidFlow, current, st.Type))
		}
	}

	log.Warn().Int("max_depth", in.cfg.MaxDepth).Strs("path", r.out.Routing.Path).Msg("flow depth exhausted")
	r.out.Routing.Exhausted = true
	return r.out, nil
}

func (in *Interpreter) route(ctx context.Context, r *fsmRun, rc *model.RouterConfig, lowered string) (string, bool, error) {
	if rc == nil {
		return "", false, nil
	}
	switch rc.Kind {
	case model.RouterKeyword:
		next, ok := routeKeyword(rc, lowered, r.entry)
		return next, ok, nil
	case model.RouterClassifier:
		next, label, err := routeClassifier(ctx, in.classifier, rc, r.turn.Text)
		if err != nil {
			return "", false, err
		}
		if label != "" {
			r.bag["lastClassification"] = label
		}
		return next, next != "", nil
	}
	return "", false, domain.Permanent(fmt.Errorf("%w: router kind %q", domain.ErrInvalidFlow, rc.Kind))
}

// loadState returns the stored bag and fsm state; expired states read as empty.
func (in *Interpreter) loadState(ctx context.Context, conversationID string) (map[string]any, string, error) {
	st, err := in.states.Get(ctx, conversationID)
	if errors.Is(err, domain.ErrNotFound) {
		return map[string]any{}, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("load state: %w", err)
	}
	if st.Expired(in.now(), in.cfg.SessionTimeout) {
		return map[string]any{}, "", nil
	}
	bag := make(map[string]any, len(st.State)+1)
	for k, v := range st.State {
		bag[k] = v
	}
	return bag, st.FSMState(), nil
}

func (in *Interpreter) commit(ctx context.Context, r *fsmRun, next string) error {
	r.bag[model.FSMStateKey] = next
	err := in.states.Upsert(ctx, &model.ConversationState{
		ConversationID: r.turn.ConversationID,
		State:          r.bag,
		UpdatedAt:      in.now(),
	})
	if err != nil {
		return fmt.Errorf("commit state %q: %w", next, err)
	}
	r.out.Routing.NextState = next
	return nil
}
