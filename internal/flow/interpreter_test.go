//go:build !integration

package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"turnpipe/internal/domain/model"
	"turnpipe/internal/infra/db/memory"
)

// shopFlow: menu (keyword router) -> sales agent | hours reply | greet reply.
func shopFlow() *model.FlowConfig {
	return &model.FlowConfig{
		Mode:         model.FlowModeFSM,
		InitialState: "menu",
		States: map[string]*model.StateConfig{
			"menu": {Type: model.StateRouter, Router: &model.RouterConfig{
				Kind: model.RouterKeyword,
				Rules: []model.KeywordRule{
					{Keywords: []string{"price", "buy"}, Next: "sales"},
					{Keywords: []string{"hours"}, Next: "hours"},
					{Default: true, Next: "greet"},
				},
			}},
			"sales": {Type: model.StateAgent, Agent: "sales", UseKnowledge: true, KnowledgeLimit: 3,
				Transitions: []model.TransitionRule{{Keywords: []string{"bye"}, Next: "bye"}}},
			"hours": {Type: model.StateReply, Text: "We open at 9."},
			"greet": {Type: model.StateReply, Text: "Hi! Ask about prices or hours.",
				Transitions: []model.TransitionRule{{Any: true, Next: "menu"}}},
			"bye": {Type: model.StateEnd},
		},
	}
}

type interpFixture struct {
	store *memory.Store
	disp  *fakeDispatcher
	cls   *fakeClassifier
	in    *Interpreter
	now   time.Time
}

func newInterp(t *testing.T) *interpFixture {
	t.Helper()
	f := &interpFixture{store: memory.New(), disp: &fakeDispatcher{}, cls: &fakeClassifier{}, now: time.Now()}
	f.in = NewInterpreter(f.store.States(), f.cls, f.disp,
		InterpreterConfig{MaxDepth: 10, SessionTimeout: 6 * time.Hour},
		func() time.Time { return f.now }, newTestLogger())
	return f
}

func (f *interpFixture) stored(t *testing.T) string {
	t.Helper()
	st, err := f.store.States().Get(context.Background(), "c1")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	return st.FSMState()
}

func (f *interpFixture) setState(t *testing.T, name string, at time.Time) {
	t.Helper()
	_ = f.store.States().Upsert(context.Background(), &model.ConversationState{
		ConversationID: "c1", State: map[string]any{model.FSMStateKey: name}, UpdatedAt: at,
	})
}

func TestSimpleFlow(t *testing.T) {
	f := newInterp(t)
	out, err := f.in.Run(context.Background(), testTurn("hello"), &model.FlowConfig{Mode: model.FlowModeSimple, Agent: "default"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Reply != "agent:default" || out.AgentRunID != "run-default" {
		t.Errorf("unexpected outcome %+v", out)
	}
	if _, err := f.store.States().Get(context.Background(), "c1"); err == nil {
		t.Error("simple flow must not write fsm state")
	}
}

func TestKeywordRouterToAgent(t *testing.T) {
	f := newInterp(t)
	out, err := f.in.Run(context.Background(), testTurn("What's the PRICE?"), shopFlow())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Reply != "agent:sales" || out.AgentID != "sales" {
		t.Fatalf("expected sales agent reply, got %+v", out)
	}
	if len(f.disp.calls) != 1 || !f.disp.calls[0].UseKnowledge || f.disp.calls[0].KnowledgeLimit != 3 {
		t.Errorf("expected knowledge flags carried, got %+v", f.disp.calls)
	}
	if got := f.stored(t); got != "sales" {
		t.Errorf("agent without matching transition should stay, got %q", got)
	}
	if out.Routing.Hops != 2 || out.Routing.EntryState != "menu" || out.Routing.FinalState != "sales" {
		t.Errorf("unexpected routing %+v", out.Routing)
	}
}

func TestReplyStates(t *testing.T) {
	t.Run("reply without transition returns to initial", func(t *testing.T) {
		f := newInterp(t)
		out, err := f.in.Run(context.Background(), testTurn("opening hours?"), shopFlow())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.Reply != "We open at 9." {
			t.Errorf("unexpected reply %q", out.Reply)
		}
		if got := f.stored(t); got != "menu" {
			t.Errorf("expected initial state stored, got %q", got)
		}
		if len(f.disp.calls) != 0 {
			t.Error("reply state must not call an agent")
		}
	})

	t.Run("agent transition picks next stored state", func(t *testing.T) {
		f := newInterp(t)
		f.setState(t, "sales", f.now)
		if _, err := f.in.Run(context.Background(), testTurn("ok bye"), shopFlow()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := f.stored(t); got != "bye" {
			t.Errorf("expected bye, got %q", got)
		}
	})

	t.Run("end emits nothing and resets", func(t *testing.T) {
		f := newInterp(t)
		f.setState(t, "bye", f.now)
		out, err := f.in.Run(context.Background(), testTurn("anything"), shopFlow())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.Reply != "" {
			t.Errorf("expected no reply, got %q", out.Reply)
		}
		if got := f.stored(t); got != "menu" {
			t.Errorf("expected reset to initial, got %q", got)
		}
	})
}

func TestSameStateDefault(t *testing.T) {
	flow := &model.FlowConfig{
		Mode:         model.FlowModeFSM,
		InitialState: "menu",
		States: map[string]*model.StateConfig{
			"menu": {Type: model.StateRouter, Router: &model.RouterConfig{
				Kind:  model.RouterKeyword,
				Rules: []model.KeywordRule{{Keywords: []string{"help"}, Next: "help"}, {Default: true, Next: "menu"}},
			}},
			"help":     {Type: model.StateReply, Text: "help text"},
			"fallback": {Type: model.StateReply, Text: "sorry?"},
		},
	}

	t.Run("default back to entry is skipped", func(t *testing.T) {
		f := newInterp(t)
		out, err := f.in.Run(context.Background(), testTurn("hmm"), flow)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.Reply != "" || out.Routing.Hops != 1 {
			t.Errorf("expected a no-route stop, got %+v", out)
		}
	})

	t.Run("defaultRoute catches the skipped default", func(t *testing.T) {
		f := newInterp(t)
		withRoute := cloneForTest(flow)
		withRoute.States["menu"].Router.DefaultRoute = "fallback"
		out, err := f.in.Run(context.Background(), testTurn("hmm"), withRoute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.Reply != "sorry?" {
			t.Errorf("expected fallback reply, got %+v", out)
		}
	})
}

func TestFSMTerminatesOnSelfLoop(t *testing.T) {
	f := newInterp(t)
	loop := &model.FlowConfig{
		Mode:         model.FlowModeFSM,
		InitialState: "spin",
		States: map[string]*model.StateConfig{
			"spin": {Type: model.StateRouter, Router: &model.RouterConfig{
				Kind:                  model.RouterKeyword,
				AllowSameStateDefault: true,
				Rules:                 []model.KeywordRule{{Default: true, Next: "spin"}},
			}},
		},
	}
	out, err := f.in.Run(context.Background(), testTurn("anything"), loop)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Routing.Exhausted || out.Reply != "" {
		t.Fatalf("expected exhausted no-reply outcome, got %+v", out)
	}
	if out.Routing.Hops != 10 || len(out.Routing.Path) != 10 {
		t.Errorf("expected exactly 10 hops, got %d", out.Routing.Hops)
	}
	if f.stored(t) != "spin" {
		t.Errorf("expected last committed state spin, got %q", f.stored(t))
	}
}

func TestSelfHealing(t *testing.T) {
	t.Run("unknown stored state restarts at initial", func(t *testing.T) {
		f := newInterp(t)
		f.setState(t, "deleted-state", f.now)
		out, err := f.in.Run(context.Background(), testTurn("hours"), shopFlow())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.Routing.EntryState != "menu" || out.Reply != "We open at 9." {
			t.Errorf("expected restart at menu, got %+v", out)
		}
	})

	t.Run("expired state is ignored", func(t *testing.T) {
		f := newInterp(t)
		f.setState(t, "sales", f.now.Add(-7*time.Hour))
		out, err := f.in.Run(context.Background(), testTurn("hours"), shopFlow())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.Routing.EntryState != "menu" {
			t.Errorf("expected timeout to restart at menu, got %+v", out.Routing)
		}
	})
}

func TestResumesAtLastCommittedState(t *testing.T) {
	f := newInterp(t)
	f.disp.err = errTransient

	_, err := f.in.Run(context.Background(), testTurn("buy now"), shopFlow())
	if !errors.Is(err, errTransient) {
		t.Fatalf("expected agent error to propagate, got %v", err)
	}
	if got := f.stored(t); got != "sales" {
		t.Fatalf("expected router hop committed before the crash, got %q", got)
	}

	f.disp.err = nil
	out, err := f.in.Run(context.Background(), testTurn("buy now"), shopFlow())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Routing.EntryState != "sales" || out.Routing.Hops != 1 {
		t.Errorf("expected resume at sales, got %+v", out.Routing)
	}
}

func TestClassifierRouter(t *testing.T) {
	flow := &model.FlowConfig{
		Mode:         model.FlowModeFSM,
		InitialState: "triage",
		States: map[string]*model.StateConfig{
			"triage": {Type: model.StateRouter, Router: &model.RouterConfig{
				Kind:         model.RouterClassifier,
				Prompt:       "Classify the request.",
				Routes:       []model.ClassifierRoute{{Label: "billing", Next: "billing"}, {Label: "tech", Next: "tech"}},
				DefaultRoute: "human",
			}},
			"billing": {Type: model.StateAgent, Agent: "billing"},
			"tech":    {Type: model.StateAgent, Agent: "tech"},
			"human":   {Type: model.StateReply, Text: "A human will reply."},
		},
	}

	t.Run("valid label routes", func(t *testing.T) {
		f := newInterp(t)
		f.cls.label = " Tech "
		out, err := f.in.Run(context.Background(), testTurn("my router is broken"), flow)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.AgentID != "tech" {
			t.Errorf("expected tech agent, got %+v", out)
		}
		if len(f.cls.seen) != 2 {
			t.Errorf("expected enumerated labels passed, got %v", f.cls.seen)
		}
	})

	t.Run("invalid label uses defaultRoute", func(t *testing.T) {
		f := newInterp(t)
		f.cls.label = "I think it's billing-ish"
		out, err := f.in.Run(context.Background(), testTurn("??"), flow)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.Reply != "A human will reply." {
			t.Errorf("expected default route, got %+v", out)
		}
	})

	t.Run("transport error propagates", func(t *testing.T) {
		f := newInterp(t)
		f.cls.err = errTransient
		if _, err := f.in.Run(context.Background(), testTurn("??"), flow); !errors.Is(err, errTransient) {
			t.Fatalf("expected transport error, got %v", err)
		}
	})
}

func cloneForTest(c *model.FlowConfig) *model.FlowConfig {
	out := *c
	out.States = map[string]*model.StateConfig{}
	for k, v := range c.States {
		cp := *v
		if v.Router != nil {
			r := *v.Router
			cp.Router = &r
		}
		out.States[k] = &cp
	}
	return &out
}
