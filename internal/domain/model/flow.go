package model

import (
	"fmt"
	"strings"
	"time"

	"turnpipe/internal/domain"
)

type FlowMode string

const (
	FlowModeSimple FlowMode = "simple"
	FlowModeFSM    FlowMode = "fsm"
)

type FlowStatus string

const (
	FlowStatusDraft     FlowStatus = "draft"
	FlowStatusPublished FlowStatus = "published"
)

type StateKind string

const (
	StateReply  StateKind = "reply"
	StateEnd    StateKind = "end"
	StateAgent  StateKind = "agent"
	StateRouter StateKind = "router"
)

type RouterKind string

const (
	RouterKeyword    RouterKind = "keyword"
	RouterClassifier RouterKind = "classifier"
)

// FlowConfig is either a simple single-agent policy or an FSM.
type FlowConfig struct {
	Mode         FlowMode                `json:"mode" yaml:"mode"`
	Agent        string                  `json:"agent,omitempty" yaml:"agent,omitempty"`
	InitialState string                  `json:"initialState,omitempty" yaml:"initialState,omitempty"`
	States       map[string]*StateConfig `json:"states,omitempty" yaml:"states,omitempty"`
}

// StateConfig is one node of an FSM flow. Which fields apply depends on Type.
type StateConfig struct {
	Type StateKind `json:"type" yaml:"type"`

	// reply
	Text string `json:"text,omitempty" yaml:"text,omitempty"`

	// agent
	Agent          string   `json:"agent,omitempty" yaml:"agent,omitempty"`
	UseKnowledge   bool     `json:"useKnowledge,omitempty" yaml:"useKnowledge,omitempty"`
	KnowledgeLimit int      `json:"knowledgeLimit,omitempty" yaml:"knowledgeLimit,omitempty"`
	Tools          []string `json:"tools,omitempty" yaml:"tools,omitempty"`

	// router
	Router *RouterConfig `json:"router,omitempty" yaml:"router,omitempty"`

	// reply and agent
	Transitions []TransitionRule `json:"transitions,omitempty" yaml:"transitions,omitempty"`
}

type RouterConfig struct {
	Kind RouterKind `json:"kind" yaml:"kind"`

	// keyword
	Rules                 []KeywordRule `json:"rules,omitempty" yaml:"rules,omitempty"`
	AllowSameStateDefault bool          `json:"allowSameStateDefault,omitempty" yaml:"allowSameStateDefault,omitempty"`

	// classifier
	Prompt string            `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	Routes []ClassifierRoute `json:"routes,omitempty" yaml:"routes,omitempty"`

	// DefaultRoute is the classifier fallback, and the keyword fallback when
	// no rule (including a default rule) applies.
	DefaultRoute string `json:"defaultRoute,omitempty" yaml:"defaultRoute,omitempty"`
}

type KeywordRule struct {
	Keywords []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Default  bool     `json:"default,omitempty" yaml:"default,omitempty"`
	Next     string   `json:"next" yaml:"next"`
}

type ClassifierRoute struct {
	Label       string `json:"label" yaml:"label"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Next        string `json:"next" yaml:"next"`
}

// TransitionRule picks the stored next state after a reply or agent state.
type TransitionRule struct {
	Keywords []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Any      bool     `json:"any,omitempty" yaml:"any,omitempty"`
	Default  bool     `json:"default,omitempty" yaml:"default,omitempty"`
	Next     string   `json:"next" yaml:"next"`
}

// Matches reports whether the rule fires for lowered text, ignoring Default.
func (r TransitionRule) Matches(lowered string) bool {
	if r.Any {
		return true
	}
	return ContainsAnyKeyword(lowered, r.Keywords)
}

// ContainsAnyKeyword reports whether lowered contains any keyword as a
// literal, case-insensitive substring.
func ContainsAnyKeyword(lowered string, keywords []string) bool {
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" && strings.Contains(lowered, k) {
			return true
		}
	}
	return false
}

// Labels lists the classifier's enumerated outputs.
func (r *RouterConfig) Labels() []string {
	out := make([]string, 0, len(r.Routes))
	for _, rt := range r.Routes {
		out = append(out, rt.Label)
	}
	return out
}

// RouteFor returns the next state for a classifier label, matching case and
// surrounding whitespace loosely.
func (r *RouterConfig) RouteFor(label string) (string, bool) {
	label = strings.ToLower(strings.TrimSpace(label))
	for _, rt := range r.Routes {
		if strings.ToLower(rt.Label) == label {
			return rt.Next, true
		}
	}
	return "", false
}

// Validate checks structural soundness: every referenced state exists and
// every node carries the fields its kind needs.
func (c *FlowConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: empty config", domain.ErrInvalidFlow)
	}
	switch c.Mode {
	case FlowModeSimple:
		if strings.TrimSpace(c.Agent) == "" {
			return fmt.Errorf("%w: simple flow needs an agent", domain.ErrInvalidFlow)
		}
		return nil
	case FlowModeFSM:
	default:
		return fmt.Errorf("%w: unknown mode %q", domain.ErrInvalidFlow, c.Mode)
	}

	if len(c.States) == 0 {
		return fmt.Errorf("%w: fsm flow has no states", domain.ErrInvalidFlow)
	}
	if _, ok := c.States[c.InitialState]; !ok {
		return fmt.Errorf("%w: initial state %q not defined", domain.ErrInvalidFlow, c.InitialState)
	}
	ref := func(from, to string) error {
		if _, ok := c.States[to]; !ok {
			return fmt.Errorf("%w: state %q points to unknown state %q", domain.ErrInvalidFlow, from, to)
		}
		return nil
	}
	for name, st := range c.States {
		if st == nil {
			return fmt.Errorf("%w: state %q is empty", domain.ErrInvalidFlow, name)
		}
		switch st.Type {
		case StateReply, StateEnd:
		case StateAgent:
			if strings.TrimSpace(st.Agent) == "" {
				return fmt.Errorf("%w: agent state %q needs an agent", domain.ErrInvalidFlow, name)
			}
		case StateRouter:
			if err := st.Router.validate(name, ref); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: state %q has unknown type %q", domain.ErrInvalidFlow, name, st.Type)
		}
		for _, t := range st.Transitions {
			if err := ref(name, t.Next); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *RouterConfig) validate(state string, ref func(from, to string) error) error {
	if r == nil {
		return fmt.Errorf("%w: router state %q has no router", domain.ErrInvalidFlow, state)
	}
	if r.DefaultRoute != "" {
		if err := ref(state, r.DefaultRoute); err != nil {
			return err
		}
	}
	switch r.Kind {
	case RouterKeyword:
		if len(r.Rules) == 0 {
			return fmt.Errorf("%w: keyword router %q has no rules", domain.ErrInvalidFlow, state)
		}
		for _, rule := range r.Rules {
			if err := ref(state, rule.Next); err != nil {
				return err
			}
		}
	case RouterClassifier:
		if len(r.Routes) == 0 {
			return fmt.Errorf("%w: classifier router %q has no routes", domain.ErrInvalidFlow, state)
		}
		if r.DefaultRoute == "" {
			return fmt.Errorf("%w: classifier router %q needs a defaultRoute", domain.ErrInvalidFlow, state)
		}
		for _, rt := range r.Routes {
			if strings.TrimSpace(rt.Label) == "" {
				return fmt.Errorf("%w: classifier router %q has an empty label", domain.ErrInvalidFlow, state)
			}
			if err := ref(state, rt.Next); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: router %q has unknown kind %q", domain.ErrInvalidFlow, state, r.Kind)
	}
	return nil
}

// FlowDocument is a stored, versioned flow for one session.
type FlowDocument struct {
	SessionID string
	Status    FlowStatus
	Version   int
	Config    FlowConfig
	UpdatedAt time.Time
}
