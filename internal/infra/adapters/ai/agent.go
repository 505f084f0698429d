package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"turnpipe/internal/config"
	"turnpipe/internal/domain"
	"turnpipe/internal/domain/model"
	"turnpipe/internal/domain/ports/adapter"
)

var (
	_ adapter.Agent          = (*LLMAgent)(nil)
	_ adapter.AgentDirectory = (*AgentDirectory)(nil)
)

// LLMAgent answers a turn with one chat call: system prompt, memory and
// knowledge first, then recent history, then the turn text.
type LLMAgent struct {
	id     string
	model  string
	prompt string
	tools  []string
	chat   adapter.ChatModel
}

func NewLLMAgent(id string, cfg config.AgentConfig, chat adapter.ChatModel) *LLMAgent {
	return &LLMAgent{id: id, model: cfg.Model, prompt: cfg.SystemPrompt, tools: cfg.Tools, chat: chat}
}

func (a *LLMAgent) Run(ctx context.Context, req adapter.AgentRequest) (adapter.AgentResult, error) {
	msgs := a.messages(req)
	text, u, err := a.chat.ChatWithUsage(ctx, a.model, msgs)
	if err != nil {
		return adapter.AgentResult{}, err
	}
	res := adapter.AgentResult{AssistantText: strings.TrimSpace(text), Usage: u}
	if len(req.Context.Knowledge) > 0 {
		ids := make([]string, 0, len(req.Context.Knowledge))
		for _, k := range req.Context.Knowledge {
			ids = append(ids, k.ID)
		}
		res.Knowledge = &model.KnowledgeUsage{Query: req.Turn.Text, ChunkIDs: ids}
	}
	return res, nil
}

func (a *LLMAgent) messages(req adapter.AgentRequest) []adapter.Message {
	var sys strings.Builder
	sys.WriteString(a.prompt)
	if mem := req.Context.Memory; mem != nil {
		if len(mem.Facts) > 0 {
			sys.WriteString("\n\nKnown facts about the user:\n- ")
			sys.WriteString(strings.Join(mem.Facts, "\n- "))
		}
		if mem.Recap != "" {
			sys.WriteString("\n\nConversation so far: ")
			sys.WriteString(mem.Recap)
		}
	}
	if len(req.Context.Knowledge) > 0 {
		sys.WriteString("\n\nReference material:")
		for _, k := range req.Context.Knowledge {
			fmt.Fprintf(&sys, "\n[%s] %s", k.ID, k.Text)
		}
	}
	tools := req.Tools
	if len(tools) == 0 {
		tools = a.tools
	}
	if len(tools) > 0 {
		sys.WriteString("\n\nAvailable tools: ")
		sys.WriteString(strings.Join(tools, ", "))
	}

	out := make([]adapter.Message, 0, len(req.Context.History)+2)
	if s := strings.TrimSpace(sys.String()); s != "" {
		out = append(out, adapter.Message{Role: "system", Content: s})
	}
	turnIDs := map[string]struct{}{}
	for _, id := range req.Turn.MessageIDs {
		turnIDs[id] = struct{}{}
	}
	for _, m := range req.Context.History {
		if _, ok := turnIDs[m.ID]; ok {
			continue // folded into the turn text below
		}
		role := "user"
		if m.Source == model.MessageSourceBot {
			role = "assistant"
		}
		out = append(out, adapter.Message{Role: role, Content: m.Text})
	}
	return append(out, adapter.Message{Role: "user", Content: req.Turn.Text})
}

// AgentDirectory holds the agents declared in config.
type AgentDirectory struct {
	agents map[string]*LLMAgent
}

// NewAgentDirectory builds one agent per config entry. An agent that names a
// provider is bound to it directly; the rest go through chat.
func NewAgentDirectory(cfgs map[string]config.AgentConfig, chat adapter.ChatModel, byProvider map[string]adapter.ChatModel) *AgentDirectory {
	d := &AgentDirectory{agents: make(map[string]*LLMAgent, len(cfgs))}
	for id, c := range cfgs {
		m := chat
		if p, ok := byProvider[strings.ToLower(c.Provider)]; ok && p != nil {
			m = p
		}
		d.agents[id] = NewLLMAgent(id, c, m)
	}
	return d
}

func (d *AgentDirectory) Lookup(agentID string) (adapter.Agent, error) {
	a, ok := d.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownAgent, agentID)
	}
	return a, nil
}

// IDs lists the configured agent ids in order.
func (d *AgentDirectory) IDs() []string {
	out := make([]string, 0, len(d.agents))
	for id := range d.agents {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Models maps agent id to its configured model, for token accounting.
func (d *AgentDirectory) Models() map[string]string {
	out := make(map[string]string, len(d.agents))
	for id, a := range d.agents {
		out[id] = a.model
	}
	return out
}
