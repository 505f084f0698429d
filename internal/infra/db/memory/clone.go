package memory

import (
	"time"

	"turnpipe/internal/domain/model"
)

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneJob(j *model.Job) *model.Job {
	c := *j
	c.Payload = append([]byte(nil), j.Payload...)
	c.StartedAt = cloneTime(j.StartedAt)
	c.CompletedAt = cloneTime(j.CompletedAt)
	return &c
}

func cloneMessage(m *model.Message) *model.Message {
	c := *m
	return &c
}

func cloneTurn(t *model.Turn) *model.Turn {
	c := *t
	c.MessageIDs = append([]string(nil), t.MessageIDs...)
	if t.Router != nil {
		r := *t.Router
		r.Path = append([]string(nil), t.Router.Path...)
		c.Router = &r
	}
	if t.Response != nil {
		r := *t.Response
		r.SentAt = cloneTime(t.Response.SentAt)
		c.Response = &r
	}
	c.Meta = cloneMap(t.Meta)
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneState(s *model.ConversationState) *model.ConversationState {
	c := *s
	c.State = cloneMap(s.State)
	return &c
}

func cloneRun(r *model.AgentRun) *model.AgentRun {
	c := *r
	c.EndedAt = cloneTime(r.EndedAt)
	c.Input.Tools = append([]string(nil), r.Input.Tools...)
	if r.Output != nil {
		o := *r.Output
		o.ToolCalls = append([]model.ToolCall(nil), r.Output.ToolCalls...)
		c.Output = &o
	}
	return &c
}

func cloneMemory(m *model.ConversationMemory) *model.ConversationMemory {
	c := *m
	c.Facts = append([]string(nil), m.Facts...)
	return &c
}
