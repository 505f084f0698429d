package model

import "time"

type AgentRunStatus string

const (
	AgentRunRunning AgentRunStatus = "running"
	AgentRunSuccess AgentRunStatus = "success"
	AgentRunError   AgentRunStatus = "error"
)

// AgentRunInput is what the dispatcher handed to the agent.
type AgentRunInput struct {
	Text         string   `json:"text"`
	StateName    string   `json:"stateName,omitempty"`
	UseKnowledge bool     `json:"useKnowledge,omitempty"`
	Tools        []string `json:"tools,omitempty"`
	PromptTokens int      `json:"promptTokens,omitempty"`
}

// ToolCall is a tool invocation reported back by an agent.
type ToolCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

// KnowledgeUsage summarizes knowledge-base augmentation for one run.
type KnowledgeUsage struct {
	Query    string   `json:"query,omitempty"`
	ChunkIDs []string `json:"chunkIds,omitempty"`
}

// AgentRunOutput is what the agent returned.
type AgentRunOutput struct {
	AssistantText    string          `json:"assistantText,omitempty"`
	ToolCalls        []ToolCall      `json:"toolCalls,omitempty"`
	Knowledge        *KnowledgeUsage `json:"knowledge,omitempty"`
	PromptTokens     int             `json:"promptTokens,omitempty"`
	CompletionTokens int             `json:"completionTokens,omitempty"`
}

// AgentRun is the audit row for a single agent invocation. It is written
// twice: once as running, once on completion.
type AgentRun struct {
	ID             string
	TurnID         string
	ConversationID string
	AgentID        string
	StartedAt      time.Time
	EndedAt        *time.Time
	Status         AgentRunStatus
	Input          AgentRunInput
	Output         *AgentRunOutput
	Error          string
}
