package api

import (
	"time"

	"turnpipe/internal/domain/model"
)

type turnDTO struct {
	ID             string              `json:"id"`
	ConversationID string              `json:"conversationId"`
	SessionID      string              `json:"sessionId"`
	UserID         string              `json:"userId,omitempty"`
	Channel        string              `json:"channel,omitempty"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
	MessageIDs     []string            `json:"messageIds"`
	Text           string              `json:"text"`
	Status         model.TurnStatus    `json:"status"`
	Router         *model.TurnRouting  `json:"router,omitempty"`
	Response       *model.TurnResponse `json:"response,omitempty"`
	Meta           map[string]any      `json:"meta,omitempty"`
}

func toTurnDTO(t *model.Turn) turnDTO {
	return turnDTO{
		ID:             t.ID,
		ConversationID: t.ConversationID,
		SessionID:      t.SessionID,
		UserID:         t.UserID,
		Channel:        t.Channel,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
		MessageIDs:     t.MessageIDs,
		Text:           t.Text,
		Status:         t.Status,
		Router:         t.Router,
		Response:       t.Response,
		Meta:           t.Meta,
	}
}

type agentRunDTO struct {
	ID             string                `json:"id"`
	TurnID         string                `json:"turnId"`
	ConversationID string                `json:"conversationId"`
	AgentID        string                `json:"agentId"`
	StartedAt      time.Time             `json:"startedAt"`
	EndedAt        *time.Time            `json:"endedAt,omitempty"`
	Status         model.AgentRunStatus  `json:"status"`
	Input          model.AgentRunInput   `json:"input"`
	Output         *model.AgentRunOutput `json:"output,omitempty"`
	Error          string                `json:"error,omitempty"`
}

func toAgentRunDTO(r *model.AgentRun) agentRunDTO {
	return agentRunDTO{
		ID:             r.ID,
		TurnID:         r.TurnID,
		ConversationID: r.ConversationID,
		AgentID:        r.AgentID,
		StartedAt:      r.StartedAt,
		EndedAt:        r.EndedAt,
		Status:         r.Status,
		Input:          r.Input,
		Output:         r.Output,
		Error:          r.Error,
	}
}

type responsesDTO struct {
	ConversationID string     `json:"conversationId"`
	Enabled        bool       `json:"enabled"`
	DisabledUntil  *time.Time `json:"disabledUntil,omitempty"`
	UpdatedAt      time.Time  `json:"updatedAt,omitempty"`
}

func toResponsesDTO(s *model.ResponsesSetting) responsesDTO {
	return responsesDTO{
		ConversationID: s.ConversationID,
		Enabled:        s.Enabled,
		DisabledUntil:  s.DisabledUntil,
		UpdatedAt:      s.UpdatedAt,
	}
}

type flowDTO struct {
	SessionID string           `json:"sessionId"`
	Status    model.FlowStatus `json:"status"`
	Version   int              `json:"version"`
	Config    model.FlowConfig `json:"config"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

func toFlowDTO(d *model.FlowDocument) flowDTO {
	return flowDTO{SessionID: d.SessionID, Status: d.Status, Version: d.Version, Config: d.Config, UpdatedAt: d.UpdatedAt}
}
