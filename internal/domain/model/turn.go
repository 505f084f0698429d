package model

import (
	"strings"
	"time"
)

type TurnStatus string

const (
	TurnStatusQueued  TurnStatus = "queued"
	TurnStatusRunning TurnStatus = "running"
	TurnStatusDone    TurnStatus = "done"
	TurnStatusBlocked TurnStatus = "blocked"
	TurnStatusFailed  TurnStatus = "failed"
)

// IsFinal reports whether no further pipeline step may change the status.
func (s TurnStatus) IsFinal() bool {
	return s == TurnStatusDone || s == TurnStatusBlocked || s == TurnStatusFailed
}

type BlockedReason string

const (
	BlockedRateLimit               BlockedReason = "rate_limit"
	BlockedResponsesDisabled       BlockedReason = "responses_disabled"
	BlockedCooldownActive          BlockedReason = "cooldown_active"
	BlockedResponsesDisabledOnSend BlockedReason = "responses_disabled_on_send"
)

// TurnRouting records how the flow reached its outcome.
type TurnRouting struct {
	Mode       FlowMode `json:"mode"`
	FlowStatus string   `json:"flowStatus,omitempty"`
	EntryState string   `json:"entryState,omitempty"`
	FinalState string   `json:"finalState,omitempty"`
	NextState  string   `json:"nextState,omitempty"`
	Path       []string `json:"path,omitempty"`
	AgentID    string   `json:"agentId,omitempty"`
	Hops       int      `json:"hops"`
	Exhausted  bool     `json:"exhausted,omitempty"`
}

// TurnResponse is the outcome side of a Turn. Only the reply sender writes to
// it after the turn is final.
type TurnResponse struct {
	Text          string        `json:"text,omitempty"`
	AgentRunID    string        `json:"agentRunId,omitempty"`
	BlockedReason BlockedReason `json:"blockedReason,omitempty"`
	Error         string        `json:"error,omitempty"`
	SentAt        *time.Time    `json:"sentAt,omitempty"`
	MessageID     string        `json:"messageId,omitempty"`
}

// Turn is one aggregated unit of user input answered at most once.
type Turn struct {
	ID             string
	ConversationID string
	SessionID      string
	UserID         string
	Channel        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	MessageIDs     []string
	Text           string
	Status         TurnStatus
	Router         *TurnRouting
	Response       *TurnResponse
	Meta           map[string]any
}

// NewTurn folds msgs (oldest first) into a queued turn. msgs must be non-empty
// and belong to the same conversation.
func NewTurn(id string, msgs []*Message, now time.Time) *Turn {
	first := msgs[0]
	texts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if t := strings.TrimSpace(m.Text); t != "" {
			texts = append(texts, t)
		}
	}
	return &Turn{
		ID:             id,
		ConversationID: first.ConversationID,
		SessionID:      first.SessionID,
		UserID:         first.UserID,
		Channel:        first.Channel,
		CreatedAt:      now,
		UpdatedAt:      now,
		MessageIDs:     MessageIDs(msgs),
		Text:           strings.Join(texts, " "),
		Status:         TurnStatusQueued,
	}
}
