package model

import "time"

// FSMStateKey is the entry in ConversationState.State holding the current
// flow node name.
const FSMStateKey = "fsmState"

// ConversationState is a schema-less bag of per-conversation values. Flow
// configs are user-authored, so the shape is left open.
type ConversationState struct {
	ConversationID string
	State          map[string]any
	UpdatedAt      time.Time
}

// FSMState returns the stored flow node, or "" when none is stored.
func (s *ConversationState) FSMState() string {
	if s == nil || s.State == nil {
		return ""
	}
	v, _ := s.State[FSMStateKey].(string)
	return v
}

// Expired reports whether the state is older than timeout at now. A zero
// timeout never expires.
func (s *ConversationState) Expired(now time.Time, timeout time.Duration) bool {
	if s == nil || timeout <= 0 {
		return false
	}
	return now.Sub(s.UpdatedAt) > timeout
}
