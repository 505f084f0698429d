package model

import "time"

// ResponsesSetting is the per-conversation opt-out record. A missing record
// means responses are enabled.
type ResponsesSetting struct {
	ConversationID string
	Enabled        bool
	DisabledUntil  *time.Time
	UpdatedAt      time.Time
}

// BlockReason returns the policy reason automatic replies are suppressed at
// now, or "" when they are allowed.
func (r *ResponsesSetting) BlockReason(now time.Time) BlockedReason {
	if r == nil {
		return ""
	}
	if !r.Enabled {
		return BlockedResponsesDisabled
	}
	if r.DisabledUntil != nil && r.DisabledUntil.After(now) {
		return BlockedCooldownActive
	}
	return ""
}
