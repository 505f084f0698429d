package model

import (
	"fmt"
	"time"

	"turnpipe/internal/domain"
)

// FlowRuntimeMode picks which flow version a session runs.
type FlowRuntimeMode string

const (
	RuntimeAuto           FlowRuntimeMode = "auto"
	RuntimeForceDraft     FlowRuntimeMode = "force_draft"
	RuntimeForcePublished FlowRuntimeMode = "force_published"
)

func ParseRuntimeMode(s string) (FlowRuntimeMode, error) {
	switch FlowRuntimeMode(s) {
	case RuntimeAuto, RuntimeForceDraft, RuntimeForcePublished:
		return FlowRuntimeMode(s), nil
	case "":
		return RuntimeAuto, nil
	}
	return "", fmt.Errorf("%w: runtime mode %q", domain.ErrInvalidArgument, s)
}

// SessionRuntimeConfig is the per-session override of flow selection.
type SessionRuntimeConfig struct {
	SessionID string
	Mode      FlowRuntimeMode
	UpdatedAt time.Time
}

// EffectiveStatus resolves the flow version for a turn arriving on channel.
// auto runs the draft for simulated traffic and the published flow otherwise.
func EffectiveStatus(mode FlowRuntimeMode, channel string) FlowStatus {
	switch mode {
	case RuntimeForceDraft:
		return FlowStatusDraft
	case RuntimeForcePublished:
		return FlowStatusPublished
	}
	if channel == ChannelSimulation {
		return FlowStatusDraft
	}
	return FlowStatusPublished
}
