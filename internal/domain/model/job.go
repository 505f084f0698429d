package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"turnpipe/internal/domain"
)

type JobType string

const (
	JobTypeDebounceTurn JobType = "debounceTurn"
	JobTypeRunAgent     JobType = "runAgent"
	JobTypeSendReply    JobType = "sendReply"
	JobTypeMemoryUpdate JobType = "memoryUpdate"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Job is one scheduled, retryable unit of work. Only the scheduler mutates it
// after creation.
type Job struct {
	ID           string
	Type         JobType
	Status       JobStatus
	Payload      json.RawMessage
	ScheduledFor time.Time
	Attempts     int
	MaxAttempts  int
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	LastError    string
}

// CanRetry reports whether a failed attempt should go back to pending.
// Attempts is incremented at claim time, so it already counts the current run.
func (j *Job) CanRetry() bool {
	return j.Attempts < j.MaxAttempts
}

// Meta returns the attempt bookkeeping handed to job handlers.
func (j *Job) Meta() JobMeta {
	return JobMeta{ID: j.ID, Type: j.Type, Attempt: j.Attempts, MaxAttempts: j.MaxAttempts}
}

// JobMeta is what a handler knows about the job it is running.
type JobMeta struct {
	ID          string
	Type        JobType
	Attempt     int
	MaxAttempts int
}

// LastAttempt reports whether a failure now would be final.
func (m JobMeta) LastAttempt() bool {
	return m.Attempt >= m.MaxAttempts
}

// JobPayload is the closed set of job bodies. Each job type has exactly one
// payload type and DecodePayload is the only way back from the wire form.
type JobPayload interface {
	JobType() JobType
	validate() error
}

type DebounceTurnPayload struct {
	ConversationID string `json:"conversationId"`
}

type RunAgentPayload struct {
	TurnID string `json:"turnId"`
}

type SendReplyPayload struct {
	TurnID     string `json:"turnId"`
	AgentRunID string `json:"agentRunId,omitempty"`
}

type MemoryUpdatePayload struct {
	TurnID     string `json:"turnId"`
	AgentRunID string `json:"agentRunId"`
}

func (DebounceTurnPayload) JobType() JobType { return JobTypeDebounceTurn }
func (RunAgentPayload) JobType() JobType     { return JobTypeRunAgent }
func (SendReplyPayload) JobType() JobType    { return JobTypeSendReply }
func (MemoryUpdatePayload) JobType() JobType { return JobTypeMemoryUpdate }

func (p DebounceTurnPayload) validate() error {
	return requireField("conversationId", p.ConversationID)
}

func (p RunAgentPayload) validate() error {
	return requireField("turnId", p.TurnID)
}

func (p SendReplyPayload) validate() error {
	return requireField("turnId", p.TurnID)
}

func (p MemoryUpdatePayload) validate() error {
	if err := requireField("turnId", p.TurnID); err != nil {
		return err
	}
	return requireField("agentRunId", p.AgentRunID)
}

func requireField(name, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%w: missing %s", domain.ErrInvalidPayload, name)
	}
	return nil
}

// EncodePayload validates and serializes a payload for storage.
func EncodePayload(p JobPayload) (json.RawMessage, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil payload", domain.ErrInvalidPayload)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	return b, nil
}

// DecodePayload turns a stored job back into its typed payload. Unknown types
// and malformed bodies are permanent: retrying them would fail identically.
func DecodePayload(j *Job) (JobPayload, error) {
	var p JobPayload
	switch j.Type {
	case JobTypeDebounceTurn:
		var v DebounceTurnPayload
		if err := json.Unmarshal(j.Payload, &v); err != nil {
			return nil, domain.Permanent(fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err))
		}
		p = v
	case JobTypeRunAgent:
		var v RunAgentPayload
		if err := json.Unmarshal(j.Payload, &v); err != nil {
			return nil, domain.Permanent(fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err))
		}
		p = v
	case JobTypeSendReply:
		var v SendReplyPayload
		if err := json.Unmarshal(j.Payload, &v); err != nil {
			return nil, domain.Permanent(fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err))
		}
		p = v
	case JobTypeMemoryUpdate:
		var v MemoryUpdatePayload
		if err := json.Unmarshal(j.Payload, &v); err != nil {
			return nil, domain.Permanent(fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err))
		}
		p = v
	default:
		return nil, domain.Permanent(fmt.Errorf("%w: %q", domain.ErrUnknownJobType, j.Type))
	}
	if err := p.validate(); err != nil {
		return nil, domain.Permanent(err)
	}
	return p, nil
}
