//go:build !integration

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestWithAttachesContextIDs(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithConversationID(context.Background(), "c1")
	ctx = WithTurnID(ctx, "t1")
	ctx = WithJobID(ctx, "j1")

	With(ctx, &base).Info().Msg("hello")

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	for k, want := range map[string]string{"conversation_id": "c1", "turn_id": "t1", "job_id": "j1"} {
		if got[k] != want {
			t.Errorf("expected %s=%s, got %v", k, want, got[k])
		}
	}
	if _, ok := got["trace_id"]; ok {
		t.Error("expected no trace_id when none is set")
	}
}

func TestRedact(t *testing.T) {
	if Redact("hello world", true) != "hello world" {
		t.Error("expected dev mode to keep text")
	}
	if Redact("short", false) != "***" {
		t.Error("expected short text to be masked")
	}
	if got := Redact("a longer message", false); got != "a lo...ge" {
		t.Errorf("unexpected preview %q", got)
	}
}
