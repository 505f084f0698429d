//go:build !integration

package flow

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"turnpipe/internal/domain/model"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(nil)
	return &l
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []DispatchRequest
	reply string
	err   error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, req DispatchRequest) (*DispatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	text := f.reply
	if text == "" {
		text = "agent:" + req.AgentID
	}
	return &DispatchResult{RunID: "run-" + req.AgentID, AssistantText: text}, nil
}

type fakeClassifier struct {
	label string
	err   error
	seen  []string
}

func (f *fakeClassifier) Classify(_ context.Context, _ string, _ string, labels []string) (string, error) {
	f.seen = labels
	return f.label, f.err
}

var errTransient = errors.New("network down")

func testTurn(text string) *model.Turn {
	return &model.Turn{ID: "t1", ConversationID: "c1", SessionID: "s1", Text: text, Status: model.TurnStatusRunning}
}
