package ai

import (
	"context"
	"fmt"
	"strings"

	"turnpipe/internal/domain/ports/adapter"
)

var _ adapter.Classifier = (*LLMClassifier)(nil)

// LLMClassifier asks a chat model for exactly one label. It returns whatever
// the model answered, trimmed; the router decides if that is a valid label.
type LLMClassifier struct {
	chat  adapter.ChatModel
	model string
}

func NewLLMClassifier(chat adapter.ChatModel, model string) *LLMClassifier {
	return &LLMClassifier{chat: chat, model: model}
}

func (c *LLMClassifier) Classify(ctx context.Context, instructions, text string, labels []string) (string, error) {
	var sys strings.Builder
	sys.WriteString("You are a routing classifier. Reply with exactly one label from the list and nothing else.\n")
	if instructions != "" {
		sys.WriteString(instructions)
		sys.WriteString("\n")
	}
	fmt.Fprintf(&sys, "Labels: %s", strings.Join(labels, ", "))

	out, _, err := c.chat.ChatWithUsage(ctx, c.model, []adapter.Message{
		{Role: "system", Content: sys.String()},
		{Role: "user", Content: text},
	})
	if err != nil {
		return "", fmt.Errorf("classify: %w", err)
	}
	return cleanLabel(out), nil
}

// cleanLabel strips quoting and trailing punctuation models like to add.
func cleanLabel(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, "`\"'*. ")
	s = strings.TrimPrefix(s, "Label:")
	return strings.TrimSpace(s)
}
