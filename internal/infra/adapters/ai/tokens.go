package ai

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"turnpipe/internal/domain/ports/adapter"
)

var _ adapter.TokenCounter = (*TokenCounter)(nil)

const fallbackEncoding = "cl100k_base"

var encodings sync.Map // model -> *tiktoken.Tiktoken, or nil when unavailable

func encodingFor(model string) *tiktoken.Tiktoken {
	if v, ok := encodings.Load(model); ok {
		enc, _ := v.(*tiktoken.Tiktoken)
		return enc
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
	}
	if err != nil {
		enc = nil
	}
	encodings.Store(model, enc)
	return enc
}

// estimateTokens counts with the model's BPE when it can be loaded, and
// falls back to ~4 bytes per token otherwise.
func estimateTokens(model, text string) int {
	if text == "" {
		return 0
	}
	if enc := encodingFor(model); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}

// TokenCounter estimates prompt size per agent, using the model the agent is
// configured with.
type TokenCounter struct {
	models       map[string]string
	defaultModel string
}

func NewTokenCounter(agentModels map[string]string, defaultModel string) *TokenCounter {
	return &TokenCounter{models: agentModels, defaultModel: defaultModel}
}

func (c *TokenCounter) Count(agentID, text string) int {
	return estimateTokens(modelOrDefault(c.models[agentID], c.defaultModel), text)
}
