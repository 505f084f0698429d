// Package knowledge holds KnowledgeBase implementations. Retrieval itself is
// an external collaborator; the noop base lets agents run without one.
package knowledge

import (
	"context"

	"turnpipe/internal/domain/ports/adapter"
)

var _ adapter.KnowledgeBase = Noop{}

// Noop never returns chunks.
type Noop struct{}

func (Noop) Search(context.Context, string, string, int) ([]adapter.KnowledgeChunk, error) {
	return nil, nil
}
