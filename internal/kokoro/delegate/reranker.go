package delegate

import (
	"context"
	"fmt"
	"strings"

	"github.com/bdobrica/kokoro/internal/kokoro/llm"
	"github.com/bdobrica/kokoro/internal/kokoro/memory"
	"github.com/bdobrica/kokoro/internal/kokoro/schema"
)

const rerankSystemPrompt = `You rank stored memories by how useful they are for answering the user's message.
Reply with one JSON object {"ids": [...]} listing at most the requested number of ids, best first.
Only use ids from the list. Leave out memories that do not help.`

// Reranker implements memory.Reranker with a chat model. Only the already
// filtered candidates are sent, never the whole memory.
type Reranker struct {
	llm llm.Completer
}

// NewReranker returns a Reranker backed by c.
func NewReranker(c llm.Completer) *Reranker {
	return &Reranker{llm: c}
}

// Rerank implements memory.Reranker.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []memory.Candidate, limit int) ([]string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Message: %s\n\nReturn at most %d ids.\n\nMemories:\n", query, limit)
	for _, c := range candidates {
		fmt.Fprintf(&b, "%s [%s] %s\n", c.ID, c.Kind, c.Text)
	}

	var out struct {
		IDs []string `json:"ids"`
	}
	if err := completeJSON(ctx, r.llm, rerankSystemPrompt, b.String(), 200, schema.Rerank, &out); err != nil {
		return nil, fmt.Errorf("reranker: %w", err)
	}
	return out.IDs, nil
}

var _ memory.Reranker = (*Reranker)(nil)
