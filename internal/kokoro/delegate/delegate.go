// Package delegate implements the optional model-backed helpers used by the
// memory subsystem: summarising the chat log, re-ranking memory candidates
// and extracting facts and notes from a finished exchange.
//
// Every helper is best effort. Replies that do not parse or do not match
// their JSON Schema are reported as llm.ErrParse so callers can keep their
// prior state.
package delegate

import (
	"context"
	"fmt"
	"strings"

	"github.com/bdobrica/kokoro/internal/kokoro/llm"
	"github.com/bdobrica/kokoro/internal/kokoro/memory"
	"github.com/bdobrica/kokoro/internal/kokoro/schema"
)

// completeJSON sends a single system+user exchange and decodes the reply
// against the named schema.
func completeJSON(ctx context.Context, c llm.Completer, system, user string, maxTokens int, schemaName string, out any) error {
	resp, err := c.Complete(ctx, llm.Request{
		System:      system,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: user}},
		Temperature: 0.2,
		MaxTokens:   maxTokens,
		JSON:        true,
	})
	if err != nil {
		return err
	}
	if err := schema.DecodeReply(schemaName, resp.Text, out); err != nil {
		return fmt.Errorf("%w: %v", llm.ErrParse, err)
	}
	return nil
}

// formatTranscript renders chat messages as "role: content" lines.
func formatTranscript(messages []memory.ChatMessage) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", m.Role, m.Content)
	}
	return b.String()
}
