package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bdobrica/kokoro/common/redact"
	"github.com/bdobrica/kokoro/internal/kokoro/memory"
)

// ClockTool reports the local date and time.
type ClockTool struct {
	Now func() time.Time
}

// Definition implements Tool.
func (t *ClockTool) Definition() Definition {
	return Definition{
		Name:        "clock.now",
		Description: "Returns the current local date, time and weekday.",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
	}
}

// Execute implements Tool.
func (t *ClockTool) Execute(_ context.Context, _ map[string]any) (string, error) {
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	return now().Format("Monday 2006-01-02 15:04 MST"), nil
}

// RememberTool stores a note on the model's behalf.
type RememberTool struct {
	Store memory.Store
}

// Definition implements Tool.
func (t *RememberTool) Definition() Definition {
	return Definition{
		Name:        "memory.remember",
		Description: "Saves a short note about the user for later conversations.",
		Parameters: map[string]any{
			"type":     "object",
			"required": []string{"content"},
			"properties": map[string]any{
				"content": map[string]any{"type": "string", "minLength": 1, "maxLength": 400},
				"kind":    map[string]any{"type": "string", "enum": []string{"note", "profile", "preference", "project"}},
			},
		},
		MaxPerMinute: 6,
	}
}

// Execute implements Tool.
func (t *RememberTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	content, _ := stringArg(args, "content")
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("memory.remember: missing required argument 'content'")
	}
	if redact.Sensitive(content) {
		return "", memory.ErrSensitiveContent
	}
	kind, _ := stringArg(args, "kind")
	n, err := t.Store.UpsertNote(ctx, kind, content)
	if err != nil {
		return "", fmt.Errorf("memory.remember: %w", err)
	}
	return fmt.Sprintf("saved note #%d", n.ID), nil
}

// RecallTool searches stored notes and facts.
type RecallTool struct {
	Store  memory.Store
	Ranker *memory.Ranker
}

// Definition implements Tool.
func (t *RecallTool) Definition() Definition {
	return Definition{
		Name:        "memory.search",
		Description: "Searches saved notes and facts about the user.",
		Parameters: map[string]any{
			"type":     "object",
			"required": []string{"query"},
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "minLength": 1},
				"limit": map[string]any{"type": "integer", "minimum": 1, "maximum": 20},
			},
		},
	}
}

// Execute implements Tool.
func (t *RecallTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	query, _ := stringArg(args, "query")
	limit := 5
	if v, ok := args["limit"].(float64); ok {
		limit = int(v)
	}
	notes, err := t.Store.ListNotes(ctx, 0)
	if err != nil {
		return "", fmt.Errorf("memory.search: %w", err)
	}
	facts, err := t.Store.ListFacts(ctx, 0)
	if err != nil {
		return "", fmt.Errorf("memory.search: %w", err)
	}
	ranker := t.Ranker
	if ranker == nil {
		ranker = memory.NewRanker()
	}
	cands := append(memory.NoteCandidates(notes), memory.FactCandidates(facts)...)
	hits := ranker.Rank(ctx, query, cands, limit)
	if len(hits) == 0 {
		return "no memories found", nil
	}
	var b strings.Builder
	for _, h := range hits {
		fmt.Fprintf(&b, "- [%s] %s\n", h.Kind, h.Text)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
