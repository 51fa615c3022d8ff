package delegate

import (
	"context"
	"fmt"
	"strings"

	"github.com/bdobrica/kokoro/internal/kokoro/llm"
	"github.com/bdobrica/kokoro/internal/kokoro/memory"
	"github.com/bdobrica/kokoro/internal/kokoro/schema"
)

const extractSystemPrompt = `You pick durable memories out of one exchange between a user and their desktop companion.
Facts are keyed, stable attributes (use dotted keys such as user.name or user.city). Notes are short free-form reminders.
Use kind "profile" for who the user is, "preference" for likes and dislikes, "project" for ongoing work, otherwise "note".
Never record passwords, keys or tokens. Reply with one JSON object {"facts": [...], "notes": [...]}; empty arrays are fine.`

// ExtractedNote is a note proposed by the extractor.
type ExtractedNote struct {
	Kind    string `json:"kind"`
	Content string `json:"content"`
}

// Extraction is the extractor's proposal for one exchange.
type Extraction struct {
	Facts []memory.Fact
	Notes []ExtractedNote
}

// Empty reports whether nothing was proposed.
func (e Extraction) Empty() bool { return len(e.Facts) == 0 && len(e.Notes) == 0 }

// Extractor proposes facts and notes from a finished exchange.
type Extractor struct {
	llm llm.Completer
}

// NewExtractor returns an Extractor backed by c.
func NewExtractor(c llm.Completer) *Extractor {
	return &Extractor{llm: c}
}

// Extract asks the model for memories worth keeping from one exchange.
func (e *Extractor) Extract(ctx context.Context, userText, assistantText string) (Extraction, error) {
	user := "user: " + userText + "\nassistant: " + assistantText

	var out struct {
		Facts []struct {
			Kind  string `json:"kind"`
			Key   string `json:"key"`
			Value string `json:"value"`
		} `json:"facts"`
		Notes []ExtractedNote `json:"notes"`
	}
	if err := completeJSON(ctx, e.llm, extractSystemPrompt, user, 400, schema.Extract, &out); err != nil {
		return Extraction{}, fmt.Errorf("extractor: %w", err)
	}

	var ex Extraction
	for _, f := range out.Facts {
		key, value := strings.TrimSpace(f.Key), strings.TrimSpace(f.Value)
		if key == "" || value == "" {
			continue
		}
		ex.Facts = append(ex.Facts, memory.Fact{Kind: f.Kind, Key: key, Value: value})
	}
	for _, n := range out.Notes {
		if n.Content = strings.TrimSpace(n.Content); n.Content != "" {
			ex.Notes = append(ex.Notes, n)
		}
	}
	return ex, nil
}
