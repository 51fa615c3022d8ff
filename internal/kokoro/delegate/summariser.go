package delegate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bdobrica/kokoro/internal/kokoro/llm"
	"github.com/bdobrica/kokoro/internal/kokoro/memory"
	"github.com/bdobrica/kokoro/internal/kokoro/schema"
)

const summariserSystemPrompt = `You maintain a structured memory of a conversation between a user and their desktop companion.
Merge the new messages into the current summary. Keep items short and factual. Drop items that are no longer true.
Never record passwords, keys or tokens.
Reply with one JSON object with the string-array fields: profile, preferences, goals, decisions, constraints, todos, context.`

// Summariser implements memory.Summariser with a chat model.
type Summariser struct {
	llm       llm.Completer
	maxTokens int
}

// NewSummariser returns a Summariser backed by c.
func NewSummariser(c llm.Completer) *Summariser {
	return &Summariser{llm: c, maxTokens: 800}
}

type summaryWire struct {
	Profile     []string `json:"profile"`
	Preferences []string `json:"preferences"`
	Goals       []string `json:"goals"`
	Decisions   []string `json:"decisions"`
	Constraints []string `json:"constraints"`
	Todos       []string `json:"todos"`
	Context     []string `json:"context"`
}

// Summarise implements memory.Summariser.
func (s *Summariser) Summarise(ctx context.Context, prior memory.ConversationSummary, messages []memory.ChatMessage) (memory.ConversationSummary, error) {
	if len(messages) == 0 {
		return prior, nil
	}
	current, err := json.Marshal(summaryWire{
		Profile:     prior.Profile,
		Preferences: prior.Preferences,
		Goals:       prior.Goals,
		Decisions:   prior.Decisions,
		Constraints: prior.Constraints,
		Todos:       prior.Todos,
		Context:     prior.Context,
	})
	if err != nil {
		return memory.ConversationSummary{}, fmt.Errorf("summariser: encode prior: %w", err)
	}
	user := "Current summary:\n" + string(current) + "\n\nNew messages:\n" + formatTranscript(messages)

	var out summaryWire
	if err := completeJSON(ctx, s.llm, summariserSystemPrompt, user, s.maxTokens, schema.Summary, &out); err != nil {
		return memory.ConversationSummary{}, fmt.Errorf("summariser: %w", err)
	}
	return memory.ConversationSummary{
		Version:     memory.SummaryVersion,
		Profile:     out.Profile,
		Preferences: out.Preferences,
		Goals:       out.Goals,
		Decisions:   out.Decisions,
		Constraints: out.Constraints,
		Todos:       out.Todos,
		Context:     out.Context,
	}, nil
}

var _ memory.Summariser = (*Summariser)(nil)
