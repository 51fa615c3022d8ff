package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bdobrica/kokoro/common/redact"
	"github.com/bdobrica/kokoro/internal/kokoro/memory"
)

// Prefix is the leading character of every slash command.
const Prefix = "/"

// recentShown is the number of notes and facts listed by /memory.
const recentShown = 5

// RefuseSensitive is the reply to a /remember that looks like a secret.
const RefuseSensitive = "I won't save that: it looks like a password, token or key."

// Handlers holds the memory command handlers and their dependencies
type Handlers struct {
	store   memory.Store
	summary *memory.SummaryEngine
	ranker  *memory.Ranker
}

// NewHandlers creates a new Handlers instance. summary and ranker may be
// nil.
func NewHandlers(s memory.Store, summary *memory.SummaryEngine, ranker *memory.Ranker) *Handlers {
	if ranker == nil {
		ranker = memory.NewRanker()
	}
	return &Handlers{store: s, summary: summary, ranker: ranker}
}

// NewMemoryRouter returns a router with every memory command registered.
func NewMemoryRouter(h *Handlers) *Router {
	r := NewRouter(Prefix)
	r.Register("remember", h.HandleRemember)
	r.Register("summary", h.HandleSummary)
	r.Register("summary.clear", h.HandleSummaryClear)
	r.Register("memory", h.HandleMemory)
	r.Register("memory.search", h.HandleMemorySearch)
	r.Register("memory.clear", h.HandleMemoryClear)
	r.Register("forget", h.HandleForget)
	return r
}

// HandleRemember stores the command text as a note.
func (h *Handlers) HandleRemember(ctx context.Context, cmd *Command) (string, error) {
	text := strings.TrimSpace(cmd.Rest)
	if text == "" {
		return usage("/remember <text>")
	}
	if redact.Sensitive(text) {
		return RefuseSensitive, nil
	}
	n, err := h.store.UpsertNote(ctx, memory.KindNote, text)
	if err != nil {
		return "", fmt.Errorf("remember: %w", err)
	}
	return fmt.Sprintf("Saved note #%d.", n.ID), nil
}

// HandleSummary shows the rolling conversation summary.
func (h *Handlers) HandleSummary(ctx context.Context, cmd *Command) (string, error) {
	if cmd.Subcommand != "" {
		return usage("/summary [clear]")
	}
	st, err := memory.LoadSummaryState(ctx, h.store)
	if err != nil {
		return "", fmt.Errorf("summary: %w", err)
	}
	if st.Summary.Empty() {
		return "No summary yet.", nil
	}
	return st.Summary.Render(), nil
}

// HandleSummaryClear drops the stored summary.
func (h *Handlers) HandleSummaryClear(ctx context.Context, _ *Command) (string, error) {
	var err error
	if h.summary != nil {
		err = h.summary.Clear(ctx)
	} else {
		err = memory.ClearSummaryState(ctx, h.store)
	}
	if err != nil {
		return "", fmt.Errorf("summary clear: %w", err)
	}
	return "Summary cleared.", nil
}

// HandleMemory lists counts and the most recent notes and facts.
func (h *Handlers) HandleMemory(ctx context.Context, cmd *Command) (string, error) {
	if cmd.Subcommand != "" {
		return usage("/memory [search <query> | clear notes|facts|all]")
	}
	notes, err := h.store.ListNotes(ctx, 0)
	if err != nil {
		return "", fmt.Errorf("memory: %w", err)
	}
	facts, err := h.store.ListFacts(ctx, 0)
	if err != nil {
		return "", fmt.Errorf("memory: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Memory (%s): %d notes, %d facts\n", h.store.Backend(), len(notes), len(facts))
	if len(notes) > 0 {
		sb.WriteString("\nRecent notes:\n")
		for _, n := range notes[:min(len(notes), recentShown)] {
			fmt.Fprintf(&sb, "• #%d [%s] %s\n", n.ID, n.Kind, n.Content)
		}
	}
	if len(facts) > 0 {
		sb.WriteString("\nRecent facts:\n")
		for _, f := range facts[:min(len(facts), recentShown)] {
			fmt.Fprintf(&sb, "• #%d %s: %s\n", f.ID, f.Key, f.Value)
		}
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// HandleMemorySearch ranks notes and facts against the query.
func (h *Handlers) HandleMemorySearch(ctx context.Context, cmd *Command) (string, error) {
	query := cmd.ArgText()
	if query == "" {
		return usage("/memory search <query>")
	}
	notes, err := h.store.ListNotes(ctx, 0)
	if err != nil {
		return "", fmt.Errorf("memory search: %w", err)
	}
	facts, err := h.store.ListFacts(ctx, 0)
	if err != nil {
		return "", fmt.Errorf("memory search: %w", err)
	}
	hits := h.ranker.Rank(ctx, query, append(memory.NoteCandidates(notes), memory.FactCandidates(facts)...), 10)
	if len(hits) == 0 {
		return "Nothing found.", nil
	}
	var sb strings.Builder
	for _, c := range hits {
		fmt.Fprintf(&sb, "• %s [%s] %s\n", c.ID, c.Kind, c.Text)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// HandleMemoryClear deletes notes, facts or both.
func (h *Handlers) HandleMemoryClear(ctx context.Context, cmd *Command) (string, error) {
	what, _ := cmd.GetArg(0)
	var notes, facts int
	var err error
	switch strings.ToLower(what) {
	case "notes":
		notes, err = h.store.ClearNotes(ctx)
	case "facts":
		facts, err = h.store.ClearFacts(ctx)
	case "all":
		if notes, err = h.store.ClearNotes(ctx); err == nil {
			facts, err = h.store.ClearFacts(ctx)
		}
	default:
		return usage("/memory clear notes|facts|all")
	}
	if err != nil {
		return "", fmt.Errorf("memory clear: %w", err)
	}
	return fmt.Sprintf("Cleared %d notes and %d facts.", notes, facts), nil
}

// HandleForget deletes one note or fact by id.
func (h *Handlers) HandleForget(ctx context.Context, cmd *Command) (string, error) {
	raw, ok := cmd.GetArg(0)
	if !ok {
		return usage("/forget note|fact <id>")
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(raw, "#"), 10, 64)
	if err != nil || id <= 0 {
		return usage("/forget note|fact <id>")
	}
	switch cmd.Subcommand {
	case "note":
		err = h.store.DeleteNote(ctx, id)
	case "fact":
		err = h.store.DeleteFact(ctx, id)
	default:
		return usage("/forget note|fact <id>")
	}
	if errors.Is(err, memory.ErrNotFound) {
		return fmt.Sprintf("No %s #%d.", cmd.Subcommand, id), nil
	}
	if err != nil {
		return "", fmt.Errorf("forget %s: %w", cmd.Subcommand, err)
	}
	return fmt.Sprintf("Forgot %s #%d.", cmd.Subcommand, id), nil
}
