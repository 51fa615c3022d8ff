package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// SummaryStateKey is the kv key holding the persisted SummaryState.
const SummaryStateKey = "summary.state"

// SummaryVersion is the current ConversationSummary layout.
const SummaryVersion = 1

// ConversationSummary is the rolling structured summary of the chat log.
type ConversationSummary struct {
	Version     int      `json:"version"`
	Profile     []string `json:"profile"`
	Preferences []string `json:"preferences"`
	Goals       []string `json:"goals"`
	Decisions   []string `json:"decisions"`
	Constraints []string `json:"constraints"`
	Todos       []string `json:"todos"`
	Context     []string `json:"context"`
}

// Empty reports whether every section is empty.
func (s ConversationSummary) Empty() bool {
	for _, sec := range s.sections() {
		if len(sec.items) > 0 {
			return false
		}
	}
	return true
}

type summarySection struct {
	title string
	items []string
}

func (s ConversationSummary) sections() []summarySection {
	return []summarySection{
		{"Profile", s.Profile},
		{"Preferences", s.Preferences},
		{"Goals", s.Goals},
		{"Decisions", s.Decisions},
		{"Constraints", s.Constraints},
		{"Todos", s.Todos},
		{"Context", s.Context},
	}
}

// Render formats the summary as the plain-text block injected into prompts.
// Empty sections are omitted; an empty summary renders as "".
func (s ConversationSummary) Render() string {
	var b strings.Builder
	for _, sec := range s.sections() {
		if len(sec.items) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(sec.title)
		b.WriteString(":\n")
		for _, item := range sec.items {
			b.WriteString("- ")
			b.WriteString(item)
			b.WriteByte('\n')
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Normalize trims items, drops empty and duplicate entries, caps each
// section at maxItems (<= 0 means unbounded) and stamps the current version.
func (s ConversationSummary) Normalize(maxItems int) ConversationSummary {
	clean := func(in []string) []string {
		seen := make(map[string]struct{}, len(in))
		out := make([]string, 0, len(in))
		for _, item := range in {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			if _, dup := seen[item]; dup {
				continue
			}
			seen[item] = struct{}{}
			out = append(out, item)
			if maxItems > 0 && len(out) == maxItems {
				break
			}
		}
		return out
	}
	return ConversationSummary{
		Version:     SummaryVersion,
		Profile:     clean(s.Profile),
		Preferences: clean(s.Preferences),
		Goals:       clean(s.Goals),
		Decisions:   clean(s.Decisions),
		Constraints: clean(s.Constraints),
		Todos:       clean(s.Todos),
		Context:     clean(s.Context),
	}
}

// SummaryState is the summary together with its chat-log watermark.
type SummaryState struct {
	Summary ConversationSummary `json:"summary"`
	// LastConsumedMessageID is the id of the newest chat message folded into
	// Summary. It never decreases.
	LastConsumedMessageID int64 `json:"last_consumed_message_id"`
}

// LoadSummaryState reads the persisted state. A missing key yields the zero
// state; an undecodable value is reported as an error so callers can keep
// running with the zero state.
func LoadSummaryState(ctx context.Context, s Store) (SummaryState, error) {
	raw, err := s.GetKV(ctx, SummaryStateKey)
	if errors.Is(err, ErrNotFound) {
		return SummaryState{}, nil
	}
	if err != nil {
		return SummaryState{}, fmt.Errorf("load summary state: %w", err)
	}
	var st SummaryState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return SummaryState{}, fmt.Errorf("decode summary state: %w", err)
	}
	return st, nil
}

// SaveSummaryState persists st.
func SaveSummaryState(ctx context.Context, s Store, st SummaryState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode summary state: %w", err)
	}
	if err := s.SetKV(ctx, SummaryStateKey, string(data)); err != nil {
		return fmt.Errorf("save summary state: %w", err)
	}
	return nil
}

// ClearSummaryState drops the summary text but keeps the watermark so
// messages already folded in are not summarised again. When the stored state
// does not decode, the watermark is salvaged from the raw value or, failing
// that, moved to the newest chat message.
func ClearSummaryState(ctx context.Context, s Store) error {
	st, err := LoadSummaryState(ctx, s)
	if err != nil {
		st = SummaryState{LastConsumedMessageID: salvageWatermark(ctx, s)}
		if st.LastConsumedMessageID == 0 {
			if msgs, err := s.RecentChat(ctx, 1); err == nil && len(msgs) > 0 {
				st.LastConsumedMessageID = msgs[len(msgs)-1].ID
			}
		}
	}
	st.Summary = ConversationSummary{Version: SummaryVersion}
	return SaveSummaryState(ctx, s, st)
}

// salvageWatermark recovers LastConsumedMessageID from a stored state that
// failed to decode as a whole. It returns 0 when nothing can be recovered.
func salvageWatermark(ctx context.Context, s Store) int64 {
	raw, err := s.GetKV(ctx, SummaryStateKey)
	if err != nil {
		return 0
	}
	var partial struct {
		LastConsumedMessageID int64 `json:"last_consumed_message_id"`
	}
	if json.Unmarshal([]byte(raw), &partial) != nil || partial.LastConsumedMessageID < 0 {
		return 0
	}
	return partial.LastConsumedMessageID
}
