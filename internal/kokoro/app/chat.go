package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bdobrica/kokoro/common/redact"
	"github.com/bdobrica/kokoro/common/trace"
	"github.com/bdobrica/kokoro/internal/kokoro/behavior"
	"github.com/bdobrica/kokoro/internal/kokoro/commands"
	"github.com/bdobrica/kokoro/internal/kokoro/config"
	"github.com/bdobrica/kokoro/internal/kokoro/llm"
	"github.com/bdobrica/kokoro/internal/kokoro/memory"
	"github.com/bdobrica/kokoro/internal/kokoro/observability"
)

// ErrEmptyMessage is returned by Chat for blank input.
var ErrEmptyMessage = errors.New("app: empty message")

const (
	taskSummary = "summary"
	taskExtract = "extract"
)

// Reply is the outcome of one chat turn.
type Reply struct {
	Text string
	// Command is set when the message was handled as a slash command.
	Command bool
	Verdict llm.Verdict
	Backend string
	// ToolCalls counts the tool invocations executed during the turn.
	ToolCalls int
	// Refused is set when no backend could answer and Text is the refusal.
	Refused bool
}

// Chat runs one user turn. Slash commands are answered locally. Otherwise
// the message is persisted before the provider is called, the prompt is
// built from ranked memories and the rolling summary, and tool calls in the
// reply are executed for a bounded number of rounds. Provider failures
// produce the refusal phrase rather than an error.
func (c *Core) Chat(ctx context.Context, text string) (Reply, error) {
	ctx = trace.Ensure(ctx)
	log := observability.WithTrace(ctx, c.logger)

	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, ErrEmptyMessage
	}
	if c.running.Load() {
		if err := c.send(ctx, interactionEvent{in: behavior.Interaction{Kind: behavior.InteractionChat, TS: c.now()}}); err != nil {
			log.Warn("app: chat interaction not delivered", "err", err)
		}
	}

	cfg, ranker, cmds := c.snapshotConfig()
	if out, err := cmds.Route(ctx, text); !errors.Is(err, commands.ErrNotACommand) {
		if err != nil {
			log.Warn("app: command failed", "err", err)
			out = "Command failed: " + err.Error()
		}
		return Reply{Text: out, Command: true}, nil
	}

	history, err := c.store.RecentChat(ctx, cfg.Chat.HistoryMessages)
	if err != nil {
		log.Warn("app: chat history unavailable", "err", err)
		history = nil
	}
	if _, err := c.store.AppendChat(ctx, memory.RoleUser, text); err != nil {
		log.Warn("app: persist user message failed", "err", err)
	}

	limits, err := c.router.Limits()
	if err != nil {
		log.Warn("app: no chat backend", "err", err)
		return Reply{Text: c.router.Refusal(), Verdict: llm.VerdictRefusal, Refused: true}, nil
	}

	in := llm.PromptInput{
		System:  c.systemPrompt(cfg),
		Memory:  c.memoryBlock(ctx, cfg, ranker, text),
		Summary: c.summaryBlock(ctx),
		History: toMessages(history),
		User:    text,
	}
	sin := llm.SanitizeInput{UserText: text, PreviousAssistant: lastAssistant(history), State: string(c.currentState())}

	reply, err := c.complete(ctx, cfg, in, limits, sin)
	if err != nil {
		var pe *llm.ProviderError
		if errors.As(err, &pe) {
			log.Warn("app: provider failed", "backend", pe.Backend, "status", pe.Status, "err", pe.Err)
		} else {
			log.Warn("app: chat completion failed", "err", err)
		}
		return Reply{Text: c.router.Refusal(), Verdict: llm.VerdictRefusal, Refused: true}, nil
	}

	if reply.Verdict != llm.VerdictRefusal {
		if _, err := c.store.AppendChat(ctx, memory.RoleAssistant, reply.Text); err != nil {
			log.Warn("app: persist assistant message failed", "err", err)
		}
	}
	c.afterTurn(ctx, cfg, text, reply)
	log.Info("app: chat turn",
		"backend", reply.Backend,
		"verdict", reply.Verdict,
		"tool_calls", reply.ToolCalls,
		"reply_len", len(reply.Text),
	)
	return reply, nil
}

// complete runs the provider and tool rounds for one turn.
func (c *Core) complete(ctx context.Context, cfg config.Config, in llm.PromptInput, limits llm.Limits, sin llm.SanitizeInput) (Reply, error) {
	log := observability.WithTrace(ctx, c.logger)
	var out Reply
	for round := 0; ; round++ {
		prompt, err := c.budgeter.Assemble(in, limits)
		if err != nil {
			return Reply{}, err
		}
		if prompt.DroppedHistory > 0 || prompt.TruncatedUser || prompt.TruncatedSystem {
			log.Debug("app: prompt trimmed to budget",
				"dropped_history", prompt.DroppedHistory,
				"truncated_user", prompt.TruncatedUser,
				"truncated_system", prompt.TruncatedSystem,
			)
		}
		resp, err := c.router.Complete(ctx, prompt.Request(cfg.Chat.Temperature, 0))
		if err != nil {
			return Reply{}, err
		}
		out.Backend = resp.Backend

		calls, visible, skipped := llm.ParseToolCalls(resp.Text)
		if skipped > 0 {
			log.Warn("app: tool block skipped", "blocks", skipped, "err", llm.ErrParse)
		}
		if len(calls) == 0 || round >= cfg.Chat.MaxToolRounds {
			out.Text, out.Verdict = c.router.Sanitize(ctx, visible, sin)
			return out, nil
		}

		results := c.runTools(ctx, calls)
		out.ToolCalls += len(calls)
		in.History = append(in.History,
			llm.Message{Role: llm.RoleUser, Content: in.User},
			llm.Message{Role: llm.RoleAssistant, Content: resp.Text},
		)
		in.User = "Tool results:\n" + results + "\nAnswer the user now."
	}
}

func (c *Core) runTools(ctx context.Context, calls []llm.ToolCall) string {
	log := observability.WithTrace(ctx, c.logger)
	var b strings.Builder
	for _, call := range calls {
		res, err := c.tools.Execute(ctx, call.Name, call.Arguments)
		if err != nil {
			log.Info("app: tool call failed", "tool", call.Name, "err", err)
			res = "error: " + err.Error()
		}
		fmt.Fprintf(&b, "[%s]\n%s\n", call.Name, res)
	}
	return b.String()
}

func (c *Core) systemPrompt(cfg config.Config) string {
	desc := c.tools.Describe()
	if desc == "" {
		return cfg.Chat.SystemPrompt
	}
	return cfg.Chat.SystemPrompt + "\n\n" + desc
}

// memoryBlock renders the memories most relevant to text.
func (c *Core) memoryBlock(ctx context.Context, cfg config.Config, ranker *memory.Ranker, text string) string {
	log := observability.WithTrace(ctx, c.logger)
	notes, err := c.store.ListNotes(ctx, 0)
	if err != nil {
		log.Warn("app: list notes failed", "err", err)
	}
	facts, err := c.store.ListFacts(ctx, 0)
	if err != nil {
		log.Warn("app: list facts failed", "err", err)
	}
	candidates := append(memory.NoteCandidates(notes), memory.FactCandidates(facts)...)
	ranked := ranker.Rank(ctx, text, candidates, cfg.Ranking.PromptItems)
	if len(ranked) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("What you remember about the user:")
	for _, r := range ranked {
		fmt.Fprintf(&b, "\n- [%s] %s", r.Kind, r.Text)
	}
	return b.String()
}

func (c *Core) summaryBlock(ctx context.Context) string {
	st, err := c.summary.Current(ctx)
	if err != nil {
		observability.WithTrace(ctx, c.logger).Warn("app: summary unavailable", "err", err)
		return ""
	}
	body := st.Summary.Render()
	if body == "" {
		return ""
	}
	return "Conversation so far:\n" + body
}

// afterTurn queues the background side effects of a completed turn.
func (c *Core) afterTurn(ctx context.Context, cfg config.Config, user string, reply Reply) {
	if cfg.Summary.Enabled {
		c.submitSummary()
	}
	if !cfg.Chat.Extract || reply.Verdict == llm.VerdictRefusal {
		return
	}
	traceID := trace.FromContext(ctx)
	assistant := reply.Text
	ok := c.queue.Submit(Task{Name: taskExtract, Run: func(ctx context.Context) {
		c.extract(trace.WithTraceID(ctx, traceID), user, assistant)
	}})
	if !ok {
		observability.WithTrace(ctx, c.logger).Debug("app: extraction skipped", "reason", "busy")
	}
}

func (c *Core) submitSummary() {
	c.queue.Submit(Task{Name: taskSummary, Run: func(ctx context.Context) {
		outcome := c.summary.Update(ctx)
		c.logger.Debug("app: summary update", "outcome", outcome)
	}})
}

// extract stores the durable memories found in one exchange. Secret-like
// input is masked before it leaves the process and secret-like results are
// dropped without notice.
func (c *Core) extract(ctx context.Context, user, assistant string) {
	log := observability.WithTrace(ctx, c.logger)
	ex, err := c.extractor.Extract(ctx, redact.Mask(user), redact.Mask(assistant))
	if err != nil {
		log.Debug("app: extraction failed", "err", err)
		return
	}
	var dropped, saved int
	for _, f := range ex.Facts {
		if redact.Sensitive(f.Key) || redact.Sensitive(f.Value) {
			dropped++
			continue
		}
		if _, err := c.store.UpsertFact(ctx, f); err != nil {
			log.Warn("app: save extracted fact failed", "err", err)
			continue
		}
		saved++
	}
	for _, n := range ex.Notes {
		if redact.Sensitive(n.Content) {
			dropped++
			continue
		}
		kind := n.Kind
		if kind == "" {
			kind = memory.KindNote
		}
		if _, err := c.store.UpsertNote(ctx, kind, n.Content); err != nil {
			log.Warn("app: save extracted note failed", "err", err)
			continue
		}
		saved++
	}
	log.Debug("app: extraction stored", "saved", saved, "dropped", dropped)
}

func (c *Core) currentState() behavior.State {
	if s, ok := c.state.Load().(behavior.State); ok {
		return s
	}
	return behavior.StateIdle
}

func toMessages(history []memory.ChatMessage) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		role := llm.RoleUser
		if m.Role == memory.RoleAssistant {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}

func lastAssistant(history []memory.ChatMessage) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == memory.RoleAssistant {
			return history[i].Content
		}
	}
	return ""
}
