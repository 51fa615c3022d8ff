package llm

import (
	"errors"
	"math"
	"strings"
	"unicode"
)

// ErrNoBudget is returned when a model's limits leave no room for input.
var ErrNoBudget = errors.New("llm: no input budget")

const (
	// DefaultBudgetMargin is held back from every context window.
	DefaultBudgetMargin = 256
	// DefaultTruncateLookback is how many characters truncation may step back
	// to end on a sentence or clause boundary.
	DefaultTruncateLookback = 80

	tokenSafetyFactor = 1.15
	ellipsis          = "…"
)

// EstimateTokens approximates the token count of s: one token per CJK code
// point, a quarter token for everything else, scaled by 1.15 and rounded up.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	var cjk, other int
	for _, r := range s {
		if isCJK(r) {
			cjk++
		} else {
			other++
		}
	}
	raw := float64(cjk) + float64(other)*0.25
	return int(math.Ceil(raw * tokenSafetyFactor))
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

// Budgeter assembles prompts that fit a model's context window.
type Budgeter struct {
	// Margin is subtracted from the context window besides the output limit.
	Margin int
	// Lookback bounds the search for a sentence boundary when truncating.
	Lookback int
}

// NewBudgeter returns a Budgeter with default margin and lookback.
func NewBudgeter() *Budgeter {
	return &Budgeter{Margin: DefaultBudgetMargin, Lookback: DefaultTruncateLookback}
}

// InputBudget is the number of tokens available for the prompt.
func (b *Budgeter) InputBudget(l Limits) int {
	return l.Context - l.Output - b.Margin
}

// PromptInput is the raw material of a chat prompt. Memory and Summary are
// appended to System as separate blocks.
type PromptInput struct {
	System  string
	Memory  string
	Summary string
	// History is chronological.
	History []Message
	User    string
}

// Prompt is an assembled, budget-checked prompt.
type Prompt struct {
	System string
	// Messages is the retained history in chronological order followed by
	// the current user turn.
	Messages []Message
	Budget   int
	Tokens   int

	TruncatedUser   bool
	TruncatedSystem bool
	DroppedHistory  int
}

// Request converts p into a completion request.
func (p Prompt) Request(temperature float64, maxTokens int) Request {
	return Request{System: p.System, Messages: p.Messages, Temperature: temperature, MaxTokens: maxTokens}
}

// Assemble fits in into the input budget of l. When everything does not fit
// it first shrinks the user turn (leaving the system prompt at least a third
// of the budget), then the system prompt, then keeps as much history as fits,
// newest first. The estimated total never exceeds the budget.
func (b *Budgeter) Assemble(in PromptInput, l Limits) (Prompt, error) {
	budget := b.InputBudget(l)
	if budget <= 0 {
		return Prompt{}, ErrNoBudget
	}

	system := joinBlocks(in.System, in.Memory, in.Summary)
	user := in.User
	p := Prompt{Budget: budget}

	sysTok, userTok := EstimateTokens(system), EstimateTokens(user)
	histTok := 0
	for _, m := range in.History {
		histTok += EstimateTokens(m.Content)
	}

	if sysTok+userTok+histTok <= budget {
		p.System = system
		p.Messages = append(append([]Message(nil), in.History...), Message{Role: RoleUser, Content: user})
		p.Tokens = sysTok + userTok + histTok
		return p, nil
	}

	userCap := budget - min(sysTok, budget/3)
	if userTok > userCap {
		user = b.Truncate(user, userCap)
		userTok = EstimateTokens(user)
		p.TruncatedUser = true
	}

	sysCap := budget - userTok
	if sysTok > sysCap {
		system = b.Truncate(system, sysCap)
		sysTok = EstimateTokens(system)
		p.TruncatedSystem = true
	}

	remaining := budget - sysTok - userTok
	kept := make([]Message, 0, len(in.History))
	for i := len(in.History) - 1; i >= 0; i-- {
		cost := EstimateTokens(in.History[i].Content)
		if cost > remaining {
			// Older turns are dropped as one run so no reply loses its question.
			break
		}
		remaining -= cost
		kept = append(kept, in.History[i])
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}

	p.System = system
	p.Messages = append(kept, Message{Role: RoleUser, Content: user})
	p.DroppedHistory = len(in.History) - len(kept)
	p.Tokens = budget - remaining
	return p, nil
}

// Truncate cuts s so its estimate fits maxTokens, preferring to end on a
// sentence or clause boundary within the lookback window, and marks the cut
// with an ellipsis.
func (b *Budgeter) Truncate(s string, maxTokens int) string {
	if EstimateTokens(s) <= maxTokens {
		return s
	}
	if maxTokens <= 0 {
		return ""
	}
	runes := []rune(s)

	// Largest prefix that still fits with the ellipsis attached.
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if EstimateTokens(string(runes[:mid])+ellipsis) <= maxTokens {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	n := lo
	if n == 0 {
		return ""
	}

	lookback := b.Lookback
	if lookback <= 0 {
		lookback = DefaultTruncateLookback
	}
	for i := n - 1; i >= 0 && i >= n-lookback; i-- {
		if isBoundary(runes[i]) {
			n = i + 1
			break
		}
	}

	cut := strings.TrimSpace(string(runes[:n]))
	if cut == "" {
		return ""
	}
	return cut + ellipsis
}

func isBoundary(r rune) bool {
	switch r {
	case '.', '!', '?', ';', ',', '\n', '。', '！', '？', '；', '，', '、':
		return true
	}
	return false
}

func joinBlocks(blocks ...string) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b = strings.TrimSpace(b); b != "" {
			parts = append(parts, b)
		}
	}
	return strings.Join(parts, "\n\n")
}
