package memory

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bdobrica/kokoro/common/redact"
)

// Summariser folds new chat messages into a prior summary.
type Summariser interface {
	Summarise(ctx context.Context, prior ConversationSummary, messages []ChatMessage) (ConversationSummary, error)
}

// SummaryOutcome reports what a SummaryEngine.Update call did.
type SummaryOutcome string

const (
	SummaryUpdated   SummaryOutcome = "updated"
	SummaryBusy      SummaryOutcome = "busy"
	SummaryDebounced SummaryOutcome = "debounced"
	SummaryNotEnough SummaryOutcome = "not_enough_messages"
	SummaryFailed    SummaryOutcome = "failed"
	SummaryRejected  SummaryOutcome = "rejected"
)

// SummaryConfig tunes the SummaryEngine.
type SummaryConfig struct {
	// MinInterval is the minimum time between two summariser calls.
	MinInterval time.Duration `yaml:"min_interval"`
	// MinNewMessages is how many unconsumed messages are required to run.
	MinNewMessages int `yaml:"min_new_messages"`
	// BootstrapMessages is how many recent messages seed the first summary.
	BootstrapMessages int `yaml:"bootstrap_messages"`
	// MaxBatch caps the messages sent in one call.
	MaxBatch int `yaml:"max_batch"`
	// MaxItems caps each summary section.
	MaxItems int `yaml:"max_items"`
	// Timeout bounds one summariser call.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultSummaryConfig returns the stock engine settings.
func DefaultSummaryConfig() SummaryConfig {
	return SummaryConfig{
		MinInterval:       2500 * time.Millisecond,
		MinNewMessages:    2,
		BootstrapMessages: 40,
		MaxBatch:          80,
		MaxItems:          8,
		Timeout:           30 * time.Second,
	}
}

func (c SummaryConfig) withDefaults() SummaryConfig {
	d := DefaultSummaryConfig()
	if c.MinInterval <= 0 {
		c.MinInterval = d.MinInterval
	}
	if c.MinNewMessages <= 0 {
		c.MinNewMessages = d.MinNewMessages
	}
	if c.BootstrapMessages <= 0 {
		c.BootstrapMessages = d.BootstrapMessages
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = d.MaxBatch
	}
	if c.MaxItems <= 0 {
		c.MaxItems = d.MaxItems
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	return c
}

// SummaryEngine maintains the rolling conversation summary. Update is
// single-flight: a call that arrives while another is running returns
// SummaryBusy immediately.
type SummaryEngine struct {
	store      Store
	summariser Summariser
	cfg        SummaryConfig
	logger     *slog.Logger
	now        func() time.Time

	running atomic.Bool

	mu      sync.Mutex
	lastRun time.Time
}

// NewSummaryEngine creates an engine. A nil summariser makes every Update a
// SummaryFailed no-op.
func NewSummaryEngine(store Store, summariser Summariser, cfg SummaryConfig, logger *slog.Logger) *SummaryEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &SummaryEngine{
		store:      store,
		summariser: summariser,
		cfg:        cfg.withDefaults(),
		logger:     logger,
		now:        time.Now,
	}
}

// SetClock overrides the engine clock.
func (e *SummaryEngine) SetClock(now func() time.Time) { e.now = now }

// Current returns the stored summary state.
func (e *SummaryEngine) Current(ctx context.Context) (SummaryState, error) {
	return LoadSummaryState(ctx, e.store)
}

// Clear empties the stored summary while keeping its watermark.
func (e *SummaryEngine) Clear(ctx context.Context) error {
	return ClearSummaryState(ctx, e.store)
}

// Update folds unconsumed chat messages into the summary. Failures are
// logged and leave the stored summary untouched; Update never returns an
// error.
func (e *SummaryEngine) Update(ctx context.Context) SummaryOutcome {
	if !e.running.CompareAndSwap(false, true) {
		return SummaryBusy
	}
	defer e.running.Store(false)

	now := e.now()
	e.mu.Lock()
	if !e.lastRun.IsZero() && now.Sub(e.lastRun) < e.cfg.MinInterval {
		e.mu.Unlock()
		return SummaryDebounced
	}
	e.mu.Unlock()

	st, err := LoadSummaryState(ctx, e.store)
	if err != nil {
		st = SummaryState{LastConsumedMessageID: salvageWatermark(ctx, e.store)}
		e.logger.Warn("summary: unreadable state, starting fresh", "err", err, "watermark", st.LastConsumedMessageID)
	}

	var msgs []ChatMessage
	if st.LastConsumedMessageID == 0 {
		msgs, err = e.store.RecentChat(ctx, e.cfg.BootstrapMessages)
	} else {
		msgs, err = e.store.ChatAfter(ctx, st.LastConsumedMessageID, e.cfg.MaxBatch)
	}
	if err != nil {
		e.logger.Warn("summary: load chat failed", "err", err)
		return SummaryFailed
	}
	if len(msgs) < e.cfg.MinNewMessages {
		return SummaryNotEnough
	}
	lastID := msgs[len(msgs)-1].ID

	safe := RedactMessages(msgs)
	if len(safe) == 0 {
		// Everything new was sensitive; consume it so it is never retried.
		st.LastConsumedMessageID = max(st.LastConsumedMessageID, lastID)
		if err := SaveSummaryState(ctx, e.store, st); err != nil {
			e.logger.Warn("summary: save watermark failed", "err", err)
		}
		return SummaryRejected
	}

	e.mu.Lock()
	e.lastRun = now
	e.mu.Unlock()

	if e.summariser == nil {
		return SummaryFailed
	}
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	next, err := e.summariser.Summarise(callCtx, st.Summary, safe)
	if err != nil {
		e.logger.Warn("summary: summariser failed, keeping prior summary", "err", err, "messages", len(safe))
		return SummaryFailed
	}

	next = next.Normalize(e.cfg.MaxItems)
	if next.Empty() {
		e.logger.Info("summary: summariser returned empty summary, keeping prior summary")
		return SummaryRejected
	}
	if redact.Sensitive(next.Render()) {
		e.logger.Warn("summary: summariser output looks sensitive, discarded")
		return SummaryRejected
	}

	st.Summary = next
	st.LastConsumedMessageID = max(st.LastConsumedMessageID, lastID)
	if err := SaveSummaryState(ctx, e.store, st); err != nil {
		e.logger.Warn("summary: save failed", "err", err)
		return SummaryFailed
	}
	e.logger.Debug("summary: updated", "watermark", st.LastConsumedMessageID, "messages", len(safe))
	return SummaryUpdated
}

// RedactMessages masks credential-like spans in each message and drops any
// message that still looks sensitive afterwards.
func RedactMessages(msgs []ChatMessage) []ChatMessage {
	out := make([]ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if redact.Sensitive(m.Content) {
			m.Content = redact.Mask(m.Content)
			if redact.Sensitive(m.Content) {
				continue
			}
		}
		out = append(out, m)
	}
	return out
}
