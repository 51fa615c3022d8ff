// Package app wires the companion subsystems into CompanionCore: a chat
// turn pipeline (commands → memory → budgeted prompt → provider → tools →
// sanitation) and a single event loop that owns the behavior engine.
package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bdobrica/kokoro/internal/kokoro/behavior"
	"github.com/bdobrica/kokoro/internal/kokoro/commands"
	"github.com/bdobrica/kokoro/internal/kokoro/config"
	"github.com/bdobrica/kokoro/internal/kokoro/delegate"
	"github.com/bdobrica/kokoro/internal/kokoro/llm"
	"github.com/bdobrica/kokoro/internal/kokoro/memory"
	"github.com/bdobrica/kokoro/internal/kokoro/tools"
)

// ErrStopped is returned when an event is submitted after Run has exited.
var ErrStopped = errors.New("app: core stopped")

// Sink receives the commands produced by the behavior engine.
type Sink interface {
	Emit(ctx context.Context, cmd behavior.ActionCommand) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, cmd behavior.ActionCommand) error

// Emit implements Sink.
func (f SinkFunc) Emit(ctx context.Context, cmd behavior.ActionCommand) error { return f(ctx, cmd) }

// ToolRuntime executes tool calls and describes the available tools to the
// model. *tools.Registry satisfies it.
type ToolRuntime interface {
	tools.Runtime
	Describe() string
}

// Options configures New.
type Options struct {
	Config config.Config
	// Store is required; the caller owns and closes it.
	Store memory.Store
	// Router defaults to one built from Config.Providers.
	Router *llm.Router
	// Tools defaults to the built-in memory and clock tools.
	Tools ToolRuntime
	// Sink defaults to discarding commands.
	Sink Sink
	// Now and After override the clock for tests.
	Now    func() time.Time
	After  behavior.AfterFunc
	Logger *slog.Logger
}

// Core is the companion façade. Chat and the event submitters are safe for
// concurrent use; the behavior engine is touched only by Run.
type Core struct {
	store     memory.Store
	router    *llm.Router
	budgeter  *llm.Budgeter
	summary   *memory.SummaryEngine
	extractor *delegate.Extractor
	tools     ToolRuntime
	sink      Sink
	queue     *Queue
	engine    *behavior.Engine
	now       func() time.Time
	logger    *slog.Logger

	mu       sync.RWMutex
	cfg      config.Config
	ranker   *memory.Ranker
	commands *commands.Router

	events  chan event
	stopped chan struct{}
	running atomic.Bool
	state   atomic.Value // behavior.State, mirrored from the loop for Chat
	bubbles sync.WaitGroup
}

// New builds a Core. It does not start the event loop; call Run for that.
func New(opts Options) (*Core, error) {
	if opts.Store == nil {
		return nil, errors.New("app: store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	cfg := opts.Config
	router := opts.Router
	if router == nil {
		router = llm.NewRouter(cfg.Providers.BuildBackends(), cfg.Providers.RouterConfig(), logger)
	}
	sink := opts.Sink
	if sink == nil {
		sink = SinkFunc(func(context.Context, behavior.ActionCommand) error { return nil })
	}

	c := &Core{
		store:     opts.Store,
		router:    router,
		budgeter:  &llm.Budgeter{Margin: cfg.Chat.BudgetMargin, Lookback: llm.DefaultTruncateLookback},
		extractor: delegate.NewExtractor(router),
		sink:      sink,
		queue:     NewQueue(16, logger),
		now:       now,
		logger:    logger,
		cfg:       cfg,
		events:    make(chan event, 64),
		stopped:   make(chan struct{}),
	}
	c.summary = memory.NewSummaryEngine(opts.Store, delegate.NewSummariser(router), cfg.Summary.SummaryConfig, logger)
	c.summary.SetClock(now)
	c.ranker = c.newRanker(cfg)
	c.commands = commands.NewMemoryRouter(commands.NewHandlers(opts.Store, c.summary, c.ranker))

	c.tools = opts.Tools
	if c.tools == nil {
		reg, err := c.defaultTools()
		if err != nil {
			return nil, err
		}
		c.tools = reg
	}

	c.engine = behavior.NewEngine(behavior.EngineOptions{
		Thresholds: cfg.Behavior.Thresholds,
		Policy:     cfg.Behavior.Policy,
		Counter:    opts.Store,
		After:      opts.After,
		Deliver:    c.deliverTimer,
		Logger:     logger,
	})
	c.state.Store(c.engine.State())
	return c, nil
}

func (c *Core) newRanker(cfg config.Config) *memory.Ranker {
	r := &memory.Ranker{
		Params:        cfg.Ranking.Params,
		RerankTimeout: cfg.Ranking.RerankTimeout,
		Now:           c.now,
		Logger:        c.logger,
	}
	if cfg.Ranking.Rerank {
		r.Reranker = delegate.NewReranker(c.router)
	}
	return r
}

func (c *Core) defaultTools() (*tools.Registry, error) {
	reg := tools.NewRegistry()
	for _, t := range []tools.Tool{
		&tools.ClockTool{Now: c.now},
		&tools.RememberTool{Store: c.store},
		&tools.RecallTool{Store: c.store, Ranker: c.ranker},
	} {
		if err := reg.Register(t); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Router returns the provider router.
func (c *Core) Router() *llm.Router { return c.router }

// Store returns the memory store.
func (c *Core) Store() memory.Store { return c.store }

// Reconfigure applies a reloaded configuration. Memory location and
// summary settings take effect on restart.
func (c *Core) Reconfigure(cfg config.Config) {
	c.router.Reconfigure(cfg.Providers.BuildBackends(), cfg.Providers.RouterConfig())

	c.mu.Lock()
	c.cfg = cfg
	c.ranker = c.newRanker(cfg)
	c.commands = commands.NewMemoryRouter(commands.NewHandlers(c.store, c.summary, c.ranker))
	c.mu.Unlock()

	if !c.trySend(reconfigureEvent{th: cfg.Behavior.Thresholds, pc: cfg.Behavior.Policy}) {
		c.logger.Warn("app: behavior reconfigure dropped, event queue full")
	}
	c.logger.Info("app: configuration applied")
}

func (c *Core) snapshotConfig() (config.Config, *memory.Ranker, *commands.Router) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg, c.ranker, c.commands
}

// Flush runs queued background tasks synchronously. It is meant for
// one-shot use where Run is not active.
func (c *Core) Flush(ctx context.Context) {
	c.queue.Drain(ctx)
}
