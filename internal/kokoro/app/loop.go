package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bdobrica/kokoro/internal/kokoro/behavior"
	"github.com/bdobrica/kokoro/internal/kokoro/config"
	"github.com/bdobrica/kokoro/internal/kokoro/llm"
	"github.com/bdobrica/kokoro/internal/kokoro/memory"
)

const (
	bubbleTimeout  = 15 * time.Second
	bubbleMaxRunes = 120
	bubbleSystem   = "Write one short, friendly sentence for a desktop companion's speech bubble. Plain text, no quotes."
)

type event interface{ isEvent() }

type sampleEvent struct{ s behavior.Sample }
type signalEvent struct {
	sig behavior.Signal
	at  time.Time
}
type interactionEvent struct{ in behavior.Interaction }
type timerEvent struct{ h behavior.Handle }
type bubbleEvent struct {
	req  behavior.BubbleRequest
	text string
}
type rolloverEvent struct{ at time.Time }
type reconfigureEvent struct {
	th behavior.Thresholds
	pc behavior.PolicyConfig
}
type snapshotEvent struct{ reply chan Snapshot }

func (sampleEvent) isEvent()      {}
func (signalEvent) isEvent()      {}
func (interactionEvent) isEvent() {}
func (timerEvent) isEvent()       {}
func (bubbleEvent) isEvent()      {}
func (rolloverEvent) isEvent()    {}
func (reconfigureEvent) isEvent() {}
func (snapshotEvent) isEvent()    {}

// Snapshot is a point-in-time view of the behavior engine.
type Snapshot struct {
	State        behavior.State    `json:"state"`
	Emotion      behavior.Emotion  `json:"emotion"`
	Today        memory.DailyStats `json:"today"`
	IgnoreStreak int               `json:"ignore_streak"`
	Generating   bool              `json:"generating"`
}

// Run owns the behavior engine: it consumes samples, signals, interactions
// and timer fires until ctx is cancelled. It also runs the background queue
// and the scheduled jobs. Run may be called once.
func (c *Core) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("app: core already running")
	}
	ctx, cancel := context.WithCancel(ctx)

	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		c.queue.Run(ctx)
	}()

	cfg, _, _ := c.snapshotConfig()
	sched := NewScheduler(time.Local, c.logger)
	if err := c.scheduleJobs(sched, cfg.Schedule); err != nil {
		cancel()
		workers.Wait()
		close(c.stopped)
		return err
	}
	sched.Start()
	c.logger.Info("app: companion core started", "jobs", sched.Len(), "backend", c.activeBackend())

	defer func() {
		close(c.stopped)
		cancel()
		stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		sched.Stop(stopCtx)
		stop()
		c.engine.Stop()
		c.bubbles.Wait()
		workers.Wait()
		c.logger.Info("app: companion core stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-c.events:
			c.handle(ctx, ev)
		}
	}
}

func (c *Core) scheduleJobs(s *Scheduler, sc config.ScheduleConfig) error {
	jobs := []struct {
		name, spec string
		fn         func()
	}{
		{"rollover", sc.Rollover, func() { c.trySend(rolloverEvent{at: c.now()}) }},
		{"random_tip", sc.RandomTip, func() { c.trySend(signalEvent{sig: behavior.RandomTip{}, at: c.now()}) }},
		{"summary_sweep", sc.SummarySweep, c.submitSummary},
	}
	for _, j := range jobs {
		if err := s.Add(j.name, j.spec, j.fn); err != nil {
			return err
		}
	}
	return nil
}

func (c *Core) handle(ctx context.Context, ev event) {
	var out behavior.Output
	switch ev := ev.(type) {
	case sampleEvent:
		out = c.engine.Tick(ctx, ev.s)
		c.state.Store(c.engine.State())
	case signalEvent:
		out = c.engine.HandleSignal(ctx, ev.sig, ev.at)
	case interactionEvent:
		out = c.engine.Interact(ctx, ev.in)
	case timerEvent:
		out = c.engine.Fire(ctx, ev.h, c.now())
	case bubbleEvent:
		out = c.engine.CompleteBubble(ev.req, ev.text)
	case rolloverEvent:
		c.engine.Rollover(ctx, ev.at)
	case reconfigureEvent:
		c.engine.Reconfigure(ev.th, ev.pc)
	case snapshotEvent:
		p := c.engine.Policy()
		ev.reply <- Snapshot{
			State:        c.engine.State(),
			Emotion:      c.engine.Emotion(),
			Today:        p.Today(),
			IgnoreStreak: p.IgnoreStreak(),
			Generating:   p.Generating(),
		}
	}
	c.dispatch(ctx, out)
}

func (c *Core) dispatch(ctx context.Context, out behavior.Output) {
	for _, cmd := range out.Commands {
		if err := c.sink.Emit(ctx, cmd); err != nil {
			c.logger.Warn("app: sink rejected command", "action", cmd.Action, "err", err)
		}
	}
	if out.Bubble != nil {
		req := *out.Bubble
		c.bubbles.Add(1)
		go c.generateBubble(ctx, req)
	}
}

// generateBubble phrases a speech bubble off the loop and hands it back.
// An empty result makes the engine use the request's fallback.
func (c *Core) generateBubble(ctx context.Context, req behavior.BubbleRequest) {
	defer c.bubbles.Done()
	text := ""
	if _, _, err := c.router.Select(); err == nil {
		cctx, cancel := context.WithTimeout(ctx, bubbleTimeout)
		resp, err := c.router.Complete(cctx, llm.Request{
			System:      bubbleSystem,
			Messages:    []llm.Message{{Role: llm.RoleUser, Content: bubbleHint(req)}},
			Temperature: 0.9,
			MaxTokens:   60,
		})
		cancel()
		if err != nil {
			c.logger.Debug("app: bubble generation failed, using fallback", "err", err)
		} else {
			text = cleanBubble(resp.Text)
		}
	}
	select {
	case c.events <- bubbleEvent{req: req, text: text}:
	case <-c.stopped:
	}
}

func bubbleHint(req behavior.BubbleRequest) string {
	var sb strings.Builder
	sb.WriteString("Companion state: ")
	sb.WriteString(string(req.State))
	if req.Signal != nil {
		sb.WriteString("\nTrigger: ")
		sb.WriteString(string(req.Signal.Kind()))
	}
	sb.WriteString("\nIdea: ")
	sb.WriteString(req.Fallback)
	return sb.String()
}

func cleanBubble(s string) string {
	s = llm.Normalize(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(strings.TrimSpace(s), `"'“”`)
	if utf8.RuneCountInString(s) > bubbleMaxRunes {
		s = string([]rune(s)[:bubbleMaxRunes-1]) + "…"
	}
	return s
}

func (c *Core) deliverTimer(h behavior.Handle) {
	select {
	case c.events <- timerEvent{h: h}:
	case <-c.stopped:
	}
}

func (c *Core) send(ctx context.Context, ev event) error {
	select {
	case <-c.stopped:
		return ErrStopped
	default:
	}
	select {
	case c.events <- ev:
		return nil
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Core) trySend(ev event) bool {
	select {
	case c.events <- ev:
		return true
	default:
		return false
	}
}

// Sample submits a sensor sample. A zero TS is stamped with the current
// time.
func (c *Core) Sample(ctx context.Context, s behavior.Sample) error {
	if s.TS.IsZero() {
		s.TS = c.now()
	}
	return c.send(ctx, sampleEvent{s: s})
}

// Signal submits an ad-hoc proactive trigger.
func (c *Core) Signal(ctx context.Context, sig behavior.Signal) error {
	if sig == nil {
		return errors.New("app: nil signal")
	}
	return c.send(ctx, signalEvent{sig: sig, at: c.now()})
}

// Interact submits user feedback on the avatar.
func (c *Core) Interact(ctx context.Context, in behavior.Interaction) error {
	if in.TS.IsZero() {
		in.TS = c.now()
	}
	return c.send(ctx, interactionEvent{in: in})
}

// Snapshot returns the engine's current state. It requires Run.
func (c *Core) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := c.send(ctx, snapshotEvent{reply: reply}); err != nil {
		return Snapshot{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-c.stopped:
		return Snapshot{}, ErrStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (c *Core) activeBackend() string {
	b, _, err := c.router.Select()
	if err != nil {
		return "none"
	}
	return b.Name()
}
