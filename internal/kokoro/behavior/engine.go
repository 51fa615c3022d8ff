package behavior

import (
	"context"
	"log/slog"
	"time"
)

// BubbleRequest asks the owner of the engine to phrase a speech bubble off
// the event loop and hand the text back through CompleteBubble.
type BubbleRequest struct {
	TS         time.Time
	State      State
	Signal     Signal // nil for state-driven approaches
	Action     Action
	Expression Expression
	// Fallback is shown when generation fails or is unavailable.
	Fallback string
}

// Output is what the engine wants done after an event.
type Output struct {
	Commands []ActionCommand
	Bubble   *BubbleRequest
}

func emit(cmds ...ActionCommand) Output { return Output{Commands: cmds} }

// EngineOptions configures NewEngine. Zero-valued configs fall back to the
// defaults.
type EngineOptions struct {
	Thresholds Thresholds
	Policy     PolicyConfig
	Counter    DailyCounter
	Emotion    *Emotion
	// After schedules timers; defaults to time.AfterFunc.
	After AfterFunc
	// Deliver receives expired timer handles. It is called from the timer
	// goroutine and must hand the handle back to the loop that owns the
	// engine, which then calls Fire.
	Deliver func(Handle)
	Logger  *slog.Logger
}

// Engine ties the state engine, emotion, policy and timers together.
type Engine struct {
	states  *StateEngine
	policy  *Policy
	timers  *Timers
	cfg     PolicyConfig
	emotion Emotion
	logger  *slog.Logger

	lastRetreat Expression
}

// NewEngine returns an engine ready to receive events.
func NewEngine(opts EngineOptions) *Engine {
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = DefaultThresholds()
	}
	if opts.Policy.DailyCap <= 0 {
		opts.Policy = DefaultPolicyConfig()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	em := DefaultEmotion()
	if opts.Emotion != nil {
		em = *opts.Emotion
		em.Clamp()
	}
	return &Engine{
		states:  NewStateEngine(opts.Thresholds),
		policy:  NewPolicy(opts.Policy, opts.Counter, opts.Logger),
		timers:  NewTimers(opts.After, opts.Deliver),
		cfg:     opts.Policy,
		emotion: em,
		logger:  opts.Logger,
	}
}

// Reconfigure swaps thresholds and gating constants without resetting
// runtime state.
func (e *Engine) Reconfigure(th Thresholds, pc PolicyConfig) {
	e.states.SetThresholds(th)
	e.policy.SetConfig(pc)
	e.cfg = pc
}

// Emotion returns the current affect.
func (e *Engine) Emotion() Emotion { return e.emotion }

// State returns the state computed by the last tick.
func (e *Engine) State() State { return e.states.Current() }

// Policy exposes the gating state.
func (e *Engine) Policy() *Policy { return e.policy }

// Rollover forces the daily reset check.
func (e *Engine) Rollover(ctx context.Context, now time.Time) { e.policy.Rollover(ctx, now) }

// Stop cancels all timers.
func (e *Engine) Stop() { e.timers.StopAll() }

// Tick consumes one sensor sample.
func (e *Engine) Tick(ctx context.Context, s Sample) Output {
	st, changed := e.states.Observe(s)
	if changed {
		e.lastRetreat = ""
		e.logger.Debug("behavior: state changed", "state", st, "app_dwell_ms", e.states.Tracked().Dwell(s).Milliseconds())
	}
	if s.IsNight {
		e.emotion.NightTick()
	}
	e.policy.Rollover(ctx, s.TS)

	d := e.policy.Decide(st, e.emotion)
	switch {
	case d.None():
		return Output{}
	case d.Action == ActionRetreat:
		if e.lastRetreat == d.Expression {
			return Output{}
		}
		e.lastRetreat = d.Expression
		return emit(e.command(d.Action, d.Expression, "", s.TS))
	}

	e.lastRetreat = ""
	if e.timers.Armed(TimerIgnore) || !e.policy.CanProactive(ctx, s.TS) {
		return Output{}
	}
	if d.NeedsBubble {
		if !e.policy.BeginGeneration() {
			return Output{}
		}
		e.policy.RecordFire(ctx, "", s.TS)
		return Output{Bubble: &BubbleRequest{
			TS:         s.TS,
			State:      st,
			Action:     d.Action,
			Expression: d.Expression,
			Fallback:   ContextSocialFatigue{Hits: s.SocialHits3m}.Hint(),
		}}
	}
	e.policy.RecordFire(ctx, "", s.TS)
	bubble := ""
	if d.Action == ActionInviteChat {
		bubble = e.cfg.InviteBubble
	}
	return emit(e.proactive(d.Action, d.Expression, bubble, s.TS))
}

// HandleSignal consumes an ad-hoc signal received at now.
func (e *Engine) HandleSignal(ctx context.Context, sig Signal, now time.Time) Output {
	if sig == nil {
		return Output{}
	}
	kind := sig.Kind()
	if !kind.Health() && e.timers.Armed(TimerIgnore) {
		e.logger.Debug("behavior: signal skipped, bid outstanding", "kind", kind)
		return Output{}
	}
	if !e.policy.CanFire(ctx, kind, now) {
		e.logger.Debug("behavior: signal gated", "kind", kind)
		return Output{}
	}
	if !e.policy.BeginGeneration() {
		if kind.Health() {
			// Health reminders are not dropped; they go out with their hint.
			e.policy.RecordFire(ctx, kind, now)
			return emit(e.proactive(ActionApproach, signalExpression(kind), sig.Hint(), now))
		}
		e.logger.Debug("behavior: signal skipped, generation in flight", "kind", kind)
		return Output{}
	}
	e.policy.RecordFire(ctx, kind, now)
	return Output{Bubble: &BubbleRequest{
		TS:         now,
		State:      e.states.Current(),
		Signal:     sig,
		Action:     ActionApproach,
		Expression: signalExpression(kind),
		Fallback:   sig.Hint(),
	}}
}

// CompleteBubble finishes a BubbleRequest with generated text. An empty
// text uses the request's fallback.
func (e *Engine) CompleteBubble(req BubbleRequest, text string) Output {
	e.policy.EndGeneration()
	if text == "" {
		text = req.Fallback
	}
	return emit(e.proactive(req.Action, req.Expression, text, req.TS))
}

// Interact consumes user feedback.
func (e *Engine) Interact(ctx context.Context, in Interaction) Output {
	switch in.Kind {
	case InteractionClick:
		e.timers.Disarm(TimerIgnore)
		e.emotion.Reassure(e.cfg.ClickBoost)
		cmd := e.command(ActionExpress, ExpressionHappy, "", in.TS)
		cmd.DurationMs = e.cfg.ExpressionReset.Milliseconds()
		e.timers.Arm(TimerExpressionReset, cmd.TS, cmd.Action, e.cfg.ExpressionReset)
		return emit(cmd)
	case InteractionChat:
		e.timers.Disarm(TimerIgnore)
		return Output{}
	case InteractionIgnored:
		if !in.Action.Proactive() {
			return Output{}
		}
		e.timers.Disarm(TimerIgnore)
		streak := e.policy.RecordIgnore(ctx, in.TS)
		e.emotion.Reassure(-e.cfg.IgnoreDecay)
		e.logger.Info("behavior: proactive action ignored", "action", in.Action, "streak", streak)
		if streak >= e.cfg.RetreatStreak {
			e.lastRetreat = ExpressionSad
			return emit(e.command(ActionRetreat, ExpressionSad, "", in.TS))
		}
	}
	return Output{}
}

// Fire handles an expired timer. Stale handles are ignored.
func (e *Engine) Fire(ctx context.Context, h Handle, now time.Time) Output {
	if !e.timers.Consume(h) {
		return Output{}
	}
	switch h.Kind {
	case TimerIgnore:
		return e.Interact(ctx, Interaction{Kind: InteractionIgnored, TS: now, Action: h.Action})
	case TimerExpressionReset:
		return emit(e.command(ActionExpress, ExpressionNeutral, "", now))
	}
	return Output{}
}

func (e *Engine) command(a Action, x Expression, bubble string, ts time.Time) ActionCommand {
	cmd := ActionCommand{TS: ts, Action: a, Expression: x, Bubble: bubble}
	switch a {
	case ActionApproach:
		cmd.DurationMs = e.cfg.ApproachDuration.Milliseconds()
	case ActionInviteChat:
		cmd.DurationMs = e.cfg.InviteDuration.Milliseconds()
	case ActionRetreat:
		cmd.DurationMs = e.cfg.RetreatDuration.Milliseconds()
	}
	return cmd
}

// proactive builds a proactive command and arms its ignore timer.
func (e *Engine) proactive(a Action, x Expression, bubble string, ts time.Time) ActionCommand {
	cmd := e.command(a, x, bubble, ts)
	e.timers.Arm(TimerIgnore, cmd.TS, cmd.Action, cmd.Duration())
	return cmd
}

func signalExpression(k SignalKind) Expression {
	switch k {
	case KindHealthLongSession, KindHealthLateNight, KindSystemBattery:
		return ExpressionNeutral
	case KindClipboardTime, KindClipboardLink, KindRandomTip:
		return ExpressionCurious
	default:
		return ExpressionHappy
	}
}
