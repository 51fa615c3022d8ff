package behavior

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// manualTimers captures scheduled callbacks so tests decide when they fire.
type manualTimers struct {
	pending []func()
	handles []Handle
}

func (m *manualTimers) after(_ time.Duration, fn func()) func() bool {
	m.pending = append(m.pending, fn)
	return func() bool { return true }
}

func (m *manualTimers) deliver(h Handle) { m.handles = append(m.handles, h) }

// expire runs every scheduled callback and returns the delivered handles.
func (m *manualTimers) expire() []Handle {
	fns := m.pending
	m.pending = nil
	for _, fn := range fns {
		fn()
	}
	hs := m.handles
	m.handles = nil
	return hs
}

func newTestEngine(em Emotion) (*Engine, *manualTimers) {
	mt := &manualTimers{}
	e := NewEngine(EngineOptions{
		Emotion: &em,
		After:   mt.after,
		Deliver: mt.deliver,
	})
	return e, mt
}

var warm = Emotion{Affection: 0.9, Security: 0.9, Mood: 0.8, Energy: 0.9}

func idleSample(ts time.Time) Sample {
	return Sample{TS: ts, ActiveApp: "desktop", IdleSec: 200}
}

func TestEngine_IgnoredInvitesRetreat(t *testing.T) {
	ctx := context.Background()
	e, mt := newTestEngine(warm)

	out := e.Tick(ctx, idleSample(t0))
	want := []ActionCommand{{TS: t0, Action: ActionInviteChat, Expression: ExpressionHappy, Bubble: "Got a minute to chat?", DurationMs: 12000}}
	if diff := cmp.Diff(want, out.Commands); diff != "" {
		t.Fatalf("first tick (-want +got):\n%s", diff)
	}

	// The bid stays outstanding, so no second invite is issued.
	if out := e.Tick(ctx, idleSample(t0.Add(time.Second))); len(out.Commands) != 0 {
		t.Errorf("second invite while pending: %+v", out.Commands)
	}

	hs := mt.expire()
	if len(hs) != 1 || hs[0].Kind != TimerIgnore || !hs[0].Key.Equal(t0) {
		t.Fatalf("handles = %+v", hs)
	}
	if out := e.Fire(ctx, hs[0], t0.Add(12*time.Second)); len(out.Commands) != 0 {
		t.Errorf("first ignore should not retreat: %+v", out.Commands)
	}
	if e.Policy().IgnoreStreak() != 1 {
		t.Fatalf("streak = %d", e.Policy().IgnoreStreak())
	}
	if got := e.Emotion().Security; got > 0.851 || got < 0.849 {
		t.Errorf("security after ignore = %v", got)
	}

	if out := e.Tick(ctx, idleSample(t0.Add(449*time.Second))); len(out.Commands) != 0 {
		t.Errorf("backoff not applied: %+v", out.Commands)
	}
	out = e.Tick(ctx, idleSample(t0.Add(450*time.Second)))
	if len(out.Commands) != 1 || out.Commands[0].Action != ActionInviteChat {
		t.Fatalf("second invite = %+v", out.Commands)
	}

	hs = mt.expire()
	out = e.Fire(ctx, hs[0], t0.Add(462*time.Second))
	want = []ActionCommand{{TS: t0.Add(462 * time.Second), Action: ActionRetreat, Expression: ExpressionSad, DurationMs: 3000}}
	if diff := cmp.Diff(want, out.Commands); diff != "" {
		t.Errorf("second ignore (-want +got):\n%s", diff)
	}

	// The retreat is not repeated on the following tick.
	if out := e.Tick(ctx, idleSample(t0.Add(463*time.Second))); len(out.Commands) != 0 {
		t.Errorf("retreat repeated: %+v", out.Commands)
	}
}

func TestEngine_ClickDisarmsIgnoreAndResetsExpression(t *testing.T) {
	ctx := context.Background()
	e, mt := newTestEngine(warm)

	e.Tick(ctx, idleSample(t0))
	click := t0.Add(3 * time.Second)
	out := e.Interact(ctx, Interaction{Kind: InteractionClick, TS: click})
	want := []ActionCommand{{TS: click, Action: ActionExpress, Expression: ExpressionHappy, DurationMs: 2000}}
	if diff := cmp.Diff(want, out.Commands); diff != "" {
		t.Fatalf("click (-want +got):\n%s", diff)
	}
	if got := e.Emotion().Mood; got < 0.879 || got > 0.881 {
		t.Errorf("mood after click = %v", got)
	}

	hs := mt.expire()
	if len(hs) != 2 {
		t.Fatalf("handles = %+v", hs)
	}
	var outs []ActionCommand
	for _, h := range hs {
		outs = append(outs, e.Fire(ctx, h, click.Add(2*time.Second)).Commands...)
	}
	want = []ActionCommand{{TS: click.Add(2 * time.Second), Action: ActionExpress, Expression: ExpressionNeutral}}
	if diff := cmp.Diff(want, outs); diff != "" {
		t.Errorf("timer fires (-want +got):\n%s", diff)
	}
	if e.Policy().IgnoreStreak() != 0 {
		t.Error("a disarmed ignore timer must not count")
	}
}

func TestEngine_SecondClickSupersedesReset(t *testing.T) {
	ctx := context.Background()
	e, mt := newTestEngine(DefaultEmotion())

	e.Interact(ctx, Interaction{Kind: InteractionClick, TS: t0})
	e.Interact(ctx, Interaction{Kind: InteractionClick, TS: t0.Add(time.Second)})
	hs := mt.expire()
	if len(hs) != 2 {
		t.Fatalf("handles = %d", len(hs))
	}
	if out := e.Fire(ctx, hs[0], t0.Add(2*time.Second)); len(out.Commands) != 0 {
		t.Errorf("stale reset fired: %+v", out.Commands)
	}
	if out := e.Fire(ctx, hs[1], t0.Add(3*time.Second)); len(out.Commands) != 1 {
		t.Errorf("live reset did not fire")
	}
	if out := e.Fire(ctx, hs[1], t0.Add(4*time.Second)); len(out.Commands) != 0 {
		t.Errorf("handle consumed twice")
	}
}

func TestEngine_SocialLoopBubble(t *testing.T) {
	ctx := context.Background()
	e, mt := newTestEngine(DefaultEmotion())

	out := e.Tick(ctx, Sample{TS: t0, ActiveApp: "feed", SocialHits3m: 4, SwitchRate2m: 8})
	if len(out.Commands) != 0 || out.Bubble == nil {
		t.Fatalf("want a bubble request, got %+v", out)
	}
	req := *out.Bubble

	// An ordinary signal arriving meanwhile is rejected by the in-flight slot.
	if out := e.HandleSignal(ctx, ClipboardTime{}, t0.Add(2*time.Second)); out.Bubble != nil || len(out.Commands) != 0 {
		t.Errorf("signal during generation: %+v", out)
	}

	out = e.CompleteBubble(req, "")
	if len(out.Commands) != 1 {
		t.Fatalf("CompleteBubble = %+v", out)
	}
	cmd := out.Commands[0]
	if cmd.Action != ActionApproach || cmd.Bubble != req.Fallback || cmd.DurationMs != 8000 {
		t.Errorf("command = %+v", cmd)
	}
	if e.Policy().Generating() {
		t.Error("generation slot not released")
	}
	if len(mt.pending) != 1 {
		t.Errorf("ignore timer not armed")
	}
}

func TestEngine_HealthSignalDuringGeneration(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(DefaultEmotion())

	out := e.HandleSignal(ctx, ClipboardLink{URL: "https://example.com"}, t0)
	if out.Bubble == nil {
		t.Fatalf("first signal = %+v", out)
	}
	req := *out.Bubble

	battery := SystemBattery{Percent: 9}
	at := t0.Add(2 * time.Second)
	out = e.HandleSignal(ctx, battery, at)
	if out.Bubble != nil {
		t.Fatalf("health signal must not claim a second generation: %+v", out.Bubble)
	}
	want := []ActionCommand{{TS: at, Action: ActionApproach, Expression: ExpressionNeutral, Bubble: battery.Hint(), DurationMs: 8000}}
	if diff := cmp.Diff(want, out.Commands); diff != "" {
		t.Errorf("health command (-want +got):\n%s", diff)
	}
	if !e.Policy().Generating() {
		t.Error("pending generation slot was released by the health signal")
	}

	e.CompleteBubble(req, "Saved for later?")
	if e.Policy().Generating() {
		t.Error("generation slot not released")
	}
}

func TestEngine_FocusRetreatsOnce(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(DefaultEmotion())
	calm := func(d time.Duration) Sample {
		return Sample{TS: t0.Add(d), ActiveApp: "editor", IdleSec: 5, SwitchRate2m: 1}
	}
	e.Tick(ctx, calm(0))
	out := e.Tick(ctx, calm(181*time.Second))
	if len(out.Commands) != 1 || out.Commands[0].Action != ActionRetreat || out.Commands[0].Expression != ExpressionNeutral {
		t.Fatalf("focus = %+v", out.Commands)
	}
	if out := e.Tick(ctx, calm(182*time.Second)); len(out.Commands) != 0 {
		t.Errorf("retreat repeated: %+v", out.Commands)
	}
	if e.Policy().Today().ProactiveCount != 0 {
		t.Error("retreat must not count as proactive")
	}
}

func TestEngine_NightTickDrainsEnergy(t *testing.T) {
	e, _ := newTestEngine(Emotion{Affection: 0.5, Energy: 0.5})
	for i := 0; i < 5; i++ {
		e.Tick(context.Background(), Sample{TS: t0.Add(time.Duration(i) * time.Second), IsNight: true})
	}
	em := e.Emotion()
	if em.Energy > 0.401 || em.Energy < 0.399 || em.Affection < 0.549 || em.Affection > 0.551 {
		t.Errorf("emotion after 5 night ticks = %+v", em)
	}
}

func TestEngine_SignalGating(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(DefaultEmotion())

	out := e.HandleSignal(ctx, ClipboardLink{URL: "https://example.com"}, t0)
	if out.Bubble == nil || out.Bubble.Signal.Kind() != KindClipboardLink {
		t.Fatalf("first signal = %+v", out)
	}
	e.CompleteBubble(*out.Bubble, "Saved for later?")
	e.Interact(ctx, Interaction{Kind: InteractionChat, TS: t0.Add(time.Second)})

	if out := e.HandleSignal(ctx, RandomTip{}, t0.Add(time.Minute)); out.Bubble != nil {
		t.Error("global cooldown should gate ordinary signals")
	}
	if out := e.HandleSignal(ctx, HealthLongSession{Minutes: 90}, t0.Add(time.Minute)); out.Bubble == nil {
		t.Error("health signals bypass the global cooldown")
	}
}

func TestDecodeSignal(t *testing.T) {
	sig, err := DecodeSignal(KindSystemBattery, json.RawMessage(`{"percent":12,"charging":false}`))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Signal(SystemBattery{Percent: 12}), sig); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if sig.Hint() != "Battery at 12%. Maybe plug in?" {
		t.Errorf("Hint = %q", sig.Hint())
	}

	for _, k := range AllSignalKinds {
		sig, err := DecodeSignal(k, nil)
		if err != nil || sig.Kind() != k {
			t.Errorf("DecodeSignal(%s, nil) = %v, %v", k, sig, err)
		}
	}
	if _, err := DecodeSignal("WEATHER", nil); err == nil {
		t.Error("unknown kind should fail")
	}
	if _, err := DecodeSignal(KindClipboardLink, json.RawMessage(`{"url":3}`)); err == nil {
		t.Error("bad payload should fail")
	}
}
