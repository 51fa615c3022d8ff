package behavior

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

func TestRecompute(t *testing.T) {
	th := DefaultThresholds()
	tracked := TrackedApp{App: "editor", Since: t0}

	cases := []struct {
		name string
		s    Sample
		want State
	}{
		{"idle wins over fragmentation", Sample{TS: t0, ActiveApp: "editor", IdleSec: 200, SwitchRate2m: 15}, StateIdle},
		{"social loop", Sample{TS: t0, ActiveApp: "chat", SocialHits3m: 3, SwitchRate2m: 6}, StateSocialCheckLoop},
		{"social hits without switching", Sample{TS: t0, ActiveApp: "chat", SocialHits3m: 5, SwitchRate2m: 5}, StateIdle},
		{"fragmented", Sample{TS: t0, ActiveApp: "chat", SwitchRate2m: 10}, StateFragmented},
		{"focus after dwell", Sample{TS: t0.Add(181_000 * time.Millisecond), ActiveApp: "editor", IdleSec: 10, SwitchRate2m: 2}, StateFocus},
		{"dwell too short", Sample{TS: t0.Add(179 * time.Second), ActiveApp: "editor", IdleSec: 10, SwitchRate2m: 2}, StateIdle},
		{"different app has no dwell", Sample{TS: t0.Add(time.Hour), ActiveApp: "browser", IdleSec: 10, SwitchRate2m: 2}, StateIdle},
		{"focus needs low idle", Sample{TS: t0.Add(time.Hour), ActiveApp: "editor", IdleSec: 60, SwitchRate2m: 2}, StateIdle},
		{"focus needs low switching", Sample{TS: t0.Add(time.Hour), ActiveApp: "editor", IdleSec: 10, SwitchRate2m: 3}, StateIdle},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Recompute(tc.s, tracked, th); got != tc.want {
				t.Errorf("Recompute = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestRecompute_Deterministic(t *testing.T) {
	th := DefaultThresholds()
	for i := 0; i < 200; i++ {
		s := Sample{
			TS:           t0.Add(time.Duration(i*7) * time.Second),
			ActiveApp:    []string{"editor", "chat", "browser"}[i%3],
			IdleSec:      float64((i * 13) % 240),
			SwitchRate2m: float64((i * 5) % 14),
			SocialHits3m: i % 5,
		}
		tracked := TrackedApp{App: "editor", Since: t0}
		first := Recompute(s, tracked, th)
		for j := 0; j < 3; j++ {
			if got := Recompute(s, tracked, th); got != first {
				t.Fatalf("sample %d: got %s then %s", i, first, got)
			}
		}
	}
}

func TestStateEngine_TracksApp(t *testing.T) {
	e := NewStateEngine(DefaultThresholds())
	calm := func(ts time.Time, app string) Sample {
		return Sample{TS: ts, ActiveApp: app, IdleSec: 10, SwitchRate2m: 2}
	}

	if st, _ := e.Observe(calm(t0, "editor")); st != StateIdle {
		t.Fatalf("first tick = %s", st)
	}
	st, changed := e.Observe(calm(t0.Add(181*time.Second), "editor"))
	if st != StateFocus || !changed {
		t.Fatalf("after dwell = %s changed=%v, want FOCUS changed", st, changed)
	}
	if _, changed := e.Observe(calm(t0.Add(182*time.Second), "editor")); changed {
		t.Error("steady focus should not report a change")
	}

	// Switching apps restarts the dwell clock.
	if st, _ := e.Observe(calm(t0.Add(183*time.Second), "browser")); st != StateIdle {
		t.Errorf("after switch = %s", st)
	}
	if got := e.Tracked(); got.App != "browser" || !got.Since.Equal(t0.Add(183*time.Second)) {
		t.Errorf("Tracked() = %+v", got)
	}
}

func TestEmotion_Clamped(t *testing.T) {
	em := Emotion{Affection: 0.995, Energy: 0.01}
	em.NightTick()
	if em.Affection != 1 || em.Energy != 0 {
		t.Errorf("NightTick = %+v", em)
	}
	em.Reassure(-2)
	if em.Security != 0 || em.Mood != 0 {
		t.Errorf("Reassure(-2) = %+v", em)
	}
	em = Emotion{Affection: 3, Security: -1, Mood: 0.5, Energy: 2}
	em.Clamp()
	if em != (Emotion{Affection: 1, Security: 0, Mood: 0.5, Energy: 1}) {
		t.Errorf("Clamp = %+v", em)
	}
}
