package behavior

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/bdobrica/kokoro/internal/kokoro/memory"
)

// DailyCounter persists the per-day proactive and ignore counters.
// memory.Store satisfies it.
type DailyCounter interface {
	DailyStats(ctx context.Context, date string) (memory.DailyStats, error)
	IncrementProactive(ctx context.Context, date string) (memory.DailyStats, error)
	IncrementIgnore(ctx context.Context, date string) (memory.DailyStats, error)
}

// PolicyConfig holds the gating constants of the proactive policy.
type PolicyConfig struct {
	// DailyCap is the maximum number of proactive commands per day.
	DailyCap int `yaml:"daily_cap"`
	// BaseCooldown is the global gap between proactive commands at zero
	// ignores.
	BaseCooldown time.Duration `yaml:"base_cooldown"`
	// Backoff multiplies BaseCooldown by the current ignore streak. A streak
	// past the end of the slice blocks proactive commands for the day.
	Backoff []float64 `yaml:"backoff"`
	// RetreatStreak is the ignore streak at which the companion retreats.
	RetreatStreak int `yaml:"retreat_streak"`
	// HealthDebounce is the minimum gap between a health signal and any
	// previous proactive command.
	HealthDebounce time.Duration `yaml:"health_debounce"`
	// KindCooldowns is the minimum gap between two signals of the same kind.
	KindCooldowns map[SignalKind]time.Duration `yaml:"kind_cooldowns"`
	// OncePerDay lists kinds that fire at most once per day.
	OncePerDay []SignalKind `yaml:"once_per_day"`

	FragmentedMinEnergy float64 `yaml:"fragmented_min_energy"`
	InviteMinAffection  float64 `yaml:"invite_min_affection"`
	InviteMinSecurity   float64 `yaml:"invite_min_security"`
	InviteMinEnergy     float64 `yaml:"invite_min_energy"`

	ClickBoost      float64       `yaml:"click_boost"`
	IgnoreDecay     float64       `yaml:"ignore_decay"`
	ExpressionReset time.Duration `yaml:"expression_reset"`

	ApproachDuration time.Duration `yaml:"approach_duration"`
	InviteDuration   time.Duration `yaml:"invite_duration"`
	RetreatDuration  time.Duration `yaml:"retreat_duration"`
	InviteBubble     string        `yaml:"invite_bubble"`
}

// DefaultPolicyConfig returns the stock gating constants.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		DailyCap:       12,
		BaseCooldown:   300 * time.Second,
		Backoff:        []float64{1, 1.5, 2.5},
		RetreatStreak:  2,
		HealthDebounce: 1200 * time.Millisecond,
		KindCooldowns: map[SignalKind]time.Duration{
			KindClipboardTime:        120 * time.Second,
			KindClipboardLink:        120 * time.Second,
			KindHealthLongSession:    45 * time.Minute,
			KindHealthLateNight:      time.Hour,
			KindSystemBattery:        15 * time.Minute,
			KindContextFocus:         30 * time.Minute,
			KindContextEntertainment: 30 * time.Minute,
			KindContextSocialFatigue: 20 * time.Minute,
			KindRandomTip:            40 * time.Minute,
		},
		OncePerDay:          []SignalKind{KindHealthLateNight},
		FragmentedMinEnergy: 0.25,
		InviteMinAffection:  0.7,
		InviteMinSecurity:   0.6,
		InviteMinEnergy:     0.3,
		ClickBoost:          0.08,
		IgnoreDecay:         0.05,
		ExpressionReset:     2 * time.Second,
		ApproachDuration:    8 * time.Second,
		InviteDuration:      12 * time.Second,
		RetreatDuration:     3 * time.Second,
		InviteBubble:        "Got a minute to chat?",
	}
}

// Decision is the outcome of Decide. The zero value means do nothing.
type Decision struct {
	Action     Action
	Expression Expression
	// NeedsBubble asks for a generated speech bubble.
	NeedsBubble bool
}

// None reports whether d is the empty decision.
func (d Decision) None() bool { return d.Action == "" }

// Policy gates proactive commands. It is not safe for concurrent use.
type Policy struct {
	cfg     PolicyConfig
	counter DailyCounter
	logger  *slog.Logger

	dailyKey      string
	today         memory.DailyStats
	ignoreStreak  int
	lastProactive time.Time
	lastByKind    map[SignalKind]time.Time
	firedToday    map[SignalKind]bool
	generating    bool
}

// NewPolicy returns a policy backed by counter. counter may be nil, in which
// case counts live only in memory.
func NewPolicy(cfg PolicyConfig, counter DailyCounter, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{
		cfg:        cfg,
		counter:    counter,
		logger:     logger,
		lastByKind: make(map[SignalKind]time.Time),
		firedToday: make(map[SignalKind]bool),
	}
}

// SetConfig replaces the gating constants. Runtime counters are kept.
func (p *Policy) SetConfig(cfg PolicyConfig) { p.cfg = cfg }

// Rollover resets the per-day state when now falls on a new date and loads
// that day's counters.
func (p *Policy) Rollover(ctx context.Context, now time.Time) {
	key := memory.DateKey(now)
	if key == p.dailyKey {
		return
	}
	p.dailyKey = key
	p.ignoreStreak = 0
	p.lastProactive = time.Time{}
	clear(p.firedToday)
	p.today = memory.DailyStats{Date: key}
	if p.counter == nil {
		return
	}
	stats, err := p.counter.DailyStats(ctx, key)
	if err != nil {
		p.logger.Warn("behavior: load daily stats failed", "date", key, "err", err)
		return
	}
	p.today = stats
}

// Cooldown returns the global cooldown for the current ignore streak. ok is
// false when the streak blocks proactive commands for the rest of the day.
func (p *Policy) Cooldown() (d time.Duration, ok bool) {
	if p.ignoreStreak < 0 || p.ignoreStreak >= len(p.cfg.Backoff) {
		return 0, false
	}
	m := p.cfg.Backoff[p.ignoreStreak]
	if math.IsInf(m, 1) || math.IsNaN(m) {
		return 0, false
	}
	return time.Duration(float64(p.cfg.BaseCooldown) * m), true
}

// CanProactive applies the global gate: daily cap, ignore streak and
// backoff cooldown.
func (p *Policy) CanProactive(ctx context.Context, now time.Time) bool {
	p.Rollover(ctx, now)
	if p.today.ProactiveCount >= p.cfg.DailyCap {
		return false
	}
	cooldown, ok := p.Cooldown()
	if !ok {
		return false
	}
	if p.lastProactive.IsZero() {
		return true
	}
	return now.Sub(p.lastProactive) >= cooldown
}

// CanFire applies the gates for a signal of kind. Health kinds skip the
// global gate but respect the cross-kind debounce.
func (p *Policy) CanFire(ctx context.Context, kind SignalKind, now time.Time) bool {
	p.Rollover(ctx, now)
	if kind.Health() {
		if !p.lastProactive.IsZero() && now.Sub(p.lastProactive) < p.cfg.HealthDebounce {
			return false
		}
	} else if !p.CanProactive(ctx, now) {
		return false
	}
	if p.oncePerDay(kind) && p.firedToday[kind] {
		return false
	}
	if last, ok := p.lastByKind[kind]; ok {
		if now.Sub(last) < p.cfg.KindCooldowns[kind] {
			return false
		}
	}
	return true
}

// RecordFire registers a proactive command. kind is empty for
// state-driven commands.
func (p *Policy) RecordFire(ctx context.Context, kind SignalKind, now time.Time) {
	p.Rollover(ctx, now)
	p.lastProactive = now
	if kind != "" {
		p.lastByKind[kind] = now
		if p.oncePerDay(kind) {
			p.firedToday[kind] = true
		}
	}
	p.today.ProactiveCount++
	if p.counter == nil {
		return
	}
	stats, err := p.counter.IncrementProactive(ctx, p.dailyKey)
	if err != nil {
		p.logger.Warn("behavior: persist proactive count failed", "date", p.dailyKey, "err", err)
		return
	}
	p.today = stats
}

// RecordIgnore registers an ignored proactive command and returns the new
// streak.
func (p *Policy) RecordIgnore(ctx context.Context, now time.Time) int {
	p.Rollover(ctx, now)
	p.ignoreStreak++
	p.today.IgnoreCount++
	if p.counter != nil {
		stats, err := p.counter.IncrementIgnore(ctx, p.dailyKey)
		if err != nil {
			p.logger.Warn("behavior: persist ignore count failed", "date", p.dailyKey, "err", err)
		} else {
			p.today = stats
		}
	}
	return p.ignoreStreak
}

// IgnoreStreak returns the number of consecutive ignores today.
func (p *Policy) IgnoreStreak() int { return p.ignoreStreak }

// Today returns the counters of the current day.
func (p *Policy) Today() memory.DailyStats { return p.today }

// Decide maps the current state and emotion to a decision. It does not
// consult the gates.
func (p *Policy) Decide(st State, em Emotion) Decision {
	if p.ignoreStreak >= p.cfg.RetreatStreak {
		return Decision{Action: ActionRetreat, Expression: ExpressionSad}
	}
	switch st {
	case StateFocus:
		return Decision{Action: ActionRetreat, Expression: ExpressionNeutral}
	case StateFragmented:
		if em.Energy >= p.cfg.FragmentedMinEnergy {
			return Decision{Action: ActionApproach, Expression: ExpressionCurious}
		}
	case StateSocialCheckLoop:
		if !p.generating {
			return Decision{Action: ActionApproach, Expression: ExpressionCurious, NeedsBubble: true}
		}
	case StateIdle:
		if em.Affection > p.cfg.InviteMinAffection && em.Security > p.cfg.InviteMinSecurity && em.Energy > p.cfg.InviteMinEnergy {
			return Decision{Action: ActionInviteChat, Expression: ExpressionHappy}
		}
	}
	return Decision{}
}

// BeginGeneration claims the single bubble-generation slot. It returns
// false when a generation is already outstanding.
func (p *Policy) BeginGeneration() bool {
	if p.generating {
		return false
	}
	p.generating = true
	return true
}

// EndGeneration releases the bubble-generation slot.
func (p *Policy) EndGeneration() { p.generating = false }

// Generating reports whether a bubble generation is outstanding.
func (p *Policy) Generating() bool { return p.generating }

func (p *Policy) oncePerDay(kind SignalKind) bool {
	for _, k := range p.cfg.OncePerDay {
		if k == kind {
			return true
		}
	}
	return false
}
