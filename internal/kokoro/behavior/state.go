// Package behavior holds the companion's sensor-driven state machine and
// the proactive-action policy built on top of it.
//
// Everything here is deterministic given its inputs and an injected clock.
// An Engine is not safe for concurrent use; it is meant to be owned by a
// single event loop that feeds it samples, signals, interactions and timer
// fires.
package behavior

import "time"

// State is the discrete companion state derived from a Sample.
type State string

const (
	StateFocus           State = "FOCUS"
	StateIdle            State = "IDLE"
	StateFragmented      State = "FRAGMENTED"
	StateSocialCheckLoop State = "SOCIAL_CHECK_LOOP"
)

// Sample is one reading from the sensing source.
type Sample struct {
	TS           time.Time `json:"ts"`
	ActiveApp    string    `json:"active_app"`
	ActiveTitle  string    `json:"active_title,omitempty"`
	IdleSec      float64   `json:"idle_sec"`
	SwitchRate2m float64   `json:"switch_rate_2m"`
	SocialHits3m int       `json:"social_hits_3m"`
	IsNight      bool      `json:"is_night"`
}

// Thresholds parameterises Recompute.
type Thresholds struct {
	IdleSec              float64       `yaml:"idle_sec"`
	SocialHits           int           `yaml:"social_hits"`
	SocialSwitchRate     float64       `yaml:"social_switch_rate"`
	FragmentedSwitchRate float64       `yaml:"fragmented_switch_rate"`
	FocusMaxSwitchRate   float64       `yaml:"focus_max_switch_rate"`
	FocusMaxIdleSec      float64       `yaml:"focus_max_idle_sec"`
	FocusDwell           time.Duration `yaml:"focus_dwell"`
}

// DefaultThresholds returns the stock state thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		IdleSec:              180,
		SocialHits:           3,
		SocialSwitchRate:     6,
		FragmentedSwitchRate: 10,
		FocusMaxSwitchRate:   3,
		FocusMaxIdleSec:      60,
		FocusDwell:           180 * time.Second,
	}
}

// TrackedApp is the foreground application seen on the previous tick and
// when it became active.
type TrackedApp struct {
	App   string
	Since time.Time
}

// Dwell returns how long s.ActiveApp has been in the foreground, or zero
// when it differs from the tracked app.
func (t TrackedApp) Dwell(s Sample) time.Duration {
	if t.App == "" || s.ActiveApp != t.App || s.TS.Before(t.Since) {
		return 0
	}
	return s.TS.Sub(t.Since)
}

// Recompute derives the state for s. Rules are evaluated in priority order
// and the first match wins.
func Recompute(s Sample, tracked TrackedApp, th Thresholds) State {
	switch {
	case s.IdleSec >= th.IdleSec:
		return StateIdle
	case s.SocialHits3m >= th.SocialHits && s.SwitchRate2m >= th.SocialSwitchRate:
		return StateSocialCheckLoop
	case s.SwitchRate2m >= th.FragmentedSwitchRate:
		return StateFragmented
	case s.SwitchRate2m < th.FocusMaxSwitchRate && s.IdleSec < th.FocusMaxIdleSec && tracked.Dwell(s) >= th.FocusDwell:
		return StateFocus
	default:
		return StateIdle
	}
}

// StateEngine tracks the foreground app across ticks and the last computed
// state.
type StateEngine struct {
	th      Thresholds
	tracked TrackedApp
	current State
}

// NewStateEngine returns an engine that starts in StateIdle.
func NewStateEngine(th Thresholds) *StateEngine {
	return &StateEngine{th: th, current: StateIdle}
}

// Observe computes the state for s, then records s.ActiveApp as the tracked
// app. changed reports whether the state differs from the previous tick.
func (e *StateEngine) Observe(s Sample) (st State, changed bool) {
	st = Recompute(s, e.tracked, e.th)
	if s.ActiveApp != e.tracked.App {
		e.tracked = TrackedApp{App: s.ActiveApp, Since: s.TS}
	}
	changed = st != e.current
	e.current = st
	return st, changed
}

// Current returns the state computed by the last Observe.
func (e *StateEngine) Current() State { return e.current }

// Tracked returns the currently tracked foreground app.
func (e *StateEngine) Tracked() TrackedApp { return e.tracked }

// SetThresholds replaces the thresholds used by subsequent ticks.
func (e *StateEngine) SetThresholds(th Thresholds) { e.th = th }
