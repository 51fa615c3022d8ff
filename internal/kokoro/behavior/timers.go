package behavior

import "time"

// TimerKind names a timer slot. Each slot holds at most one live timer.
type TimerKind string

const (
	// TimerIgnore expires when a proactive command goes unanswered.
	TimerIgnore TimerKind = "ignore"
	// TimerExpressionReset returns a HAPPY expression to NEUTRAL.
	TimerExpressionReset TimerKind = "expression_reset"
)

// Handle identifies one armed timer. It stays valid until the slot is
// re-armed or disarmed; a stale handle fires as a no-op.
type Handle struct {
	Kind TimerKind
	Gen  uint64
	// Key is the timestamp of the command that armed the timer.
	Key time.Time
	// Action is the command's action.
	Action Action
}

// AfterFunc schedules fn after d and returns a function that cancels it.
type AfterFunc func(d time.Duration, fn func()) (stop func() bool)

func realAfterFunc(d time.Duration, fn func()) func() bool {
	return time.AfterFunc(d, fn).Stop
}

// Timers manages generation-tokened timer slots. Expired handles are passed
// to deliver, which normally forwards them to the owning event loop; the
// loop then calls Consume before acting on them.
type Timers struct {
	after   AfterFunc
	deliver func(Handle)
	gens    map[TimerKind]uint64
	stops   map[TimerKind]func() bool
}

// NewTimers returns a timer set. after defaults to time.AfterFunc.
func NewTimers(after AfterFunc, deliver func(Handle)) *Timers {
	if after == nil {
		after = realAfterFunc
	}
	if deliver == nil {
		deliver = func(Handle) {}
	}
	return &Timers{
		after:   after,
		deliver: deliver,
		gens:    make(map[TimerKind]uint64),
		stops:   make(map[TimerKind]func() bool),
	}
}

// Arm starts a timer in slot kind, superseding any live one.
func (t *Timers) Arm(kind TimerKind, key time.Time, action Action, d time.Duration) Handle {
	t.stop(kind)
	t.gens[kind]++
	h := Handle{Kind: kind, Gen: t.gens[kind], Key: key, Action: action}
	t.stops[kind] = t.after(d, func() { t.deliver(h) })
	return h
}

// Disarm invalidates the live timer in slot kind, if any.
func (t *Timers) Disarm(kind TimerKind) {
	t.stop(kind)
	t.gens[kind]++
}

// Armed reports whether slot kind holds a live timer.
func (t *Timers) Armed(kind TimerKind) bool {
	_, ok := t.stops[kind]
	return ok
}

// Consume reports whether h is still the live timer of its slot and, if so,
// clears the slot.
func (t *Timers) Consume(h Handle) bool {
	if t.gens[h.Kind] != h.Gen {
		return false
	}
	if _, ok := t.stops[h.Kind]; !ok {
		return false
	}
	delete(t.stops, h.Kind)
	return true
}

// StopAll cancels every live timer.
func (t *Timers) StopAll() {
	for kind := range t.stops {
		t.Disarm(kind)
	}
}

func (t *Timers) stop(kind TimerKind) {
	if stop, ok := t.stops[kind]; ok {
		stop()
		delete(t.stops, kind)
	}
}
