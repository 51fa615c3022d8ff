package behavior

import (
	"encoding/json"
	"fmt"
)

// SignalKind identifies an ad-hoc proactive trigger.
type SignalKind string

const (
	KindClipboardTime        SignalKind = "CLIPBOARD_TIME"
	KindClipboardLink        SignalKind = "CLIPBOARD_LINK"
	KindHealthLongSession    SignalKind = "HEALTH_LONG_SESSION"
	KindHealthLateNight      SignalKind = "HEALTH_LATE_NIGHT"
	KindSystemBattery        SignalKind = "SYSTEM_BATTERY"
	KindContextFocus         SignalKind = "CONTEXT_FOCUS"
	KindContextEntertainment SignalKind = "CONTEXT_ENTERTAINMENT"
	KindContextSocialFatigue SignalKind = "CONTEXT_SOCIAL_FATIGUE"
	KindRandomTip            SignalKind = "RANDOM_TIP"
)

// AllSignalKinds lists every kind in declaration order.
var AllSignalKinds = []SignalKind{
	KindClipboardTime,
	KindClipboardLink,
	KindHealthLongSession,
	KindHealthLateNight,
	KindSystemBattery,
	KindContextFocus,
	KindContextEntertainment,
	KindContextSocialFatigue,
	KindRandomTip,
}

// Health reports whether k belongs to the health class, which bypasses the
// global proactive gate.
func (k SignalKind) Health() bool {
	switch k {
	case KindHealthLongSession, KindHealthLateNight, KindSystemBattery:
		return true
	}
	return false
}

// Valid reports whether k is a known kind.
func (k SignalKind) Valid() bool {
	for _, known := range AllSignalKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Signal is an ad-hoc trigger pushed by a clipboard, battery or system
// collaborator. The set of implementations is closed.
type Signal interface {
	Kind() SignalKind
	// Hint is a short plain description used to phrase the bubble and as
	// the bubble itself when no generator is available.
	Hint() string
	isSignal()
}

// ClipboardTime fires when a time or date is copied.
type ClipboardTime struct {
	Text string `json:"text"`
}

// ClipboardLink fires when a URL is copied.
type ClipboardLink struct {
	URL string `json:"url"`
}

// HealthLongSession fires after a long uninterrupted session.
type HealthLongSession struct {
	Minutes int `json:"minutes"`
}

// HealthLateNight fires when the user is active late at night.
type HealthLateNight struct {
	Hour int `json:"hour"`
}

// SystemBattery fires on a low battery reading.
type SystemBattery struct {
	Percent  int  `json:"percent"`
	Charging bool `json:"charging"`
}

// ContextFocus fires when the user settles into a work app.
type ContextFocus struct {
	App string `json:"app"`
}

// ContextEntertainment fires when the user opens an entertainment app.
type ContextEntertainment struct {
	App string `json:"app"`
}

// ContextSocialFatigue fires after repeated social-app checks.
type ContextSocialFatigue struct {
	Hits int `json:"hits"`
}

// RandomTip is emitted by the scheduler.
type RandomTip struct {
	Topic string `json:"topic"`
}

func (ClipboardTime) Kind() SignalKind        { return KindClipboardTime }
func (ClipboardLink) Kind() SignalKind        { return KindClipboardLink }
func (HealthLongSession) Kind() SignalKind    { return KindHealthLongSession }
func (HealthLateNight) Kind() SignalKind      { return KindHealthLateNight }
func (SystemBattery) Kind() SignalKind        { return KindSystemBattery }
func (ContextFocus) Kind() SignalKind         { return KindContextFocus }
func (ContextEntertainment) Kind() SignalKind { return KindContextEntertainment }
func (ContextSocialFatigue) Kind() SignalKind { return KindContextSocialFatigue }
func (RandomTip) Kind() SignalKind            { return KindRandomTip }

func (ClipboardTime) isSignal()        {}
func (ClipboardLink) isSignal()        {}
func (HealthLongSession) isSignal()    {}
func (HealthLateNight) isSignal()      {}
func (SystemBattery) isSignal()        {}
func (ContextFocus) isSignal()         {}
func (ContextEntertainment) isSignal() {}
func (ContextSocialFatigue) isSignal() {}
func (RandomTip) isSignal()            {}

func (s ClipboardTime) Hint() string { return fmt.Sprintf("You copied a time: %s.", s.Text) }
func (s ClipboardLink) Hint() string { return "You copied a link. Want me to keep it in mind?" }
func (s HealthLongSession) Hint() string {
	return fmt.Sprintf("You've been at it for %d minutes. Stretch a little?", s.Minutes)
}
func (s HealthLateNight) Hint() string { return "It's getting late. Don't forget to rest." }
func (s SystemBattery) Hint() string {
	if s.Charging {
		return fmt.Sprintf("Battery at %d%%, charging.", s.Percent)
	}
	return fmt.Sprintf("Battery at %d%%. Maybe plug in?", s.Percent)
}
func (s ContextFocus) Hint() string {
	return "Deep in " + orDefault(s.App, "work") + ". Remember to blink."
}
func (s ContextEntertainment) Hint() string { return "Taking a break? Enjoy it." }
func (s ContextSocialFatigue) Hint() string { return "That's a lot of feed checking. Short break?" }
func (s RandomTip) Hint() string {
	if s.Topic != "" {
		return "A small tip about " + s.Topic + "."
	}
	return "Here's a small tip for today."
}

// DecodeSignal builds the Signal for kind from its JSON payload. An empty
// payload yields the zero value of the kind's struct.
func DecodeSignal(kind SignalKind, payload json.RawMessage) (Signal, error) {
	var sig Signal
	switch kind {
	case KindClipboardTime:
		sig = &ClipboardTime{}
	case KindClipboardLink:
		sig = &ClipboardLink{}
	case KindHealthLongSession:
		sig = &HealthLongSession{}
	case KindHealthLateNight:
		sig = &HealthLateNight{}
	case KindSystemBattery:
		sig = &SystemBattery{}
	case KindContextFocus:
		sig = &ContextFocus{}
	case KindContextEntertainment:
		sig = &ContextEntertainment{}
	case KindContextSocialFatigue:
		sig = &ContextSocialFatigue{}
	case KindRandomTip:
		sig = &RandomTip{}
	default:
		return nil, fmt.Errorf("behavior: unknown signal kind %q", kind)
	}
	if len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, sig); err != nil {
			return nil, fmt.Errorf("behavior: decode %s payload: %w", kind, err)
		}
	}
	return deref(sig), nil
}

func deref(sig Signal) Signal {
	switch s := sig.(type) {
	case *ClipboardTime:
		return *s
	case *ClipboardLink:
		return *s
	case *HealthLongSession:
		return *s
	case *HealthLateNight:
		return *s
	case *SystemBattery:
		return *s
	case *ContextFocus:
		return *s
	case *ContextEntertainment:
		return *s
	case *ContextSocialFatigue:
		return *s
	case *RandomTip:
		return *s
	}
	return sig
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
