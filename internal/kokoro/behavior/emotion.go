package behavior

// Emotion is the companion's ephemeral affect. Every component stays in
// [0, 1].
type Emotion struct {
	Affection float64 `json:"affection"`
	Security  float64 `json:"security"`
	Mood      float64 `json:"mood"`
	Energy    float64 `json:"energy"`
}

// DefaultEmotion is the affect at process start.
func DefaultEmotion() Emotion {
	return Emotion{Affection: 0.5, Security: 0.5, Mood: 0.6, Energy: 0.8}
}

// NightTick applies the per-tick drift used while it is night.
func (e *Emotion) NightTick() {
	e.Energy = clamp01(e.Energy - 0.02)
	e.Affection = clamp01(e.Affection + 0.01)
}

// Reassure shifts security and mood by delta, clamped.
func (e *Emotion) Reassure(delta float64) {
	e.Security = clamp01(e.Security + delta)
	e.Mood = clamp01(e.Mood + delta)
}

// Clamp forces every component into [0, 1].
func (e *Emotion) Clamp() {
	e.Affection = clamp01(e.Affection)
	e.Security = clamp01(e.Security)
	e.Mood = clamp01(e.Mood)
	e.Energy = clamp01(e.Energy)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
