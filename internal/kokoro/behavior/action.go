package behavior

import "time"

// Action is the motion the presentation sink should play.
type Action string

const (
	ActionApproach   Action = "APPROACH"
	ActionRetreat    Action = "RETREAT"
	ActionInviteChat Action = "INVITE_CHAT"
	// ActionExpress changes only the expression.
	ActionExpress Action = "EXPRESS"
)

// Proactive reports whether a is an unsolicited bid for attention. Only
// these count toward the daily cap and can be ignored.
func (a Action) Proactive() bool {
	return a == ActionApproach || a == ActionInviteChat
}

// Expression is the avatar's facial expression.
type Expression string

const (
	ExpressionNeutral Expression = "NEUTRAL"
	ExpressionHappy   Expression = "HAPPY"
	ExpressionSad     Expression = "SAD"
	ExpressionCurious Expression = "CURIOUS"
)

// ActionCommand is the only output consumed by the presentation sink.
type ActionCommand struct {
	TS         time.Time  `json:"ts"`
	Action     Action     `json:"action"`
	Expression Expression `json:"expression"`
	Bubble     string     `json:"bubble,omitempty"`
	DurationMs int64      `json:"duration_ms"`
}

// Duration returns DurationMs as a time.Duration.
func (c ActionCommand) Duration() time.Duration {
	return time.Duration(c.DurationMs) * time.Millisecond
}

// InteractionKind classifies user feedback on the avatar.
type InteractionKind string

const (
	// InteractionClick is a click or tap on the avatar.
	InteractionClick InteractionKind = "CLICK"
	// InteractionChat is a chat message from the user.
	InteractionChat InteractionKind = "CHAT"
	// InteractionIgnored reports that a proactive command went unanswered.
	InteractionIgnored InteractionKind = "IGNORED_ACTION"
)

// Interaction is user feedback delivered to the engine.
type Interaction struct {
	Kind InteractionKind `json:"kind"`
	TS   time.Time       `json:"ts"`
	// Action is the command being ignored, for InteractionIgnored.
	Action Action `json:"action,omitempty"`
}
