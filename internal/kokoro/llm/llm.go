// Package llm talks to chat-completion backends for kokoro.
//
// The package is split into:
//   - Backend implementations: OpenAI-compatible HTTP APIs and Gemini.
//   - Router: backend selection, per-call timeout, bounded retry.
//   - Sanitize: post-processing of model output before it reaches the user.
//   - Budget: token estimation and prompt assembly for a model's limits.
//   - ParseToolCalls: extraction of tool_calls blocks embedded in replies.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoBackend is returned when no backend is configured.
var ErrNoBackend = errors.New("llm: no configured backend")

// ErrParse marks a delegate response that could not be interpreted.
// Callers treat it as "no result" and keep their prior state.
var ErrParse = errors.New("llm: unparsable response")

// Role is the author of a prompt message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one prompt turn.
type Message struct {
	Role    Role
	Content string
}

// Request is a single completion call. System is sent ahead of Messages.
type Request struct {
	System      string
	Messages    []Message
	Temperature float64
	// MaxTokens caps the reply. Zero uses the backend's output limit.
	MaxTokens int
	// JSON asks backends that support it for a JSON object reply.
	JSON bool
}

// Usage holds token counts reported by the backend, when any.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Response is a raw completion.
type Response struct {
	Text    string
	Backend string
	Model   string
	Usage   Usage
}

// Limits are the model's context and output windows in tokens.
type Limits struct {
	Context int
	Output  int
}

// Backend is one chat-completion provider.
// Implementations must be safe for concurrent use.
type Backend interface {
	Name() string
	// Configured reports whether the backend has a credential or targets a
	// keyless loopback endpoint.
	Configured() bool
	Limits() Limits
	Complete(ctx context.Context, req Request) (Response, error)
}

// Completer is the narrow interface delegates depend on. *Router satisfies it.
type Completer interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// ProviderError wraps a failed backend call with the backend name and the
// HTTP status when one was received (0 for network-level failures).
type ProviderError struct {
	Backend string
	Status  int
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("llm: %s: HTTP %d: %v", e.Backend, e.Status, e.Err)
	}
	return fmt.Sprintf("llm: %s: %v", e.Backend, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
