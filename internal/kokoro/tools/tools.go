// Package tools provides the tool runtime used by kokoro's chat loop.
//
// Models request tools by embedding a ```tool_calls block in their reply
// (see llm.ParseToolCalls). Each call is dispatched by name to a registered
// Tool after its arguments are validated against the tool's JSON Schema.
// Results are fed back to the model as text.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/bdobrica/kokoro/internal/kokoro/schema"
)

// ErrUnknownTool is returned when no tool is registered under the name.
var ErrUnknownTool = errors.New("tools: unknown tool")

// ErrRateLimited is returned when a tool exceeded its per-minute allowance.
var ErrRateLimited = errors.New("tools: rate limited")

// Definition describes a tool to the model.
type Definition struct {
	Name        string
	Description string
	// Parameters is a JSON Schema object for the arguments.
	Parameters map[string]any
	// MaxPerMinute limits calls; 0 means unlimited.
	MaxPerMinute int
}

// Tool is one named capability.
type Tool interface {
	Definition() Definition
	// Execute runs the tool with validated, JSON-decoded arguments and
	// returns a result for the model.
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Runtime executes tool calls by name.
type Runtime interface {
	Execute(ctx context.Context, name string, args json.RawMessage) (string, error)
}

type entry struct {
	tool   Tool
	schema *jsonschema.Schema
	rl     *rateLimiter
}

// Registry holds registered tools. Populate it at startup before serving
// requests; Register is not safe to call concurrently with Execute.
type Registry struct {
	tools map[string]*entry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*entry)}
}

// Register adds t. A duplicate name or an invalid parameter schema is an
// error.
func (r *Registry) Register(t Tool) error {
	def := t.Definition()
	if def.Name == "" {
		return fmt.Errorf("tools: register: empty name")
	}
	if _, dup := r.tools[def.Name]; dup {
		return fmt.Errorf("tools: duplicate tool registration: %s", def.Name)
	}
	params := def.Parameters
	if params == nil {
		params = map[string]any{"type": "object"}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("tools: %s: encode schema: %w", def.Name, err)
	}
	s, err := schema.CompileBytes("tool-"+def.Name, raw)
	if err != nil {
		return fmt.Errorf("tools: %s: %w", def.Name, err)
	}
	r.tools[def.Name] = &entry{tool: t, schema: s, rl: &rateLimiter{}}
	return nil
}

// Names returns registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Describe renders the tool catalogue for the system prompt.
func (r *Registry) Describe() string {
	if len(r.tools) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Tools are available. To call tools, reply with a fenced block:\n")
	b.WriteString("```tool_calls\n[{\"name\": \"<tool>\", \"arguments\": {...}}]\n```\n")
	b.WriteString("Available tools:\n")
	for _, name := range r.Names() {
		def := r.tools[name].tool.Definition()
		params, _ := json.Marshal(def.Parameters)
		fmt.Fprintf(&b, "- %s: %s Arguments schema: %s\n", def.Name, def.Description, params)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Execute implements Runtime.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	e, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var decoded map[string]any
	if err := schema.Decode(e.schema, args, &decoded); err != nil {
		return "", fmt.Errorf("tools: %s: invalid arguments: %w", name, err)
	}
	if !e.rl.allow(e.tool.Definition().MaxPerMinute, time.Now()) {
		return "", fmt.Errorf("%w: %s", ErrRateLimited, name)
	}
	return e.tool.Execute(ctx, decoded)
}

var _ Runtime = (*Registry)(nil)

// stringArg extracts a string value from a JSON-decoded args map.
// Returns ("", false) when the key is absent or the value is not a string.
func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// rateLimiter is a fixed-window rate limiter safe for concurrent use.
// A maxPerMinute of 0 means unlimited (always allows).
type rateLimiter struct {
	mu          sync.Mutex
	count       int
	windowStart time.Time
}

// allow reports whether a new call is permitted under the maxPerMinute
// limit. It increments the counter when the call is allowed.
func (r *rateLimiter) allow(maxPerMinute int, now time.Time) bool {
	if maxPerMinute <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.windowStart.IsZero() || now.Sub(r.windowStart) >= time.Minute {
		r.count = 0
		r.windowStart = now
	}
	if r.count >= maxPerMinute {
		return false
	}
	r.count++
	return true
}
