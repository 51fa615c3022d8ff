// Package commands parses and routes the slash commands that users can type
// into the chat channel.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Command represents a parsed command
type Command struct {
	Name       string
	Subcommand string
	Args       []string
	// Rest is the raw text after the command name, whitespace preserved.
	Rest    string
	RawText string
}

// ErrNotACommand is returned by Parse and Route when the message is not a
// known slash command and should be handled as normal chat. Callers use
// errors.Is to distinguish this expected case from real errors.
var ErrNotACommand = errors.New("not a command")

// Handler handles one command and returns the reply text.
type Handler func(ctx context.Context, cmd *Command) (string, error)

// Router routes commands to handlers
type Router struct {
	handlers map[string]Handler
	prefix   string
}

// NewRouter creates a command router for commands starting with prefix.
func NewRouter(prefix string) *Router {
	return &Router{
		handlers: make(map[string]Handler),
		prefix:   prefix,
	}
}

// Register registers a handler under "name" or "name.sub".
func (r *Router) Register(command string, handler Handler) {
	r.handlers[command] = handler
}

// Parse parses a message into a command
func (r *Router) Parse(text string) (*Command, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, r.prefix) {
		return nil, ErrNotACommand
	}
	text = strings.TrimPrefix(text, r.prefix)
	if text == "" || unicode.IsSpace(rune(text[0])) {
		return nil, ErrNotACommand
	}

	name, rest := splitFirst(text)
	cmd := &Command{
		Name:    strings.ToLower(name),
		Args:    []string{},
		Rest:    strings.TrimSpace(rest),
		RawText: text,
	}
	parts := strings.Fields(cmd.Rest)
	if len(parts) > 0 {
		cmd.Subcommand = strings.ToLower(parts[0])
		cmd.Args = parts[1:]
	}
	return cmd, nil
}

// Route parses text and runs the matching handler. It returns
// ErrNotACommand when no handler is registered for the command name.
func (r *Router) Route(ctx context.Context, text string) (string, error) {
	cmd, err := r.Parse(text)
	if err != nil {
		return "", err
	}

	handler, ok := r.handlers[cmd.Name+"."+cmd.Subcommand]
	if !ok || cmd.Subcommand == "" {
		handler, ok = r.handlers[cmd.Name]
		if !ok {
			return "", ErrNotACommand
		}
	}
	return handler(ctx, cmd)
}

// GetArg returns an argument by index
func (c *Command) GetArg(index int) (string, bool) {
	if index < 0 || index >= len(c.Args) {
		return "", false
	}
	return c.Args[index], true
}

// ArgText returns the raw text following the subcommand.
func (c *Command) ArgText() string {
	_, after := splitFirst(c.Rest)
	return after
}

// FullCommand returns the full command string
func (c *Command) FullCommand() string {
	if c.Subcommand != "" {
		return c.Name + " " + c.Subcommand
	}
	return c.Name
}

// splitFirst splits s at its first whitespace run.
func splitFirst(s string) (head, tail string) {
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}

func usage(format string, args ...any) (string, error) {
	return "Usage: " + fmt.Sprintf(format, args...), nil
}
