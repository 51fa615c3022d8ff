package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ToolCall is one requested tool invocation.
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// toolBlockPattern matches ```tool_calls fenced blocks.
var toolBlockPattern = regexp.MustCompile("(?s)```tool_calls[ \\t]*\\r?\\n(.*?)```")

// ParseToolCalls extracts every tool_calls block from text. It returns the
// calls in order, the text with all blocks removed, and the number of blocks
// that were skipped because their JSON did not parse.
func ParseToolCalls(text string) (calls []ToolCall, visible string, skipped int) {
	matches := toolBlockPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil, text, 0
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(text[last:m[0]])
		last = m[1]

		var block []ToolCall
		if err := json.Unmarshal([]byte(text[m[2]:m[3]]), &block); err != nil {
			skipped++
			continue
		}
		for _, c := range block {
			c.Name = strings.TrimSpace(c.Name)
			if c.Name == "" {
				continue
			}
			if len(c.Arguments) == 0 || string(c.Arguments) == "null" {
				c.Arguments = json.RawMessage(`{}`)
			}
			calls = append(calls, c)
		}
	}
	b.WriteString(text[last:])
	return calls, Normalize(b.String()), skipped
}
