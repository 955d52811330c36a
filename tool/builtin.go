package tool

import (
	"context"
	"time"
)

// NewCurrentTimeTool returns the builtin get_current_time tool. It takes no
// arguments and reports the current instant as epoch milliseconds plus an
// RFC 3339 UTC string.
func NewCurrentTimeTool() *BuiltinTool {
	return NewBuiltinTool(
		"get_current_time",
		"Current time",
		"Get the current date and time",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{},
			"required":   []string{},
		},
		func(_ context.Context, _ map[string]any) (any, error) {
			now := time.Now()
			return map[string]any{
				"timestamp":  now.UnixMilli(),
				"utc_format": now.UTC().Format(time.RFC3339),
			}, nil
		},
	)
}

// Builtins returns the default builtin tool set attached to agents that
// enable builtin tools.
func Builtins() []Tool {
	return []Tool{NewCurrentTimeTool()}
}
