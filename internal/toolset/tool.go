package toolset

import (
	"context"
	"encoding/json"
	"fmt"
)

// Result is a tool's outcome: either success content or an error string.
// Every failure materializes as an IsError Result rather than a Go error;
// its Content starts with "Error: ", except run_command, which keeps its
// "exit N" format for non-zero exits. Callers should only ever see a
// non-nil error for cancellation or programmer mistakes.
type Result struct {
	Content string
	IsError bool
}

// Tool is the interface every member of the closed tool set implements.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	// ReadOnly reports whether this tool has no side effects on the
	// project tree, the closed set the orchestrator dispatches
	// concurrently within a turn.
	ReadOnly() bool
	Execute(ctx context.Context, input json.RawMessage) (Result, error)
}

func errorResult(format string, args ...any) Result {
	return Result{Content: "Error: " + fmt.Sprintf(format, args...), IsError: true}
}

func okResult(content string) Result {
	return Result{Content: content}
}

func jsonSchema(schema map[string]any) json.RawMessage {
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// ReadOnlyNames is the closed set of tools safe to dispatch concurrently
// within a turn; adding a new read-only tool requires updating this set.
var ReadOnlyNames = map[string]bool{
	"read_file":      true,
	"search_code":    true,
	"glob_files":     true,
	"list_directory": true,
}

// IsReadOnly reports whether toolName belongs to the closed read-only set.
func IsReadOnly(toolName string) bool {
	return ReadOnlyNames[toolName]
}
