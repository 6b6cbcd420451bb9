package toolset

import (
	"context"
	"encoding/json"
)

// MCPInvoke invokes one tool on an external MCP adapter. The toolset does
// not manage the adapter's subprocess; it only holds the invocation
// contract, keyed by the tool's adapter-side name.
type MCPInvoke func(ctx context.Context, name string, input json.RawMessage) (content string, isError bool, err error)

// MCPTool exposes one MCP-advertised tool descriptor under an
// mcp_-prefixed name in the tool map. MCP tools are treated as mutating:
// the adapter cannot attest side-effect freedom, so they never join the
// concurrent read-only batch.
type MCPTool struct {
	name        string
	remoteName  string
	description string
	schema      json.RawMessage
	invoke      MCPInvoke
}

func NewMCPTool(name, remoteName, description string, schema json.RawMessage, invoke MCPInvoke) *MCPTool {
	if len(schema) == 0 {
		schema = json.RawMessage(`{"type":"object"}`)
	}
	return &MCPTool{name: name, remoteName: remoteName, description: description, schema: schema, invoke: invoke}
}

func (t *MCPTool) Name() string            { return t.name }
func (t *MCPTool) Description() string     { return t.description }
func (t *MCPTool) Schema() json.RawMessage { return t.schema }
func (t *MCPTool) ReadOnly() bool          { return false }

func (t *MCPTool) Execute(ctx context.Context, input json.RawMessage) (Result, error) {
	content, isError, err := t.invoke(ctx, t.remoteName, input)
	if err != nil {
		return errorResult("mcp tool %s: %v", t.remoteName, err), nil
	}
	if isError {
		return Result{Content: "Error: " + content, IsError: true}, nil
	}
	return okResult(content), nil
}
