package toolset

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// MaxReadBytes caps read_file output at 32 KiB.
const MaxReadBytes = 32 * 1024

// ReadTool implements read_file. Truncation past MaxReadBytes is
// explicit in the returned text.
type ReadTool struct {
	resolver Resolver
}

func NewReadTool(root string) *ReadTool { return &ReadTool{resolver: Resolver{Root: root}} }

func (t *ReadTool) Name() string        { return "read_file" }
func (t *ReadTool) Description() string { return "Read a file from the project, capped at 32 KiB." }
func (t *ReadTool) ReadOnly() bool      { return true }

func (t *ReadTool) Schema() json.RawMessage {
	return jsonSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Path relative to the project root."},
		},
		"required": []string{"path"},
	})
}

func (t *ReadTool) Execute(ctx context.Context, params json.RawMessage) (Result, error) {
	var input struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return errorResult("invalid parameters: %v", err), nil
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return errorResult("%v", err), nil
	}

	file, err := os.Open(resolved)
	if err != nil {
		return errorResult("open file: %v", err), nil
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return errorResult("stat file: %v", err), nil
	}

	limited := io.LimitReader(file, MaxReadBytes+1)
	content, err := io.ReadAll(limited)
	if err != nil {
		return errorResult("read file: %v", err), nil
	}

	truncated := int64(len(content)) > MaxReadBytes || info.Size() > MaxReadBytes
	if len(content) > MaxReadBytes {
		content = content[:MaxReadBytes]
	}

	text := string(content)
	if truncated {
		text = fmt.Sprintf("%s\n[truncated: file exceeds %d bytes]", text, MaxReadBytes)
	}
	return okResult(text), nil
}
