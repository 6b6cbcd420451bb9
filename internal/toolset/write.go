package toolset

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// WriteTool implements write_file. A mid-write failure must leave the
// file either untouched or fully written, so writes go to a sibling temp
// file renamed over the target, which is atomic on the same filesystem.
type WriteTool struct {
	resolver Resolver
}

func NewWriteTool(root string) *WriteTool { return &WriteTool{resolver: Resolver{Root: root}} }

func (t *WriteTool) Name() string { return "write_file" }
func (t *WriteTool) Description() string {
	return "Write content to a file in the project, creating parent directories as needed."
}
func (t *WriteTool) ReadOnly() bool { return false }

func (t *WriteTool) Schema() json.RawMessage {
	return jsonSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string", "description": "Path relative to the project root."},
			"content": map[string]any{"type": "string", "description": "File contents to write."},
		},
		"required": []string{"path", "content"},
	})
}

func (t *WriteTool) Execute(ctx context.Context, params json.RawMessage) (Result, error) {
	var input struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return errorResult("invalid parameters: %v", err), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return errorResult("path is required"), nil
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return errorResult("%v", err), nil
	}

	dir := filepath.Dir(resolved)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errorResult("create directory: %v", err), nil
	}

	tmpPath := filepath.Join(dir, ".autoagent-tmp-"+uuid.NewString())
	if err := os.WriteFile(tmpPath, []byte(input.Content), 0o644); err != nil {
		os.Remove(tmpPath)
		return errorResult("write temp file: %v", err), nil
	}
	if err := os.Rename(tmpPath, resolved); err != nil {
		os.Remove(tmpPath)
		return errorResult("finalize write: %v", err), nil
	}

	payload, _ := json.Marshal(map[string]any{
		"path":          input.Path,
		"bytes_written": len(input.Content),
	})
	return okResult(fmt.Sprintf("%s", payload)), nil
}
