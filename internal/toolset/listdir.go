package toolset

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"strings"
)

// ListDirTool implements list_directory: a flat listing of one directory's
// immediate entries.
type ListDirTool struct {
	resolver Resolver
}

func NewListDirTool(root string) *ListDirTool { return &ListDirTool{resolver: Resolver{Root: root}} }

func (t *ListDirTool) Name() string        { return "list_directory" }
func (t *ListDirTool) Description() string { return "List the immediate entries of a project directory." }
func (t *ListDirTool) ReadOnly() bool      { return true }

func (t *ListDirTool) Schema() json.RawMessage {
	return jsonSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Directory path relative to the project root (default '.')."},
		},
	})
}

func (t *ListDirTool) Execute(ctx context.Context, params json.RawMessage) (Result, error) {
	var input struct {
		Path string `json:"path"`
	}
	_ = json.Unmarshal(params, &input)
	if input.Path == "" {
		input.Path = "."
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return errorResult("%v", err), nil
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return errorResult("read directory: %v", err), nil
	}

	var lines []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		lines = append(lines, name)
	}
	sort.Strings(lines)
	return okResult(strings.Join(lines, "\n")), nil
}
