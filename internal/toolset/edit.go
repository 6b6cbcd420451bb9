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

// EditTool implements edit_file: a literal search/replace, first match or
// all matches, written back atomically the same way WriteTool writes.
type EditTool struct {
	resolver Resolver
}

func NewEditTool(root string) *EditTool { return &EditTool{resolver: Resolver{Root: root}} }

func (t *EditTool) Name() string { return "edit_file" }
func (t *EditTool) Description() string {
	return "Replace a literal search string in a file with a new string."
}
func (t *EditTool) ReadOnly() bool { return false }

func (t *EditTool) Schema() json.RawMessage {
	return jsonSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":        map[string]any{"type": "string", "description": "Path relative to the project root."},
			"search":      map[string]any{"type": "string", "description": "Literal text to find."},
			"replace":     map[string]any{"type": "string", "description": "Replacement text."},
			"replaceAll":  map[string]any{"type": "boolean", "description": "Replace every occurrence instead of just the first."},
		},
		"required": []string{"path", "search", "replace"},
	})
}

func (t *EditTool) Execute(ctx context.Context, params json.RawMessage) (Result, error) {
	var input struct {
		Path       string `json:"path"`
		Search     string `json:"search"`
		Replace    string `json:"replace"`
		ReplaceAll bool   `json:"replaceAll"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return errorResult("invalid parameters: %v", err), nil
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return errorResult("%v", err), nil
	}

	content, err := os.ReadFile(resolved)
	if err != nil {
		return errorResult("read file: %v", err), nil
	}

	text := string(content)
	if !strings.Contains(text, input.Search) {
		return errorResult("search string not found in %s", input.Path), nil
	}

	var replaced string
	var count int
	if input.ReplaceAll {
		count = strings.Count(text, input.Search)
		replaced = strings.ReplaceAll(text, input.Search, input.Replace)
	} else {
		replaced = strings.Replace(text, input.Search, input.Replace, 1)
		count = 1
	}

	dir := filepath.Dir(resolved)
	tmpPath := filepath.Join(dir, ".autoagent-tmp-"+uuid.NewString())
	if err := os.WriteFile(tmpPath, []byte(replaced), 0o644); err != nil {
		os.Remove(tmpPath)
		return errorResult("write temp file: %v", err), nil
	}
	if err := os.Rename(tmpPath, resolved); err != nil {
		os.Remove(tmpPath)
		return errorResult("finalize edit: %v", err), nil
	}

	payload, _ := json.Marshal(map[string]any{"path": input.Path, "replacements": count})
	return okResult(fmt.Sprintf("%s", payload)), nil
}
