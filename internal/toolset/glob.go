package toolset

import (
	"context"
	"encoding/json"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

const maxGlobResults = 500

// GlobTool implements glob_files: "*" matches one path segment, "**"
// matches any depth, result bounded to 500 entries.
type GlobTool struct {
	resolver Resolver
}

func NewGlobTool(root string) *GlobTool { return &GlobTool{resolver: Resolver{Root: root}} }

func (t *GlobTool) Name() string        { return "glob_files" }
func (t *GlobTool) Description() string { return "Glob match project files ('*' one segment, '**' any depth), capped at 500 entries." }
func (t *GlobTool) ReadOnly() bool      { return true }

func (t *GlobTool) Schema() json.RawMessage {
	return jsonSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{"type": "string", "description": "Glob pattern, e.g. **/*.go"},
		},
		"required": []string{"pattern"},
	})
}

func (t *GlobTool) Execute(ctx context.Context, params json.RawMessage) (Result, error) {
	var input struct {
		Pattern string `json:"pattern"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return errorResult("invalid parameters: %v", err), nil
	}

	root, err := t.resolver.Resolve(".")
	if err != nil {
		return errorResult("%v", err), nil
	}

	patternSegments := strings.Split(filepath.ToSlash(input.Pattern), "/")

	var matches []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if len(matches) >= maxGlobResults {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		relSlash := filepath.ToSlash(rel)
		if globMatch(patternSegments, strings.Split(relSlash, "/")) {
			matches = append(matches, relSlash)
		}
		return nil
	})
	if err != nil && err == ctx.Err() {
		return Result{}, ctx.Err()
	}

	sort.Strings(matches)
	return okResult(strings.Join(matches, "\n")), nil
}

// globMatch matches pattern segments against path segments: "*" consumes
// exactly one segment, "**" consumes any number (including zero).
func globMatch(pattern, path []string) bool {
	if len(pattern) == 0 {
		return len(path) == 0
	}
	if pattern[0] == "**" {
		if globMatch(pattern[1:], path) {
			return true
		}
		if len(path) == 0 {
			return false
		}
		return globMatch(pattern, path[1:])
	}
	if len(path) == 0 {
		return false
	}
	if !segmentMatch(pattern[0], path[0]) {
		return false
	}
	return globMatch(pattern[1:], path[1:])
}

func segmentMatch(pattern, segment string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return pattern == segment
	}
	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(segment, parts[0]) {
		return false
	}
	if !strings.HasSuffix(segment, parts[len(parts)-1]) {
		return false
	}
	return true
}
