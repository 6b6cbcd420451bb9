package toolset

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// skipDirs is the shared ignore-set for search_code and the Repo Map
// Builder-adjacent walks, grounded on internal/security/audit.go's
// filepath.WalkDir + pattern-skip idiom.
var skipDirs = map[string]bool{
	"node_modules": true, ".git": true, "dist": true, "build": true,
	".next": true, "out": true, "coverage": true, "__pycache__": true,
	".cache": true, "target": true, "vendor": true,
}

const maxSearchResults = 200

// SearchTool implements search_code: case-insensitive regex search bounded
// to 200 results, skipping binaries and ignored directories.
type SearchTool struct {
	resolver Resolver
}

func NewSearchTool(root string) *SearchTool { return &SearchTool{resolver: Resolver{Root: root}} }

func (t *SearchTool) Name() string        { return "search_code" }
func (t *SearchTool) Description() string { return "Regex search across the project, case-insensitive, capped at 200 results." }
func (t *SearchTool) ReadOnly() bool      { return true }

func (t *SearchTool) Schema() json.RawMessage {
	return jsonSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{"type": "string", "description": "Regular expression to search for."},
		},
		"required": []string{"pattern"},
	})
}

func (t *SearchTool) Execute(ctx context.Context, params json.RawMessage) (Result, error) {
	var input struct {
		Pattern string `json:"pattern"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return errorResult("invalid parameters: %v", err), nil
	}
	re, err := regexp.Compile("(?i)" + input.Pattern)
	if err != nil {
		return errorResult("invalid pattern: %v", err), nil
	}

	root, err := t.resolver.Resolve(".")
	if err != nil {
		return errorResult("%v", err), nil
	}

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
		if len(matches) >= maxSearchResults {
			return nil
		}
		if isLikelyBinary(path) {
			return nil
		}
		file, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer file.Close()
		scanner := bufio.NewScanner(file)
		lineNum := 0
		for scanner.Scan() && len(matches) < maxSearchResults {
			lineNum++
			line := scanner.Text()
			if re.MatchString(line) {
				rel, _ := filepath.Rel(root, path)
				matches = append(matches, fmt.Sprintf("%s:%d: %s", rel, lineNum, strings.TrimSpace(line)))
			}
		}
		return nil
	})
	if err != nil && err == ctx.Err() {
		return Result{}, ctx.Err()
	}

	return okResult(strings.Join(matches, "\n")), nil
}

func isLikelyBinary(path string) bool {
	file, err := os.Open(path)
	if err != nil {
		return true
	}
	defer file.Close()
	buf := make([]byte, 512)
	n, _ := file.Read(buf)
	return bytes.IndexByte(buf[:n], 0) != -1
}
