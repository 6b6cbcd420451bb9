package toolset

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// GitTool implements the git_* family (git_status, git_diff, git_log,
// git_add, git_commit) as a single dispatcher keyed by Name().
type GitTool struct {
	name     string
	resolver Resolver
}

func NewGitTool(name, root string) *GitTool {
	return &GitTool{name: name, resolver: Resolver{Root: root}}
}

func (t *GitTool) Name() string        { return t.name }
func (t *GitTool) Description() string { return "Run a scoped git subcommand against the project." }
func (t *GitTool) ReadOnly() bool      { return t.name == "git_status" || t.name == "git_diff" || t.name == "git_log" }

func (t *GitTool) Schema() json.RawMessage {
	props := map[string]any{}
	required := []string{}
	if t.name == "git_commit" {
		props["message"] = map[string]any{"type": "string", "description": "Commit message."}
		required = append(required, "message")
	}
	if t.name == "git_add" {
		props["paths"] = map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": "Paths to stage.",
		}
		required = append(required, "paths")
	}
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return jsonSchema(schema)
}

func (t *GitTool) Execute(ctx context.Context, params json.RawMessage) (Result, error) {
	dir, err := t.resolver.Resolve(".")
	if err != nil {
		return errorResult("%v", err), nil
	}

	var args []string
	switch t.name {
	case "git_status":
		args = []string{"status", "--porcelain"}
	case "git_diff":
		args = []string{"diff"}
	case "git_log":
		args = []string{"log", "--oneline", "-20"}
	case "git_add":
		var input struct {
			Paths []string `json:"paths"`
		}
		if err := json.Unmarshal(params, &input); err != nil || len(input.Paths) == 0 {
			return errorResult("paths is required"), nil
		}
		args = append([]string{"add"}, input.Paths...)
	case "git_commit":
		var input struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(params, &input); err != nil {
			return errorResult("invalid parameters: %v", err), nil
		}
		if strings.TrimSpace(input.Message) == "" {
			return errorResult("message is required"), nil
		}
		args = []string{"commit", "-m", input.Message}
	default:
		return errorResult("unsupported git tool: %s", t.name), nil
	}

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return errorResult("git %s: %v: %s", args[0], err, strings.TrimSpace(string(output))), nil
	}
	return okResult(fmt.Sprintf("%s", strings.TrimSpace(string(output)))), nil
}
