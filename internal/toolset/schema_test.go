package toolset

import (
	"encoding/json"
	"testing"
)

func TestVerifySchemasClosedSet(t *testing.T) {
	dir := t.TempDir()
	tools := map[string]Tool{
		"write_file":     NewWriteTool(dir),
		"read_file":      NewReadTool(dir),
		"edit_file":      NewEditTool(dir),
		"run_command":    NewRunTool(dir),
		"search_code":    NewSearchTool(dir),
		"glob_files":     NewGlobTool(dir),
		"list_directory": NewListDirTool(dir),
	}
	if err := VerifySchemas(tools); err != nil {
		t.Fatalf("closed-set schemas must all compile: %v", err)
	}
}

type brokenSchemaTool struct{ Tool }

func (brokenSchemaTool) Name() string            { return "broken" }
func (brokenSchemaTool) Schema() json.RawMessage { return json.RawMessage(`{"type": 42}`) }

func TestVerifySchemasRejectsMalformed(t *testing.T) {
	tools := map[string]Tool{"broken": brokenSchemaTool{}}
	if err := VerifySchemas(tools); err == nil {
		t.Fatal("expected malformed schema to be rejected")
	}
}

func TestValidateInput(t *testing.T) {
	dir := t.TempDir()
	w := NewWriteTool(dir)

	good, _ := json.Marshal(map[string]string{"path": "a.txt", "content": "x"})
	if err := ValidateInput(w, good); err != nil {
		t.Fatalf("valid input rejected: %v", err)
	}

	bad := json.RawMessage(`{"path": 7}`)
	if err := ValidateInput(w, bad); err == nil {
		t.Fatal("expected non-string path to be rejected")
	}
}
