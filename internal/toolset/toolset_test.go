package toolset

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolverRejectsEscape(t *testing.T) {
	dir := t.TempDir()
	r := Resolver{Root: dir}
	if _, err := r.Resolve("../../etc/passwd"); err != ErrPathOutsideProject {
		t.Fatalf("expected ErrPathOutsideProject, got %v", err)
	}
}

func TestResolverAllowsNested(t *testing.T) {
	dir := t.TempDir()
	r := Resolver{Root: dir}
	resolved, err := r.Resolve("sub/file.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(resolved, dir) {
		t.Fatalf("resolved path %q escaped root %q", resolved, dir)
	}
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := NewWriteTool(dir)
	params, _ := json.Marshal(map[string]string{"path": "hello.py", "content": "print('Hello')"})
	result, err := w.Execute(context.Background(), params)
	if err != nil || result.IsError {
		t.Fatalf("write failed: %v %v", err, result)
	}

	r := NewReadTool(dir)
	params, _ = json.Marshal(map[string]string{"path": "hello.py"})
	readResult, err := r.Execute(context.Background(), params)
	if err != nil || readResult.IsError {
		t.Fatalf("read failed: %v %v", err, readResult)
	}
	if readResult.Content != "print('Hello')" {
		t.Fatalf("got %q", readResult.Content)
	}
}

func TestWriteRejectsPathEscape(t *testing.T) {
	dir := t.TempDir()
	w := NewWriteTool(dir)
	params, _ := json.Marshal(map[string]string{"path": "../outside.txt", "content": "x"})
	result, err := w.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError || !strings.HasPrefix(result.Content, "Error:") {
		t.Fatalf("expected Error-prefixed result, got %v", result)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "..", "outside.txt")); statErr == nil {
		t.Fatalf("file escaped project root")
	}
}

func TestReadTruncatesAt32KiB(t *testing.T) {
	dir := t.TempDir()
	big := strings.Repeat("a", MaxReadBytes+100)
	if err := os.WriteFile(filepath.Join(dir, "big.txt"), []byte(big), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	r := NewReadTool(dir)
	params, _ := json.Marshal(map[string]string{"path": "big.txt"})
	result, err := r.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Content, "[truncated") {
		t.Fatalf("expected truncation marker, got length %d", len(result.Content))
	}
}

func TestEditReplacesFirstOccurrence(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "f.txt"), []byte("foo foo foo"), 0o644)

	e := NewEditTool(dir)
	params, _ := json.Marshal(map[string]any{"path": "f.txt", "search": "foo", "replace": "bar"})
	result, err := e.Execute(context.Background(), params)
	if err != nil || result.IsError {
		t.Fatalf("edit failed: %v %v", err, result)
	}

	content, _ := os.ReadFile(filepath.Join(dir, "f.txt"))
	if string(content) != "bar foo foo" {
		t.Fatalf("got %q", content)
	}
}

func TestEditMissingSearchErrors(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "f.txt"), []byte("hello"), 0o644)

	e := NewEditTool(dir)
	params, _ := json.Marshal(map[string]any{"path": "f.txt", "search": "missing", "replace": "x"})
	result, err := e.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected error result")
	}
}

func TestRunCommandExitCode(t *testing.T) {
	dir := t.TempDir()
	run := NewRunTool(dir)
	params, _ := json.Marshal(map[string]string{"command": "exit 3"})
	result, err := run.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(result.Content, "exit 3\n") {
		t.Fatalf("got %q", result.Content)
	}
}

func TestRunCommandRejectsMultiline(t *testing.T) {
	dir := t.TempDir()
	run := NewRunTool(dir)
	params, _ := json.Marshal(map[string]string{"command": "echo hi\necho bye"})
	result, err := run.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected rejection of multi-line command")
	}
}

func TestGlobMatchesDoubleStarAnyDepth(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "a", "b"), 0o755)
	os.WriteFile(filepath.Join(dir, "a", "b", "c.go"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, "top.go"), []byte("x"), 0o644)

	g := NewGlobTool(dir)
	params, _ := json.Marshal(map[string]string{"pattern": "**/*.go"})
	result, err := g.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Content, "a/b/c.go") || !strings.Contains(result.Content, "top.go") {
		t.Fatalf("got %q", result.Content)
	}
}

func TestIsReadOnlySet(t *testing.T) {
	for _, name := range []string{"read_file", "search_code", "glob_files", "list_directory"} {
		if !IsReadOnly(name) {
			t.Fatalf("expected %s to be read-only", name)
		}
	}
	if IsReadOnly("write_file") {
		t.Fatalf("write_file must not be read-only")
	}
}
