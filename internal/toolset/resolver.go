// Package toolset implements the tool executor: the closed set of
// tools the orchestrator can dispatch: write_file, read_file, edit_file,
// run_command, search_code, glob_files, list_directory, git_*, and ask_user
// (delegated to the caller via the Asker interface). Every relative path
// resolves against the project root and must stay inside it.
package toolset

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrPathOutsideProject is returned whenever a resolved path would
// escape the project root.
var ErrPathOutsideProject = errors.New("path_outside_project")

// Resolver confines relative paths to a project root.
type Resolver struct {
	Root string
}

// Resolve joins path against the root and verifies the resolved absolute
// path remains a descendant of it.
func (r Resolver) Resolve(path string) (string, error) {
	path = strings.TrimSpace(path)
	rootAbs, err := filepath.Abs(r.Root)
	if err != nil {
		return "", err
	}
	if path == "" || path == "." {
		return rootAbs, nil
	}

	var target string
	if filepath.IsAbs(path) {
		target = path
	} else {
		target = filepath.Join(rootAbs, path)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(rootAbs, targetAbs)
	if err != nil {
		return "", ErrPathOutsideProject
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrPathOutsideProject
	}
	return targetAbs, nil
}
