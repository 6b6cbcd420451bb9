// Package repomap builds a bounded textual inventory of the project
// tree, fed into the initial prompt: one line per file with its size and
// up to ten top-level symbol names.
package repomap

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// DefaultCharBudget is the default truncation budget.
const DefaultCharBudget = 3000

const maxFileSize = 500 * 1024
const peekSize = 2 * 1024
const maxSymbolsPerFile = 10

// ignoreDirs are never descended into.
var ignoreDirs = map[string]bool{
	"node_modules": true, ".git": true, "dist": true, "build": true,
	".next": true, "out": true, "coverage": true, "__pycache__": true,
	".cache": true, "target": true, "vendor": true,
}

// skipExtensions covers binary/asset files unlikely to carry symbols
// worth summarizing.
var skipExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
	".ico": true, ".woff": true, ".woff2": true, ".ttf": true, ".eot": true,
	".mp4": true, ".mp3": true, ".zip": true, ".tar": true, ".gz": true,
	".lock": true, ".sum": true, ".exe": true, ".bin": true, ".so": true,
	".wasm": true, ".pdf": true,
}

// symbolPatterns are language-agnostic declaration patterns (exported or
// not):
// function/class/struct/interface keywords across common languages,
// matched against the first 2KiB of a file.
var symbolPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\s*func\s+(?:\([^)]*\)\s*)?([A-Za-z_][A-Za-z0-9_]*)\s*\(`),
	regexp.MustCompile(`^\s*type\s+([A-Za-z_][A-Za-z0-9_]*)\s+(?:struct|interface)\b`),
	regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s+([A-Za-z_$][A-Za-z0-9_$]*)\s*\(`),
	regexp.MustCompile(`^\s*(?:export\s+)?class\s+([A-Za-z_$][A-Za-z0-9_$]*)`),
	regexp.MustCompile(`^\s*(?:export\s+)?interface\s+([A-Za-z_$][A-Za-z0-9_$]*)`),
	regexp.MustCompile(`^\s*def\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`),
	regexp.MustCompile(`^\s*class\s+([A-Za-z_][A-Za-z0-9_]*)`),
	regexp.MustCompile(`^\s*(?:pub\s+)?fn\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`),
	regexp.MustCompile(`^\s*(?:pub\s+)?struct\s+([A-Za-z_][A-Za-z0-9_]*)`),
}

// fileEntry is one line of the map, prior to rendering.
type fileEntry struct {
	path    string
	size    int64
	symbols []string
}

// Build walks root and produces the bounded textual inventory, truncated
// to charBudget characters. charBudget <= 0 uses DefaultCharBudget.
func Build(root string, charBudget int) (string, error) {
	if charBudget <= 0 {
		charBudget = DefaultCharBudget
	}

	var entries []fileEntry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries rather than aborting the whole walk
		}
		if d.IsDir() {
			if ignoreDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if skipExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > maxFileSize {
			return nil
		}
		symbols, err := extractSymbols(path)
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		entries = append(entries, fileEntry{path: rel, size: info.Size(), symbols: symbols})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("repomap: walk: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })

	return render(entries, charBudget), nil
}

func extractSymbols(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, peekSize)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return nil, nil
	}

	var symbols []string
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(strings.NewReader(string(buf[:n])))
	for scanner.Scan() {
		line := scanner.Text()
		for _, pattern := range symbolPatterns {
			if m := pattern.FindStringSubmatch(line); m != nil {
				name := m[1]
				if !seen[name] {
					seen[name] = true
					symbols = append(symbols, name)
				}
				break
			}
		}
		if len(symbols) >= maxSymbolsPerFile {
			break
		}
	}
	return symbols, nil
}

// render formats entries as "path (size) — sym1, sym2, …" lines and
// truncates to budget characters, never splitting mid-line.
func render(entries []fileEntry, budget int) string {
	var b strings.Builder
	for _, e := range entries {
		line := fmt.Sprintf("%s (%d)", e.path, e.size)
		if len(e.symbols) > 0 {
			line += " — " + strings.Join(e.symbols, ", ")
		}
		line += "\n"
		if b.Len()+len(line) > budget {
			break
		}
		b.WriteString(line)
	}
	out := b.String()
	if len(out) > budget {
		out = out[:budget]
	}
	return out
}
