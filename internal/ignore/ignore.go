// Package ignore decides which workspace paths are excluded from sync.
package ignore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// FileName is the per-workspace ignore file, read once at session
// start from the workspace root.
const FileName = ".syncignore"

// defaultPatterns are always excluded, whether or not the workspace
// carries an ignore file.
var defaultPatterns = []string{
	".git/",
	"node_modules/",
	"dist/",
	"build/",
	"target/",
	".cache/",
	".idea/",
	".vscode/",
	"*.log",
}

// Matcher is a compiled exclusion predicate for one workspace root.
type Matcher struct {
	root    string
	matcher *gitignore.GitIgnore
}

// Load builds a Matcher for the workspace rooted at root. Patterns
// come from the workspace's .syncignore file, layered on top of the
// built-in defaults. A missing ignore file is treated as empty.
func Load(root string) (*Matcher, error) {
	patterns := append([]string(nil), defaultPatterns...)

	data, err := os.ReadFile(filepath.Join(root, FileName))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading %s: %w", FileName, err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}

	return &Matcher{
		root:    filepath.Clean(root),
		matcher: gitignore.CompileIgnoreLines(patterns...),
	}, nil
}

// Rel converts an absolute path to the workspace-relative,
// slash-separated form used for matching and for remote destination
// paths. ok is false when the path lies outside the workspace root.
func (m *Matcher) Rel(abs string) (rel string, ok bool) {
	rel, err := filepath.Rel(m.root, filepath.Clean(abs))
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == "" || rel == "." || rel == ".." ||
		strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}

// Ignored reports whether abs is excluded from sync. Anything that
// does not resolve to a path strictly inside the workspace root is
// ignored unconditionally.
func (m *Matcher) Ignored(abs string) bool {
	rel, ok := m.Rel(abs)
	if !ok {
		return true
	}
	// Directory patterns like ".git/" only match when the trailing
	// separator is present, so the bare directory path is tested in
	// both forms.
	return m.matcher.MatchesPath(rel) ||
		m.matcher.MatchesPath(rel+"/")
}
