package watcher

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// DefaultIncludePatterns selects Python sources
var DefaultIncludePatterns = []string{"*.py"}

// Filter decides which paths under a set of roots are of interest.
// Include and exclude patterns use gitignore syntax and are matched
// against the path relative to its root.
type Filter struct {
	roots      []string
	include    *ignore.GitIgnore
	exclude    *ignore.GitIgnore
	gitignores map[string]*ignore.GitIgnore
}

// NewFilter builds a filter for roots. Roots are made absolute; a missing
// include list falls back to DefaultIncludePatterns.
func NewFilter(roots, includePatterns, excludePatterns []string) (*Filter, error) {
	if len(includePatterns) == 0 {
		includePatterns = DefaultIncludePatterns
	}

	absRoots := make([]string, 0, len(roots))
	for _, r := range roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			return nil, err
		}
		absRoots = append(absRoots, filepath.Clean(abs))
	}
	// longest root first so nested roots win
	sort.Slice(absRoots, func(i, j int) bool { return len(absRoots[i]) > len(absRoots[j]) })

	return &Filter{
		roots:      absRoots,
		include:    ignore.CompileIgnoreLines(includePatterns...),
		exclude:    ignore.CompileIgnoreLines(excludePatterns...),
		gitignores: make(map[string]*ignore.GitIgnore),
	}, nil
}

// LoadGitignores reads the .gitignore file at each root, if present
func (f *Filter) LoadGitignores() error {
	for _, root := range f.roots {
		path := filepath.Join(root, ".gitignore")
		if _, err := os.Stat(path); err != nil {
			continue
		}
		gi, err := ignore.CompileIgnoreFile(path)
		if err != nil {
			return err
		}
		f.gitignores[root] = gi
	}
	return nil
}

// Roots returns the absolute roots
func (f *Filter) Roots() []string {
	return append([]string(nil), f.roots...)
}

// Match reports whether the file at path should be analyzed
func (f *Filter) Match(path string) bool {
	root, rel, ok := f.relative(path)
	if !ok || rel == "." {
		return false
	}
	if f.excluded(root, rel) {
		return false
	}
	return f.include.MatchesPath(rel)
}

// SkipDir reports whether the directory at path should not be descended into
func (f *Filter) SkipDir(path string) bool {
	root, rel, ok := f.relative(path)
	if !ok {
		return true
	}
	if rel == "." {
		return false
	}
	return f.excluded(root, rel+"/")
}

func (f *Filter) excluded(root, rel string) bool {
	if f.exclude.MatchesPath(rel) {
		return true
	}
	if gi, ok := f.gitignores[root]; ok && gi.MatchesPath(rel) {
		return true
	}
	return false
}

func (f *Filter) relative(path string) (root, rel string, ok bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", false
	}
	for _, root := range f.roots {
		if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
			continue
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil {
			return "", "", false
		}
		return root, filepath.ToSlash(rel), true
	}
	return "", "", false
}
