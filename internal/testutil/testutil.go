// Package testutil provides helper functions for testing connscan components
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/ludo-technologies/connscan/internal/parser"
)

// ParseSource parses source as if it were read from filename
func ParseSource(t *testing.T, filename, source string) *parser.Tree {
	t.Helper()
	tree, err := parser.Parse(filename, []byte(source))
	if err != nil {
		t.Fatalf("Failed to parse test code: %v", err)
	}
	t.Cleanup(tree.Close)
	return tree
}

// WriteFile writes content to dir/rel, creating parent directories, and
// returns the absolute path
func WriteFile(t *testing.T, dir, rel, content string) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		t.Fatalf("Failed to resolve %s: %v", path, err)
	}
	return abs
}

// AssertNoError fails the test if err is not nil
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

// AssertEqual fails the test if expected != actual
func AssertEqual(t *testing.T, expected, actual any) {
	t.Helper()
	if expected != actual {
		t.Errorf("Expected %v, got %v", expected, actual)
	}
}

// CountNodesOfType counts syntax nodes of a specific tree-sitter type
func CountNodesOfType(tree *parser.Tree, nodeType string) int {
	count := 0
	tree.Walk(func(n *sitter.Node, _ int) bool {
		if n.Type() == nodeType {
			count++
		}
		return true
	})
	return count
}
