package parser

import (
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

// Tree is a parsed source file. It is handed around as an opaque handle.
// Node access memoizes into the underlying tree, so callers sharing a Tree
// across goroutines must hold Lock while they use Root, Walk or any node.
type Tree struct {
	mu       sync.Mutex
	tree     *sitter.Tree
	source   []byte
	path     string
	language Language
}

// Language returns the language name of the tree
func (t *Tree) Language() string {
	return string(t.language)
}

// Lang returns the typed language of the tree
func (t *Tree) Lang() Language {
	return t.language
}

// Path returns the file the tree was parsed from
func (t *Tree) Path() string {
	return t.path
}

// Source returns the parsed bytes
func (t *Tree) Source() []byte {
	return t.source
}

// Lock serializes node access on a shared tree
func (t *Tree) Lock() {
	t.mu.Lock()
}

// Unlock releases the lock taken by Lock
func (t *Tree) Unlock() {
	t.mu.Unlock()
}

// Root returns the root syntax node
func (t *Tree) Root() *sitter.Node {
	return t.tree.RootNode()
}

// Text returns the source text covered by n
func (t *Tree) Text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(t.source)
}

// Close releases the underlying tree-sitter tree
func (t *Tree) Close() {
	if t.tree != nil {
		t.tree.Close()
	}
}

// Walk visits nodes depth first. Returning false from fn skips the node's children.
func (t *Tree) Walk(fn func(n *sitter.Node, depth int) bool) {
	walk(t.Root(), 0, fn)
}

func walk(n *sitter.Node, depth int, fn func(n *sitter.Node, depth int) bool) {
	if n == nil {
		return
	}
	if !fn(n, depth) {
		return
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		walk(n.NamedChild(i), depth+1, fn)
	}
}

// Line returns the 1-based start line of n
func Line(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

// Column returns the 1-based start column of n
func Column(n *sitter.Node) int {
	return int(n.StartPoint().Column) + 1
}
