package parser

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
)

// Language identifies a supported source language
type Language string

const (
	LanguagePython     Language = "python"
	LanguageJavaScript Language = "javascript"
	LanguageTypeScript Language = "typescript"
)

// ErrUnsupportedLanguage is returned for files whose extension has no grammar
var ErrUnsupportedLanguage = errors.New("unsupported language")

// SyntaxError reports the first error node in a parse tree
type SyntaxError struct {
	Path   string
	Line   int
	Column int
}

// Error implements the error interface
func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error in %s at %d:%d", e.Path, e.Line, e.Column)
}

var extensionLanguages = map[string]Language{
	".py":  LanguagePython,
	".pyi": LanguagePython,
	".js":  LanguageJavaScript,
	".jsx": LanguageJavaScript,
	".mjs": LanguageJavaScript,
	".cjs": LanguageJavaScript,
	".ts":  LanguageTypeScript,
	".tsx": LanguageTypeScript,
	".mts": LanguageTypeScript,
	".cts": LanguageTypeScript,
}

// LanguageForPath returns the language implied by the file extension
func LanguageForPath(path string) (Language, bool) {
	lang, ok := extensionLanguages[strings.ToLower(filepath.Ext(path))]
	return lang, ok
}

// Parser wraps a tree-sitter parser for one language.
// A Parser is not safe for concurrent use.
type Parser struct {
	parser   *sitter.Parser
	language Language
}

// NewParser creates a parser for lang
func NewParser(lang Language) (*Parser, error) {
	var grammar *sitter.Language
	switch lang {
	case LanguagePython:
		grammar = python.GetLanguage()
	case LanguageJavaScript:
		grammar = javascript.GetLanguage()
	case LanguageTypeScript:
		grammar = tsx.GetLanguage()
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, lang)
	}

	p := sitter.NewParser()
	p.SetLanguage(grammar)
	return &Parser{parser: p, language: lang}, nil
}

// ParseFile parses source into a Tree. Sources containing syntax errors
// are rejected with a *SyntaxError.
func (p *Parser) ParseFile(ctx context.Context, filename string, source []byte) (*Tree, error) {
	tree, err := p.parser.ParseCtx(ctx, nil, source)
	if tree == nil {
		return nil, fmt.Errorf("failed to parse file %s: %v", filename, err)
	}

	root := tree.RootNode()
	if root == nil {
		tree.Close()
		return nil, fmt.Errorf("no root node in parse tree for %s", filename)
	}
	if root.HasError() {
		serr := &SyntaxError{Path: filename}
		if bad := firstErrorNode(root); bad != nil {
			serr.Line = int(bad.StartPoint().Row) + 1
			serr.Column = int(bad.StartPoint().Column) + 1
		}
		tree.Close()
		return nil, serr
	}

	return &Tree{
		tree:     tree,
		source:   source,
		path:     filename,
		language: p.language,
	}, nil
}

// Language returns the parser's language
func (p *Parser) Language() Language {
	return p.language
}

// Close closes the parser and frees resources
func (p *Parser) Close() {
	if p.parser != nil {
		p.parser.Close()
	}
}

// Parse selects a grammar from the file extension and parses source
func Parse(filename string, source []byte) (*Tree, error) {
	lang, ok := LanguageForPath(filename)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, filename)
	}

	p, err := NewParser(lang)
	if err != nil {
		return nil, err
	}
	defer p.Close()

	return p.ParseFile(context.Background(), filename, source)
}

func firstErrorNode(n *sitter.Node) *sitter.Node {
	if n == nil {
		return nil
	}
	if n.IsError() || n.IsMissing() {
		return n
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child == nil || !child.HasError() {
			continue
		}
		if bad := firstErrorNode(child); bad != nil {
			return bad
		}
	}
	return nil
}
