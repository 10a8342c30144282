package analyzer

import (
	"context"
	"errors"
	"fmt"

	"github.com/ludo-technologies/connscan/domain"
	"github.com/ludo-technologies/connscan/internal/parser"
)

// Violation types reported by the rule set
const (
	TypePositionalParameters = "connascence_of_position"
	TypeMagicNumber          = "connascence_of_meaning"
	TypeLongFunction         = "long_function"
	TypeDeepNesting          = "deep_nesting"
)

// Severity levels
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Options holds the rule thresholds
type Options struct {
	MaxParameters       int
	MaxFunctionLines    int
	MaxNestingDepth     int
	AllowedMagicNumbers []float64

	// ResolveImports enables dependency resolution for the incremental graph
	ResolveImports bool

	// Roots are extra directories absolute Python imports are resolved against
	Roots []string
}

// DefaultOptions returns the thresholds used when nothing is configured
func DefaultOptions() Options {
	return Options{
		MaxParameters:       4,
		MaxFunctionLines:    60,
		MaxNestingDepth:     4,
		AllowedMagicNumbers: []float64{-1, 0, 1, 2, 10, 100},
		ResolveImports:      true,
	}
}

// RuleSet is the default Analyzer. It inspects tree-sitter trees for
// positional-parameter coupling, magic numbers, long functions and deep nesting.
type RuleSet struct {
	opts    Options
	allowed map[float64]struct{}
	exists  func(path string) bool
}

var (
	_ domain.Analyzer           = (*RuleSet)(nil)
	_ domain.DependencyResolver = (*RuleSet)(nil)
)

// New creates a rule set
func New(opts Options) *RuleSet {
	allowed := make(map[float64]struct{}, len(opts.AllowedMagicNumbers))
	for _, n := range opts.AllowedMagicNumbers {
		allowed[n] = struct{}{}
	}
	return &RuleSet{opts: opts, allowed: allowed, exists: fileExists}
}

// Analyze runs every rule over the file. A nil parsed handle makes the
// rule set parse content itself; unsupported languages yield no violations.
func (r *RuleSet) Analyze(ctx context.Context, path string, content []byte, parsed domain.ParsedFile) ([]domain.Violation, error) {
	tree, release, err := r.treeFor(path, content, parsed)
	if err != nil {
		if errors.Is(err, parser.ErrUnsupportedLanguage) {
			return nil, nil
		}
		return nil, err
	}
	defer release()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var violations []domain.Violation
	for _, fn := range collectFunctions(tree) {
		violations = append(violations, r.checkParameters(tree, fn)...)
		violations = append(violations, r.checkLength(fn)...)
		violations = append(violations, r.checkNesting(tree, fn)...)
	}
	violations = append(violations, r.checkMagicNumbers(tree)...)
	return violations, nil
}

func (r *RuleSet) treeFor(path string, content []byte, parsed domain.ParsedFile) (*parser.Tree, func(), error) {
	if parsed != nil {
		tree, ok := parsed.(*parser.Tree)
		if !ok {
			return nil, nil, fmt.Errorf("unexpected parsed representation %T", parsed)
		}
		// Cached trees are shared by every file with the same content
		tree.Lock()
		return tree, tree.Unlock, nil
	}
	tree, err := parser.Parse(path, content)
	if err != nil {
		return nil, nil, err
	}
	return tree, tree.Close, nil
}
