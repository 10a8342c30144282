package analyzer

import (
	"fmt"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/ludo-technologies/connscan/domain"
	"github.com/ludo-technologies/connscan/internal/parser"
)

type function struct {
	node      *sitter.Node
	name      string
	startLine int
	endLine   int
}

var functionTypes = map[parser.Language]map[string]bool{
	parser.LanguagePython: {
		"function_definition": true,
	},
	parser.LanguageJavaScript: {
		"function_declaration":           true,
		"function_expression":            true,
		"function":                       true,
		"arrow_function":                 true,
		"method_definition":              true,
		"generator_function_declaration": true,
		"generator_function":             true,
	},
}

var nestingTypes = map[parser.Language]map[string]bool{
	parser.LanguagePython: {
		"if_statement":    true,
		"for_statement":   true,
		"while_statement": true,
		"try_statement":   true,
		"with_statement":  true,
		"match_statement": true,
	},
	parser.LanguageJavaScript: {
		"if_statement":     true,
		"for_statement":    true,
		"for_in_statement": true,
		"for_of_statement": true,
		"while_statement":  true,
		"do_statement":     true,
		"try_statement":    true,
		"switch_statement": true,
	},
}

// grammarFamily maps TypeScript onto the JavaScript node vocabulary
func grammarFamily(lang parser.Language) parser.Language {
	if lang == parser.LanguageTypeScript {
		return parser.LanguageJavaScript
	}
	return lang
}

func collectFunctions(tree *parser.Tree) []function {
	types := functionTypes[grammarFamily(tree.Lang())]
	var out []function
	tree.Walk(func(n *sitter.Node, _ int) bool {
		if types[n.Type()] {
			out = append(out, function{
				node:      n,
				name:      functionName(tree, n),
				startLine: int(n.StartPoint().Row) + 1,
				endLine:   int(n.EndPoint().Row) + 1,
			})
		}
		return true
	})
	return out
}

func functionName(tree *parser.Tree, n *sitter.Node) string {
	if name := n.ChildByFieldName("name"); name != nil {
		return tree.Text(name)
	}
	// const handler = () => {}
	if parent := n.Parent(); parent != nil && parent.Type() == "variable_declarator" {
		if name := parent.ChildByFieldName("name"); name != nil {
			return tree.Text(name)
		}
	}
	return "<anonymous>"
}

func (r *RuleSet) checkParameters(tree *parser.Tree, fn function) []domain.Violation {
	count := positionalParameters(tree, fn.node)
	if count <= r.opts.MaxParameters {
		return nil
	}
	severity := SeverityMedium
	if count > r.opts.MaxParameters*2 {
		severity = SeverityHigh
	}
	return []domain.Violation{{
		Type:     TypePositionalParameters,
		Severity: severity,
		Message:  fmt.Sprintf("function %s takes %d positional parameters (max %d)", fn.name, count, r.opts.MaxParameters),
		Line:     fn.startLine,
		Column:   parser.Column(fn.node),
		Metadata: map[string]string{
			"function":   fn.name,
			"parameters": strconv.Itoa(count),
		},
	}}
}

func positionalParameters(tree *parser.Tree, fn *sitter.Node) int {
	params := fn.ChildByFieldName("parameters")
	if params == nil {
		// single-identifier arrow function
		if fn.ChildByFieldName("parameter") != nil {
			return 1
		}
		return 0
	}

	count := 0
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		switch p.Type() {
		case "comment", "positional_separator":
			continue
		case "keyword_separator", "list_splat_pattern", "dictionary_splat_pattern", "rest_pattern":
			// everything after is keyword-only or variadic
			return count
		case "identifier", "typed_parameter":
			if i == 0 && isReceiver(tree, p) {
				continue
			}
		}
		count++
	}
	return count
}

func isReceiver(tree *parser.Tree, p *sitter.Node) bool {
	if tree.Lang() != parser.LanguagePython {
		return false
	}
	name := tree.Text(p)
	if p.Type() == "typed_parameter" && p.NamedChildCount() > 0 {
		name = tree.Text(p.NamedChild(0))
	}
	return name == "self" || name == "cls"
}

func (r *RuleSet) checkLength(fn function) []domain.Violation {
	lines := fn.endLine - fn.startLine + 1
	if lines <= r.opts.MaxFunctionLines {
		return nil
	}
	severity := SeverityMedium
	if lines > r.opts.MaxFunctionLines*2 {
		severity = SeverityHigh
	}
	return []domain.Violation{{
		Type:     TypeLongFunction,
		Severity: severity,
		Message:  fmt.Sprintf("function %s spans %d lines (max %d)", fn.name, lines, r.opts.MaxFunctionLines),
		Line:     fn.startLine,
		Column:   parser.Column(fn.node),
		Metadata: map[string]string{
			"function": fn.name,
			"lines":    strconv.Itoa(lines),
		},
	}}
}

func (r *RuleSet) checkNesting(tree *parser.Tree, fn function) []domain.Violation {
	family := grammarFamily(tree.Lang())
	nesting := nestingTypes[family]
	functions := functionTypes[family]

	body := fn.node.ChildByFieldName("body")
	if body == nil {
		return nil
	}

	maxDepth, deepest := 0, body
	var visit func(n *sitter.Node, depth int)
	visit = func(n *sitter.Node, depth int) {
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			if functions[child.Type()] {
				continue
			}
			d := depth
			if nesting[child.Type()] && !isElseIf(child) {
				d++
				if d > maxDepth {
					maxDepth, deepest = d, child
				}
			}
			visit(child, d)
		}
	}
	visit(body, 0)

	if maxDepth <= r.opts.MaxNestingDepth {
		return nil
	}
	return []domain.Violation{{
		Type:     TypeDeepNesting,
		Severity: SeverityMedium,
		Message:  fmt.Sprintf("function %s nests control flow %d levels deep (max %d)", fn.name, maxDepth, r.opts.MaxNestingDepth),
		Line:     parser.Line(deepest),
		Column:   parser.Column(deepest),
		Metadata: map[string]string{
			"function": fn.name,
			"depth":    strconv.Itoa(maxDepth),
		},
	}}
}

func isElseIf(n *sitter.Node) bool {
	if n.Type() != "if_statement" {
		return false
	}
	parent := n.Parent()
	return parent != nil && parent.Type() == "else_clause"
}

func (r *RuleSet) checkMagicNumbers(tree *parser.Tree) []domain.Violation {
	var out []domain.Violation
	tree.Walk(func(n *sitter.Node, _ int) bool {
		switch n.Type() {
		case "integer", "float", "number":
		default:
			return true
		}

		value, ok := numericValue(tree.Text(n))
		if !ok {
			return false
		}
		site := n
		if parent := n.Parent(); parent != nil && isNegation(tree, parent) {
			value, site = -value, parent
		}
		if _, allowed := r.allowed[value]; allowed || isConstantDefinition(tree, site) {
			return false
		}

		out = append(out, domain.Violation{
			Type:     TypeMagicNumber,
			Severity: SeverityLow,
			Message:  fmt.Sprintf("magic number %s", tree.Text(site)),
			Line:     parser.Line(site),
			Column:   parser.Column(site),
			Metadata: map[string]string{"value": tree.Text(site)},
		})
		return false
	})
	return out
}

func numericValue(text string) (float64, bool) {
	text = strings.TrimSuffix(text, "n")
	if strings.HasSuffix(text, "j") || strings.HasSuffix(text, "J") {
		return 0, false
	}
	text = strings.ReplaceAll(text, "_", "")
	if i, err := strconv.ParseInt(text, 0, 64); err == nil {
		return float64(i), true
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return f, true
	}
	return 0, false
}

func isNegation(tree *parser.Tree, n *sitter.Node) bool {
	switch n.Type() {
	case "unary_operator", "unary_expression":
		return strings.HasPrefix(tree.Text(n), "-")
	}
	return false
}

// isConstantDefinition reports whether n is the value bound to an
// UPPER_CASE name, which is how named constants are spelled.
func isConstantDefinition(tree *parser.Tree, n *sitter.Node) bool {
	parent := n.Parent()
	if parent == nil {
		return false
	}
	var target *sitter.Node
	switch parent.Type() {
	case "assignment":
		target = parent.ChildByFieldName("left")
	case "variable_declarator":
		target = parent.ChildByFieldName("name")
	default:
		return false
	}
	if target == nil || target.Type() != "identifier" {
		return false
	}
	name := tree.Text(target)
	return name == strings.ToUpper(name) && strings.ToLower(name) != name
}
