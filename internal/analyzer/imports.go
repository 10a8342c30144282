package analyzer

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/ludo-technologies/connscan/domain"
	"github.com/ludo-technologies/connscan/internal/parser"
)

var jsExtensions = []string{".js", ".jsx", ".mjs", ".cjs", ".ts", ".tsx"}

// ResolveDependencies returns the absolute paths of local files imported by
// path. Imports that do not resolve to an existing file are ignored.
func (r *RuleSet) ResolveDependencies(path string, content []byte, parsed domain.ParsedFile) []string {
	if !r.opts.ResolveImports {
		return nil
	}
	tree, release, err := r.treeFor(path, content, parsed)
	if err != nil {
		return nil
	}
	defer release()

	dir := filepath.Dir(path)
	seen := make(map[string]struct{})
	add := func(dep string) {
		if dep != "" && dep != path {
			seen[dep] = struct{}{}
		}
	}

	switch grammarFamily(tree.Lang()) {
	case parser.LanguagePython:
		for _, mod := range pythonImports(tree) {
			add(r.resolvePython(dir, mod))
		}
	case parser.LanguageJavaScript:
		for _, spec := range jsImports(tree) {
			add(r.resolveJS(dir, spec))
		}
	}

	deps := make([]string, 0, len(seen))
	for dep := range seen {
		deps = append(deps, dep)
	}
	sort.Strings(deps)
	return deps
}

// pythonImports returns module references such as "pkg.mod" or "..pkg.mod"
func pythonImports(tree *parser.Tree) []string {
	var mods []string
	tree.Walk(func(n *sitter.Node, _ int) bool {
		switch n.Type() {
		case "import_statement":
			for i := 0; i < int(n.NamedChildCount()); i++ {
				child := n.NamedChild(i)
				if child.Type() == "aliased_import" {
					child = child.ChildByFieldName("name")
				}
				if child != nil && child.Type() == "dotted_name" {
					mods = append(mods, tree.Text(child))
				}
			}
			return false
		case "import_from_statement":
			if mod := n.ChildByFieldName("module_name"); mod != nil {
				base := tree.Text(mod)
				mods = append(mods, base)
				// from . import sibling
				if strings.Trim(base, ".") == "" {
					for _, name := range importedNames(tree, n) {
						mods = append(mods, base+name)
					}
				}
			}
			return false
		}
		return true
	})
	return mods
}

func importedNames(tree *parser.Tree, n *sitter.Node) []string {
	var names []string
	module := n.ChildByFieldName("module_name")
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if module != nil && child.StartByte() == module.StartByte() {
			continue
		}
		if child.Type() == "aliased_import" {
			child = child.ChildByFieldName("name")
		}
		if child != nil && child.Type() == "dotted_name" {
			names = append(names, tree.Text(child))
		}
	}
	return names
}

func (r *RuleSet) resolvePython(dir, module string) string {
	dots := len(module) - len(strings.TrimLeft(module, "."))
	rel := filepath.FromSlash(strings.ReplaceAll(strings.TrimLeft(module, "."), ".", "/"))

	var bases []string
	if dots > 0 {
		base := dir
		for i := 1; i < dots; i++ {
			base = filepath.Dir(base)
		}
		bases = []string{base}
	} else {
		bases = append([]string{dir}, r.opts.Roots...)
	}

	for _, base := range bases {
		target := filepath.Join(base, rel)
		for _, candidate := range []string{target + ".py", filepath.Join(target, "__init__.py")} {
			if rel == "" && candidate == target+".py" {
				continue
			}
			if r.exists(candidate) {
				return candidate
			}
		}
	}
	return ""
}

// jsImports returns relative module specifiers from import statements,
// re-exports and require calls
func jsImports(tree *parser.Tree) []string {
	var specs []string
	tree.Walk(func(n *sitter.Node, _ int) bool {
		switch n.Type() {
		case "import_statement", "export_statement":
			if src := n.ChildByFieldName("source"); src != nil {
				specs = append(specs, unquote(tree.Text(src)))
			}
		case "call_expression":
			fn := n.ChildByFieldName("function")
			args := n.ChildByFieldName("arguments")
			if fn != nil && args != nil && tree.Text(fn) == "require" && args.NamedChildCount() == 1 {
				if arg := args.NamedChild(0); arg.Type() == "string" {
					specs = append(specs, unquote(tree.Text(arg)))
				}
			}
		}
		return true
	})
	return specs
}

func (r *RuleSet) resolveJS(dir, spec string) string {
	if !strings.HasPrefix(spec, "./") && !strings.HasPrefix(spec, "../") {
		return ""
	}
	target := filepath.Join(dir, filepath.FromSlash(spec))
	if filepath.Ext(target) != "" && r.exists(target) {
		return target
	}
	for _, ext := range jsExtensions {
		if r.exists(target + ext) {
			return target + ext
		}
	}
	for _, ext := range jsExtensions {
		if index := filepath.Join(target, "index"+ext); r.exists(index) {
			return index
		}
	}
	return ""
}

func unquote(s string) string {
	return strings.Trim(s, "'\"`")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
