package cache

import (
	"sort"

	"github.com/ludo-technologies/connscan/domain"
)

// dependencyGraph keeps dependency and dependent edges in sync.
// It is not safe for concurrent use; IncrementalCache guards it.
type dependencyGraph struct {
	nodes map[string]*domain.DependencyNode
}

func newDependencyGraph() *dependencyGraph {
	return &dependencyGraph{nodes: make(map[string]*domain.DependencyNode)}
}

func (g *dependencyGraph) len() int {
	return len(g.nodes)
}

func (g *dependencyGraph) get(path string) (*domain.DependencyNode, bool) {
	n, ok := g.nodes[path]
	return n, ok
}

func (g *dependencyGraph) ensure(path string) *domain.DependencyNode {
	n, ok := g.nodes[path]
	if !ok {
		n = domain.NewDependencyNode(path)
		g.nodes[path] = n
	}
	return n
}

// setDependencies replaces the declared dependencies of path, adding new
// edges and dropping undeclared ones in both directions.
func (g *dependencyGraph) setDependencies(path string, deps []string) {
	n := g.ensure(path)

	declared := make(map[string]struct{}, len(deps))
	for _, d := range deps {
		if d == "" || d == path {
			continue
		}
		declared[d] = struct{}{}
	}

	for d := range n.Dependencies {
		if _, keep := declared[d]; keep {
			continue
		}
		delete(n.Dependencies, d)
		if dn, ok := g.nodes[d]; ok {
			delete(dn.Dependents, path)
		}
	}

	for d := range declared {
		n.Dependencies[d] = struct{}{}
		g.ensure(d).Dependents[path] = struct{}{}
	}
}

// remove deletes path and every edge touching it
func (g *dependencyGraph) remove(path string) bool {
	n, ok := g.nodes[path]
	if !ok {
		return false
	}
	for d := range n.Dependencies {
		if dn, ok := g.nodes[d]; ok {
			delete(dn.Dependents, path)
		}
	}
	for d := range n.Dependents {
		if dn, ok := g.nodes[d]; ok {
			delete(dn.Dependencies, path)
		}
	}
	delete(g.nodes, path)
	return true
}

// cascade returns start and every transitive dependent, breadth first.
// Each node is visited once, so cycles terminate.
func (g *dependencyGraph) cascade(start string) []string {
	visited := map[string]struct{}{start: {}}
	order := []string{start}
	queue := []string{start}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		n, ok := g.nodes[current]
		if !ok {
			continue
		}
		for _, dep := range sortedKeys(n.Dependents) {
			if _, seen := visited[dep]; seen {
				continue
			}
			visited[dep] = struct{}{}
			order = append(order, dep)
			queue = append(queue, dep)
		}
	}
	return order
}

func (g *dependencyGraph) dependents(path string) []string {
	if n, ok := g.nodes[path]; ok {
		return sortedKeys(n.Dependents)
	}
	return nil
}

func (g *dependencyGraph) dependencies(path string) []string {
	if n, ok := g.nodes[path]; ok {
		return sortedKeys(n.Dependencies)
	}
	return nil
}

// oldestFirst returns node paths ordered by LastAnalyzed, oldest first
func (g *dependencyGraph) oldestFirst() []string {
	paths := make([]string, 0, len(g.nodes))
	for p := range g.nodes {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool {
		a, b := g.nodes[paths[i]], g.nodes[paths[j]]
		if a.LastAnalyzed.Equal(b.LastAnalyzed) {
			return paths[i] < paths[j]
		}
		return a.LastAnalyzed.Before(b.LastAnalyzed)
	})
	return paths
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
