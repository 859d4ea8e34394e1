package graph

import (
	"slices"
	"sync"
)

// DependencyGraph tracks relationships between bean names.
// An edge from A to B means A depends on B.
//
// An acyclic graph rejects edges that would close a cycle; it backs depends-on
// declarations. A plain graph accepts cycles and records which beans were
// injected into which, so destruction can tear dependents down first.
type DependencyGraph struct {
	mu      sync.RWMutex
	nodes   map[string]*Node
	acyclic bool
}

// Node represents a bean in the dependency graph.
type Node struct {
	Name         string
	Dependencies []string // beans this node depends on
	Dependents   []string // beans that depend on this node
}

// New creates a graph that tolerates cycles.
func New() *DependencyGraph {
	return &DependencyGraph{nodes: make(map[string]*Node)}
}

// NewAcyclic creates a graph that refuses edges closing a cycle.
func NewAcyclic() *DependencyGraph {
	return &DependencyGraph{nodes: make(map[string]*Node), acyclic: true}
}

// AddEdge records that from depends on to. Duplicate edges are ignored.
func (g *DependencyGraph) AddEdge(from, to string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	fromNode := g.node(from)
	if slices.Contains(fromNode.Dependencies, to) {
		return nil
	}

	if g.acyclic {
		if from == to {
			return &CircularDependencyError{Bean: from, Path: []string{from}}
		}
		if path := g.pathBetween(to, from); path != nil {
			return &CircularDependencyError{Bean: from, Path: append([]string{from}, path[:len(path)-1]...)}
		}
	}

	toNode := g.node(to)
	fromNode.Dependencies = append(fromNode.Dependencies, to)
	toNode.Dependents = append(toNode.Dependents, from)
	return nil
}

// Dependencies returns the direct dependencies of name.
func (g *DependencyGraph) Dependencies(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if n, ok := g.nodes[name]; ok {
		return slices.Clone(n.Dependencies)
	}
	return nil
}

// Dependents returns the beans that directly depend on name.
func (g *DependencyGraph) Dependents(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if n, ok := g.nodes[name]; ok {
		return slices.Clone(n.Dependents)
	}
	return nil
}

// HasDependents reports whether any bean depends on name.
func (g *DependencyGraph) HasDependents(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[name]
	return ok && len(n.Dependents) > 0
}

// DependsOn reports whether name transitively depends on target.
func (g *DependencyGraph) DependsOn(name, target string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.pathBetween(name, target) != nil
}

// Remove deletes name and every edge touching it.
func (g *DependencyGraph) Remove(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[name]
	if !ok {
		return
	}

	for _, dep := range n.Dependencies {
		if d, ok := g.nodes[dep]; ok {
			d.Dependents = slices.DeleteFunc(d.Dependents, func(s string) bool { return s == name })
		}
	}
	for _, dep := range n.Dependents {
		if d, ok := g.nodes[dep]; ok {
			d.Dependencies = slices.DeleteFunc(d.Dependencies, func(s string) bool { return s == name })
		}
	}

	delete(g.nodes, name)
}

// Len returns the number of nodes.
func (g *DependencyGraph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

func (g *DependencyGraph) node(name string) *Node {
	n, ok := g.nodes[name]
	if !ok {
		n = &Node{Name: name}
		g.nodes[name] = n
	}
	return n
}

// pathBetween returns the dependency path from -> ... -> to, or nil.
func (g *DependencyGraph) pathBetween(from, to string) []string {
	if _, ok := g.nodes[from]; !ok {
		return nil
	}

	parent := map[string]string{from: ""}
	queue := []string{from}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current == to {
			var path []string
			for n := to; n != ""; n = parent[n] {
				path = append(path, n)
			}
			slices.Reverse(path)
			return path
		}

		for _, dep := range g.nodes[current].Dependencies {
			if _, seen := parent[dep]; !seen {
				parent[dep] = current
				queue = append(queue, dep)
			}
		}
	}

	return nil
}
