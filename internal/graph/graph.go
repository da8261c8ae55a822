// Package graph builds and validates the per-run dependency graph.
//
// The graph is immutable once built: validation guarantees every dependency
// resolves to a declared feature and that no cycle exists. Scheduling and
// merge ordering both read from the same structures.
package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/foundry/internal/request"
	"github.com/fyrsmithlabs/foundry/internal/taxonomy"
)

// Sentinel errors for graph validation failures.
var (
	// ErrUnknownDependency marks a dependency on an undeclared feature.
	ErrUnknownDependency = errors.New("unknown dependency")

	// ErrCyclicDependency marks a dependency cycle. The wrapped message names
	// the cycle members.
	ErrCyclicDependency = errors.New("cyclic dependency")
)

// Graph is the validated, immutable dependency graph for one run.
type Graph struct {
	// order holds feature names in declaration order.
	order []string

	// deps maps a feature to the features it depends on.
	deps map[string][]string

	// dependents maps a feature to the features that depend on it.
	dependents map[string][]string
}

// Build validates the feature list and constructs adjacency and
// reverse-adjacency structures. Unknown dependencies are reported together,
// never one at a time; a cycle is reported with its members named.
func Build(features []request.Feature) (*Graph, error) {
	declared := make(map[string]bool, len(features))
	for _, f := range features {
		declared[f.Name] = true
	}

	var violations []taxonomy.Violation
	g := &Graph{
		order:      make([]string, 0, len(features)),
		deps:       make(map[string][]string, len(features)),
		dependents: make(map[string][]string, len(features)),
	}

	for _, f := range features {
		g.order = append(g.order, f.Name)
		for _, dep := range f.Dependencies {
			if !declared[dep] {
				violations = append(violations, taxonomy.Violation{
					Feature: f.Name,
					Field:   "dependencies",
					Message: fmt.Sprintf("%v: %q is not a declared feature", ErrUnknownDependency, dep),
				})
				continue
			}
			g.deps[f.Name] = append(g.deps[f.Name], dep)
			g.dependents[dep] = append(g.dependents[dep], f.Name)
		}
	}

	if len(violations) > 0 {
		return nil, &taxonomy.ValidationError{Violations: violations}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, fmt.Errorf("%w: %s", ErrCyclicDependency, strings.Join(cycle, " -> "))
	}

	return g, nil
}

// Features returns feature names in declaration order.
func (g *Graph) Features() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Dependencies returns the direct dependencies of a feature.
func (g *Graph) Dependencies(name string) []string {
	out := make([]string, len(g.deps[name]))
	copy(out, g.deps[name])
	return out
}

// Dependents returns the features that directly depend on name.
func (g *Graph) Dependents(name string) []string {
	out := make([]string, len(g.dependents[name]))
	copy(out, g.dependents[name])
	return out
}

// Len returns the number of features.
func (g *Graph) Len() int {
	return len(g.order)
}

// findCycle runs an iterative-coloring DFS and returns the members of the
// first cycle found, in cycle order, or nil.
func (g *Graph) findCycle() []string {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS path
		black = 2 // fully explored
	)
	color := make(map[string]int, len(g.order))
	var path []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		color[name] = gray
		path = append(path, name)
		for _, dep := range g.deps[name] {
			switch color[dep] {
			case gray:
				// Found the back edge. Slice the path from the first
				// occurrence of dep to name.
				for i, p := range path {
					if p == dep {
						cycle = append([]string{}, path[i:]...)
						return true
					}
				}
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		color[name] = black
		return false
	}

	for _, name := range g.order {
		if color[name] == white {
			if visit(name) {
				return cycle
			}
		}
	}
	return nil
}
