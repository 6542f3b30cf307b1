package daemon

import (
	"fmt"
	"slices"
	"sort"

	"github.com/benaskins/icnswitch/internal/spec"
)

// depGraph orders services for startup and shutdown and finds the hard
// dependents a stop must cascade to.
type depGraph struct {
	specs map[string]*spec.ServiceSpec
	// after[A] = [B, C] means A must start after B and C
	after map[string][]string
	// requires[A] = [B] means A cannot run without B
	requires map[string][]string
	// dependents[B] = [A] is the reverse of requires
	dependents map[string][]string
}

func newDepGraph(specs []*spec.ServiceSpec) *depGraph {
	g := &depGraph{
		specs:      make(map[string]*spec.ServiceSpec),
		after:      make(map[string][]string),
		requires:   make(map[string][]string),
		dependents: make(map[string][]string),
	}

	for _, s := range specs {
		name := s.Service.Name
		g.specs[name] = s
		if s.Dependencies != nil {
			g.after[name] = s.Dependencies.After
			g.requires[name] = s.Dependencies.Requires
			for _, dep := range s.Dependencies.Requires {
				g.dependents[dep] = append(g.dependents[dep], name)
			}
		}
	}
	for dep := range g.dependents {
		sort.Strings(g.dependents[dep])
	}
	return g
}

func (g *depGraph) names() []string {
	names := make([]string, 0, len(g.specs))
	for name := range g.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// startOrder returns services with dependencies first. Ties are broken by
// name so the order is stable. Unknown dependencies are ignored.
func (g *depGraph) startOrder() ([]string, error) {
	visited := make(map[string]bool)
	inStack := make(map[string]bool)
	var order []string

	var visit func(name string) error
	visit = func(name string) error {
		if inStack[name] {
			return fmt.Errorf("dependency cycle detected at %q", name)
		}
		if visited[name] {
			return nil
		}
		inStack[name] = true

		deps := append(slices.Clone(g.after[name]), g.requires[name]...)
		for _, dep := range deps {
			if _, exists := g.specs[dep]; !exists {
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}

		inStack[name] = false
		visited[name] = true
		order = append(order, name)
		return nil
	}

	for _, name := range g.names() {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// stopOrder returns services with dependents first.
func (g *depGraph) stopOrder() ([]string, error) {
	order, err := g.startOrder()
	if err != nil {
		return nil, err
	}
	slices.Reverse(order)
	return order, nil
}

// requiredBy returns the transitive hard dependencies of name, deepest first.
func (g *depGraph) requiredBy(name string) []string {
	var out []string
	visited := map[string]bool{name: true}

	var collect func(n string)
	collect = func(n string) {
		for _, dep := range g.requires[n] {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			if _, exists := g.specs[dep]; !exists {
				continue
			}
			collect(dep)
			out = append(out, dep)
		}
	}
	collect(name)
	return out
}

// cascadeStopTargets returns every service that must stop when name stops,
// outermost dependents first.
func (g *depGraph) cascadeStopTargets(name string) []string {
	var targets []string
	visited := make(map[string]bool)

	var collect func(n string)
	collect = func(n string) {
		for _, dep := range g.dependents[n] {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			collect(dep)
			targets = append(targets, dep)
		}
	}
	collect(name)
	return targets
}
