// Package dag records the import relationships between LookML projects and
// detects import cycles.
package dag

import (
	"fmt"
	"slices"
)

// Graph is a directed graph of project imports. An edge points from the
// importing project to the imported one.
type Graph struct {
	order   []string
	imports map[string][]string
	parents map[string][]string
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		imports: make(map[string][]string),
		parents: make(map[string][]string),
	}
}

// AddProject adds a project with no imports. Adding it twice is a no-op.
func (g *Graph) AddProject(name string) {
	if _, ok := g.imports[name]; ok {
		return
	}
	g.order = append(g.order, name)
	g.imports[name] = []string{}
	g.parents[name] = []string{}
}

// AddImport records that parent imports child, adding either project if
// needed. A project importing itself is rejected.
func (g *Graph) AddImport(parent, child string) error {
	if parent == child {
		return fmt.Errorf("project %q imports itself", parent)
	}
	g.AddProject(parent)
	g.AddProject(child)

	if !slices.Contains(g.imports[parent], child) {
		g.imports[parent] = append(g.imports[parent], child)
	}
	if !slices.Contains(g.parents[child], parent) {
		g.parents[child] = append(g.parents[child], parent)
	}
	return nil
}

// Imports returns the projects imported by name, in insertion order.
func (g *Graph) Imports(name string) []string {
	return g.imports[name]
}

// Importers returns the projects that import name.
func (g *Graph) Importers(name string) []string {
	return g.parents[name]
}

// Projects returns every project in insertion order.
func (g *Graph) Projects() []string {
	return slices.Clone(g.order)
}

// Len returns the number of projects.
func (g *Graph) Len() int {
	return len(g.order)
}

// HasCycle reports whether any import chain loops back on itself. The
// returned path starts and ends with the same project.
func (g *Graph) HasCycle() (bool, []string) {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	via := make(map[string]string)

	var cycle []string
	var visit func(name string) bool
	visit = func(name string) bool {
		visited[name] = true
		onStack[name] = true
		for _, child := range g.imports[name] {
			if !visited[child] {
				via[child] = name
				if visit(child) {
					return true
				}
				continue
			}
			if onStack[child] {
				cycle = []string{child}
				for cur := name; cur != child; cur = via[cur] {
					cycle = append([]string{cur}, cycle...)
				}
				cycle = append([]string{child}, cycle...)
				return true
			}
		}
		onStack[name] = false
		return false
	}

	for _, name := range g.order {
		if !visited[name] && visit(name) {
			return true, cycle
		}
	}
	return false, nil
}
