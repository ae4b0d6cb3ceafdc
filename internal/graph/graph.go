// Package graph stores declared resources in an arena. Each record holds the
// indices of the records it depends on, so the whole graph can be checked for
// dangling references and cycles before anything is sent to a provider.
package graph

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrCycle is wrapped by the error returned when the graph is not a DAG.
var ErrCycle = errors.New("dependency cycle")

// MissingRefError reports a dependency on a key that was never declared.
type MissingRefError struct {
	From string
	To   string
}

func (e *MissingRefError) Error() string {
	return fmt.Sprintf("%s references undeclared resource %q", e.From, e.To)
}

// DuplicateError reports a second declaration under the same key.
type DuplicateError struct {
	Key string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("resource %q declared more than once", e.Key)
}

// Node is one record of the arena.
type Node[T any] struct {
	Index   int
	Key     string
	Value   T
	DepKeys []string
	// Deps holds the arena indices of DepKeys once they are resolved.
	Deps []int
}

// Graph is an arena of nodes addressed by index and by key.
type Graph[T any] struct {
	nodes []*Node[T]
	index map[string]int
}

// New returns an empty graph.
func New[T any]() *Graph[T] {
	return &Graph[T]{index: make(map[string]int)}
}

// Add appends a node whose dependencies must already be in the arena. This
// keeps declaration order a valid topological order.
func (g *Graph[T]) Add(key string, value T, deps ...string) (int, error) {
	for _, d := range deps {
		if _, ok := g.index[d]; !ok {
			return -1, &MissingRefError{From: key, To: d}
		}
	}
	return g.insert(key, value, deps)
}

// AddUnchecked appends a node whose dependencies may be declared later, as
// happens when rebuilding a graph from a stored snapshot. Call Validate
// before using the graph.
func (g *Graph[T]) AddUnchecked(key string, value T, deps ...string) (int, error) {
	return g.insert(key, value, deps)
}

func (g *Graph[T]) insert(key string, value T, deps []string) (int, error) {
	if _, ok := g.index[key]; ok {
		return -1, &DuplicateError{Key: key}
	}
	n := &Node[T]{
		Index:   len(g.nodes),
		Key:     key,
		Value:   value,
		DepKeys: slices.Clone(deps),
	}
	for _, d := range deps {
		if i, ok := g.index[d]; ok {
			n.Deps = append(n.Deps, i)
		}
	}
	g.nodes = append(g.nodes, n)
	g.index[key] = n.Index
	return n.Index, nil
}

// Len returns the number of nodes.
func (g *Graph[T]) Len() int {
	return len(g.nodes)
}

// Node returns the node at index i.
func (g *Graph[T]) Node(i int) *Node[T] {
	return g.nodes[i]
}

// Lookup returns the node stored under key.
func (g *Graph[T]) Lookup(key string) (*Node[T], bool) {
	i, ok := g.index[key]
	if !ok {
		return nil, false
	}
	return g.nodes[i], true
}

// Nodes returns the nodes in declaration order.
func (g *Graph[T]) Nodes() []*Node[T] {
	return slices.Clone(g.nodes)
}

// Validate resolves every dependency key and rejects dangling references and
// cycles.
func (g *Graph[T]) Validate() error {
	for _, n := range g.nodes {
		n.Deps = n.Deps[:0]
		for _, d := range n.DepKeys {
			i, ok := g.index[d]
			if !ok {
				return &MissingRefError{From: n.Key, To: d}
			}
			n.Deps = append(n.Deps, i)
		}
	}
	_, err := g.TopoOrder()
	return err
}

// TopoOrder returns node indices with every node placed after its
// dependencies. Ties keep declaration order.
func (g *Graph[T]) TopoOrder() ([]int, error) {
	sorted := make([]int, 0, len(g.nodes))
	tempmark := make([]bool, len(g.nodes))
	mark := make([]bool, len(g.nodes))

	var visit func(i int, path []string) error
	visit = func(i int, path []string) error {
		n := g.nodes[i]
		if tempmark[i] {
			return fmt.Errorf("%w: %s", ErrCycle, strings.Join(append(path, n.Key), " -> "))
		}
		if mark[i] {
			return nil
		}
		tempmark[i] = true
		for _, d := range n.Deps {
			if err := visit(d, append(path, n.Key)); err != nil {
				return err
			}
		}
		tempmark[i] = false
		mark[i] = true
		sorted = append(sorted, i)
		return nil
	}

	for i := range g.nodes {
		if err := visit(i, nil); err != nil {
			return nil, err
		}
	}
	return sorted, nil
}

// ReverseOrder returns node indices with every node placed before its
// dependencies, the order in which resources can be torn down.
func (g *Graph[T]) ReverseOrder() ([]int, error) {
	order, err := g.TopoOrder()
	if err != nil {
		return nil, err
	}
	slices.Reverse(order)
	return order, nil
}

// Dependents returns the indices of nodes that depend directly on node i.
func (g *Graph[T]) Dependents(i int) []int {
	var out []int
	for _, n := range g.nodes {
		if slices.Contains(n.Deps, i) {
			out = append(out, n.Index)
		}
	}
	return out
}

// TransitiveDependents returns every node that reaches node i through its
// dependencies, in declaration order.
func (g *Graph[T]) TransitiveDependents(i int) []int {
	seen := make(map[int]bool)
	queue := []int{i}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, d := range g.Dependents(cur) {
			if !seen[d] {
				seen[d] = true
				queue = append(queue, d)
			}
		}
	}
	out := make([]int, 0, len(seen))
	for idx := range seen {
		out = append(out, idx)
	}
	slices.Sort(out)
	return out
}
