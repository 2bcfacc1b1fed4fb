package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Sentinel node names marking the entry and the terminal of a graph.
const (
	START = "__start__"
	END   = "__end__"
)

// NodeFunc is one step of a graph. It receives the current state and returns the
// state visible to its successors.
type NodeFunc[S any] func(ctx context.Context, state S) (S, error)

// RouterFunc picks the route key of a conditional edge. It must be a pure read of
// the state.
type RouterFunc[S any] func(state S) string

// MergeFunc combines the states returned by fanned-out branches into the state
// handed to the join node. base is the state returned by the fan-out node.
type MergeFunc[S any] func(base S, branches []S) S

// Graph is a mutable graph definition. Build errors are collected and reported
// by Compile so that definitions can be chained.
type Graph[S any] struct {
	name     string
	nodes    map[string]*graphNode[S]
	order    []string
	edges    map[string][]string
	branches map[string]*branch[S]
	parallel map[string]*parallelSpec[S]
	errs     []error
}

type graphNode[S any] struct {
	name string
	fn   NodeFunc[S]
	sub  *Graph[S]
}

type branch[S any] struct {
	router RouterFunc[S]
	routes map[string]string
}

// keys returns the declared route keys in a stable order.
func (b *branch[S]) keys() []string {
	keys := make([]string, 0, len(b.routes))
	for k := range b.routes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type parallelSpec[S any] struct {
	executor *Executor
	merge    MergeFunc[S]
}

// NewGraph creates an empty graph.
func NewGraph[S any](name string) *Graph[S] {
	return &Graph[S]{
		name:     name,
		nodes:    make(map[string]*graphNode[S]),
		edges:    make(map[string][]string),
		branches: make(map[string]*branch[S]),
		parallel: make(map[string]*parallelSpec[S]),
	}
}

// Name returns the graph name.
func (g *Graph[S]) Name() string {
	return g.name
}

func (g *Graph[S]) fail(format string, args ...interface{}) {
	g.errs = append(g.errs, NewPermanentError(fmt.Sprintf(format, args...), nil).
		WithCode(ErrCodeInvalidGraph).WithGraph(g.name))
}

func (g *Graph[S]) addNode(name string, n *graphNode[S]) {
	switch {
	case name == "":
		g.fail("node name must not be empty")
		return
	case name == START || name == END:
		g.fail("node name %q is reserved", name)
		return
	}
	if _, exists := g.nodes[name]; exists {
		g.fail("duplicate node %q", name)
		return
	}
	g.nodes[name] = n
	g.order = append(g.order, name)
}

// AddNode registers a node function under name.
func (g *Graph[S]) AddNode(name string, fn NodeFunc[S]) *Graph[S] {
	if fn == nil {
		g.fail("node %q has no function", name)
		return g
	}
	g.addNode(name, &graphNode[S]{name: name, fn: fn})
	return g
}

// AddSubgraph registers sub as a single node of g. The subgraph's terminal is
// wired to whatever edge leaves name in g.
func (g *Graph[S]) AddSubgraph(name string, sub *Graph[S]) *Graph[S] {
	if sub == nil {
		g.fail("subgraph %q is nil", name)
		return g
	}
	g.addNode(name, &graphNode[S]{name: name, sub: sub})
	return g
}

// AddEdge adds a static edge from -> to. A node may have several static
// successors only when it is marked parallel.
func (g *Graph[S]) AddEdge(from, to string) *Graph[S] {
	if from == END {
		g.fail("edge cannot leave %s", END)
		return g
	}
	if to == START {
		g.fail("edge cannot enter %s", START)
		return g
	}
	for _, existing := range g.edges[from] {
		if existing == to {
			g.fail("duplicate edge %s -> %s", from, to)
			return g
		}
	}
	g.edges[from] = append(g.edges[from], to)
	return g
}

// AddConditionalEdges routes from through router. Every key the router can
// return must be declared in routes; an undeclared key fails the run.
func (g *Graph[S]) AddConditionalEdges(from string, router RouterFunc[S], routes map[string]string) *Graph[S] {
	if router == nil {
		g.fail("conditional edge from %q has no router", from)
		return g
	}
	if len(routes) == 0 {
		g.fail("conditional edge from %q declares no routes", from)
		return g
	}
	if _, exists := g.branches[from]; exists {
		g.fail("node %q already has conditional edges", from)
		return g
	}
	copied := make(map[string]string, len(routes))
	for k, v := range routes {
		copied[k] = v
	}
	g.branches[from] = &branch[S]{router: router, routes: copied}
	return g
}

// SetParallel marks node as a fan-out point: its static successors run
// concurrently on executor and the engine waits for all of them before
// invoking their common successor. merge may be nil, in which case the
// fan-out node's state is passed on unchanged.
func (g *Graph[S]) SetParallel(node string, executor *Executor, merge MergeFunc[S]) *Graph[S] {
	g.parallel[node] = &parallelSpec[S]{executor: executor, merge: merge}
	return g
}

// buildError joins the errors collected while defining the graph.
func (g *Graph[S]) buildError() error {
	if len(g.errs) == 0 {
		return nil
	}
	return errors.Join(g.errs...)
}
