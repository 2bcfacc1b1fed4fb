package engine

import (
	"errors"
	"fmt"
)

// DefaultMaxSteps bounds the number of node executions in one run. Cycles are
// legal (the build/fix loop is one), so the bound is what guarantees termination
// when a router misbehaves.
const DefaultMaxSteps = 256

// Compiled is a validated, immutable graph ready to run.
type Compiled[S any] struct {
	graph *Graph[S]

	// subs holds the compiled form of every subgraph node.
	subs map[string]*Compiled[S]

	// joins maps a fan-out node to the common successor of its branches.
	joins map[string]string
}

// Compile validates the graph and returns its runnable form. All structural
// problems are reported together as permanent INVALID_GRAPH errors.
func (g *Graph[S]) Compile() (*Compiled[S], error) {
	return g.compile(false)
}

func (g *Graph[S]) compile(nested bool) (*Compiled[S], error) {
	if err := g.buildError(); err != nil {
		return nil, err
	}

	c := &Compiled[S]{
		graph: g,
		subs:  make(map[string]*Compiled[S]),
		joins: make(map[string]string),
	}

	v := &validator[S]{g: g}
	v.checkEntry()
	v.checkOutgoing()
	v.checkTargets()

	for _, name := range g.order {
		n := g.nodes[name]
		if n.sub == nil {
			continue
		}
		if nested {
			v.fail(name, "subgraph %q cannot contain subgraph %q", g.name, name)
			continue
		}
		sub, err := n.sub.compile(true)
		if err != nil {
			v.errs = append(v.errs, err)
			continue
		}
		c.subs[name] = sub
	}

	for node := range g.parallel {
		if join, ok := v.checkParallel(node); ok {
			c.joins[node] = join
		}
	}

	v.checkReachable()
	v.checkExit()

	if len(v.errs) > 0 {
		return nil, errors.Join(v.errs...)
	}
	return c, nil
}

// Name returns the graph name.
func (c *Compiled[S]) Name() string {
	return c.graph.name
}

// Nodes returns node names in declaration order.
func (c *Compiled[S]) Nodes() []string {
	out := make([]string, len(c.graph.order))
	copy(out, c.graph.order)
	return out
}

// Subgraph returns the compiled subgraph registered under name.
func (c *Compiled[S]) Subgraph(name string) (*Compiled[S], bool) {
	sub, ok := c.subs[name]
	return sub, ok
}

// Routes returns the declared route keys of the conditional edge leaving node.
func (c *Compiled[S]) Routes(node string) []string {
	b, ok := c.graph.branches[node]
	if !ok {
		return nil
	}
	return b.keys()
}

type validator[S any] struct {
	g    *Graph[S]
	errs []error
}

func (v *validator[S]) fail(node, format string, args ...interface{}) {
	err := NewPermanentError(fmt.Sprintf(format, args...), nil).
		WithCode(ErrCodeInvalidGraph).
		WithGraph(v.g.name)
	if node != "" {
		err = err.WithNode(node)
	}
	v.errs = append(v.errs, err)
}

func (v *validator[S]) exists(name string) bool {
	if name == END {
		return true
	}
	_, ok := v.g.nodes[name]
	return ok
}

func (v *validator[S]) checkEntry() {
	if len(v.g.nodes) == 0 {
		v.fail("", "graph has no nodes")
	}
	if _, ok := v.g.branches[START]; ok {
		v.fail(START, "entry must be a static edge")
	}
	switch len(v.g.edges[START]) {
	case 0:
		v.fail(START, "graph has no entry edge")
	case 1:
	default:
		v.fail(START, "graph has %d entry edges, want 1", len(v.g.edges[START]))
	}
}

// checkOutgoing enforces exactly one way out of every node.
func (v *validator[S]) checkOutgoing() {
	for _, name := range v.g.order {
		static := len(v.g.edges[name])
		_, conditional := v.g.branches[name]
		_, parallel := v.g.parallel[name]

		switch {
		case static > 0 && conditional:
			v.fail(name, "node %q has both static and conditional edges", name)
		case static == 0 && !conditional:
			v.fail(name, "node %q has no outgoing edge", name)
		case static > 1 && !parallel:
			v.fail(name, "node %q has %d static edges but is not parallel", name, static)
		case parallel && conditional:
			v.fail(name, "parallel node %q cannot route conditionally", name)
		}
	}
	for from := range v.g.edges {
		if from != START && !v.exists(from) {
			v.fail(from, "edge leaves unknown node %q", from)
		}
	}
	for from := range v.g.branches {
		if !v.exists(from) {
			v.fail(from, "conditional edge leaves unknown node %q", from)
		}
	}
	for node := range v.g.parallel {
		if !v.exists(node) || node == END {
			v.fail(node, "parallel annotation on unknown node %q", node)
		}
	}
}

func (v *validator[S]) checkTargets() {
	for from, targets := range v.g.edges {
		for _, to := range targets {
			if !v.exists(to) {
				v.fail(from, "edge %s -> %s targets an unknown node", from, to)
			}
		}
	}
	for from, b := range v.g.branches {
		for _, key := range b.keys() {
			if to := b.routes[key]; !v.exists(to) {
				v.fail(from, "route %q from %s targets unknown node %q", key, from, to)
			}
		}
	}
}

// checkParallel verifies that every branch of a fan-out node is a plain node
// with a single static edge into one shared join node.
func (v *validator[S]) checkParallel(node string) (string, bool) {
	n, ok := v.g.nodes[node]
	if !ok {
		return "", false
	}
	if n.sub != nil {
		v.fail(node, "subgraph %q cannot fan out", node)
		return "", false
	}
	targets := v.g.edges[node]
	if len(targets) < 2 {
		v.fail(node, "parallel node %q needs at least two successors, has %d", node, len(targets))
		return "", false
	}

	join := ""
	for _, t := range targets {
		if t == END {
			v.fail(node, "parallel branch of %q cannot be %s", node, END)
			return "", false
		}
		tn := v.g.nodes[t]
		if tn == nil {
			return "", false
		}
		if tn.sub != nil {
			v.fail(t, "parallel branch %q cannot be a subgraph", t)
			return "", false
		}
		if _, branchy := v.g.branches[t]; branchy {
			v.fail(t, "parallel branch %q cannot route conditionally", t)
			return "", false
		}
		if _, nestedFan := v.g.parallel[t]; nestedFan {
			v.fail(t, "parallel branch %q cannot fan out again", t)
			return "", false
		}
		out := v.g.edges[t]
		if len(out) != 1 {
			v.fail(t, "parallel branch %q must have exactly one successor", t)
			return "", false
		}
		if join == "" {
			join = out[0]
		} else if out[0] != join {
			v.fail(node, "branches of %q join at both %q and %q", node, join, out[0])
			return "", false
		}
	}
	if join == END {
		v.fail(node, "branches of %q must join at a node, not %s", node, END)
		return "", false
	}
	return join, true
}

func (v *validator[S]) successors(name string) []string {
	out := append([]string(nil), v.g.edges[name]...)
	if b, ok := v.g.branches[name]; ok {
		for _, key := range b.keys() {
			out = append(out, b.routes[key])
		}
	}
	return out
}

func (v *validator[S]) reachable() map[string]bool {
	seen := map[string]bool{START: true}
	queue := []string{START}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range v.successors(cur) {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return seen
}

func (v *validator[S]) checkReachable() {
	seen := v.reachable()
	for _, name := range v.g.order {
		if !seen[name] {
			v.fail(name, "node %q is unreachable from %s", name, START)
		}
	}
}

// checkExit requires the terminal to be reachable: a subgraph has exactly one
// exit, its END, which the parent wires onward.
func (v *validator[S]) checkExit() {
	if len(v.g.edges[START]) == 0 {
		return
	}
	if !v.reachable()[END] {
		v.fail("", "graph %q never reaches %s", v.g.name, END)
	}
}
