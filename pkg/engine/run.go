package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Step describes one completed node execution.
type Step[S any] struct {
	// Graph is the name of the graph or subgraph the node belongs to.
	Graph string
	Node  string
	State S

	// Index is the 1-based position of the step within the run.
	Index int64

	Duration time.Duration

	// Err is set for a fan-out branch that failed. The run continues without
	// that branch's result.
	Err error
}

// Interceptor wraps every node and subgraph invocation. It must call next
// exactly once and return its result, possibly decorated.
type Interceptor[S any] func(ctx context.Context, graph, node string, state S, next NodeFunc[S]) (S, error)

// RunOption configures a single run.
type RunOption[S any] func(*runConfig[S])

type runConfig[S any] struct {
	maxSteps     int64
	listeners    []func(Step[S])
	interceptors []Interceptor[S]
}

// WithMaxSteps bounds the total number of node executions.
func WithMaxSteps[S any](n int) RunOption[S] {
	return func(c *runConfig[S]) {
		if n > 0 {
			c.maxSteps = int64(n)
		}
	}
}

// WithStepListener receives every step after it completes. Listeners may be
// called from fan-out worker goroutines, never concurrently with each other.
func WithStepListener[S any](fn func(Step[S])) RunOption[S] {
	return func(c *runConfig[S]) {
		if fn != nil {
			c.listeners = append(c.listeners, fn)
		}
	}
}

// WithInterceptor adds an interceptor. The first one added is the outermost.
func WithInterceptor[S any](fn Interceptor[S]) RunOption[S] {
	return func(c *runConfig[S]) {
		if fn != nil {
			c.interceptors = append(c.interceptors, fn)
		}
	}
}

// execution is the mutable bookkeeping of one run shared by the graph and its
// subgraphs.
type execution[S any] struct {
	cfg   runConfig[S]
	steps atomic.Int64
	mu    sync.Mutex
}

func (x *execution[S]) publish(step Step[S]) {
	if len(x.cfg.listeners) == 0 {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, l := range x.cfg.listeners {
		l(step)
	}
}

// Run executes the graph from its entry until END is reached and returns the
// final state. Node errors, unmapped routes, cancellation and the step limit
// stop the run with an EngineError.
func (c *Compiled[S]) Run(ctx context.Context, state S, opts ...RunOption[S]) (S, error) {
	x := &execution[S]{cfg: runConfig[S]{maxSteps: DefaultMaxSteps}}
	for _, opt := range opts {
		opt(&x.cfg)
	}
	return c.run(ctx, state, x)
}

func (c *Compiled[S]) run(ctx context.Context, state S, x *execution[S]) (S, error) {
	current := c.graph.edges[START][0]

	for current != END {
		if err := ctx.Err(); err != nil {
			return state, NewPermanentError("run cancelled", err).
				WithCode(ErrCodeCancelled).WithGraph(c.graph.name).WithNode(current)
		}

		next, err := c.step(ctx, current, state, x)
		if err != nil {
			return state, err
		}
		state = next

		if spec, ok := c.graph.parallel[current]; ok {
			state = c.fanOut(ctx, current, spec, state, x)
			current = c.joins[current]
			continue
		}

		current, err = c.resolve(current, state)
		if err != nil {
			return state, err
		}
	}

	return state, nil
}

// step executes one node (or a whole subgraph) and publishes the result.
func (c *Compiled[S]) step(ctx context.Context, name string, state S, x *execution[S]) (S, error) {
	index := x.steps.Add(1)
	if index > x.cfg.maxSteps {
		return state, NewPermanentError(
			fmt.Sprintf("step limit of %d exceeded", x.cfg.maxSteps), nil,
		).WithCode(ErrCodeStepLimit).WithGraph(c.graph.name).WithNode(name)
	}

	start := time.Now()
	out, err := c.invoke(ctx, name, state, x)
	if err != nil {
		return state, err
	}

	x.publish(Step[S]{
		Graph:    c.graph.name,
		Node:     name,
		State:    out,
		Index:    index,
		Duration: time.Since(start),
	})
	return out, nil
}

func (c *Compiled[S]) invoke(ctx context.Context, name string, state S, x *execution[S]) (out S, err error) {
	n, ok := c.graph.nodes[name]
	if !ok {
		return state, NewPermanentError(fmt.Sprintf("unknown node %q", name), nil).
			WithCode(ErrCodeUnknownNode).WithGraph(c.graph.name).WithNode(name)
	}

	var fn NodeFunc[S]
	if n.sub != nil {
		sub := c.subs[name]
		fn = func(ctx context.Context, s S) (S, error) {
			return sub.run(ctx, s, x)
		}
	} else {
		fn = n.fn
	}

	for i := len(x.cfg.interceptors) - 1; i >= 0; i-- {
		ic, next := x.cfg.interceptors[i], fn
		graphName := c.graph.name
		fn = func(ctx context.Context, s S) (S, error) {
			return ic(ctx, graphName, name, s, next)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			out = state
			err = NewPermanentError(fmt.Sprintf("node panicked: %v", r), nil).
				WithCode(ErrCodeNodeFailed).WithGraph(c.graph.name).WithNode(name).
				WithDetail("stack", string(debug.Stack()))
		}
	}()

	out, err = fn(ctx, state)
	if err == nil {
		return out, nil
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return state, err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return state, NewTransientError("node timed out", err).
			WithCode(ErrCodeNodeTimeout).WithGraph(c.graph.name).WithNode(name)
	}
	return state, NewPermanentError("node failed", err).
		WithCode(ErrCodeNodeFailed).WithGraph(c.graph.name).WithNode(name)
}

// fanOut runs the branches of a parallel node on its executor and waits for all
// of them. A failed branch is reported through the step listeners and left out
// of the merge; it never cancels its siblings.
func (c *Compiled[S]) fanOut(ctx context.Context, node string, spec *parallelSpec[S], state S, x *execution[S]) S {
	branches := c.graph.edges[node]

	results := make([]S, len(branches))
	errs := make([]error, len(branches))

	var wg sync.WaitGroup
	for i, name := range branches {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("branch %s panicked: %v", name, r)
				}
			}()
			results[i], errs[i] = c.step(ctx, name, state, x)
		}

		if spec.executor == nil {
			go task()
			continue
		}
		if err := spec.executor.Go(task); err != nil {
			errs[i] = err
			wg.Done()
		}
	}
	wg.Wait()

	succeeded := make([]S, 0, len(branches))
	for i, name := range branches {
		if errs[i] != nil {
			x.publish(Step[S]{Graph: c.graph.name, Node: name, State: state, Err: errs[i]})
			continue
		}
		succeeded = append(succeeded, results[i])
	}

	if spec.merge == nil {
		return state
	}
	return spec.merge(state, succeeded)
}

// resolve picks the successor of current.
func (c *Compiled[S]) resolve(current string, state S) (string, error) {
	if b, ok := c.graph.branches[current]; ok {
		key := b.router(state)
		target, mapped := b.routes[key]
		if !mapped {
			return "", NewPermanentError(fmt.Sprintf("router returned unmapped key %q", key), nil).
				WithCode(ErrCodeUnmappedRoute).WithGraph(c.graph.name).WithNode(current).
				WithDetail("key", key).
				WithDetail("routes", b.keys())
		}
		return target, nil
	}

	targets := c.graph.edges[current]
	if len(targets) == 0 {
		return "", NewPermanentError(fmt.Sprintf("node %q has no successor", current), nil).
			WithCode(ErrCodeInvalidGraph).WithGraph(c.graph.name).WithNode(current)
	}
	return targets[0], nil
}
