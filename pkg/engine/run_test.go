package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRun_Linear(t *testing.T) {
	g := NewGraph[*testState]("linear")
	g.AddNode("a", record("a")).
		AddNode("b", record("b")).
		AddEdge(START, "a").
		AddEdge("a", "b").
		AddEdge("b", END)

	c, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	var steps []string
	final, err := c.Run(context.Background(), &testState{},
		WithStepListener(func(s Step[*testState]) { steps = append(steps, s.Node) }))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if strings.Join(final.trail, ",") != "a,b" {
		t.Errorf("Expected trail a,b, got %v", final.trail)
	}
	if strings.Join(steps, ",") != "a,b" {
		t.Errorf("Expected steps a,b, got %v", steps)
	}
}

// A check/fix cycle bounded by the router, the shape of the build loop.
func TestRun_ConditionalLoop(t *testing.T) {
	const maxFixes = 3

	check := func(_ context.Context, s *testState) (*testState, error) {
		s.trail = append(s.trail, "check")
		return s, nil
	}
	fix := func(_ context.Context, s *testState) (*testState, error) {
		s.count++
		s.trail = append(s.trail, "fix")
		return s, nil
	}
	route := func(s *testState) string {
		if s.count < maxFixes {
			return "fix"
		}
		return "pass"
	}

	g := NewGraph[*testState]("loop")
	g.AddNode("check", check).
		AddNode("fix", fix).
		AddEdge(START, "check").
		AddConditionalEdges("check", route, map[string]string{"fix": "fix", "pass": END}).
		AddEdge("fix", "check")

	c, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	final, err := c.Run(context.Background(), &testState{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if final.count != maxFixes {
		t.Errorf("Expected %d fixes, got %d", maxFixes, final.count)
	}
	want := "check,fix,check,fix,check,fix,check"
	if got := strings.Join(final.trail, ","); got != want {
		t.Errorf("Expected trail %s, got %s", want, got)
	}
}

func TestRun_UnmappedRouteIsFatal(t *testing.T) {
	g := NewGraph[*testState]("bad-route")
	g.AddNode("a", record("a")).
		AddEdge(START, "a").
		AddConditionalEdges("a", func(*testState) string { return "nowhere" }, map[string]string{"end": END})

	c, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	_, err = c.Run(context.Background(), &testState{})
	if err == nil {
		t.Fatal("Expected unmapped route error")
	}
	if !HasCode(err, ErrCodeUnmappedRoute) {
		t.Errorf("Expected %s, got: %v", ErrCodeUnmappedRoute, err)
	}
	if !IsPermanent(err) {
		t.Errorf("Expected permanent error, got: %v", err)
	}
}

func TestRun_NodeErrorStopsRun(t *testing.T) {
	boom := errors.New("boom")
	g := NewGraph[*testState]("fail")
	g.AddNode("a", func(_ context.Context, s *testState) (*testState, error) { return s, boom }).
		AddNode("b", record("b")).
		AddEdge(START, "a").
		AddEdge("a", "b").
		AddEdge("b", END)

	c, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	final, err := c.Run(context.Background(), &testState{})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected wrapped boom, got: %v", err)
	}
	if !HasCode(err, ErrCodeNodeFailed) {
		t.Errorf("Expected %s, got: %v", ErrCodeNodeFailed, err)
	}
	if len(final.trail) != 0 {
		t.Errorf("Expected b not to run, trail %v", final.trail)
	}
}

func TestRun_NodeTimeoutIsTransient(t *testing.T) {
	g := NewGraph[*testState]("slow")
	g.AddNode("wait", func(ctx context.Context, s *testState) (*testState, error) {
		<-ctx.Done()
		return s, ctx.Err()
	}).
		AddEdge(START, "wait").
		AddEdge("wait", END)

	c, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = c.Run(ctx, &testState{})
	if !HasCode(err, ErrCodeNodeTimeout) && !HasCode(err, ErrCodeCancelled) {
		t.Fatalf("Expected timeout, got: %v", err)
	}
	if HasCode(err, ErrCodeNodeTimeout) && !IsRetryable(err) {
		t.Errorf("node timeout should be retryable: %v", err)
	}
}

func TestRun_NodePanicIsRecovered(t *testing.T) {
	g := NewGraph[*testState]("panic")
	g.AddNode("a", func(context.Context, *testState) (*testState, error) { panic("kaboom") }).
		AddEdge(START, "a").
		AddEdge("a", END)

	c, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	_, err = c.Run(context.Background(), &testState{})
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("Expected panic to surface as error, got: %v", err)
	}
}

func TestRun_StepLimit(t *testing.T) {
	g := NewGraph[*testState]("forever")
	g.AddNode("a", record("a")).
		AddNode("b", record("b")).
		AddEdge(START, "a").
		AddConditionalEdges("a", func(*testState) string { return "again" }, map[string]string{
			"again": "b",
			"done":  END,
		}).
		AddEdge("b", "a")

	c, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	final, err := c.Run(context.Background(), &testState{}, WithMaxSteps[*testState](5))
	if !HasCode(err, ErrCodeStepLimit) {
		t.Fatalf("Expected step limit error, got: %v", err)
	}
	if len(final.trail) != 5 {
		t.Errorf("Expected 5 executed steps, got %d", len(final.trail))
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g := NewGraph[*testState]("cancel")
	g.AddNode("a", func(_ context.Context, s *testState) (*testState, error) {
		cancel()
		return s, nil
	}).
		AddNode("b", record("b")).
		AddEdge(START, "a").
		AddEdge("a", "b").
		AddEdge("b", END)

	c, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	final, err := c.Run(ctx, &testState{})
	if !HasCode(err, ErrCodeCancelled) {
		t.Fatalf("Expected cancelled error, got: %v", err)
	}
	if len(final.trail) != 0 {
		t.Errorf("Expected b not to run, got %v", final.trail)
	}
}

func TestRun_Subgraph(t *testing.T) {
	sub := NewGraph[*testState]("inner")
	sub.AddNode("x", record("x")).
		AddNode("y", record("y")).
		AddEdge(START, "x").
		AddEdge("x", "y").
		AddEdge("y", END)

	g := NewGraph[*testState]("outer")
	g.AddNode("first", record("first")).
		AddSubgraph("inner", sub).
		AddNode("last", record("last")).
		AddEdge(START, "first").
		AddEdge("first", "inner").
		AddEdge("inner", "last").
		AddEdge("last", END)

	c, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	var graphs []string
	final, err := c.Run(context.Background(), &testState{},
		WithStepListener(func(s Step[*testState]) { graphs = append(graphs, s.Graph+"/"+s.Node) }))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := strings.Join(final.trail, ","); got != "first,x,y,last" {
		t.Errorf("Expected first,x,y,last, got %s", got)
	}
	want := "outer/first,inner/x,inner/y,outer/inner,outer/last"
	if got := strings.Join(graphs, ","); got != want {
		t.Errorf("Expected steps %s, got %s", want, got)
	}
}

func TestRun_SubgraphConditionalExit(t *testing.T) {
	sub := NewGraph[*testState]("classify")
	sub.AddNode("x", func(_ context.Context, s *testState) (*testState, error) {
		s.count = 7
		return s, nil
	}).AddEdge(START, "x").AddEdge("x", END)

	g := NewGraph[*testState]("outer")
	g.AddSubgraph("classify", sub).
		AddNode("seven", record("seven")).
		AddEdge(START, "classify").
		AddConditionalEdges("classify", func(s *testState) string {
			if s.count == 7 {
				return "seven"
			}
			return "other"
		}, map[string]string{"seven": "seven", "other": END}).
		AddEdge("seven", END)

	c, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	final, err := c.Run(context.Background(), &testState{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(final.trail) != 1 || final.trail[0] != "seven" {
		t.Errorf("Expected route to seven, got %v", final.trail)
	}
}

func fanOutGraph(t *testing.T, exec *Executor, left, right NodeFunc[*testState]) *Compiled[*testState] {
	t.Helper()
	g := NewGraph[*testState]("fan")
	g.AddNode("plan", record("plan")).
		AddNode("left", left).
		AddNode("right", right).
		AddNode("join", func(_ context.Context, s *testState) (*testState, error) {
			s.count = s.a + s.b
			return s, nil
		}).
		AddEdge(START, "plan").
		AddEdge("plan", "left").
		AddEdge("plan", "right").
		AddEdge("left", "join").
		AddEdge("right", "join").
		AddEdge("join", END).
		SetParallel("plan", exec, nil)

	c, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	return c
}

func TestRun_FanOutBarrier(t *testing.T) {
	exec := NewExecutor(DefaultExecutorConfig("test-"))
	defer exec.Shutdown()

	var running, peak atomic.Int32
	track := func() {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		running.Add(-1)
	}

	c := fanOutGraph(t, exec,
		func(_ context.Context, s *testState) (*testState, error) {
			track()
			s.a = 2
			return s, nil
		},
		func(_ context.Context, s *testState) (*testState, error) {
			track()
			s.b = 3
			return s, nil
		})

	final, err := c.Run(context.Background(), &testState{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if final.count != 5 {
		t.Errorf("Expected join to observe both branches (5), got %d", final.count)
	}
	if peak.Load() != 2 {
		t.Errorf("Expected branches to overlap, peak concurrency %d", peak.Load())
	}
}

func TestRun_FanOutBranchFailureIsIsolated(t *testing.T) {
	var mu sync.Mutex
	var failed []string

	c := fanOutGraph(t, nil,
		func(_ context.Context, s *testState) (*testState, error) {
			return s, errors.New("left broke")
		},
		func(_ context.Context, s *testState) (*testState, error) {
			s.b = 4
			return s, nil
		})

	final, err := c.Run(context.Background(), &testState{},
		WithStepListener(func(s Step[*testState]) {
			if s.Err != nil {
				mu.Lock()
				failed = append(failed, s.Node)
				mu.Unlock()
			}
		}))
	if err != nil {
		t.Fatalf("Expected branch failure not to fail the run, got: %v", err)
	}
	if final.count != 4 {
		t.Errorf("Expected surviving branch result 4, got %d", final.count)
	}
	if len(failed) != 1 || failed[0] != "left" {
		t.Errorf("Expected left reported as failed, got %v", failed)
	}
}

func TestRun_FanOutMerge(t *testing.T) {
	g := NewGraph[testState]("values")
	g.AddNode("plan", func(_ context.Context, s testState) (testState, error) { return s, nil }).
		AddNode("left", func(_ context.Context, s testState) (testState, error) {
			s.a = 1
			return s, nil
		}).
		AddNode("right", func(_ context.Context, s testState) (testState, error) {
			s.b = 2
			return s, nil
		}).
		AddNode("join", func(_ context.Context, s testState) (testState, error) {
			s.count = s.a*10 + s.b
			return s, nil
		}).
		AddEdge(START, "plan").
		AddEdge("plan", "left").
		AddEdge("plan", "right").
		AddEdge("left", "join").
		AddEdge("right", "join").
		AddEdge("join", END).
		SetParallel("plan", nil, func(base testState, branches []testState) testState {
			for _, b := range branches {
				if b.a != 0 {
					base.a = b.a
				}
				if b.b != 0 {
					base.b = b.b
				}
			}
			return base
		})

	c, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	final, err := c.Run(context.Background(), testState{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if final.count != 12 {
		t.Errorf("Expected merged value 12, got %d", final.count)
	}
}

func TestRun_Interceptor(t *testing.T) {
	g := NewGraph[*testState]("intercepted")
	g.AddNode("a", record("a")).AddEdge(START, "a").AddEdge("a", END)

	c, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	var calls []string
	outer := func(ctx context.Context, graph, node string, s *testState, next NodeFunc[*testState]) (*testState, error) {
		calls = append(calls, "outer:"+graph+"/"+node)
		return next(ctx, s)
	}
	inner := func(ctx context.Context, graph, node string, s *testState, next NodeFunc[*testState]) (*testState, error) {
		calls = append(calls, "inner:"+node)
		return next(ctx, s)
	}

	if _, err := c.Run(context.Background(), &testState{},
		WithInterceptor(outer), WithInterceptor(inner)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := strings.Join(calls, ","); got != "outer:intercepted/a,inner:a" {
		t.Errorf("Unexpected interceptor order: %s", got)
	}
}
