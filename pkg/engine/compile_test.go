package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type testState struct {
	trail []string
	count int
	a, b  int
}

func record(name string) NodeFunc[*testState] {
	return func(_ context.Context, s *testState) (*testState, error) {
		s.trail = append(s.trail, name)
		return s, nil
	}
}

func mustNotCompile(t *testing.T, g *Graph[*testState], wantSubstring string) {
	t.Helper()
	_, err := g.Compile()
	if err == nil {
		t.Fatalf("Expected compile error containing %q, got nil", wantSubstring)
	}
	if !IsPermanent(err) {
		t.Errorf("Expected permanent error, got: %v", err)
	}
	if !HasCode(err, ErrCodeInvalidGraph) {
		t.Errorf("Expected %s code, got: %v", ErrCodeInvalidGraph, err)
	}
	if !strings.Contains(err.Error(), wantSubstring) {
		t.Errorf("Expected error to contain %q, got: %v", wantSubstring, err)
	}
}

func TestCompile_Linear(t *testing.T) {
	g := NewGraph[*testState]("linear")
	g.AddNode("a", record("a")).
		AddNode("b", record("b")).
		AddEdge(START, "a").
		AddEdge("a", "b").
		AddEdge("b", END)

	c, err := g.Compile()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if got := c.Nodes(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Expected nodes [a b], got %v", got)
	}
}

func TestCompile_DuplicateNode(t *testing.T) {
	g := NewGraph[*testState]("dup")
	g.AddNode("a", record("a")).
		AddNode("a", record("a")).
		AddEdge(START, "a").
		AddEdge("a", END)

	mustNotCompile(t, g, `duplicate node "a"`)
}

func TestCompile_ReservedName(t *testing.T) {
	g := NewGraph[*testState]("reserved")
	g.AddNode(END, record("x"))

	mustNotCompile(t, g, "reserved")
}

func TestCompile_MissingEntry(t *testing.T) {
	g := NewGraph[*testState]("noentry")
	g.AddNode("a", record("a")).AddEdge("a", END)

	mustNotCompile(t, g, "no entry edge")
}

func TestCompile_UnknownTarget(t *testing.T) {
	g := NewGraph[*testState]("unknown")
	g.AddNode("a", record("a")).
		AddEdge(START, "a").
		AddEdge("a", "ghost")

	mustNotCompile(t, g, "unknown node")
}

func TestCompile_UnknownRouteTarget(t *testing.T) {
	g := NewGraph[*testState]("route")
	g.AddNode("a", record("a")).
		AddEdge(START, "a").
		AddConditionalEdges("a", func(*testState) string { return "x" }, map[string]string{
			"x": "ghost",
			"y": END,
		})

	mustNotCompile(t, g, `route "x"`)
}

func TestCompile_MultipleStaticEdgesRequireParallel(t *testing.T) {
	g := NewGraph[*testState]("fan")
	g.AddNode("a", record("a")).
		AddNode("b", record("b")).
		AddNode("c", record("c")).
		AddEdge(START, "a").
		AddEdge("a", "b").
		AddEdge("a", "c").
		AddEdge("b", END).
		AddEdge("c", END)

	mustNotCompile(t, g, "not parallel")
}

func TestCompile_StaticAndConditional(t *testing.T) {
	g := NewGraph[*testState]("both")
	g.AddNode("a", record("a")).
		AddEdge(START, "a").
		AddEdge("a", END).
		AddConditionalEdges("a", func(*testState) string { return "end" }, map[string]string{"end": END})

	mustNotCompile(t, g, "both static and conditional")
}

func TestCompile_Unreachable(t *testing.T) {
	g := NewGraph[*testState]("island")
	g.AddNode("a", record("a")).
		AddNode("island", record("island")).
		AddEdge(START, "a").
		AddEdge("a", END).
		AddEdge("island", END)

	mustNotCompile(t, g, `"island" is unreachable`)
}

func TestCompile_NestedSubgraphRejected(t *testing.T) {
	inner := NewGraph[*testState]("inner")
	inner.AddNode("x", record("x")).AddEdge(START, "x").AddEdge("x", END)

	middle := NewGraph[*testState]("middle")
	middle.AddSubgraph("inner", inner).AddEdge(START, "inner").AddEdge("inner", END)

	outer := NewGraph[*testState]("outer")
	outer.AddSubgraph("middle", middle).AddEdge(START, "middle").AddEdge("middle", END)

	mustNotCompile(t, outer, "cannot contain subgraph")
}

func TestCompile_SubgraphWithoutExit(t *testing.T) {
	sub := NewGraph[*testState]("loop")
	sub.AddNode("x", record("x")).
		AddNode("y", record("y")).
		AddEdge(START, "x").
		AddEdge("x", "y").
		AddEdge("y", "x")

	g := NewGraph[*testState]("parent")
	g.AddSubgraph("loop", sub).AddEdge(START, "loop").AddEdge("loop", END)

	mustNotCompile(t, g, "never reaches")
}

func TestCompile_ParallelBranchesMustShareJoin(t *testing.T) {
	g := NewGraph[*testState]("split")
	g.AddNode("plan", record("plan")).
		AddNode("b1", record("b1")).
		AddNode("b2", record("b2")).
		AddNode("j1", record("j1")).
		AddNode("j2", record("j2")).
		AddEdge(START, "plan").
		AddEdge("plan", "b1").
		AddEdge("plan", "b2").
		AddEdge("b1", "j1").
		AddEdge("b2", "j2").
		AddEdge("j1", END).
		AddEdge("j2", END).
		SetParallel("plan", nil, nil)

	mustNotCompile(t, g, "join at both")
}

func TestCompile_ReportsAllProblems(t *testing.T) {
	g := NewGraph[*testState]("many")
	g.AddNode("a", record("a")).
		AddNode("b", record("b")).
		AddEdge(START, "a").
		AddEdge("a", "ghost")

	_, err := g.Compile()
	if err == nil {
		t.Fatal("Expected error")
	}
	msg := err.Error()
	for _, want := range []string{"ghost", `"b" has no outgoing edge`} {
		if !strings.Contains(msg, want) {
			t.Errorf("Expected error to mention %q, got: %v", want, msg)
		}
	}

	var engineErr *EngineError
	if !errors.As(err, &engineErr) {
		t.Errorf("Expected joined errors to contain an EngineError")
	}
}
