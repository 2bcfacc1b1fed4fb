// Package engine is a small state-graph executor.
//
// # Overview
//
// A Graph is a set of named nodes over a state type S, connected by edges:
//
//   - static edges (A -> B)
//   - conditional edges (A -> router(state) -> key -> B), where every key must
//     be declared up front; an undeclared key fails the run with UNMAPPED_ROUTE
//   - subgraphs, which are graphs registered as a single node whose END is wired
//     to the edge leaving that node (one level deep, no nesting)
//   - parallel nodes, whose static successors run concurrently on an Executor
//     and join at a common successor once all of them finished
//
// Compile validates the structure and returns an immutable Compiled graph.
// Run walks it from START to END, yielding every step to listeners:
//
//	g := engine.NewGraph[*State]("build")
//	g.AddNode("check", check).
//	    AddNode("fix", fix).
//	    AddEdge(engine.START, "check").
//	    AddConditionalEdges("check", route, map[string]string{
//	        "fix":  "fix",
//	        "pass": engine.END,
//	    }).
//	    AddEdge("fix", "check")
//	compiled, err := g.Compile()
//	final, err := compiled.Run(ctx, state)
//
// # Errors
//
// Structural problems and routing defects are permanent EngineErrors. Node
// errors are wrapped with ErrCodeNodeFailed and stop the run; nodes that want
// the run to continue record the failure in their state and return nil.
// Failures of parallel branches never stop the run: they are reported through
// step listeners and left out of the merge.
//
// # Rendering
//
// Compiled.Mermaid and Compiled.DOT render the graph for diagnostics.
package engine
