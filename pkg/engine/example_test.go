package engine_test

import (
	"context"
	"fmt"

	"github.com/codemother/codemother/pkg/engine"
)

type buildState struct {
	failures int
	fixes    int
}

// Example_buildLoop wires a check/fix cycle that stops once the check passes.
func Example_buildLoop() {
	g := engine.NewGraph[*buildState]("build")
	g.AddNode("check", func(_ context.Context, s *buildState) (*buildState, error) {
		return s, nil
	}).
		AddNode("fix", func(_ context.Context, s *buildState) (*buildState, error) {
			s.fixes++
			s.failures--
			return s, nil
		}).
		AddEdge(engine.START, "check").
		AddConditionalEdges("check", func(s *buildState) string {
			if s.failures > 0 {
				return "fix"
			}
			return "pass"
		}, map[string]string{"fix": "fix", "pass": engine.END}).
		AddEdge("fix", "check")

	compiled, err := g.Compile()
	if err != nil {
		fmt.Println("compile:", err)
		return
	}

	final, err := compiled.Run(context.Background(), &buildState{failures: 2})
	if err != nil {
		fmt.Println("run:", err)
		return
	}
	fmt.Println("fixes:", final.fixes)
	fmt.Println("routes:", compiled.Routes("check"))
	// Output:
	// fixes: 2
	// routes: [fix pass]
}
