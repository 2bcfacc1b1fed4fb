package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codemother/codemother/pkg/codegen"
	"github.com/codemother/codemother/pkg/llm"
	"github.com/codemother/codemother/pkg/nodes"
)

func newGraphCommand() *cobra.Command {
	var (
		format   string
		subgraph string
	)

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the workflow graph",
		Long: `Print the compiled workflow graph as Mermaid or Graphviz DOT.

The graph is compiled without model backends, so no configuration or API
key is needed. With --json the node names and routes are printed instead.`,
		Example: `  # Mermaid flowchart of the main graph
  codemother graph

  # Graphviz of the build check loop
  codemother graph --format dot --subgraph build_check_subgraph | dot -Tsvg > build.svg`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			graph, err := offlineGraph()
			if err != nil {
				return err
			}
			if subgraph != "" {
				sub, ok := graph.Subgraph(subgraph)
				if !ok {
					return fmt.Errorf("unknown subgraph %q", subgraph)
				}
				graph = sub
			}

			if jsonOutput {
				routes := make(map[string][]string)
				for _, n := range graph.Nodes() {
					if r := graph.Routes(n); len(r) > 0 {
						routes[n] = r
					}
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{
					"name":   graph.Name(),
					"nodes":  graph.Nodes(),
					"routes": routes,
				})
			}

			switch format {
			case "mermaid":
				fmt.Fprint(os.Stdout, graph.Mermaid())
			case "dot":
				fmt.Fprint(os.Stdout, graph.DOT())
			default:
				return fmt.Errorf("unknown format %q, want mermaid or dot", format)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "mermaid", "output format: mermaid or dot")
	cmd.Flags().StringVar(&subgraph, "subgraph", "", "print only the named subgraph")

	return cmd
}

// offlineGraph compiles the workflow over failover models with no backends.
// Nodes are never run.
func offlineGraph() (*codegen.Compiled, error) {
	catalog, err := nodes.New(nodes.Deps{
		Chat:     llm.NewFailoverChatModel(nil),
		Streamer: llm.NewFailoverStreamingModel(nil),
	})
	if err != nil {
		return nil, err
	}
	executor := codegen.NewImageExecutor(0, 0, 0)
	defer executor.Shutdown()
	return codegen.Compile(catalog, executor)
}
