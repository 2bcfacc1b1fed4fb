package commands

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/codemother/codemother/pkg/codegen"
	"github.com/codemother/codemother/pkg/engine"
	"github.com/codemother/codemother/pkg/telemetry"
	"github.com/codemother/codemother/pkg/workflow"
)

func TestRootCommandHasSubcommands(t *testing.T) {
	root := newRootCommand("1.0.0", "abc", "today")
	want := []string{"serve", "run", "graph", "validate", "history", "version"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not registered", name)
		}
	}
	if !strings.Contains(root.Version, "abc") {
		t.Errorf("version = %q", root.Version)
	}
}

func TestOfflineGraph(t *testing.T) {
	graph, err := offlineGraph()
	if err != nil {
		t.Fatalf("offlineGraph: %v", err)
	}
	if graph.Name() != codegen.MainGraph {
		t.Errorf("name = %q", graph.Name())
	}
	if _, ok := graph.Subgraph(codegen.BuildCheckSubgraph); !ok {
		t.Errorf("missing %s", codegen.BuildCheckSubgraph)
	}
	if !strings.Contains(graph.Mermaid(), "mode_router") {
		t.Error("mermaid output lacks mode_router")
	}
}

func oneNodeRunner(t *testing.T, node engine.NodeFunc[*workflow.Context]) *codegen.Runner {
	t.Helper()
	g := engine.NewGraph[*workflow.Context]("cli")
	g.AddNode("answer", node).
		AddEdge(engine.START, "answer").
		AddEdge("answer", engine.END)
	compiled, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return codegen.NewRunner(compiled, codegen.Options{Registry: workflow.NewRegistry()})
}

func TestChatCarriesTelemetry(t *testing.T) {
	cfg := telemetry.DefaultConfig()
	cfg.Events.EnableAsync = false
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("NewTelemetry: %v", err)
	}
	tel.Logger = telemetry.NewNopLogger()
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	var (
		mu    sync.Mutex
		types []string
	)
	tel.Events.Subscribe(func(e telemetry.Event) {
		mu.Lock()
		defer mu.Unlock()
		types = append(types, e.Type+":"+e.Node)
	}, nil)

	a := &app{tel: tel, runner: oneNodeRunner(t, func(_ context.Context, wc *workflow.Context) (*workflow.Context, error) {
		wc.EmitText("hello")
		return wc, nil
	})}
	chunks, err := a.chat(context.Background(), codegen.Request{AppID: 4, Prompt: "hi"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	var out strings.Builder
	if err := streamRun(&out, chunks, false); err != nil {
		t.Fatalf("streamRun: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	got := strings.Join(types, ",")
	for _, want := range []string{
		telemetry.EventTypeExecutionStarted + ":",
		telemetry.EventTypeNodeStarted + ":answer",
		telemetry.EventTypeNodeCompleted + ":answer",
		telemetry.EventTypeExecutionCompleted + ":",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("events %s lack %s", got, want)
		}
	}
	if !strings.Contains(out.String(), "hello") {
		t.Errorf("output = %q", out.String())
	}
}

func TestStreamRun(t *testing.T) {
	chunks := make(chan string, 3)
	chunks <- `{"d":"part one "}`
	chunks <- `{"d":"part two"}`
	chunks <- `{"d":"node failed: boom","msgType":"error"}`
	close(chunks)

	var out strings.Builder
	err := streamRun(&out, chunks, false)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("err = %v, want workflow failure", err)
	}
	if got := out.String(); got != "part one part two\n" {
		t.Errorf("output = %q", got)
	}
}

func TestRunReportsEngineFailure(t *testing.T) {
	a := &app{runner: oneNodeRunner(t, func(_ context.Context, wc *workflow.Context) (*workflow.Context, error) {
		return wc, errors.New("programming defect")
	})}
	chunks, err := a.chat(context.Background(), codegen.Request{AppID: 4, Prompt: "hi"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	var out strings.Builder
	if err := streamRun(&out, chunks, true); err == nil || !strings.Contains(err.Error(), "programming defect") {
		t.Errorf("err = %v, want engine failure", err)
	}
	if !strings.Contains(out.String(), `"msgType":"error"`) {
		t.Errorf("raw output lacks the error chunk: %q", out.String())
	}
}
