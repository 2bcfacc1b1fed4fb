package codegen

import (
	"reflect"
	"strings"
	"testing"

	"github.com/codemother/codemother/pkg/nodes"
	"github.com/codemother/codemother/pkg/workspace"
)

func compileForTest(t *testing.T) *Compiled {
	t.Helper()
	catalog, err := nodes.New(nodes.Deps{
		Chat:     &fakeChat{},
		Streamer: &scriptedStreamer{},
		Layout:   workspace.NewLayout(t.TempDir()),
	})
	if err != nil {
		t.Fatalf("nodes.New: %v", err)
	}
	g, err := Compile(catalog, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return g
}

func TestCompileMainGraph(t *testing.T) {
	g := compileForTest(t)

	wantNodes := []string{
		nodes.ModeRouter,
		CreateSubgraph,
		LeetCodeCreateSubgraph,
		InterviewCreateSubgraph,
		ExistingCodeSubgraph,
		BuildCheckSubgraph,
	}
	if got := g.Nodes(); !reflect.DeepEqual(got, wantNodes) {
		t.Errorf("Nodes() = %v, want %v", got, wantNodes)
	}

	wantModes := []string{RouteCreate, RouteExistingCode, RouteInterviewCreate, RouteLeetCodeCreate}
	if got := g.Routes(nodes.ModeRouter); !reflect.DeepEqual(got, wantModes) {
		t.Errorf("Routes(mode_router) = %v, want %v", got, wantModes)
	}
	if got := g.Routes(ExistingCodeSubgraph); !reflect.DeepEqual(got, []string{RouteModify, RouteQA}) {
		t.Errorf("Routes(existing_code_subgraph) = %v", got)
	}
}

func TestSubgraphs(t *testing.T) {
	g := compileForTest(t)

	tests := []struct {
		name  string
		nodes []string
	}{
		{CreateSubgraph, []string{
			nodes.ImagePlan,
			nodes.ContentImageCollector,
			nodes.IllustrationCollector,
			nodes.DiagramCollector,
			nodes.LogoCollector,
			nodes.ImageAggregator,
			nodes.PromptEnhancer,
			nodes.CodeGenerator,
		}},
		{LeetCodeCreateSubgraph, []string{nodes.AnimationAdvisor, nodes.LeetCodePromptEnhancer, nodes.CodeGenerator}},
		{InterviewCreateSubgraph, []string{nodes.InterviewAnimationAdvisor, nodes.InterviewPromptEnhancer, nodes.CodeGenerator}},
		{ExistingCodeSubgraph, []string{
			nodes.CodeReader,
			nodes.IntentClassifier,
			nodes.ModificationPlanner,
			nodes.DatabaseOperator,
			nodes.CodeModifier,
			nodes.QA,
		}},
		{BuildCheckSubgraph, []string{nodes.BuildCheck, nodes.CodeFixer}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, ok := g.Subgraph(tt.name)
			if !ok {
				t.Fatalf("subgraph %s missing", tt.name)
			}
			if got := sub.Nodes(); !reflect.DeepEqual(got, tt.nodes) {
				t.Errorf("Nodes() = %v, want %v", got, tt.nodes)
			}
		})
	}

	build, _ := g.Subgraph(BuildCheckSubgraph)
	if got := build.Routes(nodes.BuildCheck); !reflect.DeepEqual(got, []string{RouteFix, RoutePass}) {
		t.Errorf("Routes(build_check) = %v", got)
	}
	existing, _ := g.Subgraph(ExistingCodeSubgraph)
	if got := existing.Routes(nodes.ModificationPlanner); !reflect.DeepEqual(got, []string{RouteExecuteSQL, RouteSkipSQL}) {
		t.Errorf("Routes(modification_planner) = %v", got)
	}
}

func TestMermaidShowsFanOut(t *testing.T) {
	out := compileForTest(t).Mermaid()
	for _, want := range []string{
		"create_subgraph__image_plan{{image_plan}}",
		"create_subgraph__image_plan --> create_subgraph__logo_collector",
		"build_check_subgraph__build_check -.->|fix| build_check_subgraph__code_fixer",
		"existing_code_subgraph -.->|qa| __end__",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("mermaid misses %q:\n%s", want, out)
		}
	}
}

func TestNewImageExecutorDefaults(t *testing.T) {
	e := NewImageExecutor(0, 0, 0)
	defer e.Shutdown()
	done := make(chan struct{})
	if err := e.Go(func() { close(done) }); err != nil {
		t.Fatalf("Go: %v", err)
	}
	<-done
}
