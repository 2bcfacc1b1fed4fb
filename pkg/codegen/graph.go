package codegen

import (
	"github.com/codemother/codemother/pkg/engine"
	"github.com/codemother/codemother/pkg/nodes"
	"github.com/codemother/codemother/pkg/workflow"
)

// Graph names.
const (
	MainGraph               = "codegen"
	CreateSubgraph          = "create_subgraph"
	LeetCodeCreateSubgraph  = "leetcode_create_subgraph"
	InterviewCreateSubgraph = "interview_create_subgraph"
	ExistingCodeSubgraph    = "existing_code_subgraph"
	BuildCheckSubgraph      = "build_check_subgraph"
)

// ImageExecutorName prefixes the workers of the image collection fan-out.
const ImageExecutorName = "Parallel-Image-Collect-"

// Graph is the state graph every node operates on.
type Graph = engine.Graph[*workflow.Context]

// Compiled is the runnable workflow.
type Compiled = engine.Compiled[*workflow.Context]

func newGraph(name string) *Graph {
	return engine.NewGraph[*workflow.Context](name)
}

// Build assembles the main graph over the node catalog. executor runs the
// image collection branches; nil runs each branch on its own goroutine.
func Build(c *nodes.Catalog, executor *engine.Executor) *Graph {
	g := newGraph(MainGraph)
	g.AddNode(nodes.ModeRouter, c.ModeRouter).
		AddSubgraph(CreateSubgraph, createGraph(c, executor)).
		AddSubgraph(LeetCodeCreateSubgraph, leetCodeGraph(c)).
		AddSubgraph(InterviewCreateSubgraph, interviewGraph(c)).
		AddSubgraph(ExistingCodeSubgraph, existingCodeGraph(c)).
		AddSubgraph(BuildCheckSubgraph, buildCheckGraph(c)).
		AddEdge(engine.START, nodes.ModeRouter).
		AddConditionalEdges(nodes.ModeRouter, RouteMode, map[string]string{
			RouteCreate:          CreateSubgraph,
			RouteLeetCodeCreate:  LeetCodeCreateSubgraph,
			RouteInterviewCreate: InterviewCreateSubgraph,
			RouteExistingCode:    ExistingCodeSubgraph,
		}).
		AddEdge(CreateSubgraph, BuildCheckSubgraph).
		AddEdge(LeetCodeCreateSubgraph, BuildCheckSubgraph).
		AddEdge(InterviewCreateSubgraph, BuildCheckSubgraph).
		AddConditionalEdges(ExistingCodeSubgraph, RouteIntent, map[string]string{
			RouteModify: BuildCheckSubgraph,
			RouteQA:     engine.END,
		}).
		AddEdge(BuildCheckSubgraph, engine.END)
	return g
}

// Compile builds and validates the main graph.
func Compile(c *nodes.Catalog, executor *engine.Executor) (*Compiled, error) {
	return Build(c, executor).Compile()
}

// NewImageExecutor returns the bounded pool of the image collection fan-out.
func NewImageExecutor(coreWorkers, maxWorkers, queueSize int) *engine.Executor {
	cfg := engine.DefaultExecutorConfig(ImageExecutorName)
	if coreWorkers > 0 {
		cfg.CoreWorkers = coreWorkers
	}
	if maxWorkers > 0 {
		cfg.MaxWorkers = maxWorkers
	}
	if queueSize > 0 {
		cfg.QueueSize = queueSize
	}
	return engine.NewExecutor(cfg)
}

func createGraph(c *nodes.Catalog, executor *engine.Executor) *Graph {
	collectors := []struct {
		name string
		fn   engine.NodeFunc[*workflow.Context]
	}{
		{nodes.ContentImageCollector, c.ContentImageCollector},
		{nodes.IllustrationCollector, c.IllustrationCollector},
		{nodes.DiagramCollector, c.DiagramCollector},
		{nodes.LogoCollector, c.LogoCollector},
	}

	g := newGraph(CreateSubgraph)
	g.AddNode(nodes.ImagePlan, c.ImagePlan)
	for _, col := range collectors {
		g.AddNode(col.name, col.fn).
			AddEdge(nodes.ImagePlan, col.name).
			AddEdge(col.name, nodes.ImageAggregator)
	}
	g.AddNode(nodes.ImageAggregator, c.ImageAggregator).
		AddNode(nodes.PromptEnhancer, c.PromptEnhancer).
		AddNode(nodes.CodeGenerator, c.CodeGenerator).
		SetParallel(nodes.ImagePlan, executor, nil).
		AddEdge(engine.START, nodes.ImagePlan).
		AddEdge(nodes.ImageAggregator, nodes.PromptEnhancer).
		AddEdge(nodes.PromptEnhancer, nodes.CodeGenerator).
		AddEdge(nodes.CodeGenerator, engine.END)
	return g
}

func leetCodeGraph(c *nodes.Catalog) *Graph {
	return newGraph(LeetCodeCreateSubgraph).
		AddNode(nodes.AnimationAdvisor, c.AnimationAdvisor).
		AddNode(nodes.LeetCodePromptEnhancer, c.LeetCodePromptEnhancer).
		AddNode(nodes.CodeGenerator, c.CodeGenerator).
		AddEdge(engine.START, nodes.AnimationAdvisor).
		AddEdge(nodes.AnimationAdvisor, nodes.LeetCodePromptEnhancer).
		AddEdge(nodes.LeetCodePromptEnhancer, nodes.CodeGenerator).
		AddEdge(nodes.CodeGenerator, engine.END)
}

func interviewGraph(c *nodes.Catalog) *Graph {
	return newGraph(InterviewCreateSubgraph).
		AddNode(nodes.InterviewAnimationAdvisor, c.InterviewAnimationAdvisor).
		AddNode(nodes.InterviewPromptEnhancer, c.InterviewPromptEnhancer).
		AddNode(nodes.CodeGenerator, c.CodeGenerator).
		AddEdge(engine.START, nodes.InterviewAnimationAdvisor).
		AddEdge(nodes.InterviewAnimationAdvisor, nodes.InterviewPromptEnhancer).
		AddEdge(nodes.InterviewPromptEnhancer, nodes.CodeGenerator).
		AddEdge(nodes.CodeGenerator, engine.END)
}

func existingCodeGraph(c *nodes.Catalog) *Graph {
	return newGraph(ExistingCodeSubgraph).
		AddNode(nodes.CodeReader, c.CodeReader).
		AddNode(nodes.IntentClassifier, c.IntentClassifier).
		AddNode(nodes.ModificationPlanner, c.ModificationPlanner).
		AddNode(nodes.DatabaseOperator, c.DatabaseOperator).
		AddNode(nodes.CodeModifier, c.CodeModifier).
		AddNode(nodes.QA, c.QA).
		AddEdge(engine.START, nodes.CodeReader).
		AddEdge(nodes.CodeReader, nodes.IntentClassifier).
		AddConditionalEdges(nodes.IntentClassifier, RouteIntent, map[string]string{
			RouteModify: nodes.ModificationPlanner,
			RouteQA:     nodes.QA,
		}).
		AddConditionalEdges(nodes.ModificationPlanner, RoutePlan, map[string]string{
			RouteExecuteSQL: nodes.DatabaseOperator,
			RouteSkipSQL:    nodes.CodeModifier,
		}).
		AddEdge(nodes.DatabaseOperator, nodes.CodeModifier).
		AddEdge(nodes.CodeModifier, engine.END).
		AddEdge(nodes.QA, engine.END)
}

func buildCheckGraph(c *nodes.Catalog) *Graph {
	return newGraph(BuildCheckSubgraph).
		AddNode(nodes.BuildCheck, c.BuildCheck).
		AddNode(nodes.CodeFixer, c.CodeFixer).
		AddEdge(engine.START, nodes.BuildCheck).
		AddConditionalEdges(nodes.BuildCheck, RouteBuild(c.MaxFixRetries()), map[string]string{
			RouteFix:  nodes.CodeFixer,
			RoutePass: engine.END,
		}).
		AddEdge(nodes.CodeFixer, nodes.BuildCheck)
}
