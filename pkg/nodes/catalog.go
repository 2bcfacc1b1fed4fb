package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/codemother/codemother/pkg/assets"
	"github.com/codemother/codemother/pkg/builder"
	"github.com/codemother/codemother/pkg/config"
	"github.com/codemother/codemother/pkg/database"
	"github.com/codemother/codemother/pkg/llm"
	"github.com/codemother/codemother/pkg/policy"
	"github.com/codemother/codemother/pkg/telemetry"
	"github.com/codemother/codemother/pkg/workflow"
	"github.com/codemother/codemother/pkg/workspace"
)

// Node names. They are the keys nodes are registered under in the graphs.
const (
	ModeRouter                = "mode_router"
	ImagePlan                 = "image_plan"
	ContentImageCollector     = "content_image_collector"
	IllustrationCollector     = "illustration_collector"
	DiagramCollector          = "diagram_collector"
	LogoCollector             = "logo_collector"
	ImageAggregator           = "image_aggregator"
	PromptEnhancer            = "prompt_enhancer"
	CodeGenerator             = "code_generator"
	AnimationAdvisor          = "animation_advisor"
	LeetCodePromptEnhancer    = "leetcode_prompt_enhancer"
	InterviewAnimationAdvisor = "interview_animation_advisor"
	InterviewPromptEnhancer   = "interview_prompt_enhancer"
	CodeReader                = "code_reader"
	IntentClassifier          = "intent_classifier"
	ModificationPlanner       = "modification_planner"
	DatabaseOperator          = "database_operator"
	CodeModifier              = "code_modifier"
	QA                        = "qa"
	BuildCheck                = "build_check"
	CodeFixer                 = "code_fixer"
)

// DefaultIntentCacheSize bounds the memoised intent classifications.
const DefaultIntentCacheSize = 512

// Snapshotter commits a project directory.
type Snapshotter interface {
	Snapshot(dir, message string) (string, error)
}

// PromptHook rewrites the enhanced prompt of a creation run.
type PromptHook interface {
	Enhance(ctx context.Context, prompt string, assets []workflow.ImageResource) (string, error)
}

// Deps are the collaborators of the node catalog. Chat and Streamer are
// required; every other field may be left zero, which disables the feature
// it backs.
type Deps struct {
	// Chat answers single-shot calls: intent classification, image and
	// modification planning.
	Chat llm.ChatModel

	// Streamer backs the advisors, QA and the tool-using editor.
	Streamer llm.StreamingChatModel

	Layout      workspace.Layout
	Scaffolder  *workspace.Scaffolder
	Walker      *workspace.Walker
	Snapshotter Snapshotter

	Builder  builder.Builder
	Database database.Service
	Guard    llm.FileGuard
	Schemas  *config.SchemaRegistry
	Hook     PromptHook

	ContentImages assets.Searcher
	Illustrations assets.Searcher
	Diagrams      assets.DiagramRenderer
	Logos         assets.LogoGenerator

	// AssetConcurrency bounds the tasks one collector runs at a time.
	AssetConcurrency int

	MaxFixRetries   int
	MaxTurns        int
	MaxTokens       int
	IntentCacheSize int
}

type intentKey struct {
	appID  int64
	prompt string
}

// Catalog holds the node implementations.
type Catalog struct {
	deps    Deps
	editor  *llm.Editor
	intents *lru.Cache[intentKey, workflow.IntentType]
}

// New creates the catalog.
func New(deps Deps) (*Catalog, error) {
	if deps.Chat == nil {
		return nil, errors.New("nodes: chat model is required")
	}
	if deps.Streamer == nil {
		return nil, errors.New("nodes: streaming model is required")
	}
	if deps.Walker == nil {
		w, err := workspace.NewWalker()
		if err != nil {
			return nil, err
		}
		deps.Walker = w
	}
	if deps.Scaffolder == nil {
		deps.Scaffolder = workspace.NewScaffolder(deps.Layout)
	}
	if deps.Database == nil {
		deps.Database = database.DisabledService{}
	}
	if deps.MaxFixRetries <= 0 {
		deps.MaxFixRetries = workflow.MaxFixRetryCount
	}
	if deps.AssetConcurrency <= 0 {
		deps.AssetConcurrency = 4
	}
	if deps.IntentCacheSize <= 0 {
		deps.IntentCacheSize = DefaultIntentCacheSize
	}

	intents, err := lru.New[intentKey, workflow.IntentType](deps.IntentCacheSize)
	if err != nil {
		return nil, fmt.Errorf("intent cache: %w", err)
	}

	return &Catalog{
		deps:    deps,
		editor:  llm.NewEditor(deps.Streamer, deps.MaxTurns),
		intents: intents,
	}, nil
}

// MaxFixRetries is the number of fixes allowed before a build is forced to
// pass.
func (c *Catalog) MaxFixRetries() int {
	return c.deps.MaxFixRetries
}

// begin restores the monitor value, logs and announces the node. step is
// false for fan-out branches, which must not write CurrentStep.
func begin(ctx context.Context, wc *workflow.Context, node string, step bool) (context.Context, *telemetry.Logger) {
	ctx = wc.RestoreMonitor(ctx)
	logger := telemetry.FromContext(ctx).WithNode(node).WithExecutionID(wc.ExecutionID)
	logger.Info("executing node")
	wc.EmitNodeStart(node)
	if step {
		wc.CurrentStep = node
	}
	return ctx, logger
}

// projectDir is the directory the run works on.
func (c *Catalog) projectDir(wc *workflow.Context) string {
	if wc.GeneratedCodeDir != "" {
		return wc.GeneratedCodeDir
	}
	return c.deps.Layout.ProjectDir(wc.GenerationType, wc.AppID)
}

func (c *Catalog) snapshot(ctx context.Context, dir, message string) {
	if c.deps.Snapshotter == nil {
		return
	}
	op := telemetry.StartOperation(ctx, "workspace.snapshot")
	hash, err := c.deps.Snapshotter.Snapshot(dir, message)
	op.End(err)
	if err != nil {
		op.Logger.WithError(err).Warn("project snapshot failed")
		return
	}
	if hash != "" {
		op.Logger.WithField("commit", hash).WithField("duration", op.Elapsed().String()).Debug("project snapshot committed")
	}
}

// generate runs one single-shot call inside a model span.
func (c *Catalog) generate(ctx context.Context, op string, req *llm.Request) (*llm.Response, error) {
	if req.MaxTokens == 0 {
		req.MaxTokens = c.deps.MaxTokens
	}
	var resp *llm.Response
	err := telemetry.RecordModelOperation(ctx, c.deps.Chat.Name(), op, func(ctx context.Context) error {
		var err error
		resp, err = c.deps.Chat.Generate(ctx, req)
		return err
	})
	return resp, err
}

// stream runs a streaming call, forwarding every text fragment to onText,
// and waits for its outcome.
func (c *Catalog) stream(ctx context.Context, op string, req *llm.Request, onText func(string)) (*llm.Response, error) {
	if req.MaxTokens == 0 {
		req.MaxTokens = c.deps.MaxTokens
	}
	var resp *llm.Response
	err := telemetry.RecordModelOperation(ctx, c.deps.Streamer.Name(), op, func(ctx context.Context) error {
		var err error
		resp, err = llm.StreamSync(ctx, c.deps.Streamer, req, llm.HandlerFuncs{PartialText: onText})
		return err
	})
	return resp, err
}

// edit runs the tool-using editor over dir, streaming everything it does.
func (c *Catalog) edit(ctx context.Context, wc *workflow.Context, op, dir, system, prompt string, extra ...llm.Tool) (*llm.EditResult, error) {
	guard := &recordingGuard{next: c.deps.Guard, executionID: wc.ExecutionID}
	tb := llm.NewToolbox(llm.NewFileTools(dir, guard).Tools()...)
	for _, t := range extra {
		tb.Add(t)
	}
	req := &llm.Request{
		System:    system,
		Messages:  []llm.Message{llm.UserMessage(prompt)},
		MaxTokens: c.deps.MaxTokens,
	}
	var res *llm.EditResult
	err := telemetry.RecordModelOperation(ctx, c.deps.Streamer.Name(), op, func(ctx context.Context) error {
		var err error
		res, err = c.editor.Run(ctx, req, tb, wc.EmitMessage)
		return err
	})
	return res, err
}

// recordingGuard counts policy denials of file tools.
type recordingGuard struct {
	next        llm.FileGuard
	executionID string
}

func (g *recordingGuard) CheckFileChange(ctx context.Context, action, relPath string) error {
	if g.next == nil {
		return nil
	}
	err := g.next.CheckFileChange(ctx, action, relPath)
	var denied *policy.DeniedError
	if errors.As(err, &denied) {
		if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
			tel.Metrics.RecordPolicyDenial("file")
			_ = tel.Events.PublishPolicyViolation(g.executionID, "file", err.Error())
		}
	}
	return err
}

// decodeJSON reads the JSON object of a model answer, tolerating code
// fences and surrounding prose.
func decodeJSON(text string, v interface{}) error {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return fmt.Errorf("no JSON object in model answer")
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), v); err != nil {
		return fmt.Errorf("decode model answer: %w", err)
	}
	return nil
}

func numbered(sb *strings.Builder, items []string) {
	for i, item := range items {
		fmt.Fprintf(sb, "%d. %s\n", i+1, item)
	}
}
