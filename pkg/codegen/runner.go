package codegen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codemother/codemother/pkg/engine"
	"github.com/codemother/codemother/pkg/llm"
	"github.com/codemother/codemother/pkg/stores"
	"github.com/codemother/codemother/pkg/telemetry"
	"github.com/codemother/codemother/pkg/workflow"
)

// ErrEmptyPrompt is returned for a request without a prompt.
var ErrEmptyPrompt = errors.New("codegen: prompt is required")

// Request is one code generation request.
type Request struct {
	AppID           int64
	Prompt          string
	GenerationType  workflow.GenerationType
	ElementInfo     *workflow.ElementInfo
	DatabaseEnabled bool
	DatabaseSchema  string

	// Monitor overrides the monitor value carried by the caller's ctx.
	Monitor *workflow.MonitorContext
}

func (r Request) validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return ErrEmptyPrompt
	}
	if t := r.GenerationType.OrDefault(); !t.Valid() {
		return fmt.Errorf("codegen: unknown generation type %q", r.GenerationType)
	}
	return nil
}

// Options configure a Runner. Every field is optional.
type Options struct {
	Registry *workflow.Registry
	Recorder stores.ExecutionRecorder
	History  stores.ChatHistory

	MaxSteps    int
	NodeTimeout time.Duration

	Now func() time.Time
}

// Runner starts workflow executions.
type Runner struct {
	graph    *Compiled
	registry *workflow.Registry
	recorder stores.ExecutionRecorder
	history  stores.ChatHistory

	maxSteps    int
	nodeTimeout time.Duration
	now         func() time.Time
}

// NewRunner creates a runner over a compiled workflow.
func NewRunner(graph *Compiled, opts Options) *Runner {
	r := &Runner{
		graph:       graph,
		registry:    opts.Registry,
		recorder:    opts.Recorder,
		history:     opts.History,
		maxSteps:    opts.MaxSteps,
		nodeTimeout: opts.NodeTimeout,
		now:         opts.Now,
	}
	if r.registry == nil {
		r.registry = workflow.DefaultRegistry
	}
	if r.maxSteps <= 0 {
		r.maxSteps = engine.DefaultMaxSteps
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Graph returns the compiled workflow.
func (r *Runner) Graph() *Compiled {
	return r.graph
}

// ExecutionID returns "{appId}_{unixMillis}". Run adds a random suffix when
// that id is still in use.
func ExecutionID(appID int64, t time.Time) string {
	return fmt.Sprintf("%d_%d", appID, t.UnixMilli())
}

// Run registers a sink for a new execution, starts the workflow on its own
// goroutine and returns the sink. The sink completes after the final node
// and errors when the engine aborts the run. If ctx ends first the sink is
// cancelled and unregistered; the workflow itself runs to completion.
func (r *Runner) Run(ctx context.Context, req Request) (*workflow.Sink, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	executionID := ExecutionID(req.AppID, r.now())
	sink := workflow.NewSink()
	err := r.registry.Register(executionID, sink)
	if engine.HasCode(err, workflow.ErrCodeSinkExists) {
		// Same app within the same millisecond.
		executionID += "_" + uuid.NewString()[:8]
		err = r.registry.Register(executionID, sink)
	}
	if err != nil {
		return nil, err
	}

	wc := workflow.NewContext(executionID, req.AppID, r.registry)
	wc.OriginalPrompt = req.Prompt
	wc.GenerationType = req.GenerationType.OrDefault()
	wc.ElementInfo = req.ElementInfo
	wc.DatabaseEnabled = req.DatabaseEnabled
	wc.DatabaseSchema = req.DatabaseSchema
	if req.Monitor != nil {
		m := *req.Monitor
		wc.Monitor = &m
	} else if m, ok := workflow.MonitorFrom(ctx); ok {
		wc.Monitor = &m
	}

	done := make(chan struct{})
	go r.watch(ctx, executionID, sink, done)
	go r.execute(context.WithoutCancel(ctx), wc, sink, done)
	return sink, nil
}

// Chat records the prompt in chat history, runs the workflow and returns the
// client chunks. The assistant reply is recorded once the stream ends.
func (r *Runner) Chat(ctx context.Context, req Request) (<-chan string, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var history llm.HistoryWriter
	if r.history != nil {
		history = r.history
		if err := r.history.Append(ctx, req.AppID, stores.RoleUser, req.Prompt); err != nil {
			telemetry.FromContext(ctx).WithAppID(req.AppID).WithError(err).Warn("failed to save user message")
		}
	}

	sink, err := r.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	return llm.NewMessageStreamHandler(history).Handle(ctx, sink, req.AppID), nil
}

func (r *Runner) watch(ctx context.Context, executionID string, sink *workflow.Sink, done <-chan struct{}) {
	select {
	case <-done:
	case <-ctx.Done():
		sink.Cancel()
		r.registry.Unregister(executionID)
	}
}

func (r *Runner) execute(ctx context.Context, wc *workflow.Context, sink *workflow.Sink, done chan<- struct{}) {
	defer close(done)
	defer r.registry.Unregister(wc.ExecutionID)

	ctx = workflow.WithoutMonitor(ctx)
	ctx = telemetry.WithExecutionContext(ctx, wc.ExecutionID, wc.AppID, string(wc.GenerationType))
	logger := telemetry.FromContext(ctx).WithExecutionID(wc.ExecutionID).WithAppID(wc.AppID)
	logger.Info("workflow started")
	logger.Debugf("workflow graph:\n%s", r.graph.Mermaid())

	r.createRecord(ctx, logger, wc)
	wc.EmitLog("[workflow] processing request...\n")

	final, runErr := r.graph.Run(ctx, wc,
		engine.WithMaxSteps[*workflow.Context](r.maxSteps),
		engine.WithInterceptor[*workflow.Context](r.intercept),
		engine.WithStepListener[*workflow.Context](func(s engine.Step[*workflow.Context]) {
			l := logger.WithField("graph", s.Graph).WithField("node", s.Node).WithField("step", s.Index)
			if s.Err != nil {
				l.WithError(s.Err).Warn("branch failed")
				return
			}
			l.WithField("duration", s.Duration.String()).Debug("step completed")
		}),
	)
	if final == nil {
		final = wc
	}

	outcome := outcomeOf(final, runErr)
	var endErr error
	if outcome.Error != "" {
		endErr = errors.New(outcome.Error)
	}
	telemetry.EndExecutionContext(ctx, wc.ExecutionID, wc.AppID, string(outcome.Status), endErr)
	r.finishRecord(ctx, logger, wc.ExecutionID, outcome)

	if runErr != nil {
		logger.WithError(runErr).Error("workflow failed")
		sink.Error(runErr)
		return
	}

	logger.WithField("status", string(outcome.Status)).
		WithField("fix_retry_count", final.FixRetryCount).
		Info("workflow finished")
	wc.EmitLog("[workflow] all steps completed\n")
	sink.Complete()
}

// outcomeOf derives the execution record of a finished run. A node-fatal
// failure fails the execution even though the stream completes.
func outcomeOf(wc *workflow.Context, runErr error) stores.ExecutionOutcome {
	o := stores.ExecutionOutcome{
		Status:        stores.ExecutionStatusSucceeded,
		FixRetryCount: wc.FixRetryCount,
	}
	if q := wc.QualityResult; q != nil {
		o.ForcedPass = q.Forced
	}
	switch {
	case engine.HasCode(runErr, engine.ErrCodeCancelled):
		o.Status = stores.ExecutionStatusCancelled
		o.Error = runErr.Error()
	case runErr != nil:
		o.Status = stores.ExecutionStatusFailed
		o.Error = runErr.Error()
	case wc.ErrorMessage != "":
		o.Status = stores.ExecutionStatusFailed
		o.Error = wc.ErrorMessage
	}
	return o
}

func (r *Runner) createRecord(ctx context.Context, logger *telemetry.Logger, wc *workflow.Context) {
	if r.recorder == nil {
		return
	}
	err := r.recorder.CreateExecution(ctx, &stores.Execution{
		ID:             wc.ExecutionID,
		AppID:          wc.AppID,
		Prompt:         wc.OriginalPrompt,
		GenerationType: string(wc.GenerationType),
		Status:         stores.ExecutionStatusRunning,
		StartedAt:      r.now(),
	})
	if err != nil {
		logger.WithError(err).Warn("failed to record execution")
	}
}

func (r *Runner) finishRecord(ctx context.Context, logger *telemetry.Logger, executionID string, outcome stores.ExecutionOutcome) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.FinishExecution(ctx, executionID, outcome); err != nil {
		logger.WithError(err).Warn("failed to record execution outcome")
	}
}
