package codegen

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/codemother/codemother/pkg/builder"
	"github.com/codemother/codemother/pkg/engine"
	"github.com/codemother/codemother/pkg/llm"
	"github.com/codemother/codemother/pkg/nodes"
	"github.com/codemother/codemother/pkg/stores"
	"github.com/codemother/codemother/pkg/workflow"
	"github.com/codemother/codemother/pkg/workspace"
)

const firstExecutionID = "42_1700000000000"

func countEvents(events []*stores.NodeEvent, node string, status stores.NodeEventStatus) int {
	n := 0
	for _, ev := range events {
		if ev.Node == node && ev.Status == status {
			n++
		}
	}
	return n
}

func TestRunRecoversFromBuildFailures(t *testing.T) {
	h := newHarness(t, nil)
	h.chat.answers = []string{"{}"}
	h.streamer.turns = []func(llm.StreamHandler){
		writeFileTurn("call_1", "src/App.vue", "<template>todo</template>"),
		textTurn("generated"),
		textTurn("fixed the import"),
		textTurn("fixed the component"),
	}
	h.builder.results = []builder.BuildResult{
		failedBuild("Missing import ./TodoItem.vue"),
		failedBuild("TodoItem is not defined"),
		{Success: true},
	}

	ctx := context.Background()
	sink, err := h.runner.Run(ctx, Request{AppID: 42, Prompt: "a todo app"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	msgs := drain(t, sink)
	if err := sink.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}
	waitUnregistered(t, h.registry)

	if len(msgs) < 2 || msgs[0] != "[workflow] processing request...\n" {
		t.Errorf("first message = %q", msgs)
	}
	if last := msgs[len(msgs)-1]; last != "[workflow] all steps completed\n" {
		t.Errorf("last message = %q", last)
	}

	exec, err := h.store.GetExecution(ctx, firstExecutionID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if exec.Status != stores.ExecutionStatusSucceeded || exec.FixRetryCount != 2 || exec.ForcedPass {
		t.Errorf("execution = %+v", exec)
	}
	if exec.GenerationType != string(workflow.GenerationVue) || exec.Prompt != "a todo app" {
		t.Errorf("execution request = %+v", exec)
	}
	if h.builder.builds != 3 {
		t.Errorf("builds = %d, want 3", h.builder.builds)
	}

	dir := h.layout.ProjectDir(workflow.GenerationVue, 42)
	if _, err := os.Stat(filepath.Join(dir, "src", "App.vue")); err != nil {
		t.Errorf("generated file missing: %v", err)
	}

	events, err := h.store.ListNodeEvents(ctx, firstExecutionID)
	if err != nil {
		t.Fatalf("ListNodeEvents: %v", err)
	}
	if n := countEvents(events, nodes.BuildCheck, stores.NodeEventCompleted); n != 3 {
		t.Errorf("build_check completed %d times, want 3", n)
	}
	if n := countEvents(events, nodes.CodeFixer, stores.NodeEventCompleted); n != 2 {
		t.Errorf("code_fixer completed %d times, want 2", n)
	}
	for _, collector := range []string{nodes.ContentImageCollector, nodes.LogoCollector} {
		if n := countEvents(events, collector, stores.NodeEventCompleted); n != 1 {
			t.Errorf("%s completed %d times, want 1", collector, n)
		}
	}
	for _, ev := range events {
		if strings.HasSuffix(ev.Node, "_subgraph") {
			t.Errorf("subgraph %s recorded as a node", ev.Node)
		}
	}
}

func TestRunForcedPass(t *testing.T) {
	h := newHarness(t, nil)
	h.chat.answers = []string{"{}"}
	h.streamer.turns = []func(llm.StreamHandler){
		textTurn("generated"),
		textTurn("fix 1"),
		textTurn("fix 2"),
		textTurn("fix 3"),
	}
	h.builder.results = []builder.BuildResult{failedBuild("still broken")}

	ctx := context.Background()
	sink, err := h.runner.Run(ctx, Request{AppID: 42, Prompt: "a todo app"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	msgs := drain(t, sink)

	var warned bool
	for _, m := range msgs {
		if strings.Contains(m, "[build_check] warning: build still failing after 3 fix attempts") {
			warned = true
		}
	}
	if !warned {
		t.Errorf("forced pass not announced: %q", msgs)
	}

	exec, err := h.store.GetExecution(ctx, firstExecutionID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if !exec.ForcedPass || exec.FixRetryCount != 3 || exec.Status != stores.ExecutionStatusSucceeded {
		t.Errorf("execution = %+v", exec)
	}
	if h.builder.builds != 4 {
		t.Errorf("builds = %d, want 4", h.builder.builds)
	}
}

func TestRunAnswersQuestionWithoutBuild(t *testing.T) {
	h := newHarness(t, nil)
	if _, _, err := workspace.NewScaffolder(h.layout).Scaffold(workflow.GenerationVue, 7); err != nil {
		t.Fatalf("Scaffold: %v", err)
	}
	h.chat.answers = []string{"QA"}
	h.streamer.turns = []func(llm.StreamHandler){textTurn("The list is rendered by App.vue.")}

	ctx := context.Background()
	sink, err := h.runner.Run(ctx, Request{AppID: 7, Prompt: "which file renders the list?"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	msgs := drain(t, sink)

	if !strings.Contains(strings.Join(msgs, ""), "The list is rendered by App.vue.") {
		t.Errorf("answer not streamed: %q", msgs)
	}
	if h.builder.builds != 0 {
		t.Errorf("builds = %d after a question", h.builder.builds)
	}
	events, err := h.store.ListNodeEvents(ctx, "7_1700000000000")
	if err != nil {
		t.Fatalf("ListNodeEvents: %v", err)
	}
	if n := countEvents(events, nodes.QA, stores.NodeEventCompleted); n != 1 {
		t.Errorf("qa completed %d times", n)
	}
	if n := countEvents(events, nodes.BuildCheck, stores.NodeEventStarted); n != 0 {
		t.Errorf("build_check started %d times", n)
	}
}

func TestRunRecordsNodeFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.chat.answers = []string{"{}"}
	h.streamer.turns = []func(llm.StreamHandler){
		func(h llm.StreamHandler) { h.OnError(errors.New("model overloaded")) },
	}

	ctx := context.Background()
	sink, err := h.runner.Run(ctx, Request{AppID: 42, Prompt: "a todo app"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	drain(t, sink)
	if err := sink.Err(); err != nil {
		t.Fatalf("node failure ended the stream with %v", err)
	}

	exec, err := h.store.GetExecution(ctx, firstExecutionID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if exec.Status != stores.ExecutionStatusFailed || exec.Error == nil || !strings.Contains(*exec.Error, "model overloaded") {
		t.Errorf("execution = %+v", exec)
	}

	events, err := h.store.ListNodeEvents(ctx, firstExecutionID)
	if err != nil {
		t.Fatalf("ListNodeEvents: %v", err)
	}
	if n := countEvents(events, nodes.CodeGenerator, stores.NodeEventFailed); n != 1 {
		t.Errorf("code_generator failed %d times, want 1", n)
	}
}

func TestRunRejectsInvalidRequests(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.runner.Run(ctx, Request{AppID: 1, Prompt: "  "}); !errors.Is(err, ErrEmptyPrompt) {
		t.Errorf("empty prompt: err = %v", err)
	}
	if _, err := h.runner.Run(ctx, Request{AppID: 1, Prompt: "x", GenerationType: "react_project"}); err == nil {
		t.Error("unknown generation type accepted")
	}
	if h.registry.Len() != 0 {
		t.Errorf("rejected request left %d sinks", h.registry.Len())
	}
}

func TestRunAvoidsExecutionIDCollision(t *testing.T) {
	h := newHarness(t, nil)
	h.chat.answers = []string{"{}"}
	h.streamer.turns = []func(llm.StreamHandler){textTurn("generated")}

	blocker := workflow.NewSink()
	if err := h.registry.Register(firstExecutionID, blocker); err != nil {
		t.Fatal(err)
	}
	defer blocker.Complete()

	ctx := context.Background()
	sink, err := h.runner.Run(ctx, Request{AppID: 42, Prompt: "a todo app"})
	if err != nil {
		t.Fatalf("Run in the same millisecond as a live execution: %v", err)
	}
	drain(t, sink)

	execs, err := h.store.ListExecutions(ctx, 42, 10, 0)
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(execs) != 1 || !strings.HasPrefix(execs[0].ID, firstExecutionID+"_") {
		t.Fatalf("executions = %+v, want one id suffixed after %s", execs, firstExecutionID)
	}
}

func TestRunDetachesCancelledConsumer(t *testing.T) {
	h := newHarness(t, nil)
	h.chat.answers = []string{"{}"}
	release := make(chan struct{})
	h.streamer.turns = []func(llm.StreamHandler){
		func(h llm.StreamHandler) {
			<-release
			h.OnComplete(&llm.Response{Text: "generated"})
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	sink, err := h.runner.Run(ctx, Request{AppID: 42, Prompt: "a todo app"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	cancel()
	waitUnregistered(t, h.registry)
	drain(t, sink)
	close(release)

	deadline := time.Now().Add(5 * time.Second)
	for {
		exec, err := h.store.GetExecution(context.Background(), firstExecutionID)
		if err == nil && exec.Status != stores.ExecutionStatusRunning {
			if exec.Status != stores.ExecutionStatusSucceeded {
				t.Errorf("detached run ended %s", exec.Status)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("detached run did not finish")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestChatRecordsHistory(t *testing.T) {
	h := newHarness(t, nil)
	h.chat.answers = []string{"{}"}
	h.streamer.turns = []func(llm.StreamHandler){textTurn("generated")}

	ctx := context.Background()
	chunks, err := h.runner.Chat(ctx, Request{AppID: 9, Prompt: "a todo app"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	timeout := time.After(5 * time.Second)
	for open := true; open; {
		select {
		case _, open = <-chunks:
		case <-timeout:
			t.Fatal("chunks not closed")
		}
	}

	msgs, err := h.store.LoadRecent(ctx, 9, 10)
	if err != nil {
		t.Fatalf("LoadRecent: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("history = %+v", msgs)
	}
	if msgs[0].Role != stores.RoleUser || msgs[0].Message != "a todo app" {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[1].Role != stores.RoleAI || !strings.Contains(msgs[1].Message, "generated") {
		t.Errorf("reply = %+v", msgs[1])
	}
}

func TestChatEndsWithErrorChunkWhenEngineAborts(t *testing.T) {
	g := engine.NewGraph[*workflow.Context]("broken")
	g.AddNode("defect", func(_ context.Context, wc *workflow.Context) (*workflow.Context, error) {
		wc.EmitText("partial\n")
		return wc, errors.New("programming defect")
	}).
		AddEdge(engine.START, "defect").
		AddEdge("defect", engine.END)
	compiled, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	runner := NewRunner(compiled, Options{Registry: workflow.NewRegistry()})

	chunks, err := runner.Chat(context.Background(), Request{AppID: 5, Prompt: "a todo app"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	var got []string
	timeout := time.After(5 * time.Second)
	for open := true; open; {
		select {
		case c, ok := <-chunks:
			if open = ok; ok {
				got = append(got, c)
			}
		case <-timeout:
			t.Fatal("chunks not closed")
		}
	}

	if len(got) < 2 {
		t.Fatalf("chunks = %v", got)
	}
	if !strings.Contains(got[len(got)-2], "partial") {
		t.Errorf("last successful chunk = %s", got[len(got)-2])
	}
	msg, failed := llm.ErrorChunk(got[len(got)-1])
	if !failed || !strings.Contains(msg, "programming defect") {
		t.Errorf("final chunk = %s, want error chunk", got[len(got)-1])
	}
}

func TestChatValidatesBeforeRecording(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.runner.Chat(context.Background(), Request{AppID: 9}); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("err = %v", err)
	}
	msgs, err := h.store.LoadRecent(context.Background(), 9, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("history = %+v", msgs)
	}
}

func TestOutcomeOf(t *testing.T) {
	wc := workflow.NewContext("e", 1, workflow.NewRegistry())
	wc.FixRetryCount = 3
	wc.QualityResult = &workflow.QualityResult{IsValid: true, Forced: true}

	o := outcomeOf(wc, nil)
	if o.Status != stores.ExecutionStatusSucceeded || !o.ForcedPass || o.FixRetryCount != 3 {
		t.Errorf("outcome = %+v", o)
	}

	wc.ErrorMessage = "qa failed: empty answer"
	if o := outcomeOf(wc, nil); o.Status != stores.ExecutionStatusFailed || o.Error != wc.ErrorMessage {
		t.Errorf("node failure outcome = %+v", o)
	}
	if o := outcomeOf(wc, errors.New("boom")); o.Status != stores.ExecutionStatusFailed || o.Error != "boom" {
		t.Errorf("engine failure outcome = %+v", o)
	}
}

func TestExecutionID(t *testing.T) {
	if got := ExecutionID(42, time.UnixMilli(1700000000123)); got != "42_1700000000123" {
		t.Errorf("ExecutionID = %q", got)
	}
}

func TestNewRunnerDefaults(t *testing.T) {
	r := NewRunner(compileForTest(t), Options{})
	if r.registry != workflow.DefaultRegistry || r.maxSteps <= 0 || r.now == nil {
		t.Errorf("runner = %+v", r)
	}
	if r.Graph().Name() != MainGraph {
		t.Errorf("Graph().Name() = %q", r.Graph().Name())
	}
}
