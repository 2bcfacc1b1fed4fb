package codegen

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/codemother/codemother/pkg/builder"
	"github.com/codemother/codemother/pkg/llm"
	"github.com/codemother/codemother/pkg/nodes"
	"github.com/codemother/codemother/pkg/stores"
	"github.com/codemother/codemother/pkg/workflow"
	"github.com/codemother/codemother/pkg/workspace"
)

type fakeChat struct {
	mu      sync.Mutex
	answers []string
	calls   int
}

func (f *fakeChat) Name() string { return "fake-chat" }

func (f *fakeChat) Generate(context.Context, *llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.answers) == 0 {
		return nil, errors.New("no answer scripted")
	}
	text := f.answers[0]
	if len(f.answers) > 1 {
		f.answers = f.answers[1:]
	}
	return &llm.Response{Text: text}, nil
}

// scriptedStreamer plays one turn per streaming call.
type scriptedStreamer struct {
	mu    sync.Mutex
	turns []func(h llm.StreamHandler)
	calls int
}

func (m *scriptedStreamer) Name() string { return "scripted" }

func (m *scriptedStreamer) Stream(_ context.Context, _ *llm.Request, h llm.StreamHandler) {
	m.mu.Lock()
	i := m.calls
	m.calls++
	m.mu.Unlock()

	go func() {
		if i >= len(m.turns) {
			h.OnError(errors.New("script exhausted"))
			return
		}
		m.turns[i](h)
	}()
}

func textTurn(text string) func(h llm.StreamHandler) {
	return func(h llm.StreamHandler) {
		h.OnPartialText(text)
		h.OnComplete(&llm.Response{Text: text})
	}
}

func writeFileTurn(id, path, content string) func(h llm.StreamHandler) {
	b, _ := json.Marshal(map[string]string{"relativeFilePath": path, "content": content})
	args := string(b)
	return func(h llm.StreamHandler) {
		h.OnToolCallPartial(llm.ToolCallDelta{Index: 0, ID: id, Name: llm.ToolWriteFile, Delta: args})
		h.OnComplete(&llm.Response{ToolCalls: []llm.ToolCall{{ID: id, Name: llm.ToolWriteFile, Arguments: args}}})
	}
}

// fakeBuilder returns scripted results, repeating the last one.
type fakeBuilder struct {
	mu      sync.Mutex
	results []builder.BuildResult
	builds  int
}

func (b *fakeBuilder) Build(context.Context, string) builder.BuildResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.builds++
	r := b.results[0]
	if len(b.results) > 1 {
		b.results = b.results[1:]
	}
	return r
}

func failedBuild(summary string) builder.BuildResult {
	return builder.BuildResult{Stderr: "vite: " + summary, ErrorSummary: summary}
}

type harness struct {
	layout   workspace.Layout
	chat     *fakeChat
	streamer *scriptedStreamer
	builder  *fakeBuilder
	store    *stores.SQLiteStore
	registry *workflow.Registry
	runner   *Runner
}

func newHarness(t *testing.T, mutate func(*nodes.Deps)) *harness {
	t.Helper()
	h := &harness{
		layout:   workspace.NewLayout(t.TempDir()),
		chat:     &fakeChat{},
		streamer: &scriptedStreamer{},
		builder:  &fakeBuilder{results: []builder.BuildResult{{Success: true}}},
		registry: workflow.NewRegistry(),
	}

	deps := nodes.Deps{
		Chat:     h.chat,
		Streamer: h.streamer,
		Layout:   h.layout,
		Builder:  h.builder,
	}
	if mutate != nil {
		mutate(&deps)
	}
	catalog, err := nodes.New(deps)
	if err != nil {
		t.Fatalf("nodes.New: %v", err)
	}

	executor := NewImageExecutor(2, 4, 8)
	t.Cleanup(executor.Shutdown)
	graph, err := Compile(catalog, executor)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	store, err := stores.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("stores.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	h.store = store

	h.runner = NewRunner(graph, Options{
		Registry: h.registry,
		Recorder: store,
		History:  store,
		Now:      func() time.Time { return time.UnixMilli(1700000000000) },
	})
	return h
}

// drain reads the sink until it closes and returns the text of every
// ai_response message.
func drain(t *testing.T, sink *workflow.Sink) []string {
	t.Helper()
	var out []string
	timeout := time.After(5 * time.Second)
	for {
		select {
		case chunk, ok := <-sink.C():
			if !ok {
				return out
			}
			var msg workflow.AIResponseMessage
			if err := json.Unmarshal([]byte(chunk), &msg); err == nil && msg.Type == workflow.MessageAIResponse {
				out = append(out, msg.Data)
			}
		case <-timeout:
			t.Fatal("stream not closed")
		}
	}
}

// waitUnregistered waits for the execution to leave the registry.
func waitUnregistered(t *testing.T, reg *workflow.Registry) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for reg.Len() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("registry still holds %d sinks", reg.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
