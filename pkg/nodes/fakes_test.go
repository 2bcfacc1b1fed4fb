package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/codemother/codemother/pkg/builder"
	"github.com/codemother/codemother/pkg/llm"
	"github.com/codemother/codemother/pkg/workflow"
	"github.com/codemother/codemother/pkg/workspace"
)

// fakeChat answers Generate from a list of canned texts.
type fakeChat struct {
	mu      sync.Mutex
	answers []string
	err     error
	reqs    []*llm.Request
}

func (f *fakeChat) Name() string { return "fake-chat" }

func (f *fakeChat) Generate(_ context.Context, req *llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.answers) == 0 {
		return nil, errors.New("no answer scripted")
	}
	text := f.answers[0]
	if len(f.answers) > 1 {
		f.answers = f.answers[1:]
	}
	return &llm.Response{Text: text}, nil
}

func (f *fakeChat) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

// scriptedStreamer answers each streaming call from a script.
type scriptedStreamer struct {
	mu    sync.Mutex
	turns []func(h llm.StreamHandler)
	reqs  []*llm.Request
}

func (m *scriptedStreamer) Name() string { return "scripted" }

func (m *scriptedStreamer) Stream(_ context.Context, req *llm.Request, h llm.StreamHandler) {
	m.mu.Lock()
	i := len(m.reqs)
	copied := *req
	copied.Messages = append([]llm.Message(nil), req.Messages...)
	m.reqs = append(m.reqs, &copied)
	m.mu.Unlock()

	go func() {
		if i >= len(m.turns) {
			h.OnError(errors.New("script exhausted"))
			return
		}
		m.turns[i](h)
	}()
}

func (m *scriptedStreamer) requests() []*llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*llm.Request(nil), m.reqs...)
}

func textTurn(text string) func(h llm.StreamHandler) {
	return func(h llm.StreamHandler) {
		h.OnPartialText(text)
		h.OnComplete(&llm.Response{Text: text})
	}
}

func errorTurn(err error) func(h llm.StreamHandler) {
	return func(h llm.StreamHandler) { h.OnError(err) }
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
	dirs    []string
}

func (b *fakeBuilder) Build(_ context.Context, dir string) builder.BuildResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dirs = append(b.dirs, dir)
	r := b.results[0]
	if len(b.results) > 1 {
		b.results = b.results[1:]
	}
	return r
}

// fakeDatabase fails statements listed in fail.
type fakeDatabase struct {
	fail     map[string]error
	schema   string
	executed []string
}

func (d *fakeDatabase) GetSchema(context.Context, int64) (string, error) {
	return d.schema, nil
}

func (d *fakeDatabase) ExecuteSQL(_ context.Context, _ int64, sql string) (string, error) {
	d.executed = append(d.executed, sql)
	if err := d.fail[sql]; err != nil {
		return "", err
	}
	return "ok", nil
}

type fakeHook struct {
	out string
	err error
}

func (h fakeHook) Enhance(context.Context, string, []workflow.ImageResource) (string, error) {
	return h.out, h.err
}

// newCatalog builds a catalog over a temporary workspace.
func newCatalog(t *testing.T, mutate func(*Deps)) (*Catalog, *fakeChat, *scriptedStreamer) {
	t.Helper()
	chat := &fakeChat{}
	streamer := &scriptedStreamer{}
	deps := Deps{
		Chat:     chat,
		Streamer: streamer,
		Layout:   workspace.NewLayout(t.TempDir()),
	}
	if mutate != nil {
		mutate(&deps)
	}
	c, err := New(deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, chat, streamer
}

// captured returns a context whose stream is recorded. The returned function
// ends the stream and yields the text of every ai_response message.
func captured(t *testing.T) (*workflow.Context, func() []string) {
	t.Helper()
	reg := workflow.NewRegistry()
	sink := workflow.NewSink()
	if err := reg.Register("exec-1", sink); err != nil {
		t.Fatal(err)
	}
	wc := workflow.NewContext("exec-1", 42, reg)
	return wc, func() []string {
		sink.Complete()
		var out []string
		timeout := time.After(2 * time.Second)
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
}
