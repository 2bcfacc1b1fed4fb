package llm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/codemother/codemother/pkg/workflow"
)

// scriptedModel answers each turn from a script and records the requests.
type scriptedModel struct {
	mu    sync.Mutex
	turns []func(h StreamHandler)
	reqs  []*Request
}

func (m *scriptedModel) Name() string { return "scripted" }

func (m *scriptedModel) Stream(ctx context.Context, req *Request, h StreamHandler) {
	m.mu.Lock()
	i := len(m.reqs)
	copied := *req
	copied.Messages = append([]Message(nil), req.Messages...)
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

func writeFileTurn(id, path, content string) func(h StreamHandler) {
	args := `{"relativeFilePath":"` + path + `","content":"` + content + `"}`
	return func(h StreamHandler) {
		h.OnPartialText("writing\n")
		h.OnToolCallPartial(ToolCallDelta{Index: 0, ID: id, Name: ToolWriteFile})
		for i := 0; i < len(args); i += 10 {
			end := i + 10
			if end > len(args) {
				end = len(args)
			}
			h.OnToolCallPartial(ToolCallDelta{Index: 0, ID: id, Name: ToolWriteFile, Delta: args[i:end]})
		}
		h.OnComplete(&Response{Text: "writing\n", ToolCalls: []ToolCall{{ID: id, Name: ToolWriteFile, Arguments: args}}})
	}
}

func textTurn(text string) func(h StreamHandler) {
	return func(h StreamHandler) {
		h.OnPartialText(text)
		h.OnComplete(&Response{Text: text})
	}
}

func TestEditorRunsToolsUntilAnswer(t *testing.T) {
	dir := t.TempDir()
	model := &scriptedModel{turns: []func(StreamHandler){
		writeFileTurn("call_1", "src/App.vue", "<template>hi</template>"),
		textTurn("done"),
	}}
	tb := NewToolbox(NewFileTools(dir, nil).Tools()...)

	var mu sync.Mutex
	var msgs []interface{}
	res, err := NewEditor(model, 0).Run(context.Background(), &Request{Messages: []Message{UserMessage("build")}}, tb,
		func(m interface{}) {
			mu.Lock()
			msgs = append(msgs, m)
			mu.Unlock()
		})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Turns != 2 || res.ToolCalls != 1 {
		t.Errorf("turns=%d toolCalls=%d", res.Turns, res.ToolCalls)
	}

	b, err := os.ReadFile(filepath.Join(dir, "src", "App.vue"))
	if err != nil {
		t.Fatalf("file not written: %v", err)
	}
	if string(b) != "<template>hi</template>" {
		t.Errorf("content = %q", b)
	}

	var sawRequest, sawExecuted bool
	var streamed strings.Builder
	for _, m := range msgs {
		switch v := m.(type) {
		case workflow.ToolRequestMessage:
			sawRequest = v.FilePath == "src/App.vue"
		case workflow.ToolStreamingMessage:
			streamed.WriteString(v.Delta)
		case workflow.ToolExecutedMessage:
			sawExecuted = v.Result == "wrote src/App.vue"
		}
	}
	if !sawRequest || !sawExecuted {
		t.Errorf("request=%v executed=%v", sawRequest, sawExecuted)
	}
	if streamed.String() != "<template>hi</template>" {
		t.Errorf("streamed = %q", streamed.String())
	}

	second := model.reqs[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != RoleTool || last.ToolCallID != "call_1" {
		t.Errorf("tool result not fed back: %+v", last)
	}
	if len(second.Tools) != 5 {
		t.Errorf("got %d tools, want 5", len(second.Tools))
	}
}

func TestEditorStopsAfterMaxTurns(t *testing.T) {
	model := &scriptedModel{turns: []func(StreamHandler){
		writeFileTurn("a", "a.txt", "1"),
		writeFileTurn("b", "b.txt", "2"),
	}}
	tb := NewToolbox(NewFileTools(t.TempDir(), nil).Tools()...)
	_, err := NewEditor(model, 2).Run(context.Background(), &Request{}, tb, nil)
	if err == nil || !strings.Contains(err.Error(), "2 turns") {
		t.Errorf("err = %v", err)
	}
}

func TestEditorPropagatesModelError(t *testing.T) {
	model := &scriptedModel{}
	_, err := NewEditor(model, 3).Run(context.Background(), &Request{}, nil, nil)
	if err == nil || !strings.Contains(err.Error(), "script exhausted") {
		t.Errorf("err = %v", err)
	}
}

type denyGuard struct{ path string }

func (g denyGuard) CheckFileChange(_ context.Context, action, rel string) error {
	if rel == g.path {
		return errors.New(rel + " is a protected file")
	}
	return nil
}

func TestFileToolsGuardAndConfinement(t *testing.T) {
	dir := t.TempDir()
	tb := NewToolbox(NewFileTools(dir, denyGuard{path: "package.json"}).Tools()...)
	ctx := context.Background()

	out := tb.Execute(ctx, ToolCall{Name: ToolWriteFile, Arguments: `{"relativeFilePath":"./package.json","content":"{}"}`})
	if !strings.HasPrefix(out, "Error:") || !strings.Contains(out, "protected") {
		t.Errorf("protected write = %q", out)
	}

	out = tb.Execute(ctx, ToolCall{Name: ToolWriteFile, Arguments: `{"relativeFilePath":"../../escape.txt","content":"x"}`})
	if strings.HasPrefix(out, "Error:") {
		t.Fatalf("write failed: %s", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "escape.txt")); err != nil {
		t.Errorf("relative escape should be pinned inside the root: %v", err)
	}

	out = tb.Execute(ctx, ToolCall{Name: ToolModifyFile, Arguments: `{"relativeFilePath":"escape.txt","oldContent":"x","newContent":"y"}`})
	if out != "modified escape.txt" {
		t.Errorf("modify = %q", out)
	}
	out = tb.Execute(ctx, ToolCall{Name: ToolModifyFile, Arguments: `{"relativeFilePath":"escape.txt","oldContent":"zzz","newContent":"y"}`})
	if !strings.Contains(out, "old content not found") {
		t.Errorf("modify missing = %q", out)
	}

	if out := tb.Execute(ctx, ToolCall{Name: ToolReadDir, Arguments: `{"relativeDirPath":""}`}); out != "escape.txt" {
		t.Errorf("readDir = %q", out)
	}
	if out := tb.Execute(ctx, ToolCall{Name: ToolReadFile, Arguments: `{"relativeFilePath":"escape.txt"}`}); out != "y" {
		t.Errorf("readFile = %q", out)
	}
	if out := tb.Execute(ctx, ToolCall{Name: ToolDeleteFile, Arguments: `{"relativeFilePath":"escape.txt"}`}); out != "deleted escape.txt" {
		t.Errorf("deleteFile = %q", out)
	}
	if out := tb.Execute(ctx, ToolCall{Name: "format"}); !strings.Contains(out, "unknown tool") {
		t.Errorf("unknown tool = %q", out)
	}
}
