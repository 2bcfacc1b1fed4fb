package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/codemother/codemother/pkg/workflow"
)

const defaultHookTimeout = 5 * time.Second

// PromptHook is a user Starlark script defining
//
//	def enhance(prompt, assets): ...
//
// It runs after the built-in prompt enhancement of a creation run. assets is
// a list of dicts with category, description and url keys. enhance returns
// the new prompt, or None to keep the one it was given.
type PromptHook struct {
	filename string
	timeout  time.Duration
	enhance  starlark.Callable
}

// LoadPromptHook reads and loads the script at path.
func LoadPromptHook(path string, timeout time.Duration) (*PromptHook, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt hook: %w", err)
	}
	return NewPromptHook(path, string(src), timeout)
}

// NewPromptHook executes script once and keeps its enhance function. Module
// globals are frozen afterwards, so the function is safe to call from
// concurrent runs.
func NewPromptHook(filename, script string, timeout time.Duration) (*PromptHook, error) {
	if timeout <= 0 {
		timeout = defaultHookTimeout
	}
	h := &PromptHook{filename: filename, timeout: timeout}

	thread, stop := h.thread(context.Background(), "load")
	defer stop()
	globals, err := starlark.ExecFile(thread, filename, script, starlark.StringDict{"struct": starlarkstruct.Default})
	if err != nil {
		return nil, fmt.Errorf("prompt hook %s: %w", filename, err)
	}
	fn, ok := globals["enhance"].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("prompt hook %s does not define enhance(prompt, assets)", filename)
	}
	h.enhance = fn
	return h, nil
}

// thread returns a Starlark thread cancelled when ctx ends or the hook
// timeout passes, whichever is first.
func (h *PromptHook) thread(ctx context.Context, name string) (*starlark.Thread, func()) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	thread := &starlark.Thread{
		Name:  h.filename + ":" + name,
		Print: func(*starlark.Thread, string) {},
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()
	return thread, func() {
		close(done)
		cancel()
	}
}

// Enhance calls enhance(prompt, assets).
func (h *PromptHook) Enhance(ctx context.Context, prompt string, assets []workflow.ImageResource) (string, error) {
	thread, stop := h.thread(ctx, "enhance")
	defer stop()

	list := make([]starlark.Value, 0, len(assets))
	for _, a := range assets {
		d := starlark.NewDict(3)
		_ = d.SetKey(starlark.String("category"), starlark.String(a.Category))
		_ = d.SetKey(starlark.String("description"), starlark.String(a.Description))
		_ = d.SetKey(starlark.String("url"), starlark.String(a.URL))
		list = append(list, d)
	}

	out, err := starlark.Call(thread, h.enhance, starlark.Tuple{starlark.String(prompt), starlark.NewList(list)}, nil)
	if err != nil {
		return "", fmt.Errorf("prompt hook %s: %w", h.filename, err)
	}
	if out == starlark.None {
		return prompt, nil
	}
	s, ok := starlark.AsString(out)
	if !ok {
		return "", fmt.Errorf("prompt hook %s returned %s, want string", h.filename, out.Type())
	}
	return s, nil
}
