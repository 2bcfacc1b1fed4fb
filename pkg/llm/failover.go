package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrAllModelsFailed is returned when every backend of a failover model
// failed. The returned error also wraps the last backend failure.
var ErrAllModelsFailed = errors.New("all models failed")

// ErrNoModels is returned by a failover model configured with no backends.
var ErrNoModels = errors.New("no models configured")

// FailoverHook observes a backend failure before the next backend is tried.
type FailoverHook func(from string, err error)

// FailoverOption configures a failover model.
type FailoverOption func(*failoverConfig)

type failoverConfig struct {
	logger zerolog.Logger
	hook   FailoverHook
}

// WithFailoverLogger sets the logger used for failover events.
func WithFailoverLogger(l zerolog.Logger) FailoverOption {
	return func(c *failoverConfig) { c.logger = l }
}

// WithFailoverHook registers a hook called for every failed backend.
func WithFailoverHook(h FailoverHook) FailoverOption {
	return func(c *failoverConfig) { c.hook = h }
}

func newFailoverConfig(opts []FailoverOption) failoverConfig {
	cfg := failoverConfig{logger: log.With().Str("component", "llm.failover").Logger()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func allFailed(n int, last error) error {
	return fmt.Errorf("%w (%d backends), last error: %w", ErrAllModelsFailed, n, last)
}

// FailoverChatModel tries its backends in order and returns the first
// success.
type FailoverChatModel struct {
	models []ChatModel
	cfg    failoverConfig
}

// NewFailoverChatModel builds a failover model over models, in priority order.
func NewFailoverChatModel(models []ChatModel, opts ...FailoverOption) *FailoverChatModel {
	return &FailoverChatModel{models: models, cfg: newFailoverConfig(opts)}
}

// Name joins the backend names.
func (f *FailoverChatModel) Name() string {
	names := make([]string, len(f.models))
	for i, m := range f.models {
		names[i] = m.Name()
	}
	return "failover(" + strings.Join(names, ",") + ")"
}

// Generate calls each backend until one succeeds.
func (f *FailoverChatModel) Generate(ctx context.Context, req *Request) (*Response, error) {
	if len(f.models) == 0 {
		return nil, ErrNoModels
	}

	var last error
	for i, m := range f.models {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, err := m.Generate(ctx, req)
		if err == nil {
			if i > 0 {
				f.cfg.logger.Info().Str("model", m.Name()).Int("index", i).Msg("fallback model succeeded")
			}
			return resp, nil
		}
		last = err
		f.cfg.logger.Warn().Err(err).Str("model", m.Name()).Int("index", i).Msg("model call failed")
		if f.cfg.hook != nil {
			f.cfg.hook(m.Name(), err)
		}
	}
	return nil, allFailed(len(f.models), last)
}

// FailoverStreamingModel streams from its backends in order. A backend that
// fails mid-stream is abandoned and the next one restarts the request; chunks
// already delivered are kept. At most one backend streams at a time.
type FailoverStreamingModel struct {
	models []StreamingChatModel
	cfg    failoverConfig
}

// NewFailoverStreamingModel builds a streaming failover model over models, in
// priority order.
func NewFailoverStreamingModel(models []StreamingChatModel, opts ...FailoverOption) *FailoverStreamingModel {
	return &FailoverStreamingModel{models: models, cfg: newFailoverConfig(opts)}
}

// Name joins the backend names.
func (f *FailoverStreamingModel) Name() string {
	names := make([]string, len(f.models))
	for i, m := range f.models {
		names[i] = m.Name()
	}
	return "failover(" + strings.Join(names, ",") + ")"
}

// Stream starts the failover loop and returns immediately.
func (f *FailoverStreamingModel) Stream(ctx context.Context, req *Request, h StreamHandler) {
	go f.run(ctx, req, h)
}

func (f *FailoverStreamingModel) run(ctx context.Context, req *Request, h StreamHandler) {
	if len(f.models) == 0 {
		h.OnError(ErrNoModels)
		return
	}

	var last error
	for i := 0; i < len(f.models); i++ {
		if err := ctx.Err(); err != nil {
			h.OnError(err)
			return
		}

		m := f.models[i]
		att := newAttempt(h)
		m.Stream(ctx, req, att)

		var res attemptResult
		select {
		case res = <-att.done:
		case <-ctx.Done():
			att.close()
			h.OnError(ctx.Err())
			return
		}

		if res.err == nil {
			if i > 0 {
				f.cfg.logger.Info().Str("model", m.Name()).Int("index", i).Msg("fallback model succeeded")
			}
			h.OnComplete(res.resp)
			return
		}

		last = res.err
		f.cfg.logger.Warn().Err(res.err).Str("model", m.Name()).Int("index", i).Msg("streaming model failed")
		if f.cfg.hook != nil {
			f.cfg.hook(m.Name(), res.err)
		}
	}
	h.OnError(allFailed(len(f.models), last))
}

type attemptResult struct {
	resp *Response
	err  error
}

// attempt forwards one backend's partial events until its terminal event,
// after which anything the backend still sends is dropped.
type attempt struct {
	h      StreamHandler
	done   chan attemptResult
	mu     sync.Mutex
	active bool
}

func newAttempt(h StreamHandler) *attempt {
	return &attempt{h: h, done: make(chan attemptResult, 1), active: true}
}

func (a *attempt) close() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	was := a.active
	a.active = false
	return was
}

func (a *attempt) OnPartialText(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active {
		a.h.OnPartialText(text)
	}
}

func (a *attempt) OnToolCallPartial(d ToolCallDelta) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active {
		a.h.OnToolCallPartial(d)
	}
}

func (a *attempt) OnComplete(resp *Response) {
	if a.close() {
		a.done <- attemptResult{resp: resp}
	}
}

func (a *attempt) OnError(err error) {
	if err == nil {
		err = errors.New("stream failed")
	}
	if a.close() {
		a.done <- attemptResult{err: err}
	}
}
