package llm

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/codemother/codemother/pkg/workflow"
)

// DefaultMaxTurns bounds the model/tool round trips of one editor run.
const DefaultMaxTurns = 40

// Editor drives a streaming model through tool calls until it answers
// without calling a tool. Everything the model produces is reported as
// stream messages: text as ai_response, tool arguments as tool_request and
// tool_streaming, finished calls as tool_executed.
type Editor struct {
	model    StreamingChatModel
	maxTurns int
	logger   zerolog.Logger
}

// NewEditor creates an editor over model.
func NewEditor(model StreamingChatModel, maxTurns int) *Editor {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Editor{
		model:    model,
		maxTurns: maxTurns,
		logger:   log.With().Str("component", "llm.editor").Logger(),
	}
}

// EditResult summarises an editor run.
type EditResult struct {
	Text      string
	ToolCalls int
	Turns     int
	Usage     Usage
}

// Run executes req with the tools of tb. emit receives every stream message;
// it may be nil.
func (e *Editor) Run(ctx context.Context, req *Request, tb *Toolbox, emit func(msg interface{})) (*EditResult, error) {
	if emit == nil {
		emit = func(interface{}) {}
	}
	if tb == nil {
		tb = NewToolbox()
	}

	conv := *req
	conv.Messages = append([]Message(nil), req.Messages...)
	conv.Tools = tb.Specs()

	result := &EditResult{}
	for turn := 1; turn <= e.maxTurns; turn++ {
		result.Turns = turn
		extractors := map[int]*ToolArgumentsExtractor{}

		resp, err := StreamSync(ctx, e.model, &conv, HandlerFuncs{
			PartialText: func(text string) {
				emit(workflow.NewAIResponse(text))
			},
			ToolCallPartial: func(d ToolCallDelta) {
				ex, ok := extractors[d.Index]
				if !ok {
					ex = NewToolArgumentsExtractor(d.ID, d.Name)
					extractors[d.Index] = ex
				}
				for _, msg := range ex.Process(d.Delta) {
					emit(msg)
				}
			},
		})
		if err != nil {
			return result, fmt.Errorf("editor turn %d: %w", turn, err)
		}

		result.Text += resp.Text
		result.Usage.InputTokens += resp.Usage.InputTokens
		result.Usage.OutputTokens += resp.Usage.OutputTokens
		if len(resp.ToolCalls) == 0 {
			return result, nil
		}

		calls := make([]ToolCall, len(resp.ToolCalls))
		for i, call := range resp.ToolCalls {
			if call.ID == "" {
				call.ID = "call_" + uuid.NewString()
			}
			calls[i] = call
		}
		conv.Messages = append(conv.Messages, Message{Role: RoleAssistant, Content: resp.Text, ToolCalls: calls})

		for _, call := range calls {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			out := tb.Execute(ctx, call)
			result.ToolCalls++
			e.logger.Debug().Str("tool", call.Name).Str("call_id", call.ID).Msg("tool executed")
			emit(workflow.NewToolExecuted(call.ID, call.Name, call.Arguments, out))
			conv.Messages = append(conv.Messages, Message{Role: RoleTool, ToolCallID: call.ID, Content: out})
		}
	}
	return result, fmt.Errorf("editor stopped after %d turns without a final answer", e.maxTurns)
}
