// Package llm wraps chat model backends behind small interfaces: single-shot
// and streaming generation, ordered failover between backends, incremental
// tool-argument parsing and a tool-using editor loop.
package llm

import (
	"context"
	"encoding/json"
)

// Role of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Tool names understood by the editor and the argument extractor.
const (
	ToolWriteFile              = "writeFile"
	ToolModifyFile             = "modifyFile"
	ToolReadFile               = "readFile"
	ToolReadDir                = "readDir"
	ToolDeleteFile             = "deleteFile"
	ToolSearchContentImages    = "searchContentImages"
	ToolSearchIllustrations    = "searchIllustrations"
	ToolGenerateLogos          = "generateLogos"
	ToolGenerateMermaidDiagram = "generateMermaidDiagram"
)

// ToolCall is a completed tool invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one turn of a conversation.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
}

// UserMessage builds a user turn.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// ToolSpec declares a tool to the model. Parameters is a JSON schema object.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Request is a model call.
type Request struct {
	System    string
	Messages  []Message
	Tools     []ToolSpec
	MaxTokens int
}

// Usage reports token consumption.
type Usage struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
}

// Response is a completed model answer.
type Response struct {
	Model     string     `json:"model"`
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
	Usage     Usage      `json:"usage"`
}

// ChatModel answers a request in one call.
type ChatModel interface {
	Name() string
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// ToolCallDelta is a fragment of a tool call's JSON arguments. Index orders
// concurrent calls within one response; ID and Name are set at least on the
// first fragment of a call.
type ToolCallDelta struct {
	Index int
	ID    string
	Name  string
	Delta string
}

// StreamHandler receives the events of one streaming call. Exactly one of
// OnComplete and OnError is called, last.
type StreamHandler interface {
	OnPartialText(text string)
	OnToolCallPartial(delta ToolCallDelta)
	OnComplete(resp *Response)
	OnError(err error)
}

// StreamingChatModel streams a request. Stream returns immediately; events
// are delivered to h from another goroutine.
type StreamingChatModel interface {
	Name() string
	Stream(ctx context.Context, req *Request, h StreamHandler)
}

// HandlerFuncs adapts functions to StreamHandler. Nil fields are ignored.
type HandlerFuncs struct {
	PartialText     func(string)
	ToolCallPartial func(ToolCallDelta)
	Complete        func(*Response)
	Error           func(error)
}

func (h HandlerFuncs) OnPartialText(text string) {
	if h.PartialText != nil {
		h.PartialText(text)
	}
}

func (h HandlerFuncs) OnToolCallPartial(d ToolCallDelta) {
	if h.ToolCallPartial != nil {
		h.ToolCallPartial(d)
	}
}

func (h HandlerFuncs) OnComplete(resp *Response) {
	if h.Complete != nil {
		h.Complete(resp)
	}
}

func (h HandlerFuncs) OnError(err error) {
	if h.Error != nil {
		h.Error(err)
	}
}

// StreamSync runs a streaming call and waits for its terminal event. Partial
// events still reach h as they arrive.
func StreamSync(ctx context.Context, m StreamingChatModel, req *Request, h StreamHandler) (*Response, error) {
	if h == nil {
		h = HandlerFuncs{}
	}
	type result struct {
		resp *Response
		err  error
	}
	done := make(chan result, 1)
	m.Stream(ctx, req, HandlerFuncs{
		PartialText:     h.OnPartialText,
		ToolCallPartial: h.OnToolCallPartial,
		Complete: func(resp *Response) {
			h.OnComplete(resp)
			done <- result{resp: resp}
		},
		Error: func(err error) {
			h.OnError(err)
			done <- result{err: err}
		},
	})

	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
