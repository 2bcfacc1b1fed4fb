package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
)

// OpenAIModel is a backend on the OpenAI Responses API. It implements
// ChatModel and StreamingChatModel.
type OpenAIModel struct {
	client *openai.Client
	cfg    BackendConfig
}

// NewOpenAIModel creates an OpenAI backend. BaseURL may point at any
// Responses-compatible endpoint.
func NewOpenAIModel(cfg BackendConfig) (*OpenAIModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4.1"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAIModel{client: &client, cfg: cfg}, nil
}

func (m *OpenAIModel) Name() string {
	return "openai/" + m.cfg.Model
}

// Generate performs a non-streaming request.
func (m *OpenAIModel) Generate(ctx context.Context, req *Request) (*Response, error) {
	result, err := m.client.Responses.New(ctx, m.params(req))
	if err != nil {
		return nil, fmt.Errorf("openai generate: %w", err)
	}
	return openAIResponse(result), nil
}

// Stream performs a streaming request.
func (m *OpenAIModel) Stream(ctx context.Context, req *Request, h StreamHandler) {
	go func() {
		resp, err := m.stream(ctx, req, h)
		if err != nil {
			h.OnError(err)
			return
		}
		h.OnComplete(resp)
	}()
}

func (m *OpenAIModel) stream(ctx context.Context, req *Request, h StreamHandler) (*Response, error) {
	stream := m.client.Responses.NewStreaming(ctx, m.params(req))
	defer stream.Close()

	type pending struct {
		index  int
		callID string
		name   string
	}
	calls := map[string]*pending{}
	var text strings.Builder
	var completed *responses.Response

	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case responses.ResponseTextDeltaEvent:
			if ev.Delta != "" {
				text.WriteString(ev.Delta)
				h.OnPartialText(ev.Delta)
			}
		case responses.ResponseOutputItemAddedEvent:
			if ev.Item.Type != "function_call" {
				continue
			}
			p := &pending{index: len(calls), callID: ev.Item.CallID, name: ev.Item.Name}
			calls[ev.Item.ID] = p
			h.OnToolCallPartial(ToolCallDelta{Index: p.index, ID: p.callID, Name: p.name})
		case responses.ResponseFunctionCallArgumentsDeltaEvent:
			p, ok := calls[ev.ItemID]
			if !ok || ev.Delta == "" {
				continue
			}
			h.OnToolCallPartial(ToolCallDelta{Index: p.index, ID: p.callID, Name: p.name, Delta: ev.Delta})
		case responses.ResponseCompletedEvent:
			r := ev.Response
			completed = &r
		case responses.ResponseFailedEvent:
			return nil, fmt.Errorf("openai stream: response failed: %s", ev.Response.Error.Message)
		case responses.ResponseErrorEvent:
			return nil, fmt.Errorf("openai stream: %s", ev.Message)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai stream: %w", err)
	}

	if completed != nil {
		resp := openAIResponse(completed)
		if resp.Text == "" {
			resp.Text = text.String()
		}
		return resp, nil
	}
	return &Response{Model: m.cfg.Model, Text: text.String()}, nil
}

func (m *OpenAIModel) params(req *Request) responses.ResponseNewParams {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = m.cfg.MaxTokens
	}

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(m.cfg.Model),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: openAIInput(req),
		},
		MaxOutputTokens: openai.Int(int64(maxTokens)),
	}
	for _, t := range req.Tools {
		var schema map[string]any
		if err := json.Unmarshal(t.Parameters, &schema); err != nil || schema == nil {
			schema = map[string]any{"type": "object"}
		}
		tool := responses.ToolParamOfFunction(t.Name, schema, false)
		if t.Description != "" {
			tool.OfFunction.Description = openai.String(t.Description)
		}
		params.Tools = append(params.Tools, tool)
	}
	return params
}

func openAIInput(req *Request) responses.ResponseInputParam {
	out := make(responses.ResponseInputParam, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, responses.ResponseInputItemParamOfMessage(req.System, responses.EasyInputMessageRoleSystem))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleUser:
			out = append(out, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleUser))
		case RoleAssistant:
			if msg.Content != "" {
				out = append(out, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleAssistant))
			}
			for _, tc := range msg.ToolCalls {
				out = append(out, responses.ResponseInputItemParamOfFunctionCall(tc.Arguments, tc.ID, tc.Name))
			}
		case RoleTool:
			out = append(out, responses.ResponseInputItemParamOfFunctionCallOutput(msg.ToolCallID, msg.Content))
		}
	}
	return out
}

func openAIResponse(r *responses.Response) *Response {
	resp := &Response{
		Model: string(r.Model),
		Text:  r.OutputText(),
		Usage: Usage{InputTokens: r.Usage.InputTokens, OutputTokens: r.Usage.OutputTokens},
	}
	for _, item := range r.Output {
		if item.Type == "function_call" {
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: item.CallID, Name: item.Name, Arguments: item.Arguments})
		}
	}
	return resp
}
