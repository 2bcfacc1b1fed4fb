package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// BackendConfig configures one model backend.
type BackendConfig struct {
	Model     string
	APIKey    string
	BaseURL   string
	MaxTokens int
}

const defaultMaxTokens = 8192

// AnthropicModel is a Claude backend. It implements ChatModel and
// StreamingChatModel.
type AnthropicModel struct {
	client *anthropic.Client
	cfg    BackendConfig
}

// NewAnthropicModel creates a Claude backend.
func NewAnthropicModel(cfg BackendConfig) (*AnthropicModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	opts = append(opts, option.WithHeader("anthropic-beta", "fine-grained-tool-streaming-2025-05-14"))

	client := anthropic.NewClient(opts...)
	return &AnthropicModel{client: &client, cfg: cfg}, nil
}

func (m *AnthropicModel) Name() string {
	return "anthropic/" + m.cfg.Model
}

// Generate performs a non-streaming request.
func (m *AnthropicModel) Generate(ctx context.Context, req *Request) (*Response, error) {
	msg, err := m.client.Messages.New(ctx, m.params(req))
	if err != nil {
		return nil, fmt.Errorf("anthropic generate: %w", err)
	}

	resp := &Response{
		Model: string(msg.Model),
		Usage: Usage{InputTokens: msg.Usage.InputTokens, OutputTokens: msg.Usage.OutputTokens},
	}
	var text strings.Builder
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			args, _ := b.Input.MarshalJSON()
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: b.ID, Name: b.Name, Arguments: string(args)})
		}
	}
	resp.Text = text.String()
	return resp, nil
}

// Stream performs a streaming request.
func (m *AnthropicModel) Stream(ctx context.Context, req *Request, h StreamHandler) {
	go func() {
		resp, err := m.stream(ctx, req, h)
		if err != nil {
			h.OnError(err)
			return
		}
		h.OnComplete(resp)
	}()
}

func (m *AnthropicModel) stream(ctx context.Context, req *Request, h StreamHandler) (*Response, error) {
	stream := m.client.Messages.NewStreaming(ctx, m.params(req))
	defer stream.Close()

	resp := &Response{Model: m.cfg.Model}
	var text strings.Builder

	type pending struct {
		call ToolCall
		args strings.Builder
	}
	calls := map[int64]*pending{}
	var order []int64

	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			resp.Model = string(ev.Message.Model)
			resp.Usage.InputTokens = ev.Message.Usage.InputTokens
		case anthropic.MessageDeltaEvent:
			if ev.Usage.OutputTokens > 0 {
				resp.Usage.OutputTokens = ev.Usage.OutputTokens
			}
		case anthropic.ContentBlockStartEvent:
			if ev.ContentBlock.Type == "tool_use" {
				tb := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock)
				calls[ev.Index] = &pending{call: ToolCall{ID: tb.ID, Name: tb.Name}}
				order = append(order, ev.Index)
				h.OnToolCallPartial(ToolCallDelta{Index: len(order) - 1, ID: tb.ID, Name: tb.Name})
			}
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				text.WriteString(delta.Text)
				h.OnPartialText(delta.Text)
			case anthropic.InputJSONDelta:
				p, ok := calls[ev.Index]
				if !ok {
					continue
				}
				p.args.WriteString(delta.PartialJSON)
				h.OnToolCallPartial(ToolCallDelta{
					Index: indexOf(order, ev.Index),
					ID:    p.call.ID,
					Name:  p.call.Name,
					Delta: delta.PartialJSON,
				})
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic stream: %w", err)
	}

	resp.Text = text.String()
	for _, idx := range order {
		p := calls[idx]
		p.call.Arguments = p.args.String()
		if p.call.Arguments == "" {
			p.call.Arguments = "{}"
		}
		resp.ToolCalls = append(resp.ToolCalls, p.call)
	}
	return resp, nil
}

func indexOf(order []int64, idx int64) int {
	for i, v := range order {
		if v == idx {
			return i
		}
	}
	return -1
}

func (m *AnthropicModel) params(req *Request) anthropic.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = m.cfg.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.cfg.Model),
		MaxTokens: int64(maxTokens),
		Messages:  anthropicMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropicSchema(t.Parameters),
			},
		})
	}
	return params
}

func anthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case RoleAssistant:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolCalls)+1)
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    tc.ID,
						Name:  tc.Name,
						Input: json.RawMessage(tc.Arguments),
					},
				})
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case RoleTool:
			// Results answering one assistant turn share a single user message.
			block := anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false)
			if n := len(out); n > 0 && i > 0 && messages[i-1].Role == RoleTool {
				out[n-1].Content = append(out[n-1].Content, block)
				continue
			}
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

func anthropicSchema(raw json.RawMessage) anthropic.ToolInputSchemaParam {
	var schema struct {
		Properties map[string]any `json:"properties"`
		Required   []string       `json:"required"`
	}
	_ = json.Unmarshal(raw, &schema)
	return anthropic.ToolInputSchemaParam{
		Type:       "object",
		Properties: schema.Properties,
		Required:   schema.Required,
	}
}
