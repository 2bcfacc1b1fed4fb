package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// ErrToolsUnsupported is returned by backends that cannot serve tool calls.
// A failover model then moves on to the next backend.
var ErrToolsUnsupported = errors.New("backend does not support tool calls")

// GeminiModel is a text-only Gemini backend.
type GeminiModel struct {
	client *genai.Client
	cfg    BackendConfig
}

// NewGeminiModel creates a Gemini backend on the Gemini API.
func NewGeminiModel(ctx context.Context, cfg BackendConfig) (*GeminiModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &GeminiModel{client: client, cfg: cfg}, nil
}

func (m *GeminiModel) Name() string {
	return "gemini/" + m.cfg.Model
}

// Generate performs a non-streaming request.
func (m *GeminiModel) Generate(ctx context.Context, req *Request) (*Response, error) {
	if len(req.Tools) > 0 {
		return nil, ErrToolsUnsupported
	}
	result, err := m.client.Models.GenerateContent(ctx, m.cfg.Model, geminiContents(req.Messages), m.config(req))
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	resp := &Response{Model: m.cfg.Model, Text: result.Text()}
	if u := result.UsageMetadata; u != nil {
		resp.Usage = Usage{InputTokens: int64(u.PromptTokenCount), OutputTokens: int64(u.CandidatesTokenCount)}
	}
	return resp, nil
}

// Stream performs a streaming request.
func (m *GeminiModel) Stream(ctx context.Context, req *Request, h StreamHandler) {
	go func() {
		if len(req.Tools) > 0 {
			h.OnError(ErrToolsUnsupported)
			return
		}

		resp := &Response{Model: m.cfg.Model}
		var text strings.Builder
		for chunk, err := range m.client.Models.GenerateContentStream(ctx, m.cfg.Model, geminiContents(req.Messages), m.config(req)) {
			if err != nil {
				h.OnError(fmt.Errorf("gemini stream: %w", err))
				return
			}
			if t := chunk.Text(); t != "" {
				text.WriteString(t)
				h.OnPartialText(t)
			}
			if u := chunk.UsageMetadata; u != nil {
				resp.Usage = Usage{InputTokens: int64(u.PromptTokenCount), OutputTokens: int64(u.CandidatesTokenCount)}
			}
		}
		resp.Text = text.String()
		h.OnComplete(resp)
	}()
}

func (m *GeminiModel) config(req *Request) *genai.GenerateContentConfig {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = m.cfg.MaxTokens
	}
	cfg := &genai.GenerateContentConfig{MaxOutputTokens: int32(maxTokens)}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	return cfg
}

func geminiContents(messages []Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleUser, RoleTool:
			out = append(out, genai.NewContentFromText(msg.Content, genai.RoleUser))
		case RoleAssistant:
			out = append(out, genai.NewContentFromText(msg.Content, genai.RoleModel))
		}
	}
	return out
}
