package nodes

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/codemother/codemother/pkg/llm"
	"github.com/codemother/codemother/pkg/workflow"
)

// assetTool exposes an asset collaborator to the editor.
type assetTool struct {
	spec  llm.ToolSpec
	param string
	fetch func(ctx context.Context, arg string) ([]workflow.ImageResource, error)
}

func (t assetTool) Spec() llm.ToolSpec { return t.spec }

func (t assetTool) Call(ctx context.Context, raw json.RawMessage) (string, error) {
	var args map[string]string
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	arg := args[t.param]
	if arg == "" {
		return "", fmt.Errorf("%s is required", t.param)
	}
	res, err := t.fetch(ctx, arg)
	if err != nil {
		return "", err
	}
	if len(res) == 0 {
		return "no images found", nil
	}
	b, err := json.Marshal(res)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func stringSchema(param, description string) json.RawMessage {
	b, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			param: map[string]string{"type": "string", "description": description},
		},
		"required": []string{param},
	})
	return b
}

// assetTools lists the tools backed by the configured collaborators.
func (c *Catalog) assetTools() []llm.Tool {
	var tools []llm.Tool
	if s := c.deps.ContentImages; s != nil {
		tools = append(tools, assetTool{
			spec: llm.ToolSpec{
				Name:        llm.ToolSearchContentImages,
				Description: "Search stock photos for page content. Returns a JSON list of images.",
				Parameters:  stringSchema("query", "english search keywords"),
			},
			param: "query",
			fetch: s.Search,
		})
	}
	if s := c.deps.Illustrations; s != nil {
		tools = append(tools, assetTool{
			spec: llm.ToolSpec{
				Name:        llm.ToolSearchIllustrations,
				Description: "Search flat illustrations. Returns a JSON list of images.",
				Parameters:  stringSchema("query", "english search keywords"),
			},
			param: "query",
			fetch: s.Search,
		})
	}
	if g := c.deps.Logos; g != nil {
		tools = append(tools, assetTool{
			spec: llm.ToolSpec{
				Name:        llm.ToolGenerateLogos,
				Description: "Generate logo images from a design brief.",
				Parameters:  stringSchema("description", "logo design brief"),
			},
			param: "description",
			fetch: g.Generate,
		})
	}
	if r := c.deps.Diagrams; r != nil {
		tools = append(tools, assetTool{
			spec: llm.ToolSpec{
				Name:        llm.ToolGenerateMermaidDiagram,
				Description: "Render Mermaid code to an image.",
				Parameters:  stringSchema("mermaidCode", "Mermaid diagram source"),
			},
			param: "mermaidCode",
			fetch: func(ctx context.Context, code string) ([]workflow.ImageResource, error) {
				return r.Render(ctx, code, "")
			},
		})
	}
	return tools
}
