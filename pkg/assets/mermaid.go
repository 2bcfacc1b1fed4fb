package assets

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/codemother/codemother/pkg/workflow"
)

// maxDiagramBytes bounds a rendered SVG.
const maxDiagramBytes = 4 << 20

// MermaidRenderer renders diagrams through a mermaid.ink compatible service.
// With an uploader the SVG is fetched and stored; without one the renderer
// URL itself is returned.
type MermaidRenderer struct {
	baseURL  string
	uploader Uploader
	client   *http.Client
}

// NewMermaidRenderer creates a renderer. uploader may be nil.
func NewMermaidRenderer(baseURL string, uploader Uploader, client *http.Client) *MermaidRenderer {
	return &MermaidRenderer{
		baseURL:  strings.TrimRight(baseURL, "/"),
		uploader: uploader,
		client:   defaultHTTPClient(client),
	}
}

// SVGURL is the renderer URL of code.
func (m *MermaidRenderer) SVGURL(code string) string {
	return m.baseURL + "/svg/" + base64.URLEncoding.EncodeToString([]byte(code))
}

// Render implements DiagramRenderer. Blank code yields no diagram.
func (m *MermaidRenderer) Render(ctx context.Context, code, description string) ([]workflow.ImageResource, error) {
	if m.baseURL == "" {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(code) == "" {
		return nil, nil
	}

	link := m.SVGURL(code)
	if m.uploader != nil {
		svg, err := m.fetch(ctx, link)
		if err != nil {
			return nil, err
		}
		link, err = m.uploader.Upload(ctx, "mermaid/"+uuid.NewString()+".svg", "image/svg+xml", svg)
		if err != nil {
			return nil, fmt.Errorf("upload diagram: %w", err)
		}
	}

	return []workflow.ImageResource{{
		Category:    workflow.CategoryArchitecture,
		Description: description,
		URL:         link,
	}}, nil
}

func (m *MermaidRenderer) fetch(ctx context.Context, link string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render diagram: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("render diagram: unexpected status %d", resp.StatusCode)
	}
	svg, err := io.ReadAll(io.LimitReader(resp.Body, maxDiagramBytes))
	if err != nil {
		return nil, fmt.Errorf("render diagram: %w", err)
	}
	if len(svg) == 0 {
		return nil, fmt.Errorf("render diagram: empty output")
	}
	return svg, nil
}
