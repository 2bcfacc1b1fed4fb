// Package assets collects the images a generated site embeds: stock photos,
// illustrations, rendered architecture diagrams and generated logos.
//
// Every collector returns []workflow.ImageResource tagged with its category.
// Binary assets produced locally (diagrams, logos) are stored through an
// Uploader and referenced by URL.
package assets

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/codemother/codemother/pkg/workflow"
)

// ErrNotConfigured is returned by collectors that lack credentials or an
// endpoint.
var ErrNotConfigured = errors.New("asset collector not configured")

// Searcher finds existing images for a query.
type Searcher interface {
	Search(ctx context.Context, query string) ([]workflow.ImageResource, error)
}

// DiagramRenderer turns Mermaid source into a hosted image.
type DiagramRenderer interface {
	Render(ctx context.Context, code, description string) ([]workflow.ImageResource, error)
}

// LogoGenerator creates logo images from a description.
type LogoGenerator interface {
	Generate(ctx context.Context, description string) ([]workflow.ImageResource, error)
}

// Uploader stores an object and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// SearcherFunc adapts a function to Searcher.
type SearcherFunc func(ctx context.Context, query string) ([]workflow.ImageResource, error)

func (f SearcherFunc) Search(ctx context.Context, query string) ([]workflow.ImageResource, error) {
	return f(ctx, query)
}

func defaultHTTPClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: 30 * time.Second}
}
