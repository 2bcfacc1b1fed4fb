package assets

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/codemother/codemother/pkg/workflow"
)

// IllustrationSearcher searches an unDraw-style illustration index. The
// endpoint answers GET ?term=<query> with {"illos":[{"title","media"}]}.
type IllustrationSearcher struct {
	endpoint string
	limit    int
	client   *http.Client
}

// NewIllustrationSearcher creates a searcher returning at most limit hits.
func NewIllustrationSearcher(endpoint string, limit int, client *http.Client) *IllustrationSearcher {
	if limit <= 0 {
		limit = 3
	}
	return &IllustrationSearcher{endpoint: endpoint, limit: limit, client: defaultHTTPClient(client)}
}

type illustrationResponse struct {
	Illos []struct {
		Title string `json:"title"`
		Media string `json:"media"`
	} `json:"illos"`
}

// Search returns illustrations matching query.
func (s *IllustrationSearcher) Search(ctx context.Context, query string) ([]workflow.ImageResource, error) {
	if s.endpoint == "" {
		return nil, ErrNotConfigured
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?term="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}
	var body illustrationResponse
	if err := doJSON(s.client, req, &body); err != nil {
		return nil, fmt.Errorf("illustration search %q: %w", query, err)
	}

	var out []workflow.ImageResource
	for _, il := range body.Illos {
		if len(out) == s.limit {
			break
		}
		if !strings.HasPrefix(il.Media, "http") {
			continue
		}
		desc := il.Title
		if desc == "" {
			desc = query
		}
		out = append(out, workflow.ImageResource{
			Category:    workflow.CategoryIllustration,
			Description: desc,
			URL:         il.Media,
		})
	}
	return out, nil
}
