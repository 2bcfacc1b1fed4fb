package assets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/codemother/codemother/pkg/workflow"
)

// PexelsSearcher searches stock photos on the Pexels API.
type PexelsSearcher struct {
	endpoint string
	apiKey   string
	perPage  int
	client   *http.Client
}

// NewPexelsSearcher creates a searcher. endpoint is the full search URL,
// e.g. https://api.pexels.com/v1/search.
func NewPexelsSearcher(endpoint, apiKey string, perPage int, client *http.Client) *PexelsSearcher {
	if perPage <= 0 {
		perPage = 3
	}
	return &PexelsSearcher{
		endpoint: endpoint,
		apiKey:   apiKey,
		perPage:  perPage,
		client:   defaultHTTPClient(client),
	}
}

type pexelsResponse struct {
	Photos []struct {
		Alt string `json:"alt"`
		Src struct {
			Medium string `json:"medium"`
			Large  string `json:"large"`
		} `json:"src"`
	} `json:"photos"`
}

// Search returns up to perPage photos for query.
func (p *PexelsSearcher) Search(ctx context.Context, query string) ([]workflow.ImageResource, error) {
	if p.apiKey == "" || p.endpoint == "" {
		return nil, ErrNotConfigured
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	q := url.Values{}
	q.Set("query", query)
	q.Set("per_page", strconv.Itoa(p.perPage))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", p.apiKey)

	var body pexelsResponse
	if err := doJSON(p.client, req, &body); err != nil {
		return nil, fmt.Errorf("pexels search %q: %w", query, err)
	}

	out := make([]workflow.ImageResource, 0, len(body.Photos))
	for _, photo := range body.Photos {
		src := photo.Src.Medium
		if src == "" {
			src = photo.Src.Large
		}
		if src == "" {
			continue
		}
		desc := photo.Alt
		if desc == "" {
			desc = query
		}
		out = append(out, workflow.ImageResource{
			Category:    workflow.CategoryContent,
			Description: desc,
			URL:         src,
		})
	}
	return out, nil
}

// doJSON sends req and decodes a 2xx JSON body into v.
func doJSON(client *http.Client, req *http.Request, v interface{}) error {
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
