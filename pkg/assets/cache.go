package assets

import (
	"context"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/codemother/codemother/pkg/workflow"
)

// CachedSearcher memoises a Searcher's results per normalised query. Empty
// results and errors are not cached.
type CachedSearcher struct {
	next   Searcher
	prefix string
	cache  *ristretto.Cache
	ttl    time.Duration
}

// NewCachedSearcher wraps next. prefix separates keys of searchers that
// share a cache; maxEntries bounds the number of cached queries.
func NewCachedSearcher(next Searcher, prefix string, maxEntries int64, ttl time.Duration) (*CachedSearcher, error) {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &CachedSearcher{next: next, prefix: prefix, cache: cache, ttl: ttl}, nil
}

func (c *CachedSearcher) key(query string) string {
	return c.prefix + ":" + strings.ToLower(strings.Join(strings.Fields(query), " "))
}

// Search implements Searcher.
func (c *CachedSearcher) Search(ctx context.Context, query string) ([]workflow.ImageResource, error) {
	key := c.key(query)
	if v, ok := c.cache.Get(key); ok {
		if res, ok := v.([]workflow.ImageResource); ok {
			return append([]workflow.ImageResource(nil), res...), nil
		}
	}

	res, err := c.next.Search(ctx, query)
	if err != nil || len(res) == 0 {
		return res, err
	}

	stored := append([]workflow.ImageResource(nil), res...)
	if c.ttl > 0 {
		c.cache.SetWithTTL(key, stored, 1, c.ttl)
	} else {
		c.cache.Set(key, stored, 1)
	}
	return res, nil
}

// Wait blocks until pending cache writes are visible.
func (c *CachedSearcher) Wait() {
	c.cache.Wait()
}

// Close releases the cache.
func (c *CachedSearcher) Close() {
	c.cache.Close()
}
