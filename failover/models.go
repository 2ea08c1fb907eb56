package failover

import (
	"context"
	"slices"
	"sync"

	"github.com/aschepis/backscratcher/relay/llm"
	"github.com/aschepis/backscratcher/relay/perf"
	"golang.org/x/sync/singleflight"
)

// ModelCache remembers the model list of each base URL for the life of the
// process. Concurrent lookups for the same URL share one fetch.
type ModelCache struct {
	mu     sync.RWMutex
	models map[string][]string
	group  singleflight.Group
}

// NewModelCache creates an empty cache.
func NewModelCache() *ModelCache {
	return &ModelCache{models: make(map[string][]string)}
}

// cached returns the stored list for key without fetching.
func (c *ModelCache) cached(key string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	models, ok := c.models[key]
	return slices.Clone(models), ok
}

// Models returns the cached list for baseURL, fetching it through lister on a miss.
// Failed fetches are not cached.
func (c *ModelCache) Models(ctx context.Context, baseURL string, lister llm.ModelLister) ([]string, error) {
	c.mu.RLock()
	models, ok := c.models[baseURL]
	c.mu.RUnlock()
	if ok {
		return slices.Clone(models), nil
	}

	v, err, _ := c.group.Do(baseURL, func() (any, error) {
		models, err := lister.ListModels(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.models[baseURL] = models
		c.mu.Unlock()
		return models, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]string)), nil
}

// Invalidate forgets the list for baseURL.
func (c *ModelCache) Invalidate(baseURL string) {
	c.mu.Lock()
	delete(c.models, baseURL)
	c.mu.Unlock()
}

// ListModels returns the models backend b serves. Lists are cached per family
// and base URL, so a generator is only built on a miss.
func (c *Controller) ListModels(ctx context.Context, b perf.Backend) ([]string, error) {
	key := b.Family + "|" + b.BaseURL
	if models, ok := c.models.cached(key); ok {
		return models, nil
	}
	gen, err := c.factory(ctx, b)
	if err != nil {
		return nil, err
	}
	lister, ok := gen.(llm.ModelLister)
	if !ok {
		return nil, llm.NewUnsupportedError("listModels")
	}
	return c.models.Models(ctx, key, lister)
}
