package embeddings

import (
	"container/list"
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/opentriage/diagraph-go/internal/apptype"
	"github.com/opentriage/diagraph-go/internal/metrics"
)

// DefaultCacheSize bounds the embedding cache when EMBEDDINGS_CACHE_SIZE is
// unset. A size of 0 means unbounded.
const DefaultCacheSize = 1024

// Cache memoizes Provider.Embed results per input string with LRU eviction.
// Concurrent requests for the same uncached text are collapsed into a single
// provider call. A provider failure is retried once; if the retry also fails
// the error is surfaced as apptype.EmbeddingUnavailableError so callers can
// degrade instead of aborting.
type Cache struct {
	provider Provider
	maxSize  int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used

	group singleflight.Group
}

type cacheEntry struct {
	key string
	vec []float32
}

// NewCache wraps provider with an LRU cache of maxSize entries.
// maxSize 0 disables eviction, negative values fall back to the default.
func NewCache(provider Provider, maxSize int) *Cache {
	if maxSize < 0 {
		maxSize = DefaultCacheSize
	}
	return &Cache{
		provider: provider,
		maxSize:  maxSize,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// NewCacheFromEnv builds a Cache sized by EMBEDDINGS_CACHE_SIZE.
func NewCacheFromEnv(provider Provider) *Cache {
	size := DefaultCacheSize
	if v := os.Getenv("EMBEDDINGS_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			size = n
		}
	}
	return NewCache(provider, size)
}

// Provider returns the underlying provider, or nil when embeddings are
// disabled.
func (c *Cache) Provider() Provider { return c.provider }

// Dimensions returns the underlying provider's dimensionality, or 0 when no
// provider is configured.
func (c *Cache) Dimensions() int {
	if c.provider == nil {
		return 0
	}
	return c.provider.Dimensions()
}

// Len returns the number of cached vectors.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Embed returns the embedding for text, consulting the cache first.
func (c *Cache) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.provider == nil {
		return nil, &apptype.EmbeddingUnavailableError{Err: fmt.Errorf("no embeddings provider configured")}
	}

	if vec, ok := c.get(text); ok {
		metrics.Default().IncEmbeddingCacheHit()
		return vec, nil
	}
	metrics.Default().IncEmbeddingCacheMiss()

	v, err, _ := c.group.Do(text, func() (any, error) {
		// Re-check: a concurrent caller may have populated the entry
		// between our miss and acquiring the flight.
		if vec, ok := c.get(text); ok {
			return vec, nil
		}
		vec, err := c.embedOnce(ctx, text)
		if err != nil {
			return nil, err
		}
		c.put(text, vec)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// EmbedBatch embeds several texts, serving cached entries without a provider
// round trip and fetching the rest in one call.
func (c *Cache) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if c.provider == nil {
		return nil, &apptype.EmbeddingUnavailableError{Err: fmt.Errorf("no embeddings provider configured")}
	}

	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, t := range texts {
		if vec, ok := c.get(t); ok {
			metrics.Default().IncEmbeddingCacheHit()
			out[i] = vec
			continue
		}
		metrics.Default().IncEmbeddingCacheMiss()
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := c.provider.Embed(ctx, missing)
	if err != nil {
		vecs, err = c.provider.Embed(ctx, missing)
		if err != nil {
			return nil, &apptype.EmbeddingUnavailableError{Err: err}
		}
	}
	if len(vecs) != len(missing) {
		return nil, &apptype.EmbeddingUnavailableError{
			Err: fmt.Errorf("provider returned %d embeddings for %d inputs", len(vecs), len(missing)),
		}
	}
	for j, vec := range vecs {
		c.put(missing[j], vec)
		out[missingIdx[j]] = vec
	}
	return out, nil
}

func (c *Cache) embedOnce(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.provider.Embed(ctx, []string{text})
	if err != nil {
		// One retry covers transient provider hiccups.
		vecs, err = c.provider.Embed(ctx, []string{text})
		if err != nil {
			return nil, &apptype.EmbeddingUnavailableError{Err: err}
		}
	}
	if len(vecs) != 1 {
		return nil, &apptype.EmbeddingUnavailableError{
			Err: fmt.Errorf("provider returned %d embeddings for 1 input", len(vecs)),
		}
	}
	return vecs[0], nil
}

func (c *Cache) get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).vec, true
}

func (c *Cache) put(key string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).vec = vec
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, vec: vec})
	if c.maxSize > 0 {
		for len(c.entries) > c.maxSize {
			oldest := c.order.Back()
			if oldest == nil {
				break
			}
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).key)
		}
	}
}
