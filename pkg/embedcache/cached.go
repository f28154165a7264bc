package embedcache

import (
	"context"
	"fmt"
	"log/slog"
)

// Embedder is the upstream the cache fronts.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Cached fronts an embedder with the cache. Hits skip the upstream call;
// misses are embedded and stored. Store failures are logged, not fatal.
type Cached struct {
	upstream Embedder
	cache    *Cache
	logger   *slog.Logger
}

// Front wraps upstream with the cache.
func Front(upstream Embedder, cache *Cache, logger *slog.Logger) *Cached {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{upstream: upstream, cache: cache, logger: logger}
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := c.cache.Get(text); ok {
		return vec, nil
	}
	vec, err := c.upstream.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Put(text, vec); err != nil {
		c.logger.Warn("embedcache: store", "err", err)
	}
	return vec, nil
}

func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, t := range texts {
		if vec, ok := c.cache.Get(t); ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.upstream.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedcache: upstream returned %d vectors for %d texts", len(vecs), len(missTexts))
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		if err := c.cache.Put(texts[i], vecs[j]); err != nil {
			c.logger.Warn("embedcache: store", "err", err)
		}
	}
	return out, nil
}
