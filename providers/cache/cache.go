// Package cache wraps an embedding provider with an in-process vector cache.
// Within a session the same chunk text is embedded for indexing and often
// again as a near-identical query; the cache makes the second hit free.
package cache

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/dgraph-io/ristretto"

	"github.com/ZiangHu97/paper-sailor/core"
)

// Embedder caches EmbedTexts results per (model, text) pair.
type Embedder struct {
	inner core.EmbeddingProvider
	model string
	cache *ristretto.Cache
}

// New wraps inner with a cache sized for maxCost bytes of vectors.
func New(inner core.EmbeddingProvider, model string, maxCost int64) (*Embedder, error) {
	if maxCost <= 0 {
		maxCost = 64 << 20
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Embedder{inner: inner, model: model, cache: cache}, nil
}

// EmbedTexts serves cached vectors and delegates only the misses, preserving
// input order. A delegate failure fails the whole call so the caller's
// degradation path sees it.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int
	for i, text := range texts {
		if val, ok := e.cache.Get(e.key(text)); ok {
			if vec, ok := val.([]float32); ok {
				out[i] = vec
				continue
			}
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := e.inner.EmbedTexts(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(missTexts))
	}
	for j, vec := range vecs {
		out[missIdx[j]] = vec
		e.cache.Set(e.key(missTexts[j]), vec, int64(4*len(vec)))
	}
	e.cache.Wait()
	return out, nil
}

func (e *Embedder) key(text string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(e.model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return h.Sum64()
}

// Close releases the cache's internal goroutines.
func (e *Embedder) Close() {
	e.cache.Close()
}
