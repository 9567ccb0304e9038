package embedding

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Cache stores embeddings keyed by content hash. Implemented by the
// store's embedding_cache table.
type Cache interface {
	GetEmbedding(ctx context.Context, contentHash string) ([]float32, error)
	PutEmbedding(ctx context.Context, contentHash string, vector []float32) error
}

// Hasher maps text to its cache key.
type Hasher func(text string) string

// CachedProvider wraps a Provider with a content-hash cache so re-ingested
// text never hits the embedding service twice.
type CachedProvider struct {
	inner  Provider
	cache  Cache
	hash   Hasher
	logger zerolog.Logger

	mu     sync.Mutex
	hits   int
	misses int
}

// NewCachedProvider wraps inner with cache lookups keyed by hash.
func NewCachedProvider(inner Provider, cache Cache, hash Hasher, logger zerolog.Logger) *CachedProvider {
	return &CachedProvider{inner: inner, cache: cache, hash: hash, logger: logger}
}

func (p *CachedProvider) Dimension() int {
	return p.inner.Dimension()
}

func (p *CachedProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyBatch
	}

	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	for i, t := range texts {
		vec, err := p.cache.GetEmbedding(ctx, p.hash(t))
		if err != nil {
			p.logger.Warn().Err(err).Msg("Embedding cache lookup failed")
		}
		if vec != nil {
			out[i] = vec
			p.recordHit(true)
			continue
		}
		p.recordHit(false)
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) > 0 {
		vecs, err := p.inner.EmbedDocuments(ctx, missing)
		if err != nil {
			return nil, err
		}
		for j, vec := range vecs {
			out[missingIdx[j]] = vec
			if err := p.cache.PutEmbedding(ctx, p.hash(missing[j]), vec); err != nil {
				p.logger.Warn().Err(err).Msg("Failed to cache embedding")
			}
		}
	}

	return out, nil
}

func (p *CachedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	// Query embeddings are not cached: queries rarely repeat verbatim and
	// the task hint differs from document embedding.
	return p.inner.EmbedQuery(ctx, text)
}

// HitRate reports the cache hit ratio, or nil before any lookup.
func (p *CachedProvider) HitRate() *float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := p.hits + p.misses
	if total == 0 {
		return nil
	}
	rate := float64(p.hits) / float64(total)
	return &rate
}

func (p *CachedProvider) recordHit(hit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if hit {
		p.hits++
	} else {
		p.misses++
	}
}
