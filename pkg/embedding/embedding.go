// Package embedding defines the contract with the external embedding
// service and provides its implementations.
package embedding

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
)

// DefaultDimension matches the reference deployment's embedding model.
const DefaultDimension = 768

// Provider generates fixed-dimension vector embeddings from text. The
// response is order-preserving: one vector per input, same order.
type Provider interface {
	// EmbedDocuments embeds a batch of texts for storage.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a single retrieval query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the fixed vector dimensionality.
	Dimension() int
}

// ErrEmptyBatch is returned when a batch embed is requested with no input.
var ErrEmptyBatch = errors.New("embedding: empty batch")

// Mock is a deterministic offline provider. It hashes words into buckets
// so texts sharing vocabulary produce nearby vectors, which makes ranking
// assertions in tests meaningful.
type Mock struct {
	dimension int
}

// NewMock creates a deterministic provider with the given dimension.
func NewMock(dimension int) *Mock {
	return &Mock{dimension: dimension}
}

func (m *Mock) Dimension() int {
	return m.dimension
}

func (m *Mock) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyBatch
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = m.embed(t)
	}
	return out, nil
}

func (m *Mock) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return m.embed(text), nil
}

// embed builds a normalized bag-of-words vector over hashed buckets.
func (m *Mock) embed(text string) []float32 {
	vec := make([]float32, m.dimension)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(strings.Trim(word, ".,;:!?\"'()")))
		vec[int(h.Sum32())%m.dimension] += 1
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}
