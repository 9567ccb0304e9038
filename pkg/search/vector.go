// Package search implements the two index backends and their fusion:
// vector similarity over sqlite-vec, lexical ranking over FTS5, and
// weighted Reciprocal Rank Fusion on top.
package search

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/selin/memoria/pkg/store"
)

// VectorResult is one nearest-neighbor hit, best-first by distance.
type VectorResult struct {
	MemoryID int64
	Distance float64
}

// VectorSearch runs a K-nearest-neighbor query over the vector index,
// filtered to active rows in the owner scope.
func VectorSearch(ctx context.Context, st *store.Store, queryVec []float32, chatID, namespace string, limit int) ([]VectorResult, error) {
	vecJSON, err := json.Marshal(queryVec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query vector: %w", err)
	}

	rows, err := st.DB().QueryContext(ctx, `
		SELECT m.id, vec_distance_cosine(v.embedding, ?) AS distance
		FROM memory_vectors v
		JOIN vector_memory_map map ON map.vector_id = v.vector_id
		JOIN memories m ON m.id = map.memory_id
		WHERE m.chat_id = ? AND m.namespace = ? AND m.is_active = 1
		ORDER BY distance ASC
		LIMIT ?`,
		string(vecJSON), chatID, namespace, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer rows.Close()

	var results []VectorResult
	for rows.Next() {
		var r VectorResult
		if err := rows.Scan(&r.MemoryID, &r.Distance); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
