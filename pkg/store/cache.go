package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// GetEmbedding returns the cached embedding for a content hash, or nil
// when absent. Implements embedding.Cache.
func (s *Store) GetEmbedding(ctx context.Context, contentHash string) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT embedding FROM embedding_cache WHERE content_hash = ?", contentHash).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding cache: %w", err)
	}

	var vec []float32
	if err := json.Unmarshal(blob, &vec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached embedding: %w", err)
	}
	return vec, nil
}

// PutEmbedding stores an embedding under its content hash.
func (s *Store) PutEmbedding(ctx context.Context, contentHash string, vector []float32) error {
	blob, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO embedding_cache (content_hash, embedding, dimension, created_at)
		VALUES (?, ?, ?, ?)`,
		contentHash, blob, len(vector), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to write embedding cache: %w", err)
	}
	return nil
}
