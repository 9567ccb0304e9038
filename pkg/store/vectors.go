package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// ErrVectorExists reports that the memory row already has a vector.
// Concurrent ingestions of the same content race between the dedup check
// and the insert; the loser lands here and can treat the chunk as stored.
var ErrVectorExists = errors.New("vector already exists for memory")

// InsertVector stores a physical vector and its 1:1 mapping to a memory
// row in one transaction. Vectors have no independent lifecycle: they are
// created here and destroyed only through the mapping cascade. Returns
// ErrVectorExists when the memory row is already mapped.
func (s *Store) InsertVector(ctx context.Context, memoryID int64, vector []float32) (int64, error) {
	if len(vector) != s.dimension {
		return 0, fmt.Errorf("vector dimension %d does not match store dimension %d", len(vector), s.dimension)
	}

	vecJSON, err := json.Marshal(vector)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal vector: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO vector_memory_map (memory_id) VALUES (?)", memoryID)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, ErrVectorExists
		}
		return 0, fmt.Errorf("failed to insert vector mapping: %w", err)
	}
	vectorID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO memory_vectors (vector_id, embedding) VALUES (?, ?)",
		vectorID, string(vecJSON)); err != nil {
		return 0, fmt.Errorf("failed to insert vector: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return vectorID, nil
}

// CountVectors returns row counts of the mapping and physical vector
// tables. Used by the zero-orphan regression checks and stats.
func (s *Store) CountVectors(ctx context.Context) (mapped int, physical int, err error) {
	if err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vector_memory_map").Scan(&mapped); err != nil {
		return 0, 0, err
	}
	if err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memory_vectors").Scan(&physical); err != nil {
		return 0, 0, err
	}
	return mapped, physical, nil
}
