package store

import (
	"context"
	"fmt"
)

// Stats aggregates memory counts for user-facing transparency commands.
type Stats struct {
	Total         int            `json:"total"`
	Active        int            `json:"active"`
	ByType        map[string]int `json:"by_type"`
	BySensitivity map[string]int `json:"by_sensitivity"`
}

// MemoryStats returns aggregate counts for one owner. Type and
// sensitivity breakdowns cover active rows only.
func (s *Store) MemoryStats(ctx context.Context, chatID string) (*Stats, error) {
	stats := &Stats{
		ByType:        make(map[string]int),
		BySensitivity: make(map[string]int),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(is_active), 0)
		FROM memories WHERE chat_id = ?`, chatID,
	).Scan(&stats.Total, &stats.Active)
	if err != nil {
		return nil, fmt.Errorf("failed to count memories: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT memory_type, sensitivity, COUNT(*)
		FROM memories WHERE chat_id = ? AND is_active = 1
		GROUP BY memory_type, sensitivity`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate memories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var memType, sensitivity string
		var count int
		if err := rows.Scan(&memType, &sensitivity, &count); err != nil {
			return nil, err
		}
		stats.ByType[memType] += count
		stats.BySensitivity[sensitivity] += count
	}
	return stats, rows.Err()
}
