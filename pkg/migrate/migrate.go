// Package migrate upgrades databases created by earlier schema versions
// in place. Every step is idempotent: running against a current or
// already-migrated database is a no-op.
package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
)

// columnAdd is one ALTER TABLE ADD COLUMN step.
type columnAdd struct {
	table  string
	column string
	ddl    string
}

// Columns introduced after the first schema version. Order matters only
// for log readability.
var columnAdds = []columnAdd{
	{"memories", "namespace", "ALTER TABLE memories ADD COLUMN namespace TEXT NOT NULL DEFAULT 'user'"},
	{"memories", "source_type", "ALTER TABLE memories ADD COLUMN source_type TEXT NOT NULL DEFAULT 'explicit'"},
	{"memories", "confidence", "ALTER TABLE memories ADD COLUMN confidence REAL NOT NULL DEFAULT 1.0"},
	{"memories", "sensitivity", "ALTER TABLE memories ADD COLUMN sensitivity TEXT NOT NULL DEFAULT 'low'"},
	{"memories", "evidence", "ALTER TABLE memories ADD COLUMN evidence TEXT"},
	{"memories", "confirmed_at", "ALTER TABLE memories ADD COLUMN confirmed_at INTEGER"},
	{"memories", "is_active", "ALTER TABLE memories ADD COLUMN is_active INTEGER NOT NULL DEFAULT 1"},
}

var indexAdds = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_memories_active_hash
		ON memories(chat_id, namespace, content_hash) WHERE is_active = 1`,
	"CREATE INDEX IF NOT EXISTS idx_memories_owner ON memories(chat_id, namespace)",
	"CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(memory_type)",
}

// Apply runs all pending schema upgrades. Every failed step is logged
// and skipped so one broken column or index cannot wedge startup; the
// engine runs degraded until the data is repaired.
func Apply(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	for _, step := range columnAdds {
		exists, err := hasColumn(ctx, db, step.table, step.column)
		if err != nil {
			return fmt.Errorf("failed to inspect %s.%s: %w", step.table, step.column, err)
		}
		if exists {
			continue
		}

		if _, err := db.ExecContext(ctx, step.ddl); err != nil {
			logger.Warn().Err(err).
				Str("table", step.table).
				Str("column", step.column).
				Msg("Migration step failed, skipping")
			continue
		}
		logger.Info().Str("table", step.table).Str("column", step.column).Msg("Column added")
	}

	for _, ddl := range indexAdds {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			// The dedup index fails on legacy rows holding duplicate
			// active content; those need manual cleanup first.
			logger.Warn().Err(err).Msg("Index creation failed, skipping")
		}
	}
	return nil
}

// hasColumn reports whether the table already carries the column.
func hasColumn(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
