package migrate

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// legacySchema is the first shipped version of the memories table,
// before provenance and namespacing.
const legacySchema = `
	CREATE TABLE memories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id TEXT NOT NULL,
		content TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		memory_type TEXT NOT NULL DEFAULT 'conversation',
		metadata TEXT,
		created_at INTEGER NOT NULL
	);
`

func openLegacyDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "legacy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(legacySchema)
	require.NoError(t, err)
	return db
}

func columnSet(t *testing.T, db *sql.DB, table string) map[string]bool {
	t.Helper()
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	require.NoError(t, err)
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var cid, notNull, pk int
		var name, colType string
		var dflt sql.NullString
		require.NoError(t, rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk))
		cols[name] = true
	}
	require.NoError(t, rows.Err())
	return cols
}

func TestApply_UpgradesLegacySchema(t *testing.T) {
	db := openLegacyDB(t)
	ctx := context.Background()

	_, err := db.Exec(
		"INSERT INTO memories (chat_id, content, content_hash, created_at) VALUES ('c1', 'hola', 'h1', 1700000000)")
	require.NoError(t, err)

	require.NoError(t, Apply(ctx, db, zerolog.Nop()))

	cols := columnSet(t, db, "memories")
	for _, want := range []string{"namespace", "source_type", "confidence", "sensitivity", "evidence", "confirmed_at", "is_active"} {
		assert.True(t, cols[want], "missing column %s", want)
	}

	// Pre-existing rows pick up the declared defaults.
	var namespace string
	var active int
	var confidence float64
	require.NoError(t, db.QueryRow(
		"SELECT namespace, is_active, confidence FROM memories WHERE chat_id = 'c1'").
		Scan(&namespace, &active, &confidence))
	assert.Equal(t, "user", namespace)
	assert.Equal(t, 1, active)
	assert.Equal(t, 1.0, confidence)
}

func TestApply_Idempotent(t *testing.T) {
	db := openLegacyDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, Apply(ctx, db, zerolog.Nop()), "run %d", i)
	}

	cols := columnSet(t, db, "memories")
	assert.True(t, cols["is_active"])
}

func TestApply_DuplicateLegacyRowsDoNotWedgeStartup(t *testing.T) {
	db := openLegacyDB(t)
	ctx := context.Background()

	// Two active rows with the same content hash: the dedup index cannot
	// be built, but the migration must still complete.
	for i := 0; i < 2; i++ {
		_, err := db.Exec(
			"INSERT INTO memories (chat_id, content, content_hash, created_at) VALUES ('u1', 'hola', 'h1', 1700000000)")
		require.NoError(t, err)
	}

	require.NoError(t, Apply(ctx, db, zerolog.Nop()))

	// Column adds still landed.
	cols := columnSet(t, db, "memories")
	assert.True(t, cols["is_active"])

	// The other indexes still landed.
	var count int
	require.NoError(t, db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'idx_memories_owner'").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestApply_CurrentSchemaIsNoOp(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "current.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(legacySchema)
	require.NoError(t, err)
	require.NoError(t, Apply(context.Background(), db, zerolog.Nop()))

	before := columnSet(t, db, "memories")
	require.NoError(t, Apply(context.Background(), db, zerolog.Nop()))
	assert.Equal(t, before, columnSet(t, db, "memories"))
}
