// Package store owns the embedded database: schema lifecycle,
// transactional CRUD for memories and vectors, and the side tables used
// by consolidation.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

func init() {
	// Auto-register sqlite-vec extension for every new connection
	sqlite_vec.Auto()
}

// Namespace values partition memories per trust domain.
const (
	NamespaceUser   = "user"
	NamespaceGlobal = "global"
)

// Memory type values.
const (
	TypeFact         = "fact"
	TypePreference   = "preference"
	TypeConversation = "conversation"
	TypeDocument     = "document"
	TypeSummary      = "summary"
)

// Store wraps the sqlite connection and schema.
type Store struct {
	db        *sql.DB
	dimension int
	logger    zerolog.Logger
}

// Config holds store configuration.
type Config struct {
	Path      string
	Dimension int
	Logger    zerolog.Logger
}

// Open opens the database, enables WAL and foreign keys, and creates the
// schema. The single *sql.DB is the one writer for the deployment.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}
	if cfg.Dimension <= 0 {
		return nil, errors.New("vector dimension is required")
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_fts5=1&_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db, dimension: cfg.Dimension, logger: cfg.Logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info().Str("path", cfg.Path).Int("dimension", cfg.Dimension).Msg("Store opened")
	return s, nil
}

// initSchema creates tables, indexes and triggers.
func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS memories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id TEXT NOT NULL,
			namespace TEXT NOT NULL DEFAULT 'user',
			content TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			memory_type TEXT NOT NULL DEFAULT 'conversation',
			metadata TEXT,
			source_type TEXT NOT NULL DEFAULT 'explicit',
			confidence REAL NOT NULL DEFAULT 1.0,
			sensitivity TEXT NOT NULL DEFAULT 'low',
			evidence TEXT,
			confirmed_at INTEGER,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL
		);

		-- Dedup uniqueness applies to active rows only: a forgotten
		-- memory does not block re-ingestion of identical content.
		CREATE UNIQUE INDEX IF NOT EXISTS idx_memories_active_hash
			ON memories(chat_id, namespace, content_hash) WHERE is_active = 1;
		CREATE INDEX IF NOT EXISTS idx_memories_owner ON memories(chat_id, namespace);
		CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(memory_type);

		CREATE TABLE IF NOT EXISTS vector_memory_map (
			vector_id INTEGER PRIMARY KEY AUTOINCREMENT,
			memory_id INTEGER NOT NULL UNIQUE REFERENCES memories(id) ON DELETE CASCADE
		);

		CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
			content,
			content='memories',
			content_rowid='id',
			tokenize='porter unicode61'
		);

		CREATE TRIGGER IF NOT EXISTS memories_fts_insert AFTER INSERT ON memories BEGIN
			INSERT INTO memories_fts(rowid, content) VALUES (new.id, new.content);
		END;
		CREATE TRIGGER IF NOT EXISTS memories_fts_delete AFTER DELETE ON memories BEGIN
			INSERT INTO memories_fts(memories_fts, rowid, content) VALUES ('delete', old.id, old.content);
		END;
		CREATE TRIGGER IF NOT EXISTS memories_fts_update AFTER UPDATE OF content ON memories BEGIN
			INSERT INTO memories_fts(memories_fts, rowid, content) VALUES ('delete', old.id, old.content);
			INSERT INTO memories_fts(rowid, content) VALUES (new.id, new.content);
		END;

		CREATE TABLE IF NOT EXISTS embedding_cache (
			content_hash TEXT PRIMARY KEY,
			embedding BLOB NOT NULL,
			dimension INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS knowledge_snapshots (
			chat_id TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversation_buffer (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_buffer_chat ON conversation_buffer(chat_id, created_at);

		CREATE TABLE IF NOT EXISTS consolidation_sessions (
			id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL,
			message_count INTEGER NOT NULL,
			facts_merged INTEGER NOT NULL,
			milestones_added INTEGER NOT NULL,
			summary TEXT,
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS milestones (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id TEXT NOT NULL,
			title TEXT NOT NULL,
			occurred_on TEXT,
			confidence REAL NOT NULL DEFAULT 1.0,
			evidence TEXT,
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS outbox (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			payload TEXT NOT NULL,
			sent_at INTEGER,
			created_at INTEGER NOT NULL
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	vectorSchema := fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS memory_vectors USING vec0(
			vector_id INTEGER PRIMARY KEY,
			embedding float[%d] distance_metric=cosine
		);
	`, s.dimension)
	if _, err := s.db.Exec(vectorSchema); err != nil {
		return fmt.Errorf("failed to create vector table: %w", err)
	}

	// Load-bearing invariant: removing a mapping row removes the
	// physical vector, so no orphaned vectors can persist.
	cleanup := `
		CREATE TRIGGER IF NOT EXISTS cleanup_vector_on_map_delete
		AFTER DELETE ON vector_memory_map
		BEGIN
			DELETE FROM memory_vectors WHERE vector_id = old.vector_id;
		END;
	`
	if _, err := s.db.Exec(cleanup); err != nil {
		return fmt.Errorf("failed to create cleanup trigger: %w", err)
	}

	return nil
}

// DB exposes the underlying connection for the search and audit layers.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dimension returns the fixed vector dimensionality of this store.
func (s *Store) Dimension() int {
	return s.dimension
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.logger.Info().Msg("Closing store")
	return s.db.Close()
}
