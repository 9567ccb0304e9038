package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Metadata carries the well-known optional fields of a memory plus an
// open side-map for forward compatibility.
type Metadata struct {
	Filename   string            `json:"filename,omitempty"`
	Source     string            `json:"source,omitempty"`
	TokenCount int               `json:"token_count,omitempty"`
	Oversized  bool              `json:"oversized,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Memory is the atomic retrievable unit.
type Memory struct {
	ID          int64
	ChatID      string
	Namespace   string
	Content     string
	ContentHash string
	MemoryType  string
	Metadata    Metadata
	SourceType  string
	Confidence  float64
	Sensitivity string
	Evidence    string
	ConfirmedAt *time.Time
	IsActive    bool
	CreatedAt   time.Time
}

// InsertMemory inserts a memory row transactionally. A duplicate content
// hash within the active owner scope is not an error: the existing row's
// id is returned, making ingestion idempotent by content.
func (s *Store) InsertMemory(ctx context.Context, m Memory) (int64, error) {
	if m.Namespace == "" {
		m.Namespace = NamespaceUser
	}
	if m.MemoryType == "" {
		m.MemoryType = TypeConversation
	}
	if m.SourceType == "" {
		m.SourceType = "explicit"
	}
	if m.Sensitivity == "" {
		m.Sensitivity = "low"
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	metaJSON, err := json.Marshal(m.Metadata)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	var confirmedAt interface{}
	if m.ConfirmedAt != nil {
		confirmedAt = m.ConfirmedAt.Unix()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (
			chat_id, namespace, content, content_hash, memory_type, metadata,
			source_type, confidence, sensitivity, evidence, confirmed_at,
			is_active, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		m.ChatID, m.Namespace, m.Content, m.ContentHash, m.MemoryType, string(metaJSON),
		m.SourceType, m.Confidence, m.Sensitivity, m.Evidence, confirmedAt,
		m.CreatedAt.Unix(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			var existing int64
			qerr := s.db.QueryRowContext(ctx, `
				SELECT id FROM memories
				WHERE chat_id = ? AND namespace = ? AND content_hash = ? AND is_active = 1`,
				m.ChatID, m.Namespace, m.ContentHash,
			).Scan(&existing)
			if qerr != nil {
				return 0, fmt.Errorf("failed to resolve duplicate memory: %w", qerr)
			}
			return existing, nil
		}
		return 0, fmt.Errorf("failed to insert memory: %w", err)
	}

	return res.LastInsertId()
}

// GetMemory fetches one memory row by id.
func (s *Store) GetMemory(ctx context.Context, id int64) (*Memory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, chat_id, namespace, content, content_hash, memory_type,
		       metadata, source_type, confidence, sensitivity, evidence,
		       confirmed_at, is_active, created_at
		FROM memories WHERE id = ?`, id)
	return scanMemory(row)
}

// ActiveHashes reports which of the given content hashes already exist as
// active rows in the owner scope. Inactive rows never block re-ingestion.
func (s *Store) ActiveHashes(ctx context.Context, chatID, namespace string, hashes []string) (map[string]bool, error) {
	existing := make(map[string]bool)
	if len(hashes) == 0 {
		return existing, nil
	}

	placeholders := strings.Repeat("?,", len(hashes))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]interface{}, 0, len(hashes)+2)
	args = append(args, chatID, namespace)
	for _, h := range hashes {
		args = append(args, h)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT content_hash FROM memories
		WHERE chat_id = ? AND namespace = ? AND is_active = 1
		  AND content_hash IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing hashes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		existing[h] = true
	}
	return existing, rows.Err()
}

// SoftDeleteMemories marks the given rows inactive. The rows remain for
// audit but are excluded from search, dedup, and stats of active content.
func (s *Store) SoftDeleteMemories(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		"UPDATE memories SET is_active = 0 WHERE id IN (%s) AND is_active = 1", placeholders), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to soft-delete memories: %w", err)
	}
	return res.RowsAffected()
}

// DeleteMemoriesByFilename soft-deletes every active memory whose
// metadata filename matches, within the given namespace.
func (s *Store) DeleteMemoriesByFilename(ctx context.Context, filename, namespace string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET is_active = 0
		WHERE namespace = ? AND is_active = 1
		  AND json_extract(metadata, '$.filename') = ?`,
		namespace, filename)
	if err != nil {
		return 0, fmt.Errorf("failed to delete memories by filename: %w", err)
	}
	return res.RowsAffected()
}

// HardDeleteMemory physically removes a memory row. Schema triggers and
// cascades remove the FTS entry, the mapping row, and the physical
// vector. Maintenance and test path only.
func (s *Store) HardDeleteMemory(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to hard-delete memory: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row rowScanner) (*Memory, error) {
	var m Memory
	var metaJSON sql.NullString
	var evidence sql.NullString
	var confirmedAt sql.NullInt64
	var createdAt int64
	var isActive int

	err := row.Scan(
		&m.ID, &m.ChatID, &m.Namespace, &m.Content, &m.ContentHash, &m.MemoryType,
		&metaJSON, &m.SourceType, &m.Confidence, &m.Sensitivity, &evidence,
		&confirmedAt, &isActive, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &m.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	m.Evidence = evidence.String
	if confirmedAt.Valid {
		t := time.Unix(confirmedAt.Int64, 0)
		m.ConfirmedAt = &t
	}
	m.IsActive = isActive == 1
	m.CreatedAt = time.Unix(createdAt, 0)

	return &m, nil
}
