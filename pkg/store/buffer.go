package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// BufferMessage is one entry of the short-term conversation buffer.
type BufferMessage struct {
	ID        int64
	ChatID    string
	Role      string
	Content   string
	CreatedAt time.Time
}

// AppendBufferMessage adds a raw conversation message for later
// consolidation.
func (s *Store) AppendBufferMessage(ctx context.Context, chatID, role, content string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_buffer (chat_id, role, content, created_at)
		VALUES (?, ?, ?, ?)`,
		chatID, role, content, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to append buffer message: %w", err)
	}
	return nil
}

// BufferMessages returns the buffered messages for an owner in insertion
// order.
func (s *Store) BufferMessages(ctx context.Context, chatID string) ([]BufferMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, role, content, created_at
		FROM conversation_buffer WHERE chat_id = ?
		ORDER BY id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to read buffer: %w", err)
	}
	defer rows.Close()

	var messages []BufferMessage
	for rows.Next() {
		var m BufferMessage
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt = time.Unix(createdAt, 0)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// BufferCount returns the number of buffered messages for an owner.
func (s *Store) BufferCount(ctx context.Context, chatID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM conversation_buffer WHERE chat_id = ?", chatID).Scan(&count)
	return count, err
}

// LastBufferTime returns the timestamp of the newest buffered message,
// or the zero time when the buffer is empty.
func (s *Store) LastBufferTime(ctx context.Context, chatID string) (time.Time, error) {
	var created int64
	err := s.db.QueryRowContext(ctx, `
		SELECT created_at FROM conversation_buffer
		WHERE chat_id = ? ORDER BY id DESC LIMIT 1`, chatID).Scan(&created)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(created, 0), nil
}

// ClearBuffer removes all buffered messages for an owner.
func (s *Store) ClearBuffer(ctx context.Context, chatID string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM conversation_buffer WHERE chat_id = ?", chatID); err != nil {
		return fmt.Errorf("failed to clear buffer: %w", err)
	}
	return nil
}

// BufferChatIDs lists the owners that currently have buffered messages.
func (s *Store) BufferChatIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT chat_id FROM conversation_buffer")
	if err != nil {
		return nil, fmt.Errorf("failed to list buffered owners: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
