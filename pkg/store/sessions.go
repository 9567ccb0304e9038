package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Session records one completed consolidation run.
type Session struct {
	ID              string
	ChatID          string
	MessageCount    int
	FactsMerged     int
	MilestonesAdded int
	Summary         string
	CreatedAt       time.Time
}

// LogSession appends a consolidation session record.
func (s *Store) LogSession(ctx context.Context, sess Session) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO consolidation_sessions
			(id, chat_id, message_count, facts_merged, milestones_added, summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ChatID, sess.MessageCount, sess.FactsMerged,
		sess.MilestonesAdded, sess.Summary, sess.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to log session: %w", err)
	}
	return nil
}

// LastSessionSummary returns the summary of the most recent
// consolidation session for an owner, or "" when none exists.
func (s *Store) LastSessionSummary(ctx context.Context, chatID string) (string, error) {
	var summary sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT summary FROM consolidation_sessions
		WHERE chat_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, chatID).Scan(&summary)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read last session summary: %w", err)
	}
	return summary.String, nil
}

// Milestone is a notable dated event surfaced by consolidation.
type Milestone struct {
	ID         int64
	ChatID     string
	Title      string
	OccurredOn string
	Confidence float64
	Evidence   string
	CreatedAt  time.Time
}

// AddMilestone appends a milestone row.
func (s *Store) AddMilestone(ctx context.Context, m Milestone) (int64, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO milestones (chat_id, title, occurred_on, confidence, evidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ChatID, m.Title, m.OccurredOn, m.Confidence, m.Evidence, m.CreatedAt.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to add milestone: %w", err)
	}
	return res.LastInsertId()
}

// Milestones lists milestones for one owner, newest first.
func (s *Store) Milestones(ctx context.Context, chatID string) ([]Milestone, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, title, occurred_on, confidence, evidence, created_at
		FROM milestones WHERE chat_id = ? ORDER BY id DESC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list milestones: %w", err)
	}
	defer rows.Close()

	var out []Milestone
	for rows.Next() {
		var m Milestone
		var occurredOn, evidence sql.NullString
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Title, &occurredOn, &m.Confidence, &evidence, &createdAt); err != nil {
			return nil, err
		}
		m.OccurredOn = occurredOn.String
		m.Evidence = evidence.String
		m.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, m)
	}
	return out, rows.Err()
}

// EnqueueOutbox appends a pending outbound item (proactive message,
// reminder) produced by consolidation.
func (s *Store) EnqueueOutbox(ctx context.Context, chatID, kind, payload string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO outbox (chat_id, kind, payload, created_at)
		VALUES (?, ?, ?, ?)`,
		chatID, kind, payload, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue outbox item: %w", err)
	}
	return res.LastInsertId()
}

// KnowledgeSnapshot returns the serialized knowledge base for an owner,
// or nil when none exists.
func (s *Store) KnowledgeSnapshot(ctx context.Context, chatID string) ([]byte, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM knowledge_snapshots WHERE chat_id = ?", chatID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read knowledge snapshot: %w", err)
	}
	return []byte(data), nil
}

// SaveKnowledgeSnapshot upserts the serialized knowledge base for an
// owner.
func (s *Store) SaveKnowledgeSnapshot(ctx context.Context, chatID string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO knowledge_snapshots (chat_id, data, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		chatID, string(data), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save knowledge snapshot: %w", err)
	}
	return nil
}
