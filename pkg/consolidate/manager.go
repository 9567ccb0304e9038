// Package consolidate turns the short-term conversation buffer into
// long-term memory: extraction, knowledge merging, running summaries
// and session accounting.
package consolidate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/selin/memoria/pkg/knowledge"
	"github.com/selin/memoria/pkg/pipeline"
	"github.com/selin/memoria/pkg/store"
)

// Consolidation trigger defaults.
const (
	DefaultMessageThreshold    = 20
	DefaultInactivityThreshold = 6 * time.Hour
	DefaultIncrementalEvery    = 5
)

// Options tunes when and how consolidation runs.
type Options struct {
	MessageThreshold       int
	InactivityThreshold    time.Duration
	IncrementalEvery       int // raw messages between incremental extractions; <0 disables
	MergeConfidenceFloor   float64
	DisplayConfidenceFloor float64
	BackupDir              string
}

// DefaultOptions returns the reference trigger configuration.
func DefaultOptions() Options {
	return Options{
		MessageThreshold:       DefaultMessageThreshold,
		InactivityThreshold:    DefaultInactivityThreshold,
		IncrementalEvery:       DefaultIncrementalEvery,
		MergeConfidenceFloor:   knowledge.DefaultMergeConfidenceFloor,
		DisplayConfidenceFloor: knowledge.DefaultDisplayConfidenceFloor,
	}
}

// Config holds manager dependencies.
type Config struct {
	Store      *store.Store
	Pipeline   *pipeline.Pipeline
	Extractor  knowledge.Extractor
	Summarizer knowledge.Summarizer
	Options    Options
	Logger     zerolog.Logger
}

// Manager drives consolidation for all owners.
type Manager struct {
	store      *store.Store
	pipeline   *pipeline.Pipeline
	extractor  knowledge.Extractor
	summarizer knowledge.Summarizer
	opts       Options
	logger     zerolog.Logger

	// One consolidation at a time; runs are short and the single sqlite
	// writer gains nothing from overlap.
	mu sync.Mutex

	// Single slot for incremental extraction. A busy slot drops the
	// request rather than queueing: the buffered messages will be
	// covered by the next full consolidation anyway.
	extractSlot chan struct{}
}

// Result summarizes one consolidation run.
type Result struct {
	SessionID       string
	Messages        int
	FactsMerged     int
	MilestonesAdded int
	Summary         string
}

// New creates a consolidation manager.
func New(cfg Config) *Manager {
	if cfg.Options.MessageThreshold <= 0 {
		cfg.Options.MessageThreshold = DefaultMessageThreshold
	}
	if cfg.Options.InactivityThreshold <= 0 {
		cfg.Options.InactivityThreshold = DefaultInactivityThreshold
	}
	if cfg.Options.IncrementalEvery == 0 {
		cfg.Options.IncrementalEvery = DefaultIncrementalEvery
	}
	if cfg.Options.MergeConfidenceFloor <= 0 {
		cfg.Options.MergeConfidenceFloor = knowledge.DefaultMergeConfidenceFloor
	}
	if cfg.Options.DisplayConfidenceFloor <= 0 {
		cfg.Options.DisplayConfidenceFloor = knowledge.DefaultDisplayConfidenceFloor
	}
	return &Manager{
		store:       cfg.Store,
		pipeline:    cfg.Pipeline,
		extractor:   cfg.Extractor,
		summarizer:  cfg.Summarizer,
		opts:        cfg.Options,
		logger:      cfg.Logger,
		extractSlot: make(chan struct{}, 1),
	}
}

// Record buffers one conversation message and consolidates when the
// buffer reaches the message threshold. Below the threshold, every
// IncrementalEvery messages it attempts a lightweight extraction behind
// the single-slot gate. Returns the run result when a full
// consolidation fired, nil otherwise.
func (m *Manager) Record(ctx context.Context, chatID, role, content string) (*Result, error) {
	if err := m.store.AppendBufferMessage(ctx, chatID, role, content); err != nil {
		return nil, err
	}

	count, err := m.store.BufferCount(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to count buffer: %w", err)
	}
	if count >= m.opts.MessageThreshold {
		return m.Consolidate(ctx, chatID)
	}

	if m.opts.IncrementalEvery > 0 && count%m.opts.IncrementalEvery == 0 {
		messages, err := m.store.BufferMessages(ctx, chatID)
		if err != nil {
			return nil, fmt.Errorf("failed to load buffer: %w", err)
		}
		// Opportunistic: a failed or dropped incremental pass costs
		// nothing, the buffered messages stay for full consolidation.
		if _, err := m.TryExtract(ctx, chatID, renderTranscript(messages)); err != nil {
			m.logger.Warn().Err(err).Str("chat_id", chatID).Msg("Incremental extraction failed")
		}
	}
	return nil, nil
}

// TryExtract runs a lightweight mid-conversation extraction if the
// extraction slot is free. Returns false when the slot is busy; the
// request is dropped, not queued.
func (m *Manager) TryExtract(ctx context.Context, chatID, transcript string) (bool, error) {
	select {
	case m.extractSlot <- struct{}{}:
	default:
		m.logger.Debug().Str("chat_id", chatID).Msg("Extraction slot busy, dropping request")
		return false, nil
	}
	defer func() { <-m.extractSlot }()

	base, err := m.loadBase(ctx, chatID)
	if err != nil {
		return true, err
	}

	ex, err := m.extractor.Extract(ctx, transcript, base)
	if err != nil {
		return true, fmt.Errorf("incremental extraction failed: %w", err)
	}

	stats := knowledge.Merge(base, knowledge.Gate(ex, m.opts.MergeConfidenceFloor))
	if stats.Added == 0 && stats.Updated == 0 {
		return true, nil
	}
	if err := m.saveBase(ctx, chatID, base); err != nil {
		return true, err
	}

	m.logger.Info().
		Str("chat_id", chatID).
		Int("added", stats.Added).
		Int("updated", stats.Updated).
		Msg("Incremental extraction merged")
	return true, nil
}

// Consolidate drains the owner's buffer through extraction, knowledge
// merging and summarization. Each stage commits independently: a
// summary failure does not undo a merged extraction, and the buffer is
// cleared only after everything durable has been written, so a failed
// run retries with the same messages.
func (m *Manager) Consolidate(ctx context.Context, chatID string) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	messages, err := m.store.BufferMessages(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to load buffer: %w", err)
	}
	if len(messages) == 0 {
		return nil, nil
	}
	transcript := renderTranscript(messages)

	base, err := m.loadBase(ctx, chatID)
	if err != nil {
		return nil, err
	}

	ex, err := m.extractor.Extract(ctx, transcript, base)
	if err != nil {
		return nil, fmt.Errorf("consolidation extraction failed: %w", err)
	}
	gated := knowledge.Gate(ex, m.opts.MergeConfidenceFloor)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	milestonesAdded := 0
	for _, ms := range gated.Milestones {
		if hasMilestone(base, ms.Title) {
			continue
		}
		if _, err := m.store.AddMilestone(ctx, store.Milestone{
			ChatID:     chatID,
			Title:      ms.Title,
			OccurredOn: ms.Date,
			Confidence: ms.Confidence,
			Evidence:   ms.Evidence,
		}); err != nil {
			return nil, fmt.Errorf("failed to record milestone: %w", err)
		}
		milestonesAdded++
	}

	stats := knowledge.Merge(base, gated)
	if err := m.saveBase(ctx, chatID, base); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	summary := m.summarize(ctx, chatID, transcript)
	if summary != "" && m.pipeline != nil {
		if _, err := m.pipeline.ProcessText(ctx, chatID, summary, store.TypeSummary, store.NamespaceUser,
			store.Metadata{Source: "consolidation"}); err != nil {
			m.logger.Warn().Err(err).Str("chat_id", chatID).Msg("Failed to index summary")
		}
	}

	result := &Result{
		SessionID:       uuid.NewString(),
		Messages:        len(messages),
		FactsMerged:     stats.Added + stats.Updated,
		MilestonesAdded: milestonesAdded,
		Summary:         summary,
	}
	if err := m.store.LogSession(ctx, store.Session{
		ID:              result.SessionID,
		ChatID:          chatID,
		MessageCount:    result.Messages,
		FactsMerged:     result.FactsMerged,
		MilestonesAdded: result.MilestonesAdded,
		Summary:         summary,
	}); err != nil {
		return nil, err
	}

	if err := m.store.ClearBuffer(ctx, chatID); err != nil {
		return nil, fmt.Errorf("failed to clear buffer: %w", err)
	}

	if m.opts.BackupDir != "" {
		go m.backupSnapshot(chatID, base)
	}

	m.logger.Info().
		Str("chat_id", chatID).
		Str("session_id", result.SessionID).
		Int("messages", result.Messages).
		Int("facts_merged", result.FactsMerged).
		Int("milestones", result.MilestonesAdded).
		Msg("Consolidation complete")
	return result, nil
}

// Sweep consolidates every owner whose buffer has been idle past the
// inactivity threshold. Per-owner failures are logged and skipped so one
// bad owner cannot starve the rest.
func (m *Manager) Sweep(ctx context.Context) error {
	chatIDs, err := m.store.BufferChatIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list buffered owners: %w", err)
	}

	for _, chatID := range chatIDs {
		if err := ctx.Err(); err != nil {
			return err
		}

		last, err := m.store.LastBufferTime(ctx, chatID)
		if err != nil {
			m.logger.Error().Err(err).Str("chat_id", chatID).Msg("Failed to read buffer age")
			continue
		}
		if last.IsZero() || time.Since(last) < m.opts.InactivityThreshold {
			continue
		}

		if _, err := m.Consolidate(ctx, chatID); err != nil {
			m.logger.Error().Err(err).Str("chat_id", chatID).Msg("Sweep consolidation failed")
		}
	}
	return nil
}

// KnowledgeForPrompt renders the owner's knowledge base for prompt
// injection, applying the display-time trust filter.
func (m *Manager) KnowledgeForPrompt(ctx context.Context, chatID string) (string, error) {
	base, err := m.loadBase(ctx, chatID)
	if err != nil {
		return "", err
	}
	return knowledge.Format(base, m.opts.DisplayConfidenceFloor), nil
}

func (m *Manager) summarize(ctx context.Context, chatID, transcript string) string {
	if m.summarizer == nil {
		return ""
	}
	previous, err := m.store.LastSessionSummary(ctx, chatID)
	if err != nil {
		m.logger.Warn().Err(err).Str("chat_id", chatID).Msg("Failed to load previous summary")
		previous = ""
	}
	summary, err := m.summarizer.Summarize(ctx, previous, transcript)
	if err != nil {
		m.logger.Warn().Err(err).Str("chat_id", chatID).Msg("Summarization failed, continuing without")
		return ""
	}
	return summary
}

// loadBase deserializes the owner's knowledge snapshot. A corrupt
// snapshot degrades to an empty base rather than blocking consolidation.
func (m *Manager) loadBase(ctx context.Context, chatID string) (*knowledge.Base, error) {
	data, err := m.store.KnowledgeSnapshot(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return knowledge.Empty(), nil
	}

	var base knowledge.Base
	if err := json.Unmarshal(data, &base); err != nil {
		m.logger.Warn().Err(err).Str("chat_id", chatID).Msg("Corrupt knowledge snapshot, starting empty")
		return knowledge.Empty(), nil
	}
	return &base, nil
}

func (m *Manager) saveBase(ctx context.Context, chatID string, base *knowledge.Base) error {
	data, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("failed to serialize knowledge base: %w", err)
	}
	return m.store.SaveKnowledgeSnapshot(ctx, chatID, data)
}

func renderTranscript(messages []store.BufferMessage) string {
	var sb strings.Builder
	for _, msg := range messages {
		sb.WriteString(msg.Role)
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

func hasMilestone(base *knowledge.Base, title string) bool {
	for _, ms := range base.Milestones {
		if ms.Title == title {
			return true
		}
	}
	return false
}
