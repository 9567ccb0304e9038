// Package pipeline turns raw text into stored, deduplicated, searchable
// memories: chunk, hash, filter duplicates, batch-embed, persist.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/selin/memoria/pkg/chunker"
	"github.com/selin/memoria/pkg/dedup"
	"github.com/selin/memoria/pkg/embedding"
	"github.com/selin/memoria/pkg/search"
	"github.com/selin/memoria/pkg/store"
)

// Pipeline wires the chunker, deduplicator, embedding provider and store
// into the ingestion path.
type Pipeline struct {
	store    *store.Store
	provider embedding.Provider
	hybrid   *search.Hybrid
	chunking chunker.Options
	logger   zerolog.Logger
}

// Config holds pipeline configuration.
type Config struct {
	Store    *store.Store
	Provider embedding.Provider
	Hybrid   *search.Hybrid
	Chunking chunker.Options
	Logger   zerolog.Logger
}

// New creates an ingestion pipeline.
func New(cfg Config) *Pipeline {
	if cfg.Chunking.TargetTokens <= 0 {
		cfg.Chunking = chunker.DefaultOptions()
	}
	return &Pipeline{
		store:    cfg.Store,
		provider: cfg.Provider,
		hybrid:   cfg.Hybrid,
		chunking: cfg.Chunking,
		logger:   cfg.Logger,
	}
}

// ProcessText chunks text, drops chunks whose content hash already exists
// in the active owner scope, batch-embeds the survivors and persists each
// as a memory row with a linked vector. Returns the number of new chunks
// stored. Empty and fully-duplicate input return 0 without error, making
// re-ingestion idempotent.
func (p *Pipeline) ProcessText(ctx context.Context, chatID, text, memoryType, namespace string, meta store.Metadata) (int, error) {
	if namespace == "" {
		namespace = store.NamespaceUser
	}
	if strings.TrimSpace(text) == "" {
		return 0, nil
	}

	chunks := chunker.Split(text, p.chunking)
	if len(chunks) == 0 {
		return 0, nil
	}

	hashes := make([]string, len(chunks))
	for i, c := range chunks {
		hashes[i] = dedup.Hash(c.Content)
	}

	existing, err := p.store.ActiveHashes(ctx, chatID, namespace, hashes)
	if err != nil {
		return 0, fmt.Errorf("failed to check existing hashes: %w", err)
	}

	var survivors []chunker.Chunk
	var survivorHashes []string
	seen := make(map[string]bool)
	for i, c := range chunks {
		h := hashes[i]
		if existing[h] || seen[h] {
			continue
		}
		seen[h] = true
		survivors = append(survivors, c)
		survivorHashes = append(survivorHashes, h)
	}
	if len(survivors) == 0 {
		p.logger.Debug().Str("chat_id", chatID).Msg("All chunks already ingested")
		return 0, nil
	}

	texts := make([]string, len(survivors))
	for i, c := range survivors {
		texts[i] = c.Content
	}

	// One batch per ingestion call; an embedding failure aborts the
	// whole batch so no half-embedded state is persisted.
	vectors, err := p.provider.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed chunks: %w", err)
	}

	stored := 0
	for i, c := range survivors {
		chunkMeta := meta
		chunkMeta.TokenCount = c.TokenCount
		chunkMeta.Oversized = c.Oversized

		memoryID, err := p.store.InsertMemory(ctx, store.Memory{
			ChatID:      chatID,
			Namespace:   namespace,
			Content:     c.Content,
			ContentHash: survivorHashes[i],
			MemoryType:  memoryType,
			Metadata:    chunkMeta,
		})
		if err != nil {
			return stored, fmt.Errorf("failed to insert chunk %d: %w", i, err)
		}

		if _, err := p.store.InsertVector(ctx, memoryID, vectors[i]); err != nil {
			// A concurrent ingestion won the race after the dedup check;
			// the chunk is already stored under the existing memory row.
			if errors.Is(err, store.ErrVectorExists) {
				continue
			}
			return stored, fmt.Errorf("failed to insert vector for chunk %d: %w", i, err)
		}
		stored++
	}

	p.logger.Info().
		Str("chat_id", chatID).
		Str("namespace", namespace).
		Int("chunks", len(chunks)).
		Int("stored", stored).
		Msg("Text ingested")

	return stored, nil
}

// ForgetByTopic runs a hybrid search for the topic and soft-deletes the
// hit set. Returns the number of memories forgotten.
func (p *Pipeline) ForgetByTopic(ctx context.Context, chatID, namespace, topic string, limit int) (int64, error) {
	if p.hybrid == nil {
		return 0, fmt.Errorf("hybrid search not configured")
	}

	results, err := p.hybrid.Search(ctx, chatID, namespace, topic, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to search topic: %w", err)
	}
	if len(results) == 0 {
		return 0, nil
	}

	ids := make([]int64, len(results))
	for i, r := range results {
		ids[i] = r.MemoryID
	}

	n, err := p.store.SoftDeleteMemories(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to forget memories: %w", err)
	}

	p.logger.Info().
		Str("chat_id", chatID).
		Str("topic", topic).
		Int64("forgotten", n).
		Msg("Memories forgotten by topic")

	return n, nil
}
