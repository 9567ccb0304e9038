package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/selin/memoria/pkg/embedding"
	"github.com/selin/memoria/pkg/store"
)

// Reference fusion defaults. Tuning values, not validated constants:
// override through Options.
const (
	DefaultVectorWeight  = 0.7
	DefaultKeywordWeight = 0.3
	DefaultRRFK          = 60
	DefaultLimit         = 10
)

// Options configures hybrid search fusion.
type Options struct {
	VectorWeight  float64
	KeywordWeight float64
	RRFK          int
}

// DefaultOptions returns the reference fusion parameters.
func DefaultOptions() Options {
	return Options{
		VectorWeight:  DefaultVectorWeight,
		KeywordWeight: DefaultKeywordWeight,
		RRFK:          DefaultRRFK,
	}
}

// Result is a hydrated hybrid search hit.
type Result struct {
	MemoryID   int64          `json:"memory_id"`
	Score      float64        `json:"score"`
	Content    string         `json:"content"`
	MemoryType string         `json:"memory_type"`
	Metadata   store.Metadata `json:"metadata"`
}

// Hybrid runs both index backends concurrently and fuses their ranked id
// lists with weighted Reciprocal Rank Fusion.
type Hybrid struct {
	store    *store.Store
	provider embedding.Provider
	opts     Options
	logger   zerolog.Logger
}

// NewHybrid creates a hybrid searcher over the given store and embedding
// provider.
func NewHybrid(st *store.Store, provider embedding.Provider, opts Options, logger zerolog.Logger) *Hybrid {
	if opts.VectorWeight <= 0 && opts.KeywordWeight <= 0 {
		opts = DefaultOptions()
	}
	if opts.RRFK <= 0 {
		opts.RRFK = DefaultRRFK
	}
	return &Hybrid{store: st, provider: provider, opts: opts, logger: logger}
}

// Search fuses vector and keyword results for the owner scope and
// hydrates the top-limit ids from the store. Ids that no longer resolve
// (racing with a concurrent soft-delete) are skipped silently.
func (h *Hybrid) Search(ctx context.Context, chatID, namespace, query string, limit int) ([]Result, error) {
	if query == "" {
		return []Result{}, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	// Oversample both backends so fusion has room to disagree.
	oversample := limit * 2

	var vectorResults []VectorResult
	var keywordResults []KeywordResult
	var vectorErr, keywordErr error

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		var queryVec []float32
		queryVec, vectorErr = h.provider.EmbedQuery(ctx, query)
		if vectorErr != nil {
			return
		}
		vectorResults, vectorErr = VectorSearch(ctx, h.store, queryVec, chatID, namespace, oversample)
	}()

	go func() {
		defer wg.Done()
		keywordResults, keywordErr = KeywordSearch(ctx, h.store, query, chatID, namespace, oversample)
	}()

	wg.Wait()

	if vectorErr != nil {
		h.logger.Warn().Err(vectorErr).Msg("Vector search failed, using keyword only")
	}
	if keywordErr != nil {
		h.logger.Warn().Err(keywordErr).Msg("Keyword search failed, using vector only")
	}
	if vectorErr != nil && keywordErr != nil {
		return nil, fmt.Errorf("both search backends failed: %w", errors.Join(vectorErr, keywordErr))
	}

	vectorIDs := make([]int64, len(vectorResults))
	for i, r := range vectorResults {
		vectorIDs[i] = r.MemoryID
	}
	keywordIDs := make([]int64, len(keywordResults))
	for i, r := range keywordResults {
		keywordIDs[i] = r.MemoryID
	}

	fused := Fuse(vectorIDs, keywordIDs, h.opts)
	if len(fused) > limit {
		fused = fused[:limit]
	}

	return h.hydrate(ctx, chatID, namespace, fused)
}

// FusedID is an id with its accumulated RRF score.
type FusedID struct {
	MemoryID int64
	Score    float64
}

// Fuse merges ranked id lists with weighted Reciprocal Rank Fusion:
// each id accumulates weight/(k+rank) per list it appears in, so
// well-ranked presence in both lists dominates presence in one.
func Fuse(vectorIDs, keywordIDs []int64, opts Options) []FusedID {
	scores := make(map[int64]float64)

	accumulate := func(ids []int64, weight float64) {
		for i, id := range ids {
			rank := i + 1
			scores[id] += weight / float64(opts.RRFK+rank)
		}
	}
	accumulate(vectorIDs, opts.VectorWeight)
	accumulate(keywordIDs, opts.KeywordWeight)

	fused := make([]FusedID, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, FusedID{MemoryID: id, Score: score})
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].MemoryID < fused[j].MemoryID
	})
	return fused
}

// hydrate loads surviving ids from the store, re-applying the owner and
// active filters.
func (h *Hybrid) hydrate(ctx context.Context, chatID, namespace string, fused []FusedID) ([]Result, error) {
	results := make([]Result, 0, len(fused))
	for _, f := range fused {
		var content, memType string
		var metaJSON sql.NullString
		err := h.store.DB().QueryRowContext(ctx, `
			SELECT content, memory_type, metadata FROM memories
			WHERE id = ? AND chat_id = ? AND namespace = ? AND is_active = 1`,
			f.MemoryID, chatID, namespace,
		).Scan(&content, &memType, &metaJSON)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to hydrate memory %d: %w", f.MemoryID, err)
		}

		var meta store.Metadata
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &meta); err != nil {
				h.logger.Warn().Err(err).Int64("memory_id", f.MemoryID).Msg("Failed to decode metadata")
			}
		}

		results = append(results, Result{
			MemoryID:   f.MemoryID,
			Score:      f.Score,
			Content:    content,
			MemoryType: memType,
			Metadata:   meta,
		})
	}
	return results, nil
}
