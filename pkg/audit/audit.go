// Package audit answers two operator questions: which documents are
// indexed, and can each one actually be retrieved. Verification runs
// the production search path, not a bookkeeping check.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/selin/memoria/pkg/search"
	"github.com/selin/memoria/pkg/store"
)

// probeWords is how many leading words of a stored chunk feed the
// verification query.
const probeWords = 8

// DocumentRecord is one indexed document in the inventory.
type DocumentRecord struct {
	Filename     string    `json:"filename"`
	Chunks       int       `json:"chunks"`
	LastIngested time.Time `json:"last_ingested"`
}

// VerifyResult reports whether a document was reachable through search.
type VerifyResult struct {
	Filename string `json:"filename"`
	Probe    string `json:"probe"`
	Found    bool   `json:"found"`
	Rank     int    `json:"rank"` // 1-based, 0 when not found
}

// Auditor inspects the document index.
type Auditor struct {
	store  *store.Store
	hybrid *search.Hybrid
	logger zerolog.Logger
}

// New creates an auditor over the store and the live search path.
func New(st *store.Store, hybrid *search.Hybrid, logger zerolog.Logger) *Auditor {
	return &Auditor{store: st, hybrid: hybrid, logger: logger}
}

// Inventory lists active documents in an owner's global namespace with
// chunk counts and last ingestion time.
func (a *Auditor) Inventory(ctx context.Context, chatID string) ([]DocumentRecord, error) {
	rows, err := a.store.DB().QueryContext(ctx, `
		SELECT json_extract(metadata, '$.filename') AS filename, COUNT(*), MAX(created_at)
		FROM memories
		WHERE chat_id = ? AND namespace = ? AND is_active = 1
			AND json_extract(metadata, '$.filename') IS NOT NULL
		GROUP BY filename
		ORDER BY filename`,
		chatID, store.NamespaceGlobal)
	if err != nil {
		return nil, fmt.Errorf("failed to build inventory: %w", err)
	}
	defer rows.Close()

	var records []DocumentRecord
	for rows.Next() {
		var r DocumentRecord
		var lastIngested int64
		if err := rows.Scan(&r.Filename, &r.Chunks, &lastIngested); err != nil {
			return nil, err
		}
		r.LastIngested = time.Unix(lastIngested, 0)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Verify checks that one document is reachable: it takes the leading
// words of the document's first chunk as a probe query, runs the hybrid
// searcher, and looks for the document among the hits.
func (a *Auditor) Verify(ctx context.Context, chatID, filename string) (*VerifyResult, error) {
	var content string
	err := a.store.DB().QueryRowContext(ctx, `
		SELECT content FROM memories
		WHERE chat_id = ? AND namespace = ? AND is_active = 1
			AND json_extract(metadata, '$.filename') = ?
		ORDER BY id LIMIT 1`,
		chatID, store.NamespaceGlobal, filename).Scan(&content)
	if err != nil {
		return nil, fmt.Errorf("no active chunks for %s: %w", filename, err)
	}

	probe := probeFromContent(content)
	results, err := a.hybrid.Search(ctx, chatID, store.NamespaceGlobal, probe, 10)
	if err != nil {
		return nil, fmt.Errorf("verification search failed: %w", err)
	}

	res := &VerifyResult{Filename: filename, Probe: probe}
	for i, hit := range results {
		if hit.Metadata.Filename == filename {
			res.Found = true
			res.Rank = i + 1
			break
		}
	}
	return res, nil
}

// VerifyAll verifies every document in the inventory. Per-document
// failures are reported in the results, not raised, so one broken
// document does not hide the state of the rest.
func (a *Auditor) VerifyAll(ctx context.Context, chatID string) ([]VerifyResult, error) {
	records, err := a.Inventory(ctx, chatID)
	if err != nil {
		return nil, err
	}

	results := make([]VerifyResult, 0, len(records))
	for _, rec := range records {
		res, err := a.Verify(ctx, chatID, rec.Filename)
		if err != nil {
			a.logger.Error().Err(err).Str("filename", rec.Filename).Msg("Verification failed")
			results = append(results, VerifyResult{Filename: rec.Filename})
			continue
		}
		results = append(results, *res)
	}
	return results, nil
}

func probeFromContent(content string) string {
	words := strings.Fields(content)
	if len(words) > probeWords {
		words = words[:probeWords]
	}
	return strings.Join(words, " ")
}
