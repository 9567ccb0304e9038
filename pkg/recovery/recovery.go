// Package recovery rebuilds an owner's knowledge base after data loss.
// On a cold start it pulls archived notes from an external document
// service and restructures them through the extraction path. Recovery
// is strictly best-effort: any failure yields nothing rather than a
// partially trusted knowledge base.
package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/selin/memoria/pkg/knowledge"
	"github.com/selin/memoria/pkg/store"
)

// DocSearch finds archived documents about an owner.
type DocSearch interface {
	SearchDocs(ctx context.Context, query string, limit int) ([]string, error)
}

// HTTPDocSearch queries a document search service over HTTP.
type HTTPDocSearch struct {
	baseURL string
	client  *http.Client
}

// NewHTTPDocSearch creates a client for the document search service.
func NewHTTPDocSearch(baseURL string, timeout time.Duration) *HTTPDocSearch {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPDocSearch{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// SearchDocs runs a query against the service and returns the document
// contents.
func (h *HTTPDocSearch) SearchDocs(ctx context.Context, query string, limit int) ([]string, error) {
	u := h.baseURL + "/search?q=" + url.QueryEscape(query) + "&limit=" + strconv.Itoa(limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("document search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("document search returned status %d", resp.StatusCode)
	}

	var payload struct {
		Results []struct {
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	contents := make([]string, 0, len(payload.Results))
	for _, r := range payload.Results {
		if r.Content != "" {
			contents = append(contents, r.Content)
		}
	}
	return contents, nil
}

// Options tunes recovery behavior.
type Options struct {
	DocLimit             int
	MergeConfidenceFloor float64
}

// Recoverer detects cold starts and attempts reconstruction.
type Recoverer struct {
	store     *store.Store
	docs      DocSearch
	extractor knowledge.Extractor
	opts      Options
	logger    zerolog.Logger
}

// New creates a recoverer.
func New(st *store.Store, docs DocSearch, extractor knowledge.Extractor, opts Options, logger zerolog.Logger) *Recoverer {
	if opts.DocLimit <= 0 {
		opts.DocLimit = 20
	}
	if opts.MergeConfidenceFloor <= 0 {
		opts.MergeConfidenceFloor = knowledge.DefaultMergeConfidenceFloor
	}
	return &Recoverer{store: st, docs: docs, extractor: extractor, opts: opts, logger: logger}
}

// IsColdStart reports whether the owner has neither active memories nor
// a knowledge snapshot.
func (r *Recoverer) IsColdStart(ctx context.Context, chatID string) (bool, error) {
	stats, err := r.store.MemoryStats(ctx, chatID)
	if err != nil {
		return false, fmt.Errorf("failed to read memory stats: %w", err)
	}
	if stats.Active > 0 {
		return false, nil
	}

	snapshot, err := r.store.KnowledgeSnapshot(ctx, chatID)
	if err != nil {
		return false, err
	}
	return snapshot == nil, nil
}

// Recover pulls archived notes about the owner, restructures them
// through extraction, and persists the result as the owner's knowledge
// snapshot. Returns nil when anything fails or nothing was found; a
// half-recovered knowledge base is worse than none.
func (r *Recoverer) Recover(ctx context.Context, chatID string) *knowledge.Base {
	docs, err := r.docs.SearchDocs(ctx, chatID, r.opts.DocLimit)
	if err != nil {
		r.logger.Warn().Err(err).Str("chat_id", chatID).Msg("Recovery search failed")
		return nil
	}
	if len(docs) == 0 {
		r.logger.Info().Str("chat_id", chatID).Msg("No archived documents to recover from")
		return nil
	}

	ex, err := r.extractor.Extract(ctx, strings.Join(docs, "\n\n"), nil)
	if err != nil {
		r.logger.Warn().Err(err).Str("chat_id", chatID).Msg("Recovery extraction failed")
		return nil
	}

	base := knowledge.Empty()
	stats := knowledge.Merge(base, knowledge.Gate(ex, r.opts.MergeConfidenceFloor))
	if stats.Added == 0 {
		r.logger.Info().Str("chat_id", chatID).Msg("Recovered documents held no trusted facts")
		return nil
	}

	data, err := json.Marshal(base)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Failed to serialize recovered knowledge")
		return nil
	}
	if err := r.store.SaveKnowledgeSnapshot(ctx, chatID, data); err != nil {
		r.logger.Warn().Err(err).Str("chat_id", chatID).Msg("Failed to persist recovered knowledge")
		return nil
	}

	r.logger.Info().
		Str("chat_id", chatID).
		Int("documents", len(docs)).
		Int("facts", stats.Added).
		Msg("Knowledge base recovered")
	return base
}
