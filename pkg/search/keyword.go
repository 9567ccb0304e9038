package search

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/selin/memoria/pkg/store"
)

// minTokenLength drops noise terms before they reach the FTS engine.
const minTokenLength = 2

// KeywordResult is one lexical hit, best-first by bm25.
type KeywordResult struct {
	MemoryID  int64
	BM25Score float64
}

// SanitizeQuery strips characters with special meaning to the FTS5 query
// syntax, drops short tokens, and AND-joins the rest as quoted terms. An
// empty result means the query cannot match anything meaningful.
func SanitizeQuery(query string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, query)

	var terms []string
	for _, tok := range strings.Fields(cleaned) {
		if utf8.RuneCountInString(tok) < minTokenLength {
			continue
		}
		terms = append(terms, `"`+tok+`"`)
	}
	return strings.Join(terms, " AND ")
}

// KeywordSearch runs a full-text query with bm25 ranking, filtered to
// active rows in the owner scope. A query that is empty after
// sanitization short-circuits to no results.
func KeywordSearch(ctx context.Context, st *store.Store, query, chatID, namespace string, limit int) ([]KeywordResult, error) {
	match := SanitizeQuery(query)
	if match == "" {
		return nil, nil
	}

	rows, err := st.DB().QueryContext(ctx, `
		SELECT m.id, bm25(memories_fts) AS score
		FROM memories_fts
		JOIN memories m ON m.id = memories_fts.rowid
		WHERE memories_fts MATCH ?
		  AND m.chat_id = ? AND m.namespace = ? AND m.is_active = 1
		ORDER BY score
		LIMIT ?`,
		match, chatID, namespace, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	defer rows.Close()

	var results []KeywordResult
	for rows.Next() {
		var r KeywordResult
		if err := rows.Scan(&r.MemoryID, &r.BM25Score); err != nil {
			return nil, err
		}
		// bm25 scores are negative; flip so larger is better.
		r.BM25Score = -r.BM25Score
		results = append(results, r)
	}
	return results, rows.Err()
}
