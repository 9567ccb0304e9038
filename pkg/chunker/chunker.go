// Package chunker splits raw text into bounded-size, overlapping chunks
// for embedding and indexing.
package chunker

import (
	"strings"
	"unicode/utf8"
)

const (
	// DefaultTargetTokens is the token budget per chunk.
	DefaultTargetTokens = 400
	// DefaultOverlapTokens is the token budget carried between chunks.
	DefaultOverlapTokens = 50
)

// separators is ordered coarsest-first. Splitting always prefers the
// coarsest separator that yields pieces within the target budget.
var separators = []string{"\n\n", "\n", ". ", "! ", "? ", "; ", ", ", " "}

// Options configures chunking behavior.
type Options struct {
	TargetTokens  int
	OverlapTokens int
}

// DefaultOptions returns default chunking options.
func DefaultOptions() Options {
	return Options{
		TargetTokens:  DefaultTargetTokens,
		OverlapTokens: DefaultOverlapTokens,
	}
}

// Chunk is a bounded-size slice of source text.
type Chunk struct {
	Content    string
	TokenCount int
	Oversized  bool
}

// EstimateTokens approximates the token count of text. One token per
// four runes, matching the ratio used by the embedding service.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// Split breaks text into chunks within the target token budget, carrying
// a trailing overlap from each chunk into the next. A single piece that
// exceeds the budget on its own is emitted whole and flagged oversized.
func Split(text string, opts Options) []Chunk {
	if opts.TargetTokens <= 0 {
		opts.TargetTokens = DefaultTargetTokens
	}
	if opts.OverlapTokens < 0 {
		opts.OverlapTokens = 0
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if EstimateTokens(text) <= opts.TargetTokens {
		return []Chunk{{Content: text, TokenCount: EstimateTokens(text)}}
	}

	pieces := splitRecursive(text, 0, opts.TargetTokens)
	return assemble(pieces, opts)
}

// splitRecursive splits text with the coarsest separator whose pieces fit
// the budget, recursing into finer separators for pieces that do not.
func splitRecursive(text string, sepIndex, target int) []string {
	if sepIndex >= len(separators) {
		// Finest separator exhausted; the piece stays whole.
		return []string{text}
	}

	sep := separators[sepIndex]
	parts := splitKeepSeparator(text, sep)
	if len(parts) == 1 {
		return splitRecursive(text, sepIndex+1, target)
	}

	var pieces []string
	for _, part := range parts {
		if part == "" {
			continue
		}
		if EstimateTokens(part) <= target {
			pieces = append(pieces, part)
		} else {
			pieces = append(pieces, splitRecursive(part, sepIndex+1, target)...)
		}
	}
	return pieces
}

// splitKeepSeparator splits on sep, keeping the separator attached to the
// preceding piece so rejoining chunks preserves the original text shape.
func splitKeepSeparator(text, sep string) []string {
	raw := strings.Split(text, sep)
	parts := make([]string, 0, len(raw))
	for i, r := range raw {
		if i < len(raw)-1 {
			r += sep
		}
		if r != "" {
			parts = append(parts, r)
		}
	}
	return parts
}

// assemble accumulates pieces into chunks up to the target budget. When a
// chunk closes, trailing pieces are walked backward until the overlap
// budget is met and carried into the next chunk.
func assemble(pieces []string, opts Options) []Chunk {
	var chunks []Chunk
	var current []string
	currentTokens := 0

	flush := func() {
		content := strings.TrimSpace(strings.Join(current, ""))
		if content == "" {
			return
		}
		chunks = append(chunks, Chunk{
			Content:    content,
			TokenCount: EstimateTokens(content),
		})
	}

	for _, piece := range pieces {
		tokens := EstimateTokens(piece)

		// An over-budget piece becomes its own oversized chunk.
		if tokens > opts.TargetTokens {
			flush()
			current = nil
			currentTokens = 0
			content := strings.TrimSpace(piece)
			if content != "" {
				chunks = append(chunks, Chunk{
					Content:    content,
					TokenCount: EstimateTokens(content),
					Oversized:  true,
				})
			}
			continue
		}

		if currentTokens+tokens > opts.TargetTokens && len(current) > 0 {
			flush()
			current = overlapTail(current, opts.OverlapTokens)
			currentTokens = 0
			for _, p := range current {
				currentTokens += EstimateTokens(p)
			}
			// The overlap yields to the size budget: shed leading tail
			// pieces until the piece that closed the chunk fits.
			for len(current) > 0 && currentTokens+tokens > opts.TargetTokens {
				currentTokens -= EstimateTokens(current[0])
				current = current[1:]
			}
		}

		current = append(current, piece)
		currentTokens += tokens
	}
	flush()

	return chunks
}

// overlapTail walks backward over pieces until the overlap token budget
// is met, returning the trailing run to seed the next chunk.
func overlapTail(pieces []string, budget int) []string {
	if budget <= 0 {
		return nil
	}
	tokens := 0
	i := len(pieces)
	for i > 0 {
		t := EstimateTokens(pieces[i-1])
		if tokens+t > budget {
			break
		}
		tokens += t
		i--
	}
	if i == len(pieces) {
		return nil
	}
	tail := make([]string, len(pieces)-i)
	copy(tail, pieces[i:])
	return tail
}
