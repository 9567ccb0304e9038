package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_Empty(t *testing.T) {
	assert.Nil(t, Split("", DefaultOptions()))
	assert.Nil(t, Split("   \n\t  ", DefaultOptions()))
}

func TestSplit_ShortText(t *testing.T) {
	chunks := Split("Just a short note.", DefaultOptions())
	require.Len(t, chunks, 1)
	assert.Equal(t, "Just a short note.", chunks[0].Content)
	assert.False(t, chunks[0].Oversized)
	assert.Greater(t, chunks[0].TokenCount, 0)
}

func TestSplit_SizeBound(t *testing.T) {
	// Long text split across paragraphs and sentences.
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("The quick brown fox jumps over the lazy dog near the riverbank. ")
		if i%5 == 4 {
			b.WriteString("\n\n")
		}
	}

	opts := Options{TargetTokens: 50, OverlapTokens: 10}
	chunks := Split(b.String(), opts)
	require.Greater(t, len(chunks), 1)

	for _, c := range chunks {
		assert.NotEmpty(t, c.Content)
		if !c.Oversized {
			assert.LessOrEqual(t, c.TokenCount, opts.TargetTokens,
				"non-oversized chunk must respect the target budget")
		}
	}
}

func TestSplit_Overlap(t *testing.T) {
	// Eight long words so the text exceeds a 20-token budget.
	words := []string{
		"hippopotamus", "extraordinary", "comprehension", "fundamentally",
		"architecture", "biotechnology", "accommodation", "international",
	}
	text := strings.Join(words, " ")

	chunks := Split(text, Options{TargetTokens: 20, OverlapTokens: 10})
	require.GreaterOrEqual(t, len(chunks), 2)

	for i := 0; i < len(chunks)-1; i++ {
		prev := strings.Fields(chunks[i].Content)
		next := strings.Fields(chunks[i+1].Content)
		require.NotEmpty(t, prev)
		require.NotEmpty(t, next)

		// At least one trailing word of chunk N leads chunk N+1.
		found := false
		for _, w := range next {
			if w == prev[len(prev)-1] || (len(prev) > 1 && w == prev[len(prev)-2]) {
				found = true
				break
			}
		}
		assert.True(t, found, "chunk %d should share trailing words with chunk %d", i, i+1)
	}
}

func TestSplit_OverlapYieldsToSizeBudget(t *testing.T) {
	// Two 8-token sentences followed by an 18-token one. The first chunk
	// closes at 16 tokens; a full 10-token overlap carry plus the long
	// sentence would land at 26 tokens, so the carry must be shed.
	text := strings.Repeat("a", 30) + ". " + strings.Repeat("b", 30) + ". " + strings.Repeat("c", 72)

	opts := Options{TargetTokens: 20, OverlapTokens: 10}
	chunks := Split(text, opts)
	require.GreaterOrEqual(t, len(chunks), 2)

	for i, c := range chunks {
		require.False(t, c.Oversized, "chunk %d: no piece here exceeds the budget on its own", i)
		assert.LessOrEqual(t, c.TokenCount, opts.TargetTokens,
			"chunk %d must respect the target budget even after an overlap carry", i)
	}
	assert.Contains(t, chunks[len(chunks)-1].Content, "ccc")
}

func TestSplit_OversizedPiece(t *testing.T) {
	// A single unbreakable token far over the budget.
	long := strings.Repeat("x", 400)
	chunks := Split("short intro. "+long+" short outro.", Options{TargetTokens: 20, OverlapTokens: 0})

	var oversized int
	for _, c := range chunks {
		if c.Oversized {
			oversized++
			assert.Contains(t, c.Content, "xxxx")
		}
	}
	assert.Equal(t, 1, oversized, "the unbreakable piece should be emitted whole and flagged")
}

func TestSplit_NoEmptyChunks(t *testing.T) {
	text := "a\n\n\n\nb\n\n\n\nc"
	for _, c := range Split(text, Options{TargetTokens: 1, OverlapTokens: 0}) {
		assert.NotEmpty(t, strings.TrimSpace(c.Content))
	}
}

func TestSplit_PrefersCoarseSeparators(t *testing.T) {
	para1 := strings.Repeat("alpha beta gamma delta. ", 4)
	para2 := strings.Repeat("epsilon zeta eta theta. ", 4)
	chunks := Split(para1+"\n\n"+para2, Options{TargetTokens: 30, OverlapTokens: 0})

	require.GreaterOrEqual(t, len(chunks), 2)
	// Paragraph boundary should separate the two vocabularies.
	assert.NotContains(t, chunks[0].Content, "epsilon")
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 2, EstimateTokens("abcdefgh"))
}
