package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_FitsInOneChunk(t *testing.T) {
	content := "function foo() { return bar(); }"
	chunks := Split(content, EstimateTokens(content))
	require.Len(t, chunks, 1)
	assert.Equal(t, content, chunks[0].Text)
}

func TestSplit_OneTokenOverBudgetSplits(t *testing.T) {
	content := strings.Repeat("word ", 200)
	budget := EstimateTokens(content) - 1
	chunks := Split(content, budget)
	assert.Greater(t, len(chunks), 1)
}

func TestSplit_CoversEntireContent(t *testing.T) {
	content := strings.Repeat("alpha beta gamma delta ", 500)
	chunks := Split(content, 50)
	require.NotEmpty(t, chunks)
	assert.Equal(t, 0, chunks[0].StartPos)
	assert.Equal(t, len(content), chunks[len(chunks)-1].EndPos)
	for i := 1; i < len(chunks); i++ {
		// Consecutive chunks overlap or are contiguous, never leave a gap.
		assert.LessOrEqual(t, chunks[i].StartPos, chunks[i-1].EndPos)
	}
}

func TestSplit_EmptyContent(t *testing.T) {
	chunks := Split("", 100)
	require.Len(t, chunks, 1)
	assert.Equal(t, "", chunks[0].Text)
}

func TestEstimateTokens_PunctuationAddsWeight(t *testing.T) {
	plain := EstimateTokens("foo bar baz")
	punctuated := EstimateTokens("foo.bar().baz[0]")
	// One word with six non-word runes: 1 + 6/4 = 2 tokens.
	assert.Greater(t, punctuated, 1)
	assert.GreaterOrEqual(t, plain, 3)
}
