package ingestion_engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTextWindowsWithOverlap(t *testing.T) {
	text := strings.Repeat("a", 1300)

	segs := splitText(text, 600, 100)

	require.Len(t, segs, 3)
	assert.Len(t, segs[0], 600)
	assert.Len(t, segs[1], 600)
	assert.Len(t, segs[2], 300)
}

func TestSplitTextShortInputSingleSegment(t *testing.T) {
	segs := splitText("short text", 600, 100)
	require.Len(t, segs, 1)
	assert.Equal(t, "short text", segs[0])
}

func TestSplitTextEmptyInput(t *testing.T) {
	assert.Nil(t, splitText("", 600, 100))
}

func TestSplitTextOverlapRelation(t *testing.T) {
	// Passage i+1 must begin exactly overlap runes before passage i ends.
	var sb strings.Builder
	for i := 0; i < 2000; i++ {
		sb.WriteByte(byte('a' + i%26))
	}
	text := sb.String()

	segs := splitText(text, 600, 100)
	require.Greater(t, len(segs), 1)

	for i := 1; i < len(segs); i++ {
		prev := segs[i-1]
		tail := prev[len(prev)-100:]
		assert.True(t, strings.HasPrefix(segs[i], tail), "segment %d does not start with previous tail", i)
	}
}

func TestSplitPagesDeterministicAndOrdered(t *testing.T) {
	pages := []string{
		strings.Repeat("x", 700),
		strings.Repeat("y", 50),
	}

	first := SplitPages(pages, 600, 100)
	second := SplitPages(pages, 600, 100)
	require.Equal(t, first, second)

	require.Len(t, first, 3)
	assert.Equal(t, 1, first[0].SourcePage)
	assert.Equal(t, 1, first[1].SourcePage)
	assert.Equal(t, 2, first[2].SourcePage)
	for i, c := range first {
		assert.Equal(t, i, c.Index)
		assert.NotEmpty(t, c.Text)
	}
}

func TestSplitPagesOverlapDoesNotCrossPageBoundary(t *testing.T) {
	pages := []string{strings.Repeat("x", 600), strings.Repeat("y", 600)}

	chunks := SplitPages(pages, 600, 100)

	require.Len(t, chunks, 2)
	assert.NotContains(t, chunks[1].Text, "x")
}

func TestSplitPagesSkipsBlankPages(t *testing.T) {
	chunks := SplitPages([]string{"", "  \n ", "real content here"}, 600, 100)
	require.Len(t, chunks, 1)
	assert.Equal(t, 3, chunks[0].SourcePage)
}

func TestValidateChunksDropsNoise(t *testing.T) {
	cfg := DefaultPipelineConfig()
	chunks := SplitPages([]string{"ok", "this one is long enough to keep"}, 600, 100)

	valid := ValidateChunks(chunks, cfg)

	require.Len(t, valid, 1)
	assert.Equal(t, "this one is long enough to keep", valid[0].Text)
	assert.Equal(t, 0, valid[0].Index)
}

func TestValidateChunksResplitsOversized(t *testing.T) {
	cfg := DefaultPipelineConfig()
	oversized := strings.Repeat("z", 2000)
	chunks := SplitPages([]string{oversized}, 4000, 0) // one oversized chunk

	valid := ValidateChunks(chunks, cfg)

	require.Len(t, valid, 2)
	for _, c := range valid {
		n := len([]rune(strings.TrimSpace(c.Text)))
		assert.GreaterOrEqual(t, n, cfg.MinChunkSize)
		assert.LessOrEqual(t, n, cfg.MaxChunkSize)
		assert.Equal(t, 1, c.SourcePage)
	}
	assert.Equal(t, 0, valid[0].Index)
	assert.Equal(t, 1, valid[1].Index)
}

func TestValidateChunksKeepsChunksUnderCeiling(t *testing.T) {
	cfg := DefaultPipelineConfig()
	text := strings.Repeat("k", 1500)

	valid := ValidateChunks(SplitPages([]string{text}, 2000, 0), cfg)

	// Exactly at the ceiling: never re-split.
	require.Len(t, valid, 1)
	assert.Len(t, valid[0].Text, 1500)
}

func TestValidateChunksBoundsHold(t *testing.T) {
	cfg := DefaultPipelineConfig()
	pages := []string{
		strings.Repeat("a", 5000),
		"tiny",
		strings.Repeat("b", 800) + " " + strings.Repeat("c", 900),
	}

	valid := ValidateChunks(SplitPages(pages, 600, 100), cfg)
	require.NotEmpty(t, valid)

	for _, c := range valid {
		n := len([]rune(strings.TrimSpace(c.Text)))
		assert.GreaterOrEqual(t, n, cfg.MinChunkSize)
		assert.LessOrEqual(t, n, cfg.MaxChunkSize)
	}
}
