package ingestion_engine

import (
	"strings"

	"github.com/vectorflowhq/vectorflow/internal/models"
)

// SplitPages splits page texts into passages of roughly targetSize characters
// with overlap characters shared between consecutive passages. Overlap never
// crosses a page boundary, so the first passage of a page starts at its
// beginning. Output is deterministic and order-preserving.
func SplitPages(pages []string, targetSize, overlap int) []models.Chunk {
	var out []models.Chunk
	idx := 0
	for pageNo, page := range pages {
		if strings.TrimSpace(page) == "" {
			continue
		}
		for _, text := range splitText(page, targetSize, overlap) {
			out = append(out, models.Chunk{
				Text:       text,
				SourcePage: pageNo + 1,
				Index:      idx,
			})
			idx++
		}
	}
	return out
}

// splitText windows text into segments of at most targetSize runes, each
// starting overlap runes before the previous segment's end.
func splitText(text string, targetSize, overlap int) []string {
	runes := []rune(text)
	if len(runes) == 0 || targetSize <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= targetSize {
		overlap = 0
	}

	var segs []string
	start := 0
	for {
		end := start + targetSize
		if end >= len(runes) {
			segs = append(segs, string(runes[start:]))
			return segs
		}
		segs = append(segs, string(runes[start:end]))
		start = end - overlap
	}
}

// ValidateChunks drops passages whose trimmed text is shorter than
// MinChunkSize and re-splits any passage longer than MaxChunkSize using the
// same windowing with (MaxChunkSize, ResplitOverlap). Sub-chunks replace the
// original in place; if re-splitting yields nothing the original oversized
// passage is kept rather than losing content. Indexes are reassigned so the
// result is densely numbered.
func ValidateChunks(chunks []models.Chunk, cfg *PipelineConfig) []models.Chunk {
	var out []models.Chunk
	for _, c := range chunks {
		trimmed := strings.TrimSpace(c.Text)
		n := len([]rune(trimmed))
		switch {
		case n < cfg.MinChunkSize:
			continue
		case n > cfg.MaxChunkSize:
			subs := splitText(trimmed, cfg.MaxChunkSize, cfg.ResplitOverlap)
			if len(subs) == 0 {
				out = append(out, models.Chunk{Text: trimmed, SourcePage: c.SourcePage})
				continue
			}
			for _, s := range subs {
				out = append(out, models.Chunk{Text: s, SourcePage: c.SourcePage})
			}
		default:
			out = append(out, models.Chunk{Text: trimmed, SourcePage: c.SourcePage})
		}
	}
	for i := range out {
		out[i].Index = i
	}
	return out
}
