package ingestion_engine

import (
	"context"
	"fmt"
	"io"
	"strings"

	"code.sajari.com/docconv"

	"github.com/vectorflowhq/vectorflow/internal/core"
)

var _ core.PageExtractor = (*DocconvExtractor)(nil)

// DocconvExtractor implements core.PageExtractor using sajari/docconv.
type DocconvExtractor struct{}

func NewDocconvExtractor() *DocconvExtractor {
	return &DocconvExtractor{}
}

// ExtractPages converts a PDF to text and recovers page boundaries from the
// form feeds pdftotext emits between pages.
func (e *DocconvExtractor) ExtractPages(ctx context.Context, r io.Reader) ([]string, error) {
	res, err := docconv.Convert(r, "application/pdf", false)
	if err != nil {
		return nil, fmt.Errorf("docconv: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return splitFormFeed(res.Body), nil
}

// splitFormFeed splits extracted text into pages on form-feed separators.
// Blank pages are kept in place so page numbering stays stable; a trailing
// separator does not produce a phantom page.
func splitFormFeed(body string) []string {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	pages := strings.Split(body, "\f")
	if len(pages) > 1 && strings.TrimSpace(pages[len(pages)-1]) == "" {
		pages = pages[:len(pages)-1]
	}
	return pages
}
