// Package chunker splits page-tagged document text into overlapping
// fixed-size passages. Chunking is page-local so page attribution stays
// exact; a passage never spans two pages.
package chunker

import (
	"fmt"
	"strings"

	"docqa/internal/models"
)

type Chunker struct {
	size    int
	overlap int
}

// New validates the chunking parameters. The overlap must be smaller than
// the chunk size, and both must be positive.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", models.ErrInvalidConfiguration, size)
	}
	if overlap <= 0 {
		return nil, fmt.Errorf("%w: chunk overlap must be positive, got %d", models.ErrInvalidConfiguration, overlap)
	}
	if overlap >= size {
		return nil, fmt.Errorf("%w: chunk overlap (%d) must be smaller than chunk size (%d)",
			models.ErrInvalidConfiguration, overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Split produces the ordered passage sequence for one document. Each
// adjacent pair of passages within a page shares exactly the configured
// overlap; the last passage of a page may be shorter than the chunk size.
// Whitespace-only pages yield no passages. The output is deterministic.
func (c *Chunker) Split(documentID string, pages []models.Page) []models.Passage {
	var passages []models.Passage
	chunkIndex := 0
	for _, page := range pages {
		for _, span := range c.windows(page.Text) {
			passages = append(passages, models.Passage{
				Text:           page.Text[span.start:span.end],
				SourceDocument: documentID,
				PageNumber:     page.Number,
				ChunkIndex:     chunkIndex,
				SpanStart:      span.start,
				SpanEnd:        span.end,
			})
			chunkIndex++
		}
	}
	return passages
}

type span struct {
	start, end int
}

// windows computes the chunk boundaries for one page. The page text is
// covered without gaps: window i starts at i*(size-overlap) and ends at
// start+size, clipped to the page length.
func (c *Chunker) windows(text string) []span {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	step := c.size - c.overlap
	var spans []span
	for start := 0; ; start += step {
		end := start + c.size
		if end > len(text) {
			end = len(text)
		}
		spans = append(spans, span{start: start, end: end})
		if end == len(text) {
			break
		}
	}
	return spans
}
