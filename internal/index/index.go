// Package index persists (vector, passage, metadata) entries and answers
// nearest-neighbor queries. Two backends implement the contract: an
// embedded chromem-go store addressed by a filesystem path, and a
// Postgres/pgvector store addressed by a DSN.
package index

import (
	"context"

	"docqa/internal/models"
)

// Index is the vector storage contract. Add is atomic with respect to
// concurrent Add/Search/Clear calls; Search during a Clear observes
// either the pre-clear or the post-clear state. Searching an empty index
// returns an empty result, not an error. Similarity ties rank
// earlier-inserted entries first.
type Index interface {
	Add(ctx context.Context, passages []models.Passage, embeddings [][]float32) error
	Search(ctx context.Context, query []float32, topK int) ([]models.SearchResult, error)
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int, error)
}
