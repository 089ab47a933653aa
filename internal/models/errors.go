package models

import "errors"

var (
	// ErrInvalidConfiguration covers caller-fixable parameter errors, such
	// as a chunk overlap that is not smaller than the chunk size.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrEmbeddingUnavailable means the embedding backend could not be
	// loaded or invoked. Fatal for ingestion, no partial index writes.
	ErrEmbeddingUnavailable = errors.New("embedding backend unavailable")

	// ErrDimensionMismatch means a vector's length differs from the index's
	// established dimensionality. Requires a clear before retrying.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrGenerationUnavailable means the generation service failed or timed
	// out. Never surfaced to callers of Ask; absorbed into the fallback.
	ErrGenerationUnavailable = errors.New("generation service unavailable")
)
