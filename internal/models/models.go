package models

// Page is one page of extracted document text, as returned by the
// extraction layer. Page numbers are 1-based and ordered.
type Page struct {
	Number int
	Text   string
}

// Passage is a bounded span of one document page, stored as a single
// retrievable unit in the vector index.
type Passage struct {
	Text           string
	SourceDocument string
	PageNumber     int
	ChunkIndex     int
	SpanStart      int
	SpanEnd        int
}

// SearchResult pairs a stored passage with its similarity to a query vector.
type SearchResult struct {
	Passage    Passage
	Similarity float32
}

// Source identifies where an answer's supporting passage came from.
type Source struct {
	SourceDocument string `json:"source_document"`
	PageNumber     int    `json:"page_number"`
}

// Answer is the result of one question against the corpus. UsedFallback is
// set both when nothing relevant was retrieved and when the generation
// backend was unavailable and the answer is extractive.
type Answer struct {
	AnswerText   string   `json:"answer_text"`
	Sources      []Source `json:"sources"`
	UsedFallback bool     `json:"used_fallback"`
}

// IngestResult reports what a single document ingestion produced.
type IngestResult struct {
	ChunksAdded int `json:"chunks_added"`
}

// Status is the externally reported system state.
type Status struct {
	EntryCount          int    `json:"entry_count"`
	EmbeddingModel      string `json:"embedding_model"`
	GenerationReachable bool   `json:"generation_service_reachable"`
}
