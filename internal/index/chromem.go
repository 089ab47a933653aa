package index

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"docqa/internal/models"
)

const chromemCompress = false

// ChromemStore is the default Index backend, built on the embedded
// chromem-go database. Entries are append-only per Add call; the whole
// collection is dropped and recreated by Clear.
type ChromemStore struct {
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
	name       string
	path       string

	// dim is the established dimensionality: configured up front, or set
	// by the first successful Add. cfgDim restores it after Clear.
	dim    int
	cfgDim int
	seq    int64
}

// NewChromemStore opens (or creates) a persistent store at path. Entries
// committed by a previous process are visible after reopening. dim may be
// zero, in which case the first Add establishes the dimensionality.
func NewChromemStore(path, collection string, dim int) (*ChromemStore, error) {
	db, err := chromem.NewPersistentDB(path, chromemCompress)
	if err != nil {
		return nil, fmt.Errorf("opening vector database: %w", err)
	}
	return newChromemStore(db, collection, path, dim)
}

// NewChromemMemoryStore returns a non-persistent store, used in tests and
// for throwaway corpora.
func NewChromemMemoryStore(collection string, dim int) (*ChromemStore, error) {
	return newChromemStore(chromem.NewDB(), collection, "", dim)
}

func newChromemStore(db *chromem.DB, collection, path string, dim int) (*ChromemStore, error) {
	c, err := db.GetOrCreateCollection(collection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("creating collection %q: %w", collection, err)
	}
	s := &ChromemStore{
		db:         db,
		collection: c,
		name:       collection,
		path:       path,
		dim:        dim,
		cfgDim:     dim,
		seq:        int64(c.Count()),
	}
	return s, nil
}

func (s *ChromemStore) Add(ctx context.Context, passages []models.Passage, embeddings [][]float32) error {
	if len(passages) != len(embeddings) {
		return fmt.Errorf("%w: %d passages but %d embeddings",
			models.ErrInvalidConfiguration, len(passages), len(embeddings))
	}
	if len(passages) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dim == 0 {
		s.dim = len(embeddings[0])
	}
	for i, emb := range embeddings {
		if len(emb) != s.dim {
			return fmt.Errorf("%w: entry %d has dimension %d, index expects %d",
				models.ErrDimensionMismatch, i, len(emb), s.dim)
		}
	}

	docs := make([]chromem.Document, len(passages))
	for i, p := range passages {
		seq := s.seq + int64(i)
		docs[i] = chromem.Document{
			ID:        fmt.Sprintf("%s-%d-%d", p.SourceDocument, p.ChunkIndex, seq),
			Content:   p.Text,
			Embedding: embeddings[i],
			Metadata:  passageMetadata(p, seq),
		}
	}
	// A single AddDocuments call; on failure nothing is recorded in seq,
	// keeping ingestion all-or-nothing per document.
	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("adding documents to vector database: %w", err)
	}
	s.seq += int64(len(passages))
	return nil
}

func (s *ChromemStore) Search(ctx context.Context, query []float32, topK int) ([]models.SearchResult, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", models.ErrInvalidConfiguration, topK)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if s.dim != 0 && len(query) != s.dim {
		return nil, fmt.Errorf("%w: query has dimension %d, index expects %d",
			models.ErrDimensionMismatch, len(query), s.dim)
	}

	// Fetch every entry so similarity ties can be re-ranked by insertion
	// order before truncating to topK.
	results, err := s.collection.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: query,
		NResults:       count,
	})
	if err != nil {
		return nil, fmt.Errorf("querying vector database: %w", err)
	}

	entries := make([]chromemEntry, 0, len(results))
	for _, r := range results {
		p, seq, err := passageFromMetadata(r.Content, r.Metadata)
		if err != nil {
			log.Warn().Err(err).Str("id", r.ID).Msg("Skipping entry with malformed metadata")
			continue
		}
		entries = append(entries, chromemEntry{passage: p, seq: seq, similarity: r.Similarity})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].similarity != entries[j].similarity {
			return entries[i].similarity > entries[j].similarity
		}
		return entries[i].seq < entries[j].seq
	})

	if topK > len(entries) {
		topK = len(entries)
	}
	out := make([]models.SearchResult, topK)
	for i := 0; i < topK; i++ {
		out[i] = models.SearchResult{Passage: entries[i].passage, Similarity: entries[i].similarity}
	}
	return out, nil
}

func (s *ChromemStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteCollection(s.name); err != nil {
		return fmt.Errorf("dropping collection: %w", err)
	}
	c, err := s.db.GetOrCreateCollection(s.name, nil, nil)
	if err != nil {
		return fmt.Errorf("recreating collection: %w", err)
	}
	s.collection = c
	s.dim = s.cfgDim
	s.seq = 0
	return nil
}

func (s *ChromemStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collection.Count(), nil
}

// Export writes an encrypted snapshot of the collection to path.
func (s *ChromemStore) Export(ctx context.Context, path, encryptionKey string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.db.ExportToFile(path, chromemCompress, encryptionKey, s.name); err != nil {
		return fmt.Errorf("exporting vector database: %w", err)
	}
	return nil
}

type chromemEntry struct {
	passage    models.Passage
	seq        int64
	similarity float32
}

func passageMetadata(p models.Passage, seq int64) map[string]string {
	return map[string]string{
		"source_document": p.SourceDocument,
		"page_number":     strconv.Itoa(p.PageNumber),
		"chunk_index":     strconv.Itoa(p.ChunkIndex),
		"span_start":      strconv.Itoa(p.SpanStart),
		"span_end":        strconv.Itoa(p.SpanEnd),
		"seq":             strconv.FormatInt(seq, 10),
	}
}

func passageFromMetadata(content string, md map[string]string) (models.Passage, int64, error) {
	page, err := strconv.Atoi(md["page_number"])
	if err != nil {
		return models.Passage{}, 0, fmt.Errorf("page_number: %w", err)
	}
	chunkIdx, err := strconv.Atoi(md["chunk_index"])
	if err != nil {
		return models.Passage{}, 0, fmt.Errorf("chunk_index: %w", err)
	}
	seq, err := strconv.ParseInt(md["seq"], 10, 64)
	if err != nil {
		return models.Passage{}, 0, fmt.Errorf("seq: %w", err)
	}
	spanStart, _ := strconv.Atoi(md["span_start"])
	spanEnd, _ := strconv.Atoi(md["span_end"])
	return models.Passage{
		Text:           content,
		SourceDocument: md["source_document"],
		PageNumber:     page,
		ChunkIndex:     chunkIdx,
		SpanStart:      spanStart,
		SpanEnd:        spanEnd,
	}, seq, nil
}
