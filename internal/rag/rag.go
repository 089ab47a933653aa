// Package rag assembles the answering pipeline: retrieve passages for a
// question, build a grounded prompt, invoke generation, and degrade to an
// extractive answer when generation is unavailable.
package rag

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"docqa/internal/chunker"
	"docqa/internal/config"
	"docqa/internal/embedding"
	"docqa/internal/extract"
	"docqa/internal/index"
	"docqa/internal/llmservice"
	"docqa/internal/models"
)

// Pipeline owns one configured ingestion and answering flow. All
// collaborators are injected at construction so independently configured
// pipelines can coexist.
type Pipeline struct {
	chunker   *chunker.Chunker
	embedder  embedding.Embedder
	idx       index.Index
	generator llmservice.Generator
	extractor extract.Extractor
	cfg       config.RAGConfig
}

// New wires a pipeline. generator may be nil, in which case every answer
// with context takes the extractive fallback path.
func New(cfg config.RAGConfig, extractor extract.Extractor, embedder embedding.Embedder, idx index.Index, generator llmservice.Generator) (*Pipeline, error) {
	ch, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	if cfg.TopK <= 0 {
		cfg.TopK = config.DefaultTopK
	}
	return &Pipeline{
		chunker:   ch,
		embedder:  embedder,
		idx:       idx,
		generator: generator,
		extractor: extractor,
		cfg:       cfg,
	}, nil
}

// Document is one ingestion input: a stable id (typically the filename,
// whose extension selects the extraction format) and the raw bytes.
type Document struct {
	ID   string
	Data []byte
}

// Ingest extracts, chunks, embeds and indexes one document with the
// configured chunk parameters. It is all-or-nothing: on any error no
// entries are written.
func (p *Pipeline) Ingest(ctx context.Context, documentID string, data []byte) (*models.IngestResult, error) {
	return p.ingest(ctx, documentID, data, p.chunker)
}

// IngestWithChunking overrides the chunk size and overlap for a single
// document. Invalid parameters fail before any state changes.
func (p *Pipeline) IngestWithChunking(ctx context.Context, documentID string, data []byte, chunkSize, overlap int) (*models.IngestResult, error) {
	ch, err := chunker.New(chunkSize, overlap)
	if err != nil {
		return nil, err
	}
	return p.ingest(ctx, documentID, data, ch)
}

func (p *Pipeline) ingest(ctx context.Context, documentID string, data []byte, ch *chunker.Chunker) (*models.IngestResult, error) {
	pages, err := p.extractor.Extract(documentID, data)
	if err != nil {
		return nil, fmt.Errorf("extracting %q: %w", documentID, err)
	}

	passages := ch.Split(documentID, pages)
	if len(passages) == 0 {
		log.Info().Str("document", documentID).Msg("Document produced no chunks")
		return &models.IngestResult{ChunksAdded: 0}, nil
	}

	texts := make([]string, len(passages))
	for i, passage := range passages {
		texts[i] = passage.Text
	}
	embeddings, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding %q: %w", documentID, err)
	}

	if err := p.idx.Add(ctx, passages, embeddings); err != nil {
		return nil, fmt.Errorf("indexing %q: %w", documentID, err)
	}

	log.Info().Str("document", documentID).Int("chunks", len(passages)).Msg("Document ingested")
	return &models.IngestResult{ChunksAdded: len(passages)}, nil
}

// IngestMany ingests a batch of documents, chunking and embedding each
// document in parallel. Index writes serialize inside the index. The
// first failure cancels the remaining work; each document is still
// all-or-nothing on its own.
func (p *Pipeline) IngestMany(ctx context.Context, docs []Document) (int, error) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	added := make([]int, len(docs))
	for i, doc := range docs {
		g.Go(func() error {
			res, err := p.Ingest(ctx, doc.ID, doc.Data)
			if err != nil {
				return err
			}
			added[i] = res.ChunksAdded
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	total := 0
	for _, n := range added {
		total += n
	}
	return total, nil
}

// Ask answers a question from the indexed corpus. Failures below the
// generation step surface as errors; generation failure never does, it
// produces a degraded Answer instead. topK <= 0 uses the configured
// default.
func (p *Pipeline) Ask(ctx context.Context, question string, topK int) (*models.Answer, error) {
	if topK <= 0 {
		topK = p.cfg.TopK
	}

	queryVec, err := p.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}

	results, err := p.idx.Search(ctx, queryVec, topK)
	if err != nil {
		return nil, fmt.Errorf("retrieving context: %w", err)
	}
	results = p.aboveFloor(results)

	if len(results) == 0 {
		// Nothing relevant in the corpus: answer without calling the
		// generation service at all, so it cannot hallucinate.
		return &models.Answer{
			AnswerText:   models.NoContextAnswer,
			Sources:      []models.Source{},
			UsedFallback: true,
		}, nil
	}

	prompt := buildPrompt(results, question)
	answerText, err := p.generate(ctx, prompt)
	if err != nil {
		log.Warn().Err(err).Msg("Generation unavailable, returning extractive fallback")
		return &models.Answer{
			AnswerText:   models.FallbackPreamble + results[0].Passage.Text,
			Sources:      dedupSources(results),
			UsedFallback: true,
		}, nil
	}

	return &models.Answer{
		AnswerText:   answerText,
		Sources:      dedupSources(results),
		UsedFallback: false,
	}, nil
}

func (p *Pipeline) generate(ctx context.Context, prompt string) (string, error) {
	if p.generator == nil {
		return "", models.ErrGenerationUnavailable
	}
	return p.generator.Generate(ctx, prompt)
}

// Status reports the index size, the configured embedding model and
// whether the generation backend currently responds.
func (p *Pipeline) Status(ctx context.Context) (*models.Status, error) {
	count, err := p.idx.Count(ctx)
	if err != nil {
		return nil, err
	}
	reachable := p.generator != nil && p.generator.Reachable(ctx)
	return &models.Status{
		EntryCount:          count,
		EmbeddingModel:      p.embedder.Model(),
		GenerationReachable: reachable,
	}, nil
}

// ClearAll drops every indexed entry. Idempotent.
func (p *Pipeline) ClearAll(ctx context.Context) error {
	return p.idx.Clear(ctx)
}

// aboveFloor drops results below the configured similarity floor. A floor
// of zero keeps everything the index returned.
func (p *Pipeline) aboveFloor(results []models.SearchResult) []models.SearchResult {
	if p.cfg.MinSimilarity <= 0 {
		return results
	}
	kept := results[:0]
	for _, r := range results {
		if r.Similarity >= p.cfg.MinSimilarity {
			kept = append(kept, r)
		}
	}
	return kept
}

// buildPrompt labels each retrieved passage with its provenance, in
// descending-similarity order, and appends the question with an
// instruction to answer only from the given context.
func buildPrompt(results []models.SearchResult, question string) string {
	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString(models.PassageSeparator)
		}
		sb.WriteString(fmt.Sprintf("[source: %s, page %d]\n%s",
			r.Passage.SourceDocument, r.Passage.PageNumber, r.Passage.Text))
	}
	return fmt.Sprintf(models.GroundedPromptTemplate, sb.String(), question)
}

// dedupSources keeps the similarity order and lists each
// (document, page) pair once.
func dedupSources(results []models.SearchResult) []models.Source {
	seen := make(map[models.Source]struct{}, len(results))
	sources := make([]models.Source, 0, len(results))
	for _, r := range results {
		src := models.Source{
			SourceDocument: r.Passage.SourceDocument,
			PageNumber:     r.Passage.PageNumber,
		}
		if _, ok := seen[src]; ok {
			continue
		}
		seen[src] = struct{}{}
		sources = append(sources, src)
	}
	return sources
}
