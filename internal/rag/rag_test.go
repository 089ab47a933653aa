package rag

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/config"
	"docqa/internal/index"
	"docqa/internal/llmservice"
	"docqa/internal/models"
)

// hashEmbedder is a deterministic stand-in for the embedding backend:
// each token bumps one dimension of a normalized bag-of-words vector, so
// texts sharing words are similar and identical texts are identical.
type hashEmbedder struct {
	dim  int
	fail bool
}

func (e *hashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.fail {
		return nil, fmt.Errorf("%w: backend down", models.ErrEmbeddingUnavailable)
	}
	vec := make([]float32, e.dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(strings.Trim(tok, ".,!?")))
		vec[int(h.Sum32())%e.dim]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

func (e *hashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (e *hashEmbedder) Model() string { return "hash-embed-test" }

// scriptedGenerator returns a fixed reply or error and records prompts.
type scriptedGenerator struct {
	mu        sync.Mutex
	reply     string
	err       error
	reachable bool
	prompts   []string
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

func (g *scriptedGenerator) Reachable(ctx context.Context) bool { return g.reachable }
func (g *scriptedGenerator) Model() string                      { return "scripted-test" }

func (g *scriptedGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

// timeoutGenerator blocks until its own timeout elapses, the way the real
// client bounds a hung backend, then reports unavailability.
type timeoutGenerator struct {
	timeout time.Duration
}

func (g *timeoutGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	<-ctx.Done()
	return "", fmt.Errorf("%w: %v", models.ErrGenerationUnavailable, ctx.Err())
}

func (g *timeoutGenerator) Reachable(ctx context.Context) bool { return false }
func (g *timeoutGenerator) Model() string                      { return "timeout-test" }

// pageExtractor splits input on form feeds, one page per segment.
type pageExtractor struct{}

func (pageExtractor) Extract(filename string, data []byte) ([]models.Page, error) {
	var pages []models.Page
	for i, seg := range strings.Split(string(data), "\f") {
		pages = append(pages, models.Page{Number: i + 1, Text: seg})
	}
	return pages, nil
}

func testConfig() config.RAGConfig {
	return config.RAGConfig{ChunkSize: 1000, ChunkOverlap: 200, TopK: 4}
}

func newTestPipeline(t *testing.T, cfg config.RAGConfig, gen *scriptedGenerator) (*Pipeline, *index.ChromemStore) {
	t.Helper()
	store, err := index.NewChromemMemoryStore("test", 0)
	require.NoError(t, err)
	var g llmservice.Generator
	if gen != nil {
		g = gen
	}
	p, err := New(cfg, pageExtractor{}, &hashEmbedder{dim: 64}, store, g)
	require.NoError(t, err)
	return p, store
}

func TestNewRejectsInvalidChunkParameters(t *testing.T) {
	store, err := index.NewChromemMemoryStore("test", 0)
	require.NoError(t, err)
	_, err = New(config.RAGConfig{ChunkSize: 100, ChunkOverlap: 100},
		pageExtractor{}, &hashEmbedder{dim: 8}, store, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidConfiguration)
}

func TestIngestThenAskGeneratedPath(t *testing.T) {
	gen := &scriptedGenerator{reply: "Photovoltaic cells convert sunlight into electricity.", reachable: true}
	p, _ := newTestPipeline(t, testConfig(), gen)
	ctx := context.Background()

	body := "Solar panels use photovoltaic cells to convert sunlight into electricity for homes."
	res, err := p.Ingest(ctx, "energy.txt", []byte(body))
	require.NoError(t, err)
	assert.Equal(t, 1, res.ChunksAdded)

	answer, err := p.Ask(ctx, "How do solar panels make electricity?", 4)
	require.NoError(t, err)
	assert.False(t, answer.UsedFallback)
	assert.Equal(t, gen.reply, answer.AnswerText)
	require.Len(t, answer.Sources, 1)
	assert.Equal(t, models.Source{SourceDocument: "energy.txt", PageNumber: 1}, answer.Sources[0])

	require.Equal(t, 1, gen.calls())
	prompt := gen.prompts[0]
	assert.Contains(t, prompt, body)
	assert.Contains(t, prompt, "[source: energy.txt, page 1]")
	assert.Contains(t, prompt, "How do solar panels make electricity?")
	assert.Contains(t, prompt, "based solely on the context")
}

func TestAskDeduplicatesSourcesPreservingOrder(t *testing.T) {
	cfg := testConfig()
	cfg.ChunkSize = 40
	cfg.ChunkOverlap = 10
	cfg.TopK = 10
	gen := &scriptedGenerator{reply: "ok", reachable: true}
	p, _ := newTestPipeline(t, cfg, gen)
	ctx := context.Background()

	// Two pages; page 1 is long enough for several chunks, so multiple
	// retrieved chunks map to the same (document, page) source.
	body := "solar power solar power solar power solar power solar power solar power" +
		"\f" + "wind turbines produce power from moving air"
	_, err := p.Ingest(ctx, "mix.txt", []byte(body))
	require.NoError(t, err)

	answer, err := p.Ask(ctx, "solar power", 10)
	require.NoError(t, err)
	require.NotEmpty(t, answer.Sources)

	seen := map[models.Source]bool{}
	for _, src := range answer.Sources {
		assert.False(t, seen[src], "source %v listed twice", src)
		seen[src] = true
	}
	assert.Equal(t, models.Source{SourceDocument: "mix.txt", PageNumber: 1}, answer.Sources[0])
}

func TestAskEmptyIndexTakesNoContextPath(t *testing.T) {
	gen := &scriptedGenerator{reply: "should never be used", reachable: true}
	p, _ := newTestPipeline(t, testConfig(), gen)

	answer, err := p.Ask(context.Background(), "anything at all", 4)
	require.NoError(t, err)
	assert.True(t, answer.UsedFallback)
	assert.Equal(t, models.NoContextAnswer, answer.AnswerText)
	assert.Empty(t, answer.Sources)
	assert.NotNil(t, answer.Sources)
	assert.Zero(t, gen.calls(), "generation must be skipped without context")
}

func TestAskUnrelatedQuestionBelowFloorTakesNoContextPath(t *testing.T) {
	cfg := testConfig()
	cfg.MinSimilarity = 0.5
	gen := &scriptedGenerator{reply: "should never be used", reachable: true}
	p, _ := newTestPipeline(t, cfg, gen)
	ctx := context.Background()

	_, err := p.Ingest(ctx, "cooking.txt", []byte("Preheat the oven and bake the sourdough loaf for forty minutes."))
	require.NoError(t, err)

	answer, err := p.Ask(ctx, "quarterly derivatives portfolio rebalancing strategy", 4)
	require.NoError(t, err)
	assert.True(t, answer.UsedFallback)
	assert.Equal(t, models.NoContextAnswer, answer.AnswerText)
	assert.Empty(t, answer.Sources)
	assert.Zero(t, gen.calls())
}

func TestAskGenerationErrorTakesFallbackPath(t *testing.T) {
	gen := &scriptedGenerator{err: fmt.Errorf("%w: boom", models.ErrGenerationUnavailable)}
	p, _ := newTestPipeline(t, testConfig(), gen)
	ctx := context.Background()

	body := "The warranty covers manufacturing defects for two years from purchase."
	_, err := p.Ingest(ctx, "warranty.txt", []byte(body))
	require.NoError(t, err)

	answer, err := p.Ask(ctx, "How long does the warranty cover defects?", 4)
	require.NoError(t, err, "generation failure must never surface to the caller")
	assert.True(t, answer.UsedFallback)
	assert.Contains(t, answer.AnswerText, body, "fallback answer carries the top passage verbatim")
	require.NotEmpty(t, answer.Sources)
	assert.Equal(t, "warranty.txt", answer.Sources[0].SourceDocument)
}

func TestAskGenerationTimeoutReturnsWithinBound(t *testing.T) {
	timeout := 150 * time.Millisecond
	store, err := index.NewChromemMemoryStore("test", 0)
	require.NoError(t, err)
	p, err := New(testConfig(), pageExtractor{}, &hashEmbedder{dim: 64}, store, &timeoutGenerator{timeout: timeout})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = p.Ingest(ctx, "doc.txt", []byte("shipment tracking numbers are emailed on dispatch"))
	require.NoError(t, err)

	start := time.Now()
	answer, err := p.Ask(ctx, "how are shipment tracking numbers delivered", 4)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.True(t, answer.UsedFallback)
	assert.NotEmpty(t, answer.Sources, "fallback keeps retrieval sources, unlike the no-context path")
	assert.Less(t, elapsed, timeout+time.Second, "ask must return promptly once the generation timeout fires")
}

func TestAskNilGeneratorFallsBack(t *testing.T) {
	p, _ := newTestPipeline(t, testConfig(), nil)
	ctx := context.Background()

	_, err := p.Ingest(ctx, "doc.txt", []byte("the meeting notes list three action items"))
	require.NoError(t, err)

	answer, err := p.Ask(ctx, "what do the meeting notes list", 4)
	require.NoError(t, err)
	assert.True(t, answer.UsedFallback)
	assert.Contains(t, answer.AnswerText, "the meeting notes list three action items")
}

func TestIngestEmbeddingFailureLeavesIndexUntouched(t *testing.T) {
	store, err := index.NewChromemMemoryStore("test", 0)
	require.NoError(t, err)
	p, err := New(testConfig(), pageExtractor{}, &hashEmbedder{dim: 64, fail: true}, store, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = p.Ingest(ctx, "doc.txt", []byte("content that will never be indexed"))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrEmbeddingUnavailable)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "failed ingestion must not leave partial entries")
}

func TestIngestWithChunkingOverride(t *testing.T) {
	p, store := newTestPipeline(t, testConfig(), nil)
	ctx := context.Background()

	// 100 chars at size 40 / overlap 10 gives windows of step 30.
	body := strings.Repeat("x", 100)
	res, err := p.IngestWithChunking(ctx, "doc.txt", []byte(body), 40, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, res.ChunksAdded)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	_, err = p.IngestWithChunking(ctx, "doc.txt", []byte(body), 40, 40)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidConfiguration)
}

func TestIngestWhitespaceOnlyDocument(t *testing.T) {
	p, store := newTestPipeline(t, testConfig(), nil)
	ctx := context.Background()

	res, err := p.Ingest(ctx, "blank.txt", []byte("   \n\t  "))
	require.NoError(t, err)
	assert.Zero(t, res.ChunksAdded)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestIngestManySumsChunksAcrossDocuments(t *testing.T) {
	p, store := newTestPipeline(t, testConfig(), nil)
	ctx := context.Background()

	docs := []Document{
		{ID: "a.txt", Data: []byte(strings.Repeat("alpha beta gamma ", 100))},
		{ID: "b.txt", Data: []byte("short document")},
		{ID: "c.txt", Data: []byte("another short document")},
	}
	total, err := p.IngestMany(ctx, docs)
	require.NoError(t, err)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, count, total)
	assert.GreaterOrEqual(t, total, 3)
}

func TestClearAllThenStatus(t *testing.T) {
	gen := &scriptedGenerator{reply: "ok", reachable: true}
	p, _ := newTestPipeline(t, testConfig(), gen)
	ctx := context.Background()

	_, err := p.Ingest(ctx, "doc.txt", []byte("indexed content"))
	require.NoError(t, err)

	require.NoError(t, p.ClearAll(ctx))
	require.NoError(t, p.ClearAll(ctx), "clear is idempotent")

	status, err := p.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.EntryCount)
	assert.Equal(t, "hash-embed-test", status.EmbeddingModel)
	assert.True(t, status.GenerationReachable)

	answer, err := p.Ask(ctx, "indexed content", 100)
	require.NoError(t, err)
	assert.True(t, answer.UsedFallback)
	assert.Empty(t, answer.Sources)
}

func TestStatusWithoutGenerator(t *testing.T) {
	p, _ := newTestPipeline(t, testConfig(), nil)
	status, err := p.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, status.GenerationReachable)
}

func TestAskSurfacesEmbeddingError(t *testing.T) {
	store, err := index.NewChromemMemoryStore("test", 0)
	require.NoError(t, err)
	p, err := New(testConfig(), pageExtractor{}, &hashEmbedder{dim: 64, fail: true}, store, nil)
	require.NoError(t, err)

	_, err = p.Ask(context.Background(), "anything", 4)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrEmbeddingUnavailable))
}
