// Package embedding maps passage and query text to fixed-dimension
// vectors through a configured model backend.
package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"docqa/internal/config"
	"docqa/internal/models"
)

// Embedder is the capability interface consumed by the pipeline. Both
// methods are pure functions of the configured model and the input text;
// EmbedBatch is order-preserving and equivalent to per-item Embed calls.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// LangchainEmbedder adapts a langchaingo embedding client.
type LangchainEmbedder struct {
	impl  *embeddings.EmbedderImpl
	model string
}

// New builds an embedder for the configured provider.
func New(cfg *config.LLMConfig) (*LangchainEmbedder, error) {
	switch cfg.Provider {
	case "", "ollama":
		return NewOllamaEmbedder(cfg)
	case "openai":
		return NewOpenAIEmbedder(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", models.ErrInvalidConfiguration, cfg.Provider)
	}
}

func NewOllamaEmbedder(cfg *config.LLMConfig) (*LangchainEmbedder, error) {
	llm, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: initializing ollama client: %v", models.ErrEmbeddingUnavailable, err)
	}
	impl, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("%w: creating embedder: %v", models.ErrEmbeddingUnavailable, err)
	}
	return &LangchainEmbedder{impl: impl, model: cfg.Model}, nil
}

func NewOpenAIEmbedder(cfg *config.LLMConfig) (*LangchainEmbedder, error) {
	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: initializing openai client: %v", models.ErrEmbeddingUnavailable, err)
	}
	impl, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("%w: creating embedder: %v", models.ErrEmbeddingUnavailable, err)
	}
	return &LangchainEmbedder{impl: impl, model: cfg.Model}, nil
}

func (e *LangchainEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.impl.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrEmbeddingUnavailable, err)
	}
	return vec, nil
}

func (e *LangchainEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := e.impl.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrEmbeddingUnavailable, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", models.ErrEmbeddingUnavailable, len(vecs), len(texts))
	}
	return vecs, nil
}

func (e *LangchainEmbedder) Model() string { return e.model }
