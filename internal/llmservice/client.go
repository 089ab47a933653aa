// Package llmservice wraps the external generation backend. Every call is
// bounded by the configured timeout; failures are reported as
// ErrGenerationUnavailable so the pipeline can degrade instead of failing.
package llmservice

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"docqa/internal/config"
	"docqa/internal/models"
)

const probeTimeout = 2 * time.Second

// Generator is the capability interface the pipeline depends on.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Reachable(ctx context.Context) bool
	Model() string
}

// Client talks to an ollama or openai-compatible chat backend.
type Client struct {
	llm     llms.Model
	cfg     *config.LLMConfig
	httpCli *http.Client
}

func NewClient(cfg *config.LLMConfig) (*Client, error) {
	var llm llms.Model
	var err error
	switch cfg.Provider {
	case "", "ollama":
		llm, err = ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
	case "openai":
		llm, err = openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		)
	default:
		return nil, fmt.Errorf("%w: unknown generation provider %q", models.ErrInvalidConfiguration, cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: initializing client: %v", models.ErrGenerationUnavailable, err)
	}
	return &Client{
		llm:     llm,
		cfg:     cfg,
		httpCli: &http.Client{Timeout: probeTimeout},
	}, nil
}

func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout())
	defer cancel()

	messages := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextContent{Text: prompt}},
		},
	}
	resp, err := c.llm.GenerateContent(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrGenerationUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response", models.ErrGenerationUnavailable)
	}
	return resp.Choices[0].Content, nil
}

// Reachable probes the backend base URL. Any HTTP response counts as
// reachable; only transport failures do not.
func (c *Client) Reachable(ctx context.Context) bool {
	if c.cfg.BaseURL == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpCli.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

func (c *Client) Model() string { return c.cfg.Model }
