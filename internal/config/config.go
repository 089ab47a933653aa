package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"docqa/internal/models"
)

const (
	DefaultChunkSize      = 1000
	DefaultChunkOverlap   = 200
	DefaultTopK           = 4
	DefaultGenTimeoutSecs = 30
)

type Config struct {
	VectorDB   VectorDBConfig `yaml:"vector_db"`
	Embedding  LLMConfig      `yaml:"embedding"`
	Generation LLMConfig      `yaml:"generation"`
	RAG        RAGConfig      `yaml:"rag"`
	Server     ServerConfig   `yaml:"server"`
}

type VectorDBConfig struct {
	// Backend selects the index implementation: "chromem" (embedded,
	// filesystem-persistent) or "pgvector".
	Backend       string `yaml:"backend"`
	Path          string `yaml:"path"`
	Collection    string `yaml:"collection"`
	DSN           string `yaml:"dsn"`
	Password      string `yaml:"password"`
	Debug         bool   `yaml:"debug"`
	EncryptionKey string `yaml:"encryption_key"`
}

type LLMConfig struct {
	Provider       string  `yaml:"provider"`
	BaseURL        string  `yaml:"base_url"`
	Key            string  `yaml:"key"`
	Model          string  `yaml:"model"`
	Dimensions     int     `yaml:"dimensions"`
	TimeoutSeconds float64 `yaml:"timeout_seconds"`
}

func (c *LLMConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return DefaultGenTimeoutSecs * time.Second
	}
	return time.Duration(c.TimeoutSeconds * float64(time.Second))
}

type RAGConfig struct {
	ChunkSize     int     `yaml:"chunk_size"`
	ChunkOverlap  int     `yaml:"chunk_overlap"`
	TopK          int     `yaml:"top_k"`
	MinSimilarity float32 `yaml:"min_similarity"`
}

type ServerConfig struct {
	Addr      string `yaml:"addr"`
	UploadDir string `yaml:"upload_dir"`
}

// Default returns a configuration usable without a config file: embedded
// chromem store on disk and an ollama backend on localhost.
func Default() *Config {
	cfg := &Config{
		VectorDB: VectorDBConfig{
			Backend:    "chromem",
			Path:       "./chromem_db",
			Collection: "documents",
		},
		Embedding: LLMConfig{
			Provider: "ollama",
			BaseURL:  "http://localhost:11434",
			Model:    "nomic-embed-text",
		},
		Generation: LLMConfig{
			Provider:       "ollama",
			BaseURL:        "http://localhost:11434",
			Model:          "llama3",
			TimeoutSeconds: DefaultGenTimeoutSecs,
		},
		Server: ServerConfig{
			Addr:      ":8000",
			UploadDir: "uploads",
		},
	}
	cfg.applyDefaults()
	return cfg
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.RAG.ChunkSize == 0 {
		c.RAG.ChunkSize = DefaultChunkSize
	}
	if c.RAG.ChunkOverlap == 0 {
		c.RAG.ChunkOverlap = DefaultChunkOverlap
	}
	if c.RAG.TopK == 0 {
		c.RAG.TopK = DefaultTopK
	}
	if c.Generation.TimeoutSeconds == 0 {
		c.Generation.TimeoutSeconds = DefaultGenTimeoutSecs
	}
}

func (c *Config) Validate() error {
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", models.ErrInvalidConfiguration, c.RAG.ChunkSize)
	}
	if c.RAG.ChunkOverlap <= 0 {
		return fmt.Errorf("%w: chunk_overlap must be positive, got %d", models.ErrInvalidConfiguration, c.RAG.ChunkOverlap)
	}
	if c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap (%d) must be smaller than chunk_size (%d)",
			models.ErrInvalidConfiguration, c.RAG.ChunkOverlap, c.RAG.ChunkSize)
	}
	if c.RAG.TopK <= 0 {
		return fmt.Errorf("%w: top_k must be positive, got %d", models.ErrInvalidConfiguration, c.RAG.TopK)
	}
	if c.RAG.MinSimilarity < 0 || c.RAG.MinSimilarity > 1 {
		return fmt.Errorf("%w: min_similarity must be within [0, 1]", models.ErrInvalidConfiguration)
	}
	switch c.VectorDB.Backend {
	case "chromem", "pgvector":
	default:
		return fmt.Errorf("%w: unknown vector_db backend %q", models.ErrInvalidConfiguration, c.VectorDB.Backend)
	}
	return nil
}
