package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"docqa/internal/config"
	"docqa/internal/embedding"
	"docqa/internal/extract"
	"docqa/internal/helper"
	"docqa/internal/index"
	"docqa/internal/llmservice"
	"docqa/internal/rag"
	"docqa/internal/server"
)

const defaultConfigPath = "./configs/config.yaml"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

	_ = godotenv.Load()

	configPath := flag.String("config", defaultConfigPath, "Path to the config file")
	filePath := flag.String("file", "", "Path to a document file to ingest")
	query := flag.String("query", "", "Question to ask against the indexed corpus")
	topK := flag.Int("topk", 0, "Number of passages to retrieve (0 = configured default)")
	serve := flag.Bool("serve", false, "Run the HTTP API server")
	clear := flag.Bool("clear", false, "Remove all indexed entries")
	status := flag.Bool("status", false, "Print index status")
	exportPath := flag.String("export", "", "Export the vector collection to the given file")
	flag.Parse()

	cfg := loadConfig(*configPath)
	ctx := context.Background()

	pipeline, store := buildPipeline(ctx, cfg)

	switch {
	case *clear:
		if err := pipeline.ClearAll(ctx); err != nil {
			log.Fatal().Err(err).Msg("Error clearing index")
		}
		fmt.Println("index cleared")
	case *exportPath != "":
		exportCollection(ctx, store, cfg, *exportPath)
	case *filePath != "":
		ingestFile(ctx, pipeline, *filePath)
	case *query != "":
		ask(ctx, pipeline, *query, *topK)
	case *status:
		printStatus(ctx, pipeline)
	case *serve:
		srv := server.New(pipeline, cfg.Server)
		if err := srv.Run(); err != nil {
			log.Fatal().Err(err).Msg("Server stopped")
		}
	default:
		flag.Usage()
	}
}

func loadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("path", path).Msg("Config file not found, using defaults")
			return config.Default()
		}
		log.Fatal().Err(err).Msg("Error loading config")
	}
	log.Debug().Interface("config", cfg).Msg("Loaded config")
	return cfg
}

func buildPipeline(ctx context.Context, cfg *config.Config) (*rag.Pipeline, *index.ChromemStore) {
	var idx index.Index
	var store *index.ChromemStore

	switch cfg.VectorDB.Backend {
	case "pgvector":
		pg, err := index.NewPGStore(ctx, &cfg.VectorDB, cfg.Embedding.Dimensions)
		if err != nil {
			log.Fatal().Err(err).Msg("Error connecting to pgvector")
		}
		idx = pg
	default:
		if err := helper.CreateFolder(cfg.VectorDB.Path); err != nil {
			log.Fatal().Err(err).Msg("Error creating vector database folder")
		}
		ch, err := index.NewChromemStore(cfg.VectorDB.Path, cfg.VectorDB.Collection, cfg.Embedding.Dimensions)
		if err != nil {
			log.Fatal().Err(err).Msg("Error opening vector database")
		}
		idx = ch
		store = ch
	}

	embedder, err := embedding.New(&cfg.Embedding)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}

	// A missing generation backend is not fatal: the pipeline degrades to
	// extractive answers.
	var generator llmservice.Generator
	if gen, err := llmservice.NewClient(&cfg.Generation); err != nil {
		log.Warn().Err(err).Msg("Generation backend unavailable, answers will be extractive")
	} else {
		generator = gen
	}

	pipeline, err := rag.New(cfg.RAG, extract.NewFileExtractor(), embedder, idx, generator)
	if err != nil {
		log.Fatal().Err(err).Msg("Error building pipeline")
	}
	return pipeline, store
}

func ingestFile(ctx context.Context, pipeline *rag.Pipeline, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatal().Err(err).Msg("Error reading document")
	}
	res, err := pipeline.Ingest(ctx, path, data)
	if err != nil {
		log.Fatal().Err(err).Msg("Error ingesting document")
	}
	fmt.Printf("ingested %s: %d chunks\n", path, res.ChunksAdded)
}

func ask(ctx context.Context, pipeline *rag.Pipeline, question string, topK int) {
	answer, err := pipeline.Ask(ctx, question, topK)
	if err != nil {
		log.Fatal().Err(err).Msg("Error querying")
	}

	fmt.Printf("Question: %s\n\n", question)
	fmt.Printf("Answer: %s\n\n", answer.AnswerText)
	if answer.UsedFallback {
		fmt.Println("(degraded answer: generation unavailable or no relevant context)")
	}
	for _, src := range answer.Sources {
		fmt.Printf("  - %s, page %d\n", src.SourceDocument, src.PageNumber)
	}
}

func printStatus(ctx context.Context, pipeline *rag.Pipeline) {
	status, err := pipeline.Status(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Error reading status")
	}
	helper.PrettyPrint(status)
}

func exportCollection(ctx context.Context, store *index.ChromemStore, cfg *config.Config, path string) {
	if store == nil {
		log.Fatal().Msg("Export is only supported for the chromem backend")
	}
	if err := store.Export(ctx, path, cfg.VectorDB.EncryptionKey); err != nil {
		log.Fatal().Err(err).Msg("Error exporting collection")
	}
	fmt.Printf("exported collection to %s\n", path)
}
