package index

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"docqa/internal/config"
	"docqa/internal/models"
)

// PGStore implements Index on Postgres with the pgvector extension.
// Selected with vector_db.backend: pgvector; requires a fixed dimension
// up front because the column type encodes it.
type PGStore struct {
	mu  sync.RWMutex
	db  *bun.DB
	dim int
}

type passageRow struct {
	bun.BaseModel `bun:"table:passages,alias:p"`

	ID             int64   `bun:"id,pk,autoincrement"`
	Content        string  `bun:"content,notnull"`
	Embedding      string  `bun:"embedding,notnull"`
	SourceDocument string  `bun:"source_document,notnull"`
	PageNumber     int     `bun:"page_number,notnull"`
	ChunkIndex     int     `bun:"chunk_index,notnull"`
	SpanStart      int     `bun:"span_start,notnull"`
	SpanEnd        int     `bun:"span_end,notnull"`
	Similarity     float32 `bun:"similarity,scanonly"`
}

// NewPGStore connects to the configured database and ensures the vector
// extension and passages table exist.
func NewPGStore(ctx context.Context, cfg *config.VectorDBConfig, dim int) (*PGStore, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: pgvector backend requires embedding dimensions", models.ErrInvalidConfiguration)
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithDSN(cfg.DSN),
		pgdriver.WithPassword(cfg.Password),
	))
	db := bun.NewDB(sqldb, pgdialect.New())
	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	s := &PGStore{db: db, dim: dim}
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("creating vector extension: %w", err)
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS passages (
		id BIGSERIAL PRIMARY KEY,
		content TEXT NOT NULL,
		embedding vector(%d) NOT NULL,
		source_document TEXT NOT NULL,
		page_number INT NOT NULL,
		chunk_index INT NOT NULL,
		span_start INT NOT NULL,
		span_end INT NOT NULL
	)`, s.dim)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("creating passages table: %w", err)
	}
	return nil
}

func (s *PGStore) Add(ctx context.Context, passages []models.Passage, embeddings [][]float32) error {
	if len(passages) != len(embeddings) {
		return fmt.Errorf("%w: %d passages but %d embeddings",
			models.ErrInvalidConfiguration, len(passages), len(embeddings))
	}
	if len(passages) == 0 {
		return nil
	}
	for i, emb := range embeddings {
		if len(emb) != s.dim {
			return fmt.Errorf("%w: entry %d has dimension %d, index expects %d",
				models.ErrDimensionMismatch, i, len(emb), s.dim)
		}
	}

	rows := make([]passageRow, len(passages))
	for i, p := range passages {
		rows[i] = passageRow{
			Content:        p.Text,
			Embedding:      vectorLiteral(embeddings[i]),
			SourceDocument: p.SourceDocument,
			PageNumber:     p.PageNumber,
			ChunkIndex:     p.ChunkIndex,
			SpanStart:      p.SpanStart,
			SpanEnd:        p.SpanEnd,
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// One INSERT for the whole batch keeps the add atomic.
	if _, err := s.db.NewInsert().Model(&rows).Exec(ctx); err != nil {
		return fmt.Errorf("storing passages: %w", err)
	}
	return nil
}

func (s *PGStore) Search(ctx context.Context, query []float32, topK int) ([]models.SearchResult, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", models.ErrInvalidConfiguration, topK)
	}
	if len(query) != s.dim {
		return nil, fmt.Errorf("%w: query has dimension %d, index expects %d",
			models.ErrDimensionMismatch, len(query), s.dim)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	lit := vectorLiteral(query)
	var rows []passageRow
	err := s.db.NewSelect().
		Model(&rows).
		ColumnExpr("p.*").
		ColumnExpr("1 - (p.embedding <=> ?::vector) AS similarity", lit).
		OrderExpr("p.embedding <=> ?::vector, p.id ASC", lit).
		Limit(topK).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("searching passages: %w", err)
	}

	out := make([]models.SearchResult, len(rows))
	for i, r := range rows {
		out[i] = models.SearchResult{
			Passage: models.Passage{
				Text:           r.Content,
				SourceDocument: r.SourceDocument,
				PageNumber:     r.PageNumber,
				ChunkIndex:     r.ChunkIndex,
				SpanStart:      r.SpanStart,
				SpanEnd:        r.SpanEnd,
			},
			Similarity: r.Similarity,
		}
	}
	return out, nil
}

func (s *PGStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.NewTruncateTable().Model((*passageRow)(nil)).Exec(ctx); err != nil {
		return fmt.Errorf("clearing passages: %w", err)
	}
	return nil
}

func (s *PGStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count, err := s.db.NewSelect().Model((*passageRow)(nil)).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("counting passages: %w", err)
	}
	return count, nil
}

func (s *PGStore) Close() error { return s.db.Close() }

// vectorLiteral renders a pgvector input literal, e.g. [0.1,0.2,0.3].
func vectorLiteral(vec []float32) string {
	parts := make([]string, len(vec))
	for i, v := range vec {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
