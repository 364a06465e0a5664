package db

import (
	"context"
	"fmt"

	"medical-qa-rag/internal/helper"
	"medical-qa-rag/internal/models"

	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"
)

const insertBatchSize = 500

type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`
	ID            string          `bun:"id,pk"`
	IndexName     string          `bun:"index_name,notnull"`
	Content       string          `bun:"content,notnull"`
	Source        string          `bun:"source,notnull"`
	DisplaySource string          `bun:"display_source,notnull"`
	Section       string          `bun:"section,nullzero"`
	Page          int             `bun:"page,notnull"`
	ChunkID       int             `bun:"chunk_id,notnull"`
	Embedding     pgvector.Vector `bun:"embedding,notnull,type:vector"`
	Score         float32         `bun:"score,scanonly"`
}

func (d *Document) chunk() models.Chunk {
	return models.Chunk{
		Content:       d.Content,
		Source:        d.Source,
		DisplaySource: d.DisplaySource,
		Section:       d.Section,
		PageNumber:    d.Page,
		ChunkID:       d.ChunkID,
	}
}

// PGVectorStore keeps one named index in the documents table.
type PGVectorStore struct {
	db    *bun.DB
	index string
}

func NewPGVectorStore(db *bun.DB, indexName string) *PGVectorStore {
	return &PGVectorStore{db: db, index: indexName}
}

func (s *PGVectorStore) Name() string {
	return s.index
}

func (s *PGVectorStore) Count(ctx context.Context) (int, error) {
	n, err := s.db.NewSelect().
		Model((*Document)(nil)).
		Where("index_name = ?", s.index).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

func (s *PGVectorStore) AddChunks(ctx context.Context, chunks []models.ChunkEmbedding) error {
	if len(chunks) == 0 {
		return nil
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return s.insertChunks(ctx, tx, chunks)
	})
}

// Replace swaps the index contents for chunks in one transaction. On error
// the previous rows stay visible.
func (s *PGVectorStore) Replace(ctx context.Context, chunks []models.ChunkEmbedding) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := s.deleteIndex(ctx, tx); err != nil {
			return err
		}
		return s.insertChunks(ctx, tx, chunks)
	})
}

func (s *PGVectorStore) insertChunks(ctx context.Context, db bun.IDB, chunks []models.ChunkEmbedding) error {
	for start := 0; start < len(chunks); start += insertBatchSize {
		end := min(start+insertBatchSize, len(chunks))
		docs := make([]Document, 0, end-start)
		for _, c := range chunks[start:end] {
			docs = append(docs, Document{
				ID:            s.index + "/" + c.ID(),
				IndexName:     s.index,
				Content:       c.Content,
				Source:        c.Source,
				DisplaySource: c.DisplaySource,
				Section:       c.Section,
				Page:          c.PageNumber,
				ChunkID:       c.ChunkID,
				Embedding:     pgvector.NewVector(c.Embedding),
			})
		}
		_, err := db.NewInsert().
			Model(&docs).
			On("CONFLICT (id) DO UPDATE").
			Set("content = EXCLUDED.content").
			Set("section = EXCLUDED.section").
			Set("embedding = EXCLUDED.embedding").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to store documents: %w", err)
		}
	}
	return nil
}

// Search orders by cosine distance; Score is the cosine similarity.
func (s *PGVectorStore) Search(ctx context.Context, embedding []float32, k int) ([]models.Source, error) {
	if k <= 0 {
		return nil, nil
	}
	vec := pgvector.NewVector(embedding)

	var docs []Document
	err := s.db.NewSelect().
		Model(&docs).
		Column("id", "content", "source", "display_source", "section", "page", "chunk_id").
		ColumnExpr("1 - (embedding <=> ?) AS score", vec).
		Where("index_name = ?", s.index).
		OrderExpr("embedding <=> ?", vec).
		Limit(k).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}

	sources := make([]models.Source, 0, len(docs))
	for i := range docs {
		sources = append(sources, models.Source{
			Chunk:   docs[i].chunk(),
			Score:   docs[i].Score,
			Preview: helper.Preview(docs[i].Content, models.PreviewLength),
		})
	}
	return sources, nil
}

func (s *PGVectorStore) Reset(ctx context.Context) error {
	return s.deleteIndex(ctx, s.db)
}

func (s *PGVectorStore) deleteIndex(ctx context.Context, db bun.IDB) error {
	_, err := db.NewDelete().
		Model((*Document)(nil)).
		Where("index_name = ?", s.index).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to drop documents of %s: %w", s.index, err)
	}
	return nil
}
